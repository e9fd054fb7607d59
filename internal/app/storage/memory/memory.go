package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/basket_oracle/internal/app/domain/feed"
	"github.com/R3E-Network/basket_oracle/internal/app/domain/rebalance"
	"github.com/R3E-Network/basket_oracle/internal/app/storage"
	"github.com/R3E-Network/basket_oracle/internal/errors"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu           sync.RWMutex
	feeds        map[string]feed.State
	observations map[string][]feed.Observation // oldest first
	proposals    map[string][]rebalance.Proposal
}

var _ storage.FeedStore = (*Store)(nil)
var _ storage.ProposalStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		feeds:        make(map[string]feed.State),
		observations: make(map[string][]feed.Observation),
		proposals:    make(map[string][]rebalance.Proposal),
	}
}

// FeedStore implementation ---------------------------------------------------

func (s *Store) SaveFeed(_ context.Context, st feed.State) (feed.State, error) {
	if st.ID == "" {
		return feed.State{}, errors.InvalidArgument("feed id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := s.feeds[st.ID]; ok {
		st.CreatedAt = existing.CreatedAt
	} else {
		st.CreatedAt = now
	}
	st.UpdatedAt = now
	s.feeds[st.ID] = st
	return st, nil
}

func (s *Store) GetFeed(_ context.Context, id string) (feed.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.feeds[id]
	if !ok {
		return feed.State{}, errors.NotFound("feed", id)
	}
	return st, nil
}

func (s *Store) ListFeeds(_ context.Context) ([]feed.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]feed.State, 0, len(s.feeds))
	for _, st := range s.feeds {
		result = append(result, st)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) CommitObservation(_ context.Context, feedID string, obs feed.Observation, nextAvailableUpdate uint64, capacity int) error {
	if capacity <= 0 {
		return errors.InvalidArgument("capacity must be positive, got %d", capacity)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.feeds[feedID]
	if !ok {
		return errors.NotFound("feed", feedID)
	}

	history := append(s.observations[feedID], obs.Clone())
	if len(history) > capacity {
		history = append([]feed.Observation(nil), history[len(history)-capacity:]...)
	}
	s.observations[feedID] = history

	st.NextAvailableUpdate = nextAvailableUpdate
	st.UpdatedAt = time.Now().UTC()
	s.feeds[feedID] = st
	return nil
}

func (s *Store) ListObservations(_ context.Context, feedID string, limit int) ([]feed.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.observations[feedID]
	if limit < 0 || limit > len(history) {
		limit = len(history)
	}
	out := make([]feed.Observation, 0, limit)
	for i := len(history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, history[i].Clone())
	}
	return out, nil
}

// ProposalStore implementation -----------------------------------------------

func (s *Store) CreateProposal(_ context.Context, p rebalance.Proposal) (rebalance.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.ProposedAt.IsZero() {
		p.ProposedAt = time.Now().UTC()
	}
	s.proposals[p.Manager] = append(s.proposals[p.Manager], p)
	return p, nil
}

func (s *Store) ListProposals(_ context.Context, manager string) ([]rebalance.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if manager != "" {
		return append([]rebalance.Proposal(nil), s.proposals[manager]...), nil
	}
	var result []rebalance.Proposal
	for _, list := range s.proposals {
		result = append(result, list...)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ProposedAt.Before(result[j].ProposedAt) })
	return result, nil
}
