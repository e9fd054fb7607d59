package timeseries

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"

	"github.com/R3E-Network/basket_oracle/internal/app/domain/feed"
	"github.com/R3E-Network/basket_oracle/internal/app/storage"
	"github.com/R3E-Network/basket_oracle/internal/errors"
	"github.com/R3E-Network/basket_oracle/pkg/logger"
)

// Service owns the set of registered feeds.
type Service struct {
	store storage.FeedStore
	log   *logger.Logger

	mu    sync.RWMutex
	feeds map[string]*Feed
}

// PokeResult reports the outcome of one feed during PokeAll.
type PokeResult struct {
	FeedID      string
	Observation feed.Observation
	Err         error
}

// NewService creates a feed registry. store may be nil.
func NewService(store storage.FeedStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("timeseries")
	}
	return &Service{store: store, log: log, feeds: make(map[string]*Feed)}
}

// Register builds the feed described by cfg. When a store is attached and
// already holds the feed, the persisted schedule and history replace the
// configured seed; otherwise the fresh feed and its seed are persisted.
func (s *Service) Register(ctx context.Context, cfg Config) (*Feed, error) {
	s.mu.RLock()
	_, exists := s.feeds[cfg.ID]
	s.mu.RUnlock()
	if exists {
		return nil, errors.InvalidArgument("feed %s already registered", cfg.ID)
	}

	f, err := NewFeed(cfg, s.store, s.log)
	if err != nil {
		return nil, err
	}

	if s.store != nil {
		if err := s.syncStore(ctx, f); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.feeds[f.id]; exists {
		return nil, errors.InvalidArgument("feed %s already registered", f.id)
	}
	s.feeds[f.id] = f

	s.log.WithField("feed_id", f.id).
		WithField("interval", f.interval).
		WithField("max_data_points", f.MaxDataPoints()).
		WithField("history", f.Len()).
		Info("feed registered")
	return f, nil
}

func (s *Service) syncStore(ctx context.Context, f *Feed) error {
	st, err := s.store.GetFeed(ctx, f.id)
	switch {
	case err == nil:
		history, err := s.store.ListObservations(ctx, f.id, f.MaxDataPoints())
		if err != nil {
			return fmt.Errorf("load history for feed %s: %w", f.id, err)
		}
		if err := f.restore(st, history); err != nil {
			return err
		}
		s.log.WithField("feed_id", f.id).
			WithField("observations", len(history)).
			Info("feed rehydrated from store")
		return nil
	case stderrors.Is(err, errors.ErrNotFound):
	default:
		return fmt.Errorf("load feed %s: %w", f.id, err)
	}

	st = f.State()
	if _, err := s.store.SaveFeed(ctx, st); err != nil {
		return fmt.Errorf("save feed %s: %w", f.id, err)
	}
	for _, obs := range f.snapshot() {
		if err := s.store.CommitObservation(ctx, f.id, obs, st.NextAvailableUpdate, st.MaxDataPoints); err != nil {
			return fmt.Errorf("persist seed for feed %s: %w", f.id, err)
		}
	}
	return nil
}

// Get looks up a feed by id.
func (s *Service) Get(id string) (*Feed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.feeds[id]
	if !ok {
		return nil, errors.NotFound("feed", id)
	}
	return f, nil
}

// List returns the state of every registered feed ordered by id.
func (s *Service) List() []feed.State {
	s.mu.RLock()
	feeds := make([]*Feed, 0, len(s.feeds))
	for _, f := range s.feeds {
		feeds = append(feeds, f)
	}
	s.mu.RUnlock()

	out := make([]feed.State, 0, len(feeds))
	for _, f := range feeds {
		out = append(out, f.State())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Poke pokes a single feed by id.
func (s *Service) Poke(ctx context.Context, id string) (feed.Observation, error) {
	f, err := s.Get(id)
	if err != nil {
		return feed.Observation{}, err
	}
	return f.Poke(ctx)
}

// PokeAll pokes every registered feed once, in id order. Failures are
// reported per feed and do not stop the sweep.
func (s *Service) PokeAll(ctx context.Context) []PokeResult {
	states := s.List()
	results := make([]PokeResult, 0, len(states))
	for _, st := range states {
		if err := ctx.Err(); err != nil {
			results = append(results, PokeResult{FeedID: st.ID, Err: err})
			continue
		}
		obs, err := s.Poke(ctx, st.ID)
		results = append(results, PokeResult{FeedID: st.ID, Observation: obs, Err: err})
	}
	return results
}
