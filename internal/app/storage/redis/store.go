// Package redis stores feed histories in Redis lists. Each feed keeps a
// metadata hash and a list of observations trimmed to the feed's capacity,
// newest at the head.
package redis

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/R3E-Network/basket_oracle/internal/app/domain/feed"
	"github.com/R3E-Network/basket_oracle/internal/app/domain/rebalance"
	"github.com/R3E-Network/basket_oracle/internal/app/storage"
	"github.com/R3E-Network/basket_oracle/internal/errors"
)

// Store implements the storage interfaces on top of Redis.
type Store struct {
	client goredis.UniversalClient
	prefix string
}

var _ storage.FeedStore = (*Store)(nil)
var _ storage.ProposalStore = (*Store)(nil)

// New wraps client. Keys are namespaced under prefix (default "basket").
func New(client goredis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "basket"
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) feedIndexKey() string          { return s.prefix + ":feeds" }
func (s *Store) feedKey(id string) string      { return s.prefix + ":feed:" + id }
func (s *Store) historyKey(id string) string   { return s.prefix + ":feed:" + id + ":history" }
func (s *Store) proposalKey(mgr string) string { return s.prefix + ":proposals:" + mgr }
func (s *Store) managerIndexKey() string       { return s.prefix + ":managers" }

// --- FeedStore --------------------------------------------------------------

func (s *Store) SaveFeed(ctx context.Context, st feed.State) (feed.State, error) {
	if st.ID == "" {
		return feed.State{}, errors.InvalidArgument("feed id is required")
	}
	now := time.Now().UTC()
	st.UpdatedAt = now

	created, err := s.client.HGet(ctx, s.feedKey(st.ID), "created_at").Result()
	switch {
	case err == nil:
		if st.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			st.CreatedAt = now
		}
	case stderrors.Is(err, goredis.Nil):
		st.CreatedAt = now
	default:
		return feed.State{}, err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, s.feedKey(st.ID), map[string]interface{}{
			"owner":                 st.Owner,
			"update_interval":       strconv.FormatUint(st.UpdateInterval, 10),
			"max_data_points":       strconv.Itoa(st.MaxDataPoints),
			"next_available_update": strconv.FormatUint(st.NextAvailableUpdate, 10),
			"data_source":           st.DataSource,
			"created_at":            st.CreatedAt.Format(time.RFC3339Nano),
			"updated_at":            st.UpdatedAt.Format(time.RFC3339Nano),
		})
		pipe.SAdd(ctx, s.feedIndexKey(), st.ID)
		return nil
	})
	if err != nil {
		return feed.State{}, err
	}
	return st, nil
}

func (s *Store) GetFeed(ctx context.Context, id string) (feed.State, error) {
	fields, err := s.client.HGetAll(ctx, s.feedKey(id)).Result()
	if err != nil {
		return feed.State{}, err
	}
	if len(fields) == 0 {
		return feed.State{}, errors.NotFound("feed", id)
	}
	return decodeFeed(id, fields)
}

func (s *Store) ListFeeds(ctx context.Context) ([]feed.State, error) {
	ids, err := s.client.SMembers(ctx, s.feedIndexKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)

	result := make([]feed.State, 0, len(ids))
	for _, id := range ids {
		st, err := s.GetFeed(ctx, id)
		if stderrors.Is(err, errors.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		result = append(result, st)
	}
	return result, nil
}

// CommitObservation pushes the observation, trims the list and advances the
// schedule in one MULTI block. The feed hash is watched so a concurrent
// delete aborts the transaction.
func (s *Store) CommitObservation(ctx context.Context, feedID string, obs feed.Observation, nextAvailableUpdate uint64, capacity int) error {
	if capacity <= 0 {
		return errors.InvalidArgument("capacity must be positive, got %d", capacity)
	}
	if obs.Value == nil {
		return errors.InvalidArgument("observation value is required")
	}
	entry := encodeObservation(obs)
	key := s.feedKey(feedID)

	return s.client.Watch(ctx, func(tx *goredis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists == 0 {
			return errors.NotFound("feed", feedID)
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.LPush(ctx, s.historyKey(feedID), entry)
			pipe.LTrim(ctx, s.historyKey(feedID), 0, int64(capacity-1))
			pipe.HSet(ctx, key,
				"next_available_update", strconv.FormatUint(nextAvailableUpdate, 10),
				"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
			)
			return nil
		})
		return err
	}, key)
}

func (s *Store) ListObservations(ctx context.Context, feedID string, limit int) ([]feed.Observation, error) {
	if limit <= 0 {
		return []feed.Observation{}, nil
	}
	entries, err := s.client.LRange(ctx, s.historyKey(feedID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	result := make([]feed.Observation, 0, len(entries))
	for _, entry := range entries {
		obs, err := decodeObservation(entry)
		if err != nil {
			return nil, fmt.Errorf("feed %s: %w", feedID, err)
		}
		result = append(result, obs)
	}
	return result, nil
}

// --- ProposalStore ----------------------------------------------------------

func (s *Store) CreateProposal(ctx context.Context, p rebalance.Proposal) (rebalance.Proposal, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.ProposedAt.IsZero() {
		p.ProposedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return rebalance.Proposal{}, err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.RPush(ctx, s.proposalKey(p.Manager), payload)
		pipe.SAdd(ctx, s.managerIndexKey(), p.Manager)
		return nil
	})
	if err != nil {
		return rebalance.Proposal{}, err
	}
	return p, nil
}

func (s *Store) ListProposals(ctx context.Context, manager string) ([]rebalance.Proposal, error) {
	managers := []string{manager}
	if manager == "" {
		var err error
		if managers, err = s.client.SMembers(ctx, s.managerIndexKey()).Result(); err != nil {
			return nil, err
		}
	}

	var result []rebalance.Proposal
	for _, mgr := range managers {
		entries, err := s.client.LRange(ctx, s.proposalKey(mgr), 0, -1).Result()
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			var p rebalance.Proposal
			if err := json.Unmarshal([]byte(entry), &p); err != nil {
				return nil, fmt.Errorf("decode proposal: %w", err)
			}
			result = append(result, p)
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].ProposedAt.Before(result[j].ProposedAt) })
	return result, nil
}

func encodeObservation(obs feed.Observation) string {
	return obs.Value.String() + ":" + strconv.FormatUint(obs.Timestamp, 10)
}

func decodeObservation(entry string) (feed.Observation, error) {
	for i := len(entry) - 1; i >= 0; i-- {
		if entry[i] != ':' {
			continue
		}
		value, ok := new(big.Int).SetString(entry[:i], 10)
		if !ok {
			return feed.Observation{}, fmt.Errorf("invalid observation value %q", entry)
		}
		ts, err := strconv.ParseUint(entry[i+1:], 10, 64)
		if err != nil {
			return feed.Observation{}, fmt.Errorf("invalid observation timestamp %q: %w", entry, err)
		}
		return feed.Observation{Value: value, Timestamp: ts}, nil
	}
	return feed.Observation{}, fmt.Errorf("malformed observation %q", entry)
}

func decodeFeed(id string, fields map[string]string) (feed.State, error) {
	st := feed.State{ID: id, Owner: fields["owner"], DataSource: fields["data_source"]}
	var err error
	if st.UpdateInterval, err = strconv.ParseUint(fields["update_interval"], 10, 64); err != nil {
		return feed.State{}, fmt.Errorf("feed %s update_interval: %w", id, err)
	}
	if st.MaxDataPoints, err = strconv.Atoi(fields["max_data_points"]); err != nil {
		return feed.State{}, fmt.Errorf("feed %s max_data_points: %w", id, err)
	}
	if st.NextAvailableUpdate, err = strconv.ParseUint(fields["next_available_update"], 10, 64); err != nil {
		return feed.State{}, fmt.Errorf("feed %s next_available_update: %w", id, err)
	}
	st.CreatedAt, _ = time.Parse(time.RFC3339Nano, fields["created_at"])
	st.UpdatedAt, _ = time.Parse(time.RFC3339Nano, fields["updated_at"])
	return st, nil
}
