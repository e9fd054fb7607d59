// Package timeseries maintains evenly scheduled price histories. Each feed
// pulls a value from its data source at most once per update interval and
// keeps a bounded window of past observations for the derived oracles.
package timeseries

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/basket_oracle/internal/app/domain/feed"
	"github.com/R3E-Network/basket_oracle/internal/app/history"
	"github.com/R3E-Network/basket_oracle/internal/app/metrics"
	"github.com/R3E-Network/basket_oracle/internal/app/services/datasource"
	"github.com/R3E-Network/basket_oracle/internal/app/storage"
	"github.com/R3E-Network/basket_oracle/internal/errors"
	"github.com/R3E-Network/basket_oracle/pkg/logger"
)

// Config describes a feed at construction time.
type Config struct {
	ID             string
	Owner          util.Uint160
	UpdateInterval uint64
	MaxDataPoints  int
	// NextAvailableUpdate is the first scheduled poke. Zero means one
	// interval from now.
	NextAvailableUpdate uint64
	Source              datasource.DataSource
	// Seed values, oldest first.
	Seed  []*big.Int
	Clock func() time.Time
	// RestoreSource rebuilds a data source from its stored description so a
	// source swapped at runtime survives a restart. Nil keeps Source.
	RestoreSource func(description string) (datasource.DataSource, error)
}

// Feed is a single time-series feed.
type Feed struct {
	id       string
	owner    util.Uint160
	interval uint64
	store    storage.FeedStore
	log      *logger.Logger
	clock    func() time.Time
	resolve  func(string) (datasource.DataSource, error)

	mu        sync.RWMutex
	next      uint64
	source    datasource.DataSource
	buffer    *history.Buffer
	listeners []datasource.Listener
	createdAt time.Time
	updatedAt time.Time
}

// NewFeed validates cfg and builds a feed. store may be nil, in which case
// the feed lives in memory only.
func NewFeed(cfg Config, store storage.FeedStore, log *logger.Logger) (*Feed, error) {
	if cfg.ID == "" {
		return nil, errors.InvalidArgument("feed id is required")
	}
	if cfg.UpdateInterval == 0 {
		return nil, errors.InvalidArgument("feed %s: update interval must be positive", cfg.ID)
	}
	if cfg.Source == nil {
		return nil, errors.InvalidArgument("feed %s: data source is required", cfg.ID)
	}
	buffer, err := history.New(cfg.MaxDataPoints)
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", cfg.ID, err)
	}
	if log == nil {
		log = logger.NewDefault("timeseries")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	now := clock().UTC()
	next := cfg.NextAvailableUpdate
	if next == 0 {
		next = unixSeconds(now) + cfg.UpdateInterval
	}

	f := &Feed{
		id:        cfg.ID,
		owner:     cfg.Owner,
		interval:  cfg.UpdateInterval,
		store:     store,
		log:       log,
		clock:     clock,
		resolve:   cfg.RestoreSource,
		next:      next,
		source:    cfg.Source,
		buffer:    buffer,
		createdAt: now,
		updatedAt: now,
	}

	// Seeds end one interval before the first scheduled update.
	count := uint64(len(cfg.Seed))
	for i, value := range cfg.Seed {
		if value == nil || value.Sign() < 0 {
			return nil, errors.InvalidArgument("feed %s: seed %d must be a non-negative value", cfg.ID, i)
		}
		offset := (count - uint64(i)) * cfg.UpdateInterval
		var ts uint64
		if offset < next {
			ts = next - offset
		}
		f.buffer.Append(feed.Observation{Value: value, Timestamp: ts})
	}
	return f, nil
}

// ID returns the feed identifier.
func (f *Feed) ID() string { return f.id }

// DataSource returns the source the next poke reads.
func (f *Feed) DataSource() datasource.DataSource {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.source
}

// Owner returns the account allowed to change the feed's data source.
func (f *Feed) Owner() util.Uint160 { return f.owner }

// UpdateInterval returns the fixed spacing between pokes, in seconds.
func (f *Feed) UpdateInterval() uint64 { return f.interval }

// MaxDataPoints returns the history capacity.
func (f *Feed) MaxDataPoints() int { return f.buffer.Cap() }

// State returns a snapshot of the feed's schedule and metadata.
func (f *Feed) State() feed.State {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.stateLocked()
}

func (f *Feed) stateLocked() feed.State {
	return feed.State{
		ID:                  f.id,
		Owner:               address.Uint160ToString(f.owner),
		UpdateInterval:      f.interval,
		MaxDataPoints:       f.buffer.Cap(),
		NextAvailableUpdate: f.next,
		DataSource:          f.source.Describe(),
		CreatedAt:           f.createdAt,
		UpdatedAt:           f.updatedAt,
	}
}

// Len reports how many observations are stored.
func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.buffer.Len()
}

// Poke appends the data source's current value. It fails with TooEarly
// before the scheduled time. On success the schedule advances by exactly one
// interval regardless of how late the poke was.
func (f *Feed) Poke(ctx context.Context) (feed.Observation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := unixSeconds(f.clock())
	if now < f.next {
		metrics.RecordPoke(f.id, "too_early", f.next, f.buffer.Len())
		return feed.Observation{}, errors.TooEarly(now, f.next)
	}

	rc := feed.ReadContext{
		FeedID:              f.id,
		Now:                 now,
		NextAvailableUpdate: f.next,
		UpdateInterval:      f.interval,
	}
	if latest, ok := f.buffer.Latest(); ok {
		rc.Latest = &latest
	}

	value, err := f.source.Read(ctx, rc)
	if err != nil {
		metrics.RecordPoke(f.id, "source_error", f.next, f.buffer.Len())
		f.log.WithError(err).WithField("feed_id", f.id).Warn("data source read failed")
		return feed.Observation{}, err
	}

	obs := feed.Observation{Value: value, Timestamp: now}
	next := f.next + f.interval

	if f.store != nil {
		if err := f.store.CommitObservation(ctx, f.id, obs, next, f.buffer.Cap()); err != nil {
			metrics.RecordPoke(f.id, "store_error", f.next, f.buffer.Len())
			f.log.WithError(err).WithField("feed_id", f.id).Error("commit observation failed")
			return feed.Observation{}, fmt.Errorf("commit observation for feed %s: %w", f.id, err)
		}
	}

	f.buffer.Append(obs)
	f.next = next
	f.updatedAt = f.clock().UTC()
	metrics.RecordPoke(f.id, "ok", f.next, f.buffer.Len())

	f.log.WithField("feed_id", f.id).
		WithField("value", value.String()).
		WithField("timestamp", now).
		WithField("next_available_update", f.next).
		Debug("feed poked")
	return obs.Clone(), nil
}

// Read returns the n most recent values, most recent first.
func (f *Feed) Read(n int) ([]*big.Int, error) {
	obs, err := f.ReadObservations(n)
	if err != nil {
		return nil, err
	}
	return feed.Values(obs), nil
}

// ReadObservations returns the n most recent observations, most recent first.
func (f *Feed) ReadObservations(n int) ([]feed.Observation, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if n > f.buffer.Cap() {
		return nil, errors.InsufficientData(n, f.buffer.Len()).
			WithDetail("max_data_points", f.buffer.Cap())
	}
	return f.buffer.ReadLast(n)
}

// Latest returns the most recent observation.
func (f *Feed) Latest() (feed.Observation, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	obs, ok := f.buffer.Latest()
	if !ok {
		return feed.Observation{}, errors.InsufficientData(1, 0)
	}
	return obs, nil
}

// ChangeDataSource swaps the feed's data source. Only the owner may call it.
// A store-backed feed saves the new state first; a failed save leaves the
// current source in place.
func (f *Feed) ChangeDataSource(ctx context.Context, caller util.Uint160, ds datasource.DataSource) error {
	if !caller.Equals(f.owner) {
		return errors.Unauthorized(address.Uint160ToString(caller), "change data source")
	}
	if ds == nil {
		return errors.InvalidArgument("data source is required")
	}

	f.mu.Lock()
	previous := f.source.Describe()
	st := f.stateLocked()
	st.DataSource = ds.Describe()
	st.UpdatedAt = f.clock().UTC()
	if f.store != nil {
		if _, err := f.store.SaveFeed(ctx, st); err != nil {
			f.mu.Unlock()
			f.log.WithError(err).WithField("feed_id", f.id).Error("save data source change failed")
			return fmt.Errorf("save feed %s: %w", f.id, err)
		}
	}
	f.source = ds
	f.updatedAt = st.UpdatedAt
	listeners := append([]datasource.Listener(nil), f.listeners...)
	f.mu.Unlock()

	change := datasource.Change{
		Target:   f.id,
		Kind:     "data_source",
		Caller:   address.Uint160ToString(caller),
		Previous: previous,
		Current:  st.DataSource,
		At:       st.UpdatedAt,
	}
	f.log.WithField("feed_id", f.id).
		WithField("previous", change.Previous).
		WithField("current", change.Current).
		Info("data source changed")
	for _, fn := range listeners {
		fn(change)
	}
	return nil
}

// Persist saves the feed's current state. Callers use it after mutating the
// data source in place, e.g. repointing a linearized source's medianizer.
func (f *Feed) Persist(ctx context.Context) error {
	if f.store == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updatedAt = f.clock().UTC()
	if _, err := f.store.SaveFeed(ctx, f.stateLocked()); err != nil {
		return fmt.Errorf("save feed %s: %w", f.id, err)
	}
	return nil
}

// OnChange registers a listener for data source changes.
func (f *Feed) OnChange(fn datasource.Listener) {
	f.mu.Lock()
	f.listeners = append(f.listeners, fn)
	f.mu.Unlock()
}

// restore replaces the schedule and history with persisted state. history is
// most recent first, as returned by the store.
func (f *Feed) restore(st feed.State, history []feed.Observation) error {
	if st.UpdateInterval != f.interval {
		return errors.InvalidState("feed %s: stored update interval %d differs from configured %d", f.id, st.UpdateInterval, f.interval)
	}
	buffer, err := historyFrom(f.buffer.Cap(), history)
	if err != nil {
		return err
	}

	var source datasource.DataSource
	if f.resolve != nil && st.DataSource != "" && st.DataSource != f.source.Describe() {
		source, err = f.resolve(st.DataSource)
		if err != nil {
			f.log.WithError(err).
				WithField("feed_id", f.id).
				WithField("stored", st.DataSource).
				Warn("stored data source unavailable, keeping configured source")
			source = nil
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.buffer = buffer
	f.next = st.NextAvailableUpdate
	if source != nil {
		f.source = source
	}
	if !st.CreatedAt.IsZero() {
		f.createdAt = st.CreatedAt
	}
	if !st.UpdatedAt.IsZero() {
		f.updatedAt = st.UpdatedAt
	}
	return nil
}

// snapshot returns the stored history oldest first.
func (f *Feed) snapshot() []feed.Observation {
	f.mu.RLock()
	defer f.mu.RUnlock()

	recent, _ := f.buffer.ReadLast(f.buffer.Len())
	out := make([]feed.Observation, len(recent))
	for i, obs := range recent {
		out[len(recent)-1-i] = obs
	}
	return out
}

func historyFrom(capacity int, recentFirst []feed.Observation) (*history.Buffer, error) {
	buffer, err := history.New(capacity)
	if err != nil {
		return nil, err
	}
	for i := len(recentFirst) - 1; i >= 0; i-- {
		buffer.Append(recentFirst[i])
	}
	return buffer, nil
}

func unixSeconds(t time.Time) uint64 {
	sec := t.Unix()
	if sec < 0 {
		return 0
	}
	return uint64(sec)
}
