// Package oracles exposes prices derived from time-series feeds: the latest
// value, a simple moving average and the relative strength index.
package oracles

import (
	"context"
	"fmt"
	"math/big"

	"github.com/R3E-Network/basket_oracle/internal/app/stats"
	"github.com/R3E-Network/basket_oracle/internal/errors"
)

// PriceOracle yields a single derived value.
type PriceOracle interface {
	Name() string
	Read(ctx context.Context) (*big.Int, error)
}

// History is the read side of a time-series feed. Values are most recent
// first.
type History interface {
	ID() string
	Read(n int) ([]*big.Int, error)
}

// Latest reports the most recent feed value.
type Latest struct {
	name string
	feed History
}

// NewLatest wraps feed.
func NewLatest(name string, feed History) (*Latest, error) {
	if feed == nil {
		return nil, errors.InvalidArgument("latest oracle %s: feed is required", name)
	}
	return &Latest{name: name, feed: feed}, nil
}

func (l *Latest) Name() string { return l.name }

func (l *Latest) Read(context.Context) (*big.Int, error) {
	values, err := l.feed.Read(1)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", l.name, err)
	}
	return values[0], nil
}

// MovingAverage reports the simple average over a fixed window of the feed.
type MovingAverage struct {
	name   string
	feed   History
	window int
}

// NewMovingAverage builds an oracle averaging the last window values of feed.
func NewMovingAverage(name string, feed History, window int) (*MovingAverage, error) {
	if feed == nil {
		return nil, errors.InvalidArgument("moving average oracle %s: feed is required", name)
	}
	if window <= 0 {
		return nil, errors.InvalidArgument("moving average oracle %s: window must be positive, got %d", name, window)
	}
	return &MovingAverage{name: name, feed: feed, window: window}, nil
}

func (m *MovingAverage) Name() string { return m.name }

// Window returns the configured number of data points.
func (m *MovingAverage) Window() int { return m.window }

func (m *MovingAverage) Read(ctx context.Context) (*big.Int, error) {
	return m.ReadWindow(ctx, m.window)
}

// ReadWindow averages the last n values instead of the configured window.
func (m *MovingAverage) ReadWindow(_ context.Context, n int) (*big.Int, error) {
	values, err := m.feed.Read(n)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", m.name, err)
	}
	return stats.MovingAverage(values, n)
}

// RSI reports the relative strength index over a fixed number of periods.
// Decimals scales the 0-100 result for callers needing fractional precision.
type RSI struct {
	name     string
	feed     History
	periods  int
	decimals uint32
}

// NewRSI builds an RSI oracle reading periods+1 values from feed.
func NewRSI(name string, feed History, periods int, decimals uint32) (*RSI, error) {
	if feed == nil {
		return nil, errors.InvalidArgument("rsi oracle %s: feed is required", name)
	}
	if periods <= 0 {
		return nil, errors.InvalidArgument("rsi oracle %s: periods must be positive, got %d", name, periods)
	}
	return &RSI{name: name, feed: feed, periods: periods, decimals: decimals}, nil
}

func (r *RSI) Name() string { return r.name }

// Periods returns the configured number of deltas.
func (r *RSI) Periods() int { return r.periods }

func (r *RSI) Read(ctx context.Context) (*big.Int, error) {
	return r.ReadPeriods(ctx, r.periods)
}

// ReadPeriods computes the index over n deltas.
func (r *RSI) ReadPeriods(_ context.Context, n int) (*big.Int, error) {
	if n <= 0 {
		return nil, errors.InvalidArgument("rsi periods must be positive, got %d", n)
	}
	values, err := r.feed.Read(n + 1)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.name, err)
	}
	return stats.RSIScaled(values, n, r.decimals)
}

// Constant reports a fixed value.
type Constant struct {
	name  string
	value *big.Int
}

// NewConstant returns an oracle pinned to value.
func NewConstant(name string, value *big.Int) *Constant {
	return &Constant{name: name, value: new(big.Int).Set(value)}
}

func (c *Constant) Name() string { return c.name }

func (c *Constant) Read(context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.value), nil
}
