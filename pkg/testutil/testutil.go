// Package testutil provides helpers shared by package tests.
package testutil

import (
	"io"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/R3E-Network/basket_oracle/pkg/logger"
)

// Logger returns a logger that discards output.
func Logger() *logger.Logger {
	return logger.New(logger.Config{Output: io.Discard})
}

// MustBig parses a base-10 integer or fails the test.
func MustBig(t testing.TB, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		t.Fatalf("invalid integer %q", s)
	}
	return v
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at the given unix second.
func NewClock(unix int64) *Clock {
	return &Clock{now: time.Unix(unix, 0).UTC()}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to the given unix second.
func (c *Clock) Set(unix int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = time.Unix(unix, 0).UTC()
}
