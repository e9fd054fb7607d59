// Package medianizer holds clients for the raw price oracles feeding the
// time-series feeds. A medianizer returns one trusted scalar per read.
package medianizer

import (
	"context"
	"math/big"
	"sync"
	"time"
)

// Reading is a single medianizer value.
type Reading struct {
	Value     *big.Int
	Timestamp uint64
}

// Medianizer reads the current trusted price.
type Medianizer interface {
	Name() string
	Read(ctx context.Context) (Reading, error)
}

// Func adapts a function to the Medianizer interface.
type Func struct {
	Label string
	Fn    func(ctx context.Context) (Reading, error)
}

func (f Func) Name() string { return f.Label }

func (f Func) Read(ctx context.Context) (Reading, error) {
	return f.Fn(ctx)
}

// Static serves a value set by the operator. Useful for pegged assets and
// local runs.
type Static struct {
	name string
	now  func() time.Time

	mu    sync.RWMutex
	value *big.Int
}

// NewStatic returns a medianizer that always reports value.
func NewStatic(name string, value *big.Int) *Static {
	return &Static{name: name, value: new(big.Int).Set(value), now: time.Now}
}

func (s *Static) Name() string { return s.name }

// Set replaces the reported value.
func (s *Static) Set(value *big.Int) {
	s.mu.Lock()
	s.value = new(big.Int).Set(value)
	s.mu.Unlock()
}

func (s *Static) Read(context.Context) (Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Reading{Value: new(big.Int).Set(s.value), Timestamp: uint64(s.now().Unix())}, nil
}
