// Package history implements the bounded observation store backing every
// time-series feed: a fixed-capacity ring addressed by index, with O(1)
// append and O(1) access to the i-th most recent entry.
package history

import (
	"fmt"

	"github.com/R3E-Network/basket_oracle/internal/app/domain/feed"
	"github.com/R3E-Network/basket_oracle/internal/errors"
)

// Buffer keeps at most Cap() observations. It is not safe for concurrent use;
// the owning feed serialises access.
type Buffer struct {
	entries []feed.Observation
	head    int // slot receiving the next append
	size    int
}

// New allocates a buffer holding up to capacity observations.
func New(capacity int) (*Buffer, error) {
	if capacity <= 0 {
		return nil, errors.InvalidArgument("history capacity must be positive, got %d", capacity)
	}
	return &Buffer{entries: make([]feed.Observation, capacity)}, nil
}

// Append stores obs, overwriting the oldest entry once the buffer is full.
func (b *Buffer) Append(obs feed.Observation) {
	b.entries[b.head] = obs.Clone()
	b.head = (b.head + 1) % len(b.entries)
	if b.size < len(b.entries) {
		b.size++
	}
}

// Len reports the number of stored observations.
func (b *Buffer) Len() int { return b.size }

// Cap reports the fixed capacity.
func (b *Buffer) Cap() int { return len(b.entries) }

// At returns the i-th most recent observation; At(0) is the latest.
func (b *Buffer) At(i int) (feed.Observation, bool) {
	if i < 0 || i >= b.size {
		return feed.Observation{}, false
	}
	idx := (b.head - 1 - i + len(b.entries)) % len(b.entries)
	return b.entries[idx].Clone(), true
}

// Latest returns the most recent observation.
func (b *Buffer) Latest() (feed.Observation, bool) {
	return b.At(0)
}

// ReadLast returns the k most recent observations, most recent first.
func (b *Buffer) ReadLast(k int) ([]feed.Observation, error) {
	if k < 0 {
		return nil, errors.InvalidArgument("read length must not be negative, got %d", k)
	}
	if k > b.size {
		return nil, errors.InsufficientData(k, b.size)
	}
	out := make([]feed.Observation, k)
	for i := 0; i < k; i++ {
		out[i], _ = b.At(i)
	}
	return out, nil
}

func (b *Buffer) String() string {
	return fmt.Sprintf("history.Buffer{len=%d cap=%d}", b.size, len(b.entries))
}
