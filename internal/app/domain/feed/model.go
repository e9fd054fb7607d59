package feed

import (
	"math/big"
	"time"
)

// Observation is one stored data point. Value is an unsigned fixed-point
// integer; Timestamp is in unix seconds.
type Observation struct {
	Value     *big.Int
	Timestamp uint64
}

// State describes a time-series feed and its schedule.
type State struct {
	ID                  string
	Owner               string
	UpdateInterval      uint64
	MaxDataPoints       int
	NextAvailableUpdate uint64
	DataSource          string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// ReadContext is the snapshot a data source receives when a feed is poked.
// Latest is nil when the feed holds no history yet.
type ReadContext struct {
	FeedID              string
	Now                 uint64
	NextAvailableUpdate uint64
	UpdateInterval      uint64
	Latest              *Observation
}

// Clone returns a deep copy of the observation.
func (o Observation) Clone() Observation {
	if o.Value == nil {
		return o
	}
	return Observation{Value: new(big.Int).Set(o.Value), Timestamp: o.Timestamp}
}

// Values projects observations onto their values, preserving order.
func Values(obs []Observation) []*big.Int {
	out := make([]*big.Int, len(obs))
	for i, o := range obs {
		out[i] = new(big.Int).Set(o.Value)
	}
	return out
}
