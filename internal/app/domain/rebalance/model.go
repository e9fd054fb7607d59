package rebalance

import (
	"math/big"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/util"
)

// State mirrors the basket token's rebalancing phase.
type State int

const (
	StateDefault State = iota
	StateProposal
	StateRebalance
	StateDrawdown
)

func (s State) String() string {
	switch s {
	case StateDefault:
		return "Default"
	case StateProposal:
		return "Proposal"
	case StateRebalance:
		return "Rebalance"
	case StateDrawdown:
		return "Drawdown"
	default:
		return "Unknown"
	}
}

// Composition is a basket's per-natural-unit component amounts.
type Composition struct {
	Components  []util.Uint160
	Units       []*big.Int
	NaturalUnit *big.Int
}

// UnitsOf returns the units held of component, or false when absent.
func (c Composition) UnitsOf(component util.Uint160) (*big.Int, bool) {
	for i, comp := range c.Components {
		if comp.Equals(component) && i < len(c.Units) {
			return c.Units[i], true
		}
	}
	return nil, false
}

// Proposal is the rebalance request sent to a basket token together with the
// inputs it was derived from.
type Proposal struct {
	ID                 string
	Manager            string
	Basket             util.Uint160
	Next               Composition
	AuctionLibrary     util.Uint160
	AuctionTimeToPivot uint64
	StartPrice         *big.Int
	PivotPrice         *big.Int
	PriceA             *big.Int
	PriceB             *big.Int
	AllocationPercent  uint64
	CurrentSetValue    *big.Int
	NextSetValue       *big.Int
	ProposedAt         time.Time
}
