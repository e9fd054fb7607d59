package rebalancing

import (
	"context"
	"math/big"

	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/basket_oracle/internal/app/domain/rebalance"
	"github.com/R3E-Network/basket_oracle/internal/app/fixedpoint"
	"github.com/R3E-Network/basket_oracle/internal/errors"
)

// PriceSource yields an asset's USD price with 18 decimals.
type PriceSource interface {
	Name() string
	Read(ctx context.Context) (*big.Int, error)
}

// BasketToken is the external basket contract a manager proposes to.
type BasketToken interface {
	Address() util.Uint160
	RebalanceState(ctx context.Context) (rebalance.State, error)
	LastRebalanceTimestamp(ctx context.Context) (uint64, error)
	ProposalPeriod(ctx context.Context) (uint64, error)
	CurrentSet(ctx context.Context) (rebalance.Composition, error)
	Propose(ctx context.Context, p rebalance.Proposal) error
}

// Asset is one side of a two-asset basket.
type Asset struct {
	ID         util.Uint160
	Decimals   uint32
	Multiplier uint64
	Price      PriceSource
}

// Config is fixed for the lifetime of a Manager.
type Config struct {
	Name               string
	AssetA             Asset
	AssetB             Asset
	AuctionLibrary     util.Uint160
	AuctionTimeToPivot uint64
	// A proposal is refused while LowerThreshold < pctA < UpperThreshold.
	LowerThreshold uint64
	UpperThreshold uint64
	PriceDivisor   *big.Int
	// PricePrecision bounds the precision of the price ratio used when
	// sizing the next set.
	PricePrecision uint64
	// BaseNaturalUnit is one whole set in base units (10^18 by default).
	BaseNaturalUnit *big.Int
	// ConcurrentPriceReads reads both prices in parallel.
	ConcurrentPriceReads bool
}

func (c *Config) normalize() error {
	if c.Name == "" {
		return errors.InvalidArgument("manager name is required")
	}
	for _, side := range []struct {
		label string
		asset Asset
	}{{"asset a", c.AssetA}, {"asset b", c.AssetB}} {
		label, asset := side.label, side.asset
		if asset.Price == nil {
			return errors.InvalidArgument("manager %s: %s price source is required", c.Name, label)
		}
		if asset.Multiplier == 0 {
			return errors.InvalidArgument("manager %s: %s multiplier must be positive", c.Name, label)
		}
		if asset.Decimals > 36 {
			return errors.InvalidArgument("manager %s: %s decimals %d out of range", c.Name, label, asset.Decimals)
		}
	}
	if c.AssetA.ID.Equals(c.AssetB.ID) {
		return errors.InvalidArgument("manager %s: assets must differ", c.Name)
	}
	if c.LowerThreshold >= c.UpperThreshold || c.UpperThreshold > 100 {
		return errors.InvalidArgument("manager %s: thresholds must satisfy lower < upper <= 100, got %d/%d",
			c.Name, c.LowerThreshold, c.UpperThreshold)
	}
	if c.PriceDivisor == nil || c.PriceDivisor.Sign() <= 0 {
		return errors.InvalidArgument("manager %s: price divisor must be positive", c.Name)
	}
	if c.PricePrecision == 0 {
		c.PricePrecision = 100
	}
	if c.BaseNaturalUnit == nil {
		c.BaseNaturalUnit = new(big.Int).Set(fixedpoint.One18)
	}
	if c.BaseNaturalUnit.Sign() <= 0 {
		return errors.InvalidArgument("manager %s: base natural unit must be positive", c.Name)
	}
	return nil
}
