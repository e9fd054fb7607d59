package rebalancing

import (
	"math/big"

	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/basket_oracle/internal/app/domain/rebalance"
	"github.com/R3E-Network/basket_oracle/internal/app/fixedpoint"
	"github.com/R3E-Network/basket_oracle/internal/errors"
)

// AuctionPeriod is the length of one price step of the auction curve, in
// seconds.
const AuctionPeriod = 30 * 60

var hundred = big.NewInt(100)

// TokenAllocationAmountUSD values the holding of one component in a whole
// set: price * (10^18 * units / naturalUnit) / 10^decimals, flooring at each
// division. price carries 18 decimals and so does the result.
func TokenAllocationAmountUSD(price, units, naturalUnit *big.Int, decimals uint32) *big.Int {
	perSet := fixedpoint.FloorDiv(fixedpoint.Mul(fixedpoint.One18, units), naturalUnit)
	return fixedpoint.FloorDiv(fixedpoint.Mul(price, perSet), fixedpoint.Pow10(decimals))
}

// AllocationPercent returns floor(a * 100 / (a + b)).
func AllocationPercent(a, b *big.Int) (uint64, error) {
	total := fixedpoint.Add(a, b)
	if total.Sign() == 0 {
		return 0, errors.InvalidState("basket holds no value")
	}
	return fixedpoint.FloorDiv(fixedpoint.Mul(a, hundred), total).Uint64(), nil
}

// CalculateAuctionPriceParameters derives the auction's start and pivot
// prices. The fair value is next*divisor/current; the curve spans half a
// percent of it per AuctionPeriod on either side.
func CalculateAuctionPriceParameters(currentSetValue, nextSetValue, priceDivisor *big.Int, timeToPivot uint64) (start, pivot *big.Int, err error) {
	if fixedpoint.IsZero(currentSetValue) {
		return nil, nil, errors.InvalidArgument("current set value must be positive")
	}
	fairValue := fixedpoint.MulDiv(nextSetValue, priceDivisor, currentSetValue)
	periods := fixedpoint.U64(timeToPivot / AuctionPeriod)
	halfRange := fixedpoint.FloorDiv(fixedpoint.Mul(periods, fairValue), big.NewInt(200))

	start, err = fixedpoint.Sub(fairValue, halfRange)
	if err != nil {
		return nil, nil, errors.InvalidArgument("auction range %s exceeds fair value %s", halfRange, fairValue)
	}
	return start, fixedpoint.Add(fairValue, halfRange), nil
}

// NextSet sizes a set whose dollar split between the assets matches
// multiplierA:multiplierB at the given prices. The cheaper asset's quantity is
// scaled by the price ratio, taken with PricePrecision digits. Units and the
// natural unit are reduced by their greatest common divisor, giving the
// smallest natural unit with whole unit amounts.
func NextSet(cfg Config, priceA, priceB *big.Int) (rebalance.Composition, error) {
	if fixedpoint.IsZero(priceA) || fixedpoint.IsZero(priceB) {
		return rebalance.Composition{}, errors.InvalidArgument("asset prices must be positive")
	}
	precision := fixedpoint.U64(cfg.PricePrecision)
	multA := fixedpoint.U64(cfg.AssetA.Multiplier)
	multB := fixedpoint.U64(cfg.AssetB.Multiplier)

	// Whole-token quantities per set, both over the common denominator
	// precision: qtyA/precision of A and qtyB/precision of B.
	var qtyA, qtyB *big.Int
	if priceA.Cmp(priceB) >= 0 {
		ratio := fixedpoint.MulDiv(priceA, precision, priceB)
		qtyA = fixedpoint.Mul(multA, precision)
		qtyB = fixedpoint.Mul(multB, ratio)
	} else {
		ratio := fixedpoint.MulDiv(priceB, precision, priceA)
		qtyA = fixedpoint.Mul(multA, ratio)
		qtyB = fixedpoint.Mul(multB, precision)
	}

	unitsA := fixedpoint.Mul(qtyA, fixedpoint.Pow10(cfg.AssetA.Decimals))
	unitsB := fixedpoint.Mul(qtyB, fixedpoint.Pow10(cfg.AssetB.Decimals))
	naturalUnit := fixedpoint.Mul(precision, cfg.BaseNaturalUnit)

	gcd := fixedpoint.GCD(unitsA, unitsB, naturalUnit)
	return rebalance.Composition{
		Components:  []util.Uint160{cfg.AssetA.ID, cfg.AssetB.ID},
		Units:       []*big.Int{fixedpoint.FloorDiv(unitsA, gcd), fixedpoint.FloorDiv(unitsB, gcd)},
		NaturalUnit: fixedpoint.FloorDiv(naturalUnit, gcd),
	}, nil
}

// SetValue returns the USD value of one whole set of comp and the value held
// in each asset. comp must contain exactly the two configured assets.
func SetValue(cfg Config, comp rebalance.Composition, priceA, priceB *big.Int) (total, valueA, valueB *big.Int, err error) {
	if len(comp.Components) != 2 || len(comp.Units) != 2 {
		return nil, nil, nil, errors.InvalidState("basket must hold exactly two components, has %d", len(comp.Components))
	}
	if fixedpoint.IsZero(comp.NaturalUnit) {
		return nil, nil, nil, errors.InvalidState("basket natural unit is zero")
	}
	unitsA, okA := comp.UnitsOf(cfg.AssetA.ID)
	unitsB, okB := comp.UnitsOf(cfg.AssetB.ID)
	if !okA || !okB {
		return nil, nil, nil, errors.InvalidState("basket components do not match the configured assets")
	}
	valueA = TokenAllocationAmountUSD(priceA, unitsA, comp.NaturalUnit, cfg.AssetA.Decimals)
	valueB = TokenAllocationAmountUSD(priceB, unitsB, comp.NaturalUnit, cfg.AssetB.Decimals)
	return fixedpoint.Add(valueA, valueB), valueA, valueB, nil
}
