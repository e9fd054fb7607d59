package rebalancing

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"math/big"
	"testing"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/basket_oracle/internal/app/domain/rebalance"
	"github.com/R3E-Network/basket_oracle/internal/app/services/oracles"
	"github.com/R3E-Network/basket_oracle/internal/app/storage/memory"
	"github.com/R3E-Network/basket_oracle/internal/errors"
	"github.com/R3E-Network/basket_oracle/pkg/logger"
)

var (
	assetA = util.Uint160{0xa}
	assetB = util.Uint160{0xb}
	e18    = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

func bigString(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	require.True(t, ok, s)
	return v
}

func quiet() *logger.Logger { return logger.New(logger.Config{Output: io.Discard}) }

type fakeBasket struct {
	addr       util.Uint160
	state      rebalance.State
	last       uint64
	period     uint64
	current    rebalance.Composition
	proposeErr error
	proposed   []rebalance.Proposal
}

func (b *fakeBasket) Address() util.Uint160 { return b.addr }
func (b *fakeBasket) RebalanceState(context.Context) (rebalance.State, error) {
	return b.state, nil
}
func (b *fakeBasket) LastRebalanceTimestamp(context.Context) (uint64, error) { return b.last, nil }
func (b *fakeBasket) ProposalPeriod(context.Context) (uint64, error)         { return b.period, nil }
func (b *fakeBasket) CurrentSet(context.Context) (rebalance.Composition, error) {
	return b.current, nil
}
func (b *fakeBasket) Propose(_ context.Context, p rebalance.Proposal) error {
	if b.proposeErr != nil {
		return b.proposeErr
	}
	b.proposed = append(b.proposed, p)
	return nil
}

func basketWithUnits(a, b int64) *fakeBasket {
	return &fakeBasket{
		addr:   util.Uint160{0xfe},
		state:  rebalance.StateDefault,
		period: 86400,
		current: rebalance.Composition{
			Components:  []util.Uint160{assetA, assetB},
			Units:       []*big.Int{big.NewInt(a), big.NewInt(b)},
			NaturalUnit: big.NewInt(1),
		},
	}
}

func testConfig(priceA, priceB PriceSource) Config {
	return Config{
		Name:               "a-b",
		AssetA:             Asset{ID: assetA, Decimals: 18, Multiplier: 1, Price: priceA},
		AssetB:             Asset{ID: assetB, Decimals: 18, Multiplier: 1, Price: priceB},
		AuctionLibrary:     util.Uint160{0xac},
		AuctionTimeToPivot: 86400,
		LowerThreshold:     48,
		UpperThreshold:     52,
		PriceDivisor:       big.NewInt(1000),
	}
}

func newManager(t *testing.T, cfg Config, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return time.Unix(1_000_000, 0) })}, opts...)
	m, err := New(cfg, memory.New(), quiet(), opts...)
	require.NoError(t, err)
	return m
}

func TestCalculateAuctionPriceParameters(t *testing.T) {
	current := bigString(t, "100000000000000000000")
	next := bigString(t, "200000000000000000000")

	start, pivot, err := CalculateAuctionPriceParameters(current, next, big.NewInt(1000), 86400)
	require.NoError(t, err)
	assert.Equal(t, "1520", start.String())
	assert.Equal(t, "2480", pivot.String())

	start, pivot, err = CalculateAuctionPriceParameters(current, next, e18, 86400)
	require.NoError(t, err)
	assert.Equal(t, "1520000000000000000", start.String())
	assert.Equal(t, "2480000000000000000", pivot.String())

	// Sub-period pivots collapse to the fair value.
	start, pivot, err = CalculateAuctionPriceParameters(current, next, big.NewInt(1000), 1799)
	require.NoError(t, err)
	assert.Equal(t, "2000", start.String())
	assert.Equal(t, "2000", pivot.String())

	if _, _, err := CalculateAuctionPriceParameters(current, next, big.NewInt(1000), 201*AuctionPeriod); !stderrors.Is(err, errors.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for oversized range, got %v", err)
	}
}

func TestProposeAllocationBand(t *testing.T) {
	price := oracles.NewConstant("usd", e18)

	cases := []struct {
		unitsA, unitsB int64
		wantErr        bool
	}{
		{50, 50, true},
		{49, 51, true},
		{51, 49, true},
		{48, 52, false},
		{52, 48, false},
		{47, 53, false},
		{53, 47, false},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%d-%d", tc.unitsA, tc.unitsB), func(t *testing.T) {
			m := newManager(t, testConfig(price, price))
			basket := basketWithUnits(tc.unitsA, tc.unitsB)

			_, err := m.Propose(context.Background(), basket)
			if tc.wantErr {
				if !stderrors.Is(err, errors.ErrAllocationTooClose) {
					t.Fatalf("expected allocation too close, got %v", err)
				}
				assert.Empty(t, basket.proposed)
				return
			}
			require.NoError(t, err)
			require.Len(t, basket.proposed, 1)
		})
	}
}

func TestProposeBuildsProposal(t *testing.T) {
	price := oracles.NewConstant("usd", e18)
	cfg := testConfig(price, price)
	cfg.ConcurrentPriceReads = true
	m := newManager(t, cfg)
	basket := basketWithUnits(47, 53)

	p, err := m.Propose(context.Background(), basket)
	require.NoError(t, err)

	assert.NotEmpty(t, p.ID)
	assert.Equal(t, uint64(47), p.AllocationPercent)
	assert.Equal(t, "100000000000000000000", p.CurrentSetValue.String())
	assert.Equal(t, "2000000000000000000", p.NextSetValue.String())
	assert.Equal(t, []string{"1", "1"}, []string{p.Next.Units[0].String(), p.Next.Units[1].String()})
	assert.Equal(t, "1", p.Next.NaturalUnit.String())
	// fair value 20, 48 periods, half range 4
	assert.Equal(t, "16", p.StartPrice.String())
	assert.Equal(t, "24", p.PivotPrice.String())
	assert.Equal(t, cfg.AuctionLibrary, p.AuctionLibrary)

	stored, err := m.Proposals(context.Background())
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, p.ID, stored[0].ID)
}

func TestProposeRejectsInvalidState(t *testing.T) {
	price := oracles.NewConstant("usd", e18)
	m := newManager(t, testConfig(price, price))

	busy := basketWithUnits(47, 53)
	busy.state = rebalance.StateRebalance
	if _, err := m.Propose(context.Background(), busy); !stderrors.Is(err, errors.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}

	recent := basketWithUnits(47, 53)
	recent.last = 1_000_000 - 100
	if _, err := m.Propose(context.Background(), recent); !stderrors.Is(err, errors.ErrInvalidState) {
		t.Fatalf("expected invalid state inside proposal period, got %v", err)
	}

	foreign := basketWithUnits(47, 53)
	foreign.current.Components[1] = util.Uint160{0xcc}
	if _, err := m.Propose(context.Background(), foreign); !stderrors.Is(err, errors.ErrInvalidState) {
		t.Fatalf("expected invalid state for foreign component, got %v", err)
	}
}

func TestProposeWrapsOracleFailure(t *testing.T) {
	cause := stderrors.New("feed empty")
	failing := failingPrice{err: cause}
	m := newManager(t, testConfig(oracles.NewConstant("usd", e18), failing))

	_, err := m.Propose(context.Background(), basketWithUnits(47, 53))
	if !stderrors.Is(err, errors.ErrOracleUnavailable) {
		t.Fatalf("expected oracle unavailable, got %v", err)
	}
	assert.ErrorIs(t, err, cause)
}

func TestProposePropagatesRevert(t *testing.T) {
	price := oracles.NewConstant("usd", e18)
	m := newManager(t, testConfig(price, price))
	basket := basketWithUnits(47, 53)
	basket.proposeErr = stderrors.New("caller is not the manager")

	_, err := m.Propose(context.Background(), basket)
	if !stderrors.Is(err, errors.ErrPropagatedRevert) {
		t.Fatalf("expected propagated revert, got %v", err)
	}
	stored, _ := m.Proposals(context.Background())
	assert.Empty(t, stored)
}

func TestNextSetAppliesDecimalDifference(t *testing.T) {
	cfg := testConfig(oracles.NewConstant("btc", e18), oracles.NewConstant("eth", e18))
	cfg.AssetA.Decimals = 8
	require.NoError(t, cfg.normalize())

	btc := bigString(t, "60000000000000000000000")
	eth := bigString(t, "3000000000000000000000")

	next, err := NextSet(cfg, btc, eth)
	require.NoError(t, err)
	assert.Equal(t, "1", next.Units[0].String())
	assert.Equal(t, "200000000000", next.Units[1].String())
	assert.Equal(t, "10000000000", next.NaturalUnit.String())

	total, valueA, valueB, err := SetValue(cfg, next, btc, eth)
	require.NoError(t, err)
	assert.Equal(t, valueA.String(), valueB.String())
	assert.Equal(t, "120000000000000000000000", total.String())

	// The cheaper asset first: the ratio now scales asset A.
	next, err = NextSet(cfg, eth, btc)
	require.NoError(t, err)
	_, valueA, valueB, err = SetValue(cfg, next, eth, btc)
	require.NoError(t, err)
	assert.Equal(t, valueA.String(), valueB.String())
}

func TestConfigValidation(t *testing.T) {
	price := oracles.NewConstant("usd", e18)
	bad := testConfig(price, price)
	bad.LowerThreshold = 60
	if _, err := New(bad, nil, quiet()); !stderrors.Is(err, errors.ErrInvalidArgument) {
		t.Fatalf("expected invalid thresholds to fail, got %v", err)
	}

	same := testConfig(price, price)
	same.AssetB.ID = assetA
	if _, err := New(same, nil, quiet()); !stderrors.Is(err, errors.ErrInvalidArgument) {
		t.Fatalf("expected duplicate assets to fail, got %v", err)
	}
}

type failingPrice struct{ err error }

func (failingPrice) Name() string                             { return "failing" }
func (f failingPrice) Read(context.Context) (*big.Int, error) { return nil, f.err }
