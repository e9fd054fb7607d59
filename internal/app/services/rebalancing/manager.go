// Package rebalancing decides when a two-asset basket should rebalance and
// builds the proposal: the next composition and the auction price curve.
package rebalancing

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"golang.org/x/sync/errgroup"

	"github.com/R3E-Network/basket_oracle/internal/app/domain/rebalance"
	"github.com/R3E-Network/basket_oracle/internal/app/metrics"
	"github.com/R3E-Network/basket_oracle/internal/app/storage"
	"github.com/R3E-Network/basket_oracle/internal/errors"
	"github.com/R3E-Network/basket_oracle/pkg/logger"
)

// Manager proposes rebalances for baskets holding its two assets.
type Manager struct {
	cfg   Config
	store storage.ProposalStore
	log   *logger.Logger
	clock func() time.Time

	locks sync.Map // util.Uint160 -> *sync.Mutex
}

// Option customises a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) { m.clock = clock }
}

// New validates cfg and builds a manager. store may be nil.
func New(cfg Config, store storage.ProposalStore, log *logger.Logger, opts ...Option) (*Manager, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewDefault("rebalancing")
	}
	m := &Manager{cfg: cfg, store: store, log: log, clock: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Name returns the manager's configured name.
func (m *Manager) Name() string { return m.cfg.Name }

// Config returns the manager's configuration.
func (m *Manager) Config() Config { return m.cfg }

func (m *Manager) lockFor(basket util.Uint160) *sync.Mutex {
	mu, _ := m.locks.LoadOrStore(basket, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Propose checks the basket's phase and allocation and, when the allocation
// has left the configured band, submits a rebalance proposal to it. Calls for
// the same basket are serialised.
func (m *Manager) Propose(ctx context.Context, basket BasketToken) (rebalance.Proposal, error) {
	addr := basket.Address()
	mu := m.lockFor(addr)
	mu.Lock()
	defer mu.Unlock()

	entry := m.log.WithField("manager", m.cfg.Name).WithField("basket", address.Uint160ToString(addr))

	proposal, err := m.propose(ctx, basket)
	outcome := outcomeOf(err)
	metrics.RecordProposal(m.cfg.Name, outcome)
	if err != nil {
		if outcome == "too_close" || outcome == "invalid_state" {
			entry.WithError(err).Debug("rebalance not proposed")
		} else {
			entry.WithError(err).Warn("rebalance proposal failed")
		}
		return rebalance.Proposal{}, err
	}

	if m.store != nil {
		stored, err := m.store.CreateProposal(ctx, proposal)
		if err != nil {
			entry.WithError(err).Error("record proposal")
		} else {
			proposal = stored
		}
	}

	entry.WithField("proposal_id", proposal.ID).
		WithField("allocation_percent", proposal.AllocationPercent).
		WithField("start_price", proposal.StartPrice.String()).
		WithField("pivot_price", proposal.PivotPrice.String()).
		Info("rebalance proposed")
	return proposal, nil
}

func (m *Manager) propose(ctx context.Context, basket BasketToken) (rebalance.Proposal, error) {
	now := m.clock().UTC()
	if err := m.checkState(ctx, basket, uint64(now.Unix())); err != nil {
		return rebalance.Proposal{}, err
	}

	priceA, priceB, err := m.readPrices(ctx)
	if err != nil {
		return rebalance.Proposal{}, err
	}

	current, err := basket.CurrentSet(ctx)
	if err != nil {
		return rebalance.Proposal{}, errors.PropagatedRevert("current set", err)
	}
	currentValue, valueA, valueB, err := SetValue(m.cfg, current, priceA, priceB)
	if err != nil {
		return rebalance.Proposal{}, err
	}

	pct, err := AllocationPercent(valueA, valueB)
	if err != nil {
		return rebalance.Proposal{}, err
	}
	if m.cfg.LowerThreshold < pct && pct < m.cfg.UpperThreshold {
		return rebalance.Proposal{}, errors.AllocationTooClose(pct, m.cfg.LowerThreshold, m.cfg.UpperThreshold)
	}

	next, err := NextSet(m.cfg, priceA, priceB)
	if err != nil {
		return rebalance.Proposal{}, err
	}
	nextValue, _, _, err := SetValue(m.cfg, next, priceA, priceB)
	if err != nil {
		return rebalance.Proposal{}, err
	}

	start, pivot, err := CalculateAuctionPriceParameters(currentValue, nextValue, m.cfg.PriceDivisor, m.cfg.AuctionTimeToPivot)
	if err != nil {
		return rebalance.Proposal{}, err
	}

	proposal := rebalance.Proposal{
		ID:                 uuid.NewString(),
		Manager:            m.cfg.Name,
		Basket:             basket.Address(),
		Next:               next,
		AuctionLibrary:     m.cfg.AuctionLibrary,
		AuctionTimeToPivot: m.cfg.AuctionTimeToPivot,
		StartPrice:         start,
		PivotPrice:         pivot,
		PriceA:             priceA,
		PriceB:             priceB,
		AllocationPercent:  pct,
		CurrentSetValue:    currentValue,
		NextSetValue:       nextValue,
		ProposedAt:         now,
	}
	if err := basket.Propose(ctx, proposal); err != nil {
		return rebalance.Proposal{}, errors.PropagatedRevert("propose", err)
	}
	return proposal, nil
}

func (m *Manager) checkState(ctx context.Context, basket BasketToken, now uint64) error {
	state, err := basket.RebalanceState(ctx)
	if err != nil {
		return errors.PropagatedRevert("rebalance state", err)
	}
	if state != rebalance.StateDefault {
		return errors.InvalidState("basket is in %s state", state)
	}
	last, err := basket.LastRebalanceTimestamp(ctx)
	if err != nil {
		return errors.PropagatedRevert("last rebalance timestamp", err)
	}
	period, err := basket.ProposalPeriod(ctx)
	if err != nil {
		return errors.PropagatedRevert("proposal period", err)
	}
	if now < last+period {
		return errors.InvalidState("proposal period has not elapsed: next proposal at %d, now %d", last+period, now)
	}
	return nil
}

func (m *Manager) readPrices(ctx context.Context) (*big.Int, *big.Int, error) {
	if !m.cfg.ConcurrentPriceReads {
		priceA, err := readPrice(ctx, m.cfg.AssetA.Price)
		if err != nil {
			return nil, nil, err
		}
		priceB, err := readPrice(ctx, m.cfg.AssetB.Price)
		if err != nil {
			return nil, nil, err
		}
		return priceA, priceB, nil
	}

	var priceA, priceB *big.Int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		priceA, err = readPrice(gctx, m.cfg.AssetA.Price)
		return err
	})
	g.Go(func() error {
		var err error
		priceB, err = readPrice(gctx, m.cfg.AssetB.Price)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return priceA, priceB, nil
}

func readPrice(ctx context.Context, src PriceSource) (*big.Int, error) {
	price, err := src.Read(ctx)
	if err != nil {
		return nil, errors.OracleUnavailable(src.Name(), err)
	}
	if price == nil || price.Sign() <= 0 {
		return nil, errors.OracleUnavailable(src.Name(), fmt.Errorf("non-positive price %v", price))
	}
	return price, nil
}

// Proposals lists the proposals this manager has recorded.
func (m *Manager) Proposals(ctx context.Context) ([]rebalance.Proposal, error) {
	if m.store == nil {
		return nil, nil
	}
	return m.store.ListProposals(ctx, m.cfg.Name)
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case stderrors.Is(err, errors.ErrAllocationTooClose):
		return "too_close"
	case stderrors.Is(err, errors.ErrInvalidState):
		return "invalid_state"
	case stderrors.Is(err, errors.ErrOracleUnavailable):
		return "oracle_unavailable"
	case stderrors.Is(err, errors.ErrPropagatedRevert):
		return "reverted"
	default:
		return "error"
	}
}
