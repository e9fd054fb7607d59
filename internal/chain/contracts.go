package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/core/transaction"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/nspcc-dev/neo-go/pkg/wallet"

	"github.com/R3E-Network/basket_oracle/internal/app/domain/rebalance"
	"github.com/R3E-Network/basket_oracle/internal/app/metrics"
	"github.com/R3E-Network/basket_oracle/internal/app/services/medianizer"
	"github.com/R3E-Network/basket_oracle/pkg/logger"
)

// Invoker runs read-only contract calls.
type Invoker interface {
	InvokeRead(ctx context.Context, contract util.Uint160, method string, params ...ContractParam) (StackItem, error)
}

// Sender broadcasts signed contract calls.
type Sender interface {
	InvokeFunctionWithSignerAndWait(ctx context.Context, contract util.Uint160, method string, args []any,
		account *wallet.Account, scope transaction.WitnessScope, wait bool) (*TxResult, error)
}

// Medianizer reads a price from an on-chain oracle contract. The method may
// return a bare Integer or a [value, timestamp] array.
type Medianizer struct {
	name    string
	invoker Invoker
	hash    util.Uint160
	method  string
	now     func() time.Time
}

var _ medianizer.Medianizer = (*Medianizer)(nil)

// NewMedianizer binds a medianizer contract. method defaults to "read".
func NewMedianizer(name string, invoker Invoker, hash util.Uint160, method string) *Medianizer {
	if method == "" {
		method = "read"
	}
	return &Medianizer{name: name, invoker: invoker, hash: hash, method: method, now: time.Now}
}

func (m *Medianizer) Name() string { return m.name }

func (m *Medianizer) Read(ctx context.Context) (medianizer.Reading, error) {
	start := time.Now()
	reading, err := m.read(ctx)
	metrics.RecordMedianizerRead(m.name, time.Since(start), err == nil)
	return reading, err
}

func (m *Medianizer) read(ctx context.Context) (medianizer.Reading, error) {
	item, err := m.invoker.InvokeRead(ctx, m.hash, m.method)
	if err != nil {
		return medianizer.Reading{}, err
	}

	reading := medianizer.Reading{Timestamp: uint64(m.now().Unix())}
	if item.Type == "Array" || item.Type == "Struct" {
		items, err := ParseArray(item)
		if err != nil {
			return medianizer.Reading{}, err
		}
		if len(items) < 2 {
			return medianizer.Reading{}, fmt.Errorf("%s: expected [value, timestamp], got %d items", m.method, len(items))
		}
		if reading.Value, err = ParseInteger(items[0]); err != nil {
			return medianizer.Reading{}, fmt.Errorf("parse value: %w", err)
		}
		ts, err := ParseInteger(items[1])
		if err != nil {
			return medianizer.Reading{}, fmt.Errorf("parse timestamp: %w", err)
		}
		reading.Timestamp = ts.Uint64()
	} else if reading.Value, err = ParseInteger(item); err != nil {
		return medianizer.Reading{}, fmt.Errorf("parse value: %w", err)
	}

	if reading.Value.Sign() < 0 {
		return medianizer.Reading{}, fmt.Errorf("%s returned negative value %s", m.name, reading.Value)
	}
	return reading, nil
}

// BasketConfig binds a basket token contract.
type BasketConfig struct {
	Hash    util.Uint160
	Account *wallet.Account
	// Wait blocks Propose until the transaction is executed.
	Wait bool
}

// Basket adapts a basket token contract to the rebalancing manager.
type Basket struct {
	invoker Invoker
	sender  Sender
	hash    util.Uint160
	account *wallet.Account
	wait    bool
	log     *logger.Logger
}

// NewBasket binds a basket contract. sender may be nil for read-only use.
func NewBasket(invoker Invoker, sender Sender, cfg BasketConfig, log *logger.Logger) *Basket {
	if log == nil {
		log = logger.NewDefault("chain")
	}
	return &Basket{invoker: invoker, sender: sender, hash: cfg.Hash, account: cfg.Account, wait: cfg.Wait, log: log}
}

func (b *Basket) Address() util.Uint160 { return b.hash }

func (b *Basket) readInt(ctx context.Context, method string) (*big.Int, error) {
	item, err := b.invoker.InvokeRead(ctx, b.hash, method)
	if err != nil {
		return nil, err
	}
	v, err := ParseInteger(item)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return v, nil
}

func (b *Basket) readUint(ctx context.Context, method string) (uint64, error) {
	v, err := b.readInt(ctx, method)
	if err != nil {
		return 0, err
	}
	if v.Sign() < 0 || !v.IsUint64() {
		return 0, fmt.Errorf("%s: value %s out of range", method, v)
	}
	return v.Uint64(), nil
}

func (b *Basket) RebalanceState(ctx context.Context) (rebalance.State, error) {
	v, err := b.readUint(ctx, "rebalanceState")
	if err != nil {
		return 0, err
	}
	if v > uint64(rebalance.StateDrawdown) {
		return 0, fmt.Errorf("rebalanceState: unknown state %d", v)
	}
	return rebalance.State(v), nil
}

func (b *Basket) LastRebalanceTimestamp(ctx context.Context) (uint64, error) {
	return b.readUint(ctx, "lastRebalanceTimestamp")
}

func (b *Basket) ProposalPeriod(ctx context.Context) (uint64, error) {
	return b.readUint(ctx, "proposalPeriod")
}

func (b *Basket) CurrentSet(ctx context.Context) (rebalance.Composition, error) {
	item, err := b.invoker.InvokeRead(ctx, b.hash, "getComponents")
	if err != nil {
		return rebalance.Composition{}, err
	}
	items, err := ParseArray(item)
	if err != nil {
		return rebalance.Composition{}, fmt.Errorf("getComponents: %w", err)
	}
	var comp rebalance.Composition
	for i, it := range items {
		h, err := ParseHash160(it)
		if err != nil {
			return rebalance.Composition{}, fmt.Errorf("getComponents[%d]: %w", i, err)
		}
		comp.Components = append(comp.Components, h)
	}

	if item, err = b.invoker.InvokeRead(ctx, b.hash, "getUnits"); err != nil {
		return rebalance.Composition{}, err
	}
	if items, err = ParseArray(item); err != nil {
		return rebalance.Composition{}, fmt.Errorf("getUnits: %w", err)
	}
	for i, it := range items {
		u, err := ParseInteger(it)
		if err != nil {
			return rebalance.Composition{}, fmt.Errorf("getUnits[%d]: %w", i, err)
		}
		comp.Units = append(comp.Units, u)
	}
	if len(comp.Units) != len(comp.Components) {
		return rebalance.Composition{}, fmt.Errorf("basket reports %d components but %d units", len(comp.Components), len(comp.Units))
	}

	if comp.NaturalUnit, err = b.readInt(ctx, "naturalUnit"); err != nil {
		return rebalance.Composition{}, err
	}
	return comp, nil
}

// Propose submits the rebalance proposal as a signed transaction.
func (b *Basket) Propose(ctx context.Context, p rebalance.Proposal) error {
	if b.sender == nil || b.account == nil {
		return fmt.Errorf("basket %s has no signing account", b.hash.StringLE())
	}
	result, err := b.sender.InvokeFunctionWithSignerAndWait(ctx, b.hash, "propose", ProposeArgs(p),
		b.account, transaction.CalledByEntry, b.wait)
	if err != nil {
		return err
	}
	b.log.WithField("basket", "0x"+b.hash.StringLE()).
		WithField("tx", result.TxHash).
		WithField("vm_state", result.VMState).
		Info("propose transaction sent")
	return nil
}

// ProposeArgs lays out the arguments of the basket's propose method:
// components, units, natural unit, auction library, time to pivot, start
// price and pivot price.
func ProposeArgs(p rebalance.Proposal) []any {
	components := make([]any, len(p.Next.Components))
	for i, c := range p.Next.Components {
		components[i] = c
	}
	units := make([]any, len(p.Next.Units))
	for i, u := range p.Next.Units {
		units[i] = u
	}
	return []any{
		components,
		units,
		p.Next.NaturalUnit,
		p.AuctionLibrary,
		new(big.Int).SetUint64(p.AuctionTimeToPivot),
		p.StartPrice,
		p.PivotPrice,
	}
}
