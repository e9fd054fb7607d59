// Package app composes stores, oracles, feeds, rebalancing managers and the
// keeper into a running basket oracle.
package app

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/nspcc-dev/neo-go/pkg/wallet"

	"github.com/R3E-Network/basket_oracle/internal/app/services/datasource"
	"github.com/R3E-Network/basket_oracle/internal/app/services/keeper"
	"github.com/R3E-Network/basket_oracle/internal/app/services/medianizer"
	"github.com/R3E-Network/basket_oracle/internal/app/services/oracles"
	"github.com/R3E-Network/basket_oracle/internal/app/services/rebalancing"
	"github.com/R3E-Network/basket_oracle/internal/app/services/timeseries"
	"github.com/R3E-Network/basket_oracle/internal/app/storage/memory"
	"github.com/R3E-Network/basket_oracle/internal/app/system"
	"github.com/R3E-Network/basket_oracle/internal/chain"
	"github.com/R3E-Network/basket_oracle/internal/config"
	"github.com/R3E-Network/basket_oracle/internal/errors"
	"github.com/R3E-Network/basket_oracle/pkg/logger"
)

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Feeds       *timeseries.Service
	Keeper      *keeper.Keeper
	Medianizers map[string]medianizer.Medianizer
	Oracles     map[string]oracles.PriceOracle
	Managers    map[string]*rebalancing.Manager

	mu      sync.RWMutex
	sources map[string]*datasource.Linearized
	baskets map[string]map[util.Uint160]rebalancing.BasketToken
	chain   *chain.Client
}

// Option customises application construction.
type Option func(*options)

type options struct {
	chain       *chain.Client
	medianizers map[string]medianizer.Medianizer
	baskets     map[string][]rebalancing.BasketToken
}

// WithChainClient supplies the Neo client instead of dialing neo.rpc_url.
func WithChainClient(c *chain.Client) Option {
	return func(o *options) { o.chain = c }
}

// WithMedianizer registers a medianizer that config entries do not describe.
func WithMedianizer(m medianizer.Medianizer) Option {
	return func(o *options) { o.medianizers[m.Name()] = m }
}

// WithBasket binds an additional basket to the named manager.
func WithBasket(manager string, basket rebalancing.BasketToken) Option {
	return func(o *options) { o.baskets[manager] = append(o.baskets[manager], basket) }
}

// New builds a fully initialised application from cfg. Feeds are restored
// from stores when they hold prior state.
func New(ctx context.Context, cfg *config.Config, stores Stores, log *logger.Logger, opts ...Option) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	o := options{
		medianizers: make(map[string]medianizer.Medianizer),
		baskets:     make(map[string][]rebalancing.BasketToken),
	}
	for _, opt := range opts {
		opt(&o)
	}

	mem := memory.New()
	if stores.Feeds == nil {
		stores.Feeds = mem
	}
	if stores.Proposals == nil {
		stores.Proposals = mem
	}

	a := &Application{
		manager:     system.NewManager(log.Named("system")),
		log:         log,
		Feeds:       timeseries.NewService(stores.Feeds, log.Named("timeseries")),
		Medianizers: o.medianizers,
		Oracles:     make(map[string]oracles.PriceOracle),
		Managers:    make(map[string]*rebalancing.Manager),
		sources:     make(map[string]*datasource.Linearized),
		baskets:     make(map[string]map[util.Uint160]rebalancing.BasketToken),
		chain:       o.chain,
	}
	a.Keeper = keeper.New(a.Feeds, log.Named("keeper"))

	if a.chain == nil && cfg.Neo.RPCURL != "" {
		client, err := chain.NewClient(chain.Config{
			RPCURL:    cfg.Neo.RPCURL,
			NetworkID: cfg.Neo.NetworkID,
			Timeout:   cfg.Neo.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("configure neo client: %w", err)
		}
		a.chain = client
	}

	if err := a.buildMedianizers(cfg.Medianizers); err != nil {
		return nil, err
	}
	if err := a.buildFeeds(ctx, cfg.Feeds); err != nil {
		return nil, err
	}
	if err := a.buildOracles(cfg.Oracles); err != nil {
		return nil, err
	}
	if err := a.buildManagers(cfg, stores, o.baskets); err != nil {
		return nil, err
	}

	if err := a.manager.Register(a.Keeper); err != nil {
		return nil, fmt.Errorf("register keeper: %w", err)
	}
	return a, nil
}

func (a *Application) buildMedianizers(cfgs []config.MedianizerConfig) error {
	log := a.log.Named("medianizer")
	for _, mc := range cfgs {
		var m medianizer.Medianizer
		switch mc.Type {
		case config.MedianizerHTTP:
			h, err := medianizer.NewHTTP(nil, medianizer.HTTPConfig{
				Name:          mc.Name,
				URL:           mc.URL,
				ValuePath:     mc.ValuePath,
				TimestampPath: mc.TimestampPath,
				Token:         mc.Token,
				Timeout:       mc.Timeout,
			}, log)
			if err != nil {
				return err
			}
			m = h
		case config.MedianizerStatic:
			v, err := config.ParseUint(mc.Value)
			if err != nil {
				return fmt.Errorf("medianizer %s: %w", mc.Name, err)
			}
			m = medianizer.NewStatic(mc.Name, v)
		case config.MedianizerContract:
			if a.chain == nil {
				return fmt.Errorf("medianizer %s: neo client not configured", mc.Name)
			}
			hash, err := chain.ParseHashString(mc.Contract)
			if err != nil {
				return fmt.Errorf("medianizer %s: %w", mc.Name, err)
			}
			m = chain.NewMedianizer(mc.Name, a.chain, hash, mc.Method)
		default:
			return fmt.Errorf("medianizer %s: unknown type %q", mc.Name, mc.Type)
		}
		a.Medianizers[mc.Name] = m
	}
	return nil
}

func (a *Application) buildFeeds(ctx context.Context, cfgs []config.FeedConfig) error {
	log := a.log.Named("datasource")
	for _, fc := range cfgs {
		var owner util.Uint160
		if fc.Owner != "" {
			h, err := chain.ParseHashString(fc.Owner)
			if err != nil {
				return fmt.Errorf("feed %s: owner: %w", fc.ID, err)
			}
			owner = h
		}

		source, err := a.buildSource(fc.ID, owner, fc.Source, log)
		if err != nil {
			return err
		}

		seed := make([]*big.Int, 0, len(fc.Seed))
		for _, raw := range fc.Seed {
			v, err := config.ParseUint(raw)
			if err != nil {
				return fmt.Errorf("feed %s: seed: %w", fc.ID, err)
			}
			seed = append(seed, v)
		}

		f, err := a.Feeds.Register(ctx, timeseries.Config{
			ID:                  fc.ID,
			Owner:               owner,
			UpdateInterval:      fc.UpdateInterval,
			MaxDataPoints:       fc.MaxDataPoints,
			NextAvailableUpdate: fc.NextAvailableUpdate,
			Source:              source,
			Seed:                seed,
			RestoreSource: func(desc string) (datasource.DataSource, error) {
				return a.sourceFromDescription(fc.ID, owner, desc, log)
			},
		})
		if err != nil {
			return fmt.Errorf("register feed %s: %w", fc.ID, err)
		}
		f.OnChange(a.logChange)
		a.trackSource(fc.ID, f.DataSource())

		if fc.Schedule != "" {
			if err := a.Keeper.AddFeed(fc.ID, fc.Schedule); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *Application) buildSource(feedID string, owner util.Uint160, sc config.SourceConfig, log *logger.Logger) (datasource.DataSource, error) {
	switch sc.Type {
	case config.SourceConstant:
		v, err := config.ParseUint(sc.Value)
		if err != nil {
			return nil, fmt.Errorf("feed %s: source value: %w", feedID, err)
		}
		return datasource.NewConstant(v), nil
	case config.SourceDirect, config.SourceLinearized, "":
		m, ok := a.Medianizers[sc.Medianizer]
		if !ok {
			return nil, fmt.Errorf("feed %s: unknown medianizer %q", feedID, sc.Medianizer)
		}
		if sc.Type == config.SourceDirect {
			return datasource.NewDirect(m), nil
		}
		lin, err := datasource.NewLinearized(datasource.LinearizedConfig{
			Name:            feedID,
			Owner:           owner,
			UpdateTolerance: sc.UpdateTolerance,
			Medianizer:      m,
		}, log)
		if err != nil {
			return nil, err
		}
		lin.OnChange(a.logChange)
		return lin, nil
	default:
		return nil, fmt.Errorf("feed %s: unknown source type %q", feedID, sc.Type)
	}
}

// sourceFromDescription rebuilds a data source persisted by a feed.
func (a *Application) sourceFromDescription(feedID string, owner util.Uint160, desc string, log *logger.Logger) (datasource.DataSource, error) {
	d, err := datasource.ParseDescription(desc)
	if err != nil {
		return nil, err
	}
	sc := config.SourceConfig{Type: d.Kind, Medianizer: d.Arg, UpdateTolerance: d.Tolerance}
	if d.Kind == config.SourceConstant {
		sc = config.SourceConfig{Type: d.Kind, Value: d.Arg}
	}
	return a.buildSource(feedID, owner, sc, log)
}

func (a *Application) buildOracles(cfgs []config.OracleConfig) error {
	for _, oc := range cfgs {
		if oc.Type == config.OracleConstant {
			v, err := config.ParseUint(oc.Value)
			if err != nil {
				return fmt.Errorf("oracle %s: %w", oc.Name, err)
			}
			a.Oracles[oc.Name] = oracles.NewConstant(oc.Name, v)
			continue
		}

		f, err := a.Feeds.Get(oc.Feed)
		if err != nil {
			return fmt.Errorf("oracle %s: %w", oc.Name, err)
		}
		var o oracles.PriceOracle
		switch oc.Type {
		case config.OracleLatest:
			o, err = oracles.NewLatest(oc.Name, f)
		case config.OracleMovingAverage:
			o, err = oracles.NewMovingAverage(oc.Name, f, oc.Window)
		case config.OracleRSI:
			o, err = oracles.NewRSI(oc.Name, f, oc.Periods, oc.Decimals)
		default:
			err = fmt.Errorf("unknown type %q", oc.Type)
		}
		if err != nil {
			return fmt.Errorf("oracle %s: %w", oc.Name, err)
		}
		a.Oracles[oc.Name] = o
	}
	return nil
}

func (a *Application) buildManagers(cfg *config.Config, stores Stores, extra map[string][]rebalancing.BasketToken) error {
	var signer *wallet.Account
	if cfg.Neo.SignerKey != "" {
		acct, err := chain.AccountFromPrivateKey(cfg.Neo.SignerKey)
		if err != nil {
			return fmt.Errorf("neo signer: %w", err)
		}
		signer = acct
	}

	for _, mc := range cfg.Managers {
		assetA, err := a.asset(mc.Name, mc.AssetA)
		if err != nil {
			return err
		}
		assetB, err := a.asset(mc.Name, mc.AssetB)
		if err != nil {
			return err
		}
		library, err := chain.ParseHashString(mc.AuctionLibrary)
		if err != nil {
			return fmt.Errorf("manager %s: auction library: %w", mc.Name, err)
		}
		divisor, err := config.ParseUint(mc.PriceDivisor)
		if err != nil {
			return fmt.Errorf("manager %s: price divisor: %w", mc.Name, err)
		}
		var naturalUnit *big.Int
		if mc.BaseNaturalUnit != "" {
			if naturalUnit, err = config.ParseUint(mc.BaseNaturalUnit); err != nil {
				return fmt.Errorf("manager %s: base natural unit: %w", mc.Name, err)
			}
		}

		mgr, err := rebalancing.New(rebalancing.Config{
			Name:                 mc.Name,
			AssetA:               assetA,
			AssetB:               assetB,
			AuctionLibrary:       library,
			AuctionTimeToPivot:   mc.AuctionTimeToPivot,
			LowerThreshold:       mc.LowerThreshold,
			UpperThreshold:       mc.UpperThreshold,
			PriceDivisor:         divisor,
			PricePrecision:       mc.PricePrecision,
			BaseNaturalUnit:      naturalUnit,
			ConcurrentPriceReads: mc.ConcurrentPriceReads,
		}, stores.Proposals, a.log.Named("rebalancing"))
		if err != nil {
			return fmt.Errorf("manager %s: %w", mc.Name, err)
		}
		a.Managers[mc.Name] = mgr
		a.baskets[mc.Name] = make(map[util.Uint160]rebalancing.BasketToken)

		for _, bc := range mc.Baskets {
			if a.chain == nil || signer == nil {
				return fmt.Errorf("manager %s: baskets need a neo client and signer", mc.Name)
			}
			hash, err := chain.ParseHashString(bc.Contract)
			if err != nil {
				return fmt.Errorf("manager %s: basket: %w", mc.Name, err)
			}
			basket := chain.NewBasket(a.chain, a.chain, chain.BasketConfig{
				Hash:    hash,
				Account: signer,
				Wait:    cfg.Neo.WaitForTx,
			}, a.log.Named("chain"))
			if err := a.bindBasket(mgr, basket, bc.Schedule); err != nil {
				return err
			}
		}
		for _, basket := range extra[mc.Name] {
			if err := a.bindBasket(mgr, basket, ""); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *Application) bindBasket(mgr *rebalancing.Manager, basket rebalancing.BasketToken, schedule string) error {
	a.baskets[mgr.Name()][basket.Address()] = basket
	if schedule == "" {
		return nil
	}
	return a.Keeper.AddProposal(mgr, basket, schedule)
}

func (a *Application) asset(manager string, ac config.AssetConfig) (rebalancing.Asset, error) {
	token, err := chain.ParseHashString(ac.Token)
	if err != nil {
		return rebalancing.Asset{}, fmt.Errorf("manager %s: asset token: %w", manager, err)
	}
	price, ok := a.Oracles[ac.Oracle]
	if !ok {
		return rebalancing.Asset{}, fmt.Errorf("manager %s: unknown oracle %q", manager, ac.Oracle)
	}
	return rebalancing.Asset{
		ID:         token,
		Decimals:   ac.Decimals,
		Multiplier: ac.Multiplier,
		Price:      price,
	}, nil
}

func (a *Application) logChange(c datasource.Change) {
	a.log.WithField("target", c.Target).
		WithField("kind", c.Kind).
		WithField("caller", c.Caller).
		WithField("previous", c.Previous).
		WithField("current", c.Current).
		Info("configuration changed")
}

// trackSource remembers linearized sources so their medianizer can be
// repointed later.
func (a *Application) trackSource(feedID string, source datasource.DataSource) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if lin, ok := source.(*datasource.Linearized); ok {
		a.sources[feedID] = lin
		return
	}
	delete(a.sources, feedID)
}

// ChangeFeedSource builds a new data source from sc and installs it on the
// feed on behalf of caller, who must own the feed.
func (a *Application) ChangeFeedSource(ctx context.Context, feedID string, caller util.Uint160, sc config.SourceConfig) error {
	f, err := a.Feeds.Get(feedID)
	if err != nil {
		return err
	}
	if sc.Type == config.SourceConstant {
		if _, err := config.ParseUint(sc.Value); err != nil {
			return errors.InvalidArgument("source value: %v", err)
		}
	}
	source, err := a.buildSource(feedID, f.Owner(), sc, a.log.Named("datasource"))
	if err != nil {
		return errors.InvalidArgument("%v", err)
	}
	if err := f.ChangeDataSource(ctx, caller, source); err != nil {
		return err
	}
	a.trackSource(feedID, source)
	return nil
}

// ChangeFeedMedianizer repoints a feed's linearized source at the named
// medianizer and saves the feed. A failed save restores the previous
// medianizer.
func (a *Application) ChangeFeedMedianizer(ctx context.Context, feedID string, caller util.Uint160, name string) error {
	f, err := a.Feeds.Get(feedID)
	if err != nil {
		return err
	}
	src, err := a.Source(feedID)
	if err != nil {
		return err
	}
	m, err := a.Medianizer(name)
	if err != nil {
		return err
	}
	previous := src.Medianizer()
	if err := src.ChangeMedianizer(caller, m); err != nil {
		return err
	}
	if err := f.Persist(ctx); err != nil {
		if rerr := src.ChangeMedianizer(caller, previous); rerr != nil {
			a.log.WithError(rerr).WithField("feed_id", feedID).Error("restore medianizer failed")
		}
		return err
	}
	return nil
}

// Source returns the linearized data source of a feed.
func (a *Application) Source(feedID string) (*datasource.Linearized, error) {
	if _, err := a.Feeds.Get(feedID); err != nil {
		return nil, err
	}
	a.mu.RLock()
	src, ok := a.sources[feedID]
	a.mu.RUnlock()
	if !ok {
		return nil, errors.InvalidState("feed %s does not use a linearized data source", feedID)
	}
	return src, nil
}

// Medianizer looks up a medianizer by name.
func (a *Application) Medianizer(name string) (medianizer.Medianizer, error) {
	m, ok := a.Medianizers[name]
	if !ok {
		return nil, errors.NotFound("medianizer", name)
	}
	return m, nil
}

// Manager looks up a rebalancing manager by name.
func (a *Application) Manager(name string) (*rebalancing.Manager, error) {
	m, ok := a.Managers[name]
	if !ok {
		return nil, errors.NotFound("manager", name)
	}
	return m, nil
}

// ManagerNames lists managers in name order.
func (a *Application) ManagerNames() []string {
	names := make([]string, 0, len(a.Managers))
	for name := range a.Managers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Basket returns a basket bound to the named manager.
func (a *Application) Basket(manager string, hash util.Uint160) (rebalancing.BasketToken, error) {
	if _, err := a.Manager(manager); err != nil {
		return nil, err
	}
	b, ok := a.baskets[manager][hash]
	if !ok {
		return nil, errors.NotFound("basket", address.Uint160ToString(hash))
	}
	return b, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
