// Package keeper pokes feeds and proposes rebalances on cron schedules. It
// only calls the gated entry points, so a job firing early is a no-op.
package keeper

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/basket_oracle/internal/app/domain/feed"
	"github.com/R3E-Network/basket_oracle/internal/app/domain/rebalance"
	"github.com/R3E-Network/basket_oracle/internal/app/services/rebalancing"
	"github.com/R3E-Network/basket_oracle/internal/errors"
	"github.com/R3E-Network/basket_oracle/pkg/logger"
)

// FeedPoker advances feeds by ID.
type FeedPoker interface {
	Poke(ctx context.Context, id string) (feed.Observation, error)
}

// Proposer proposes rebalances for a basket.
type Proposer interface {
	Name() string
	Propose(ctx context.Context, basket rebalancing.BasketToken) (rebalance.Proposal, error)
}

// Keeper is a system.Service running scheduled pokes and proposals.
type Keeper struct {
	feeds FeedPoker
	log   *logger.Logger
	cron  *cron.Cron

	mu      sync.Mutex
	running bool
	jobs    int
	// ctx is the context of the current run; Stop cancels it and Start
	// replaces it.
	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a keeper poking feeds through feeds.
func New(feeds FeedPoker, log *logger.Logger) *Keeper {
	if log == nil {
		log = logger.NewDefault("keeper")
	}
	cl := cronLogger{log: log}
	return &Keeper{
		feeds: feeds,
		log:   log,
		cron:  cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)), cron.WithLogger(cl)),
	}
}

func (k *Keeper) Name() string { return "keeper" }

// AddFeed schedules pokes of feedID. schedule takes a standard cron
// expression or a descriptor such as "@every 1m".
func (k *Keeper) AddFeed(feedID, schedule string) error {
	if feedID == "" {
		return errors.InvalidArgument("feed id required")
	}
	return k.add(schedule, "feed "+feedID, func() { _ = k.RunFeed(k.runContext(), feedID) })
}

// AddProposal schedules proposals by p for basket.
func (k *Keeper) AddProposal(p Proposer, basket rebalancing.BasketToken, schedule string) error {
	if p == nil || basket == nil {
		return errors.InvalidArgument("proposer and basket required")
	}
	return k.add(schedule, "manager "+p.Name(), func() { _ = k.RunProposal(k.runContext(), p, basket) })
}

func (k *Keeper) add(schedule, label string, job func()) error {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return errors.InvalidArgument("invalid schedule %q for %s: %v", schedule, label, err)
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, err := k.cron.AddFunc(schedule, job); err != nil {
		return fmt.Errorf("schedule %s: %w", label, err)
	}
	k.jobs++
	return nil
}

func (k *Keeper) runContext() context.Context {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.ctx == nil {
		return context.Background()
	}
	return k.ctx
}

// Jobs reports the number of scheduled entries.
func (k *Keeper) Jobs() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.jobs
}

// RunFeed pokes one feed. TooEarly is a skip, not a failure.
func (k *Keeper) RunFeed(ctx context.Context, feedID string) error {
	obs, err := k.feeds.Poke(ctx, feedID)
	if err != nil {
		if stderrors.Is(err, errors.ErrTooEarly) {
			k.log.WithField("feed", feedID).Debug("poke skipped, too early")
			return nil
		}
		k.log.WithError(err).WithField("feed", feedID).Warn("scheduled poke failed")
		return err
	}
	k.log.WithField("feed", feedID).
		WithField("value", obs.Value.String()).
		WithField("timestamp", obs.Timestamp).
		Info("scheduled poke")
	return nil
}

// RunProposal asks p to propose for basket. Baskets inside the allocation
// band or not ready to rebalance are skipped.
func (k *Keeper) RunProposal(ctx context.Context, p Proposer, basket rebalancing.BasketToken) error {
	entry := k.log.WithField("manager", p.Name()).WithField("basket", address.Uint160ToString(basket.Address()))
	proposal, err := p.Propose(ctx, basket)
	if err != nil {
		if stderrors.Is(err, errors.ErrAllocationTooClose) || stderrors.Is(err, errors.ErrInvalidState) {
			entry.WithField("reason", string(errors.CodeOf(err))).Debug("proposal skipped")
			return nil
		}
		entry.WithError(err).Warn("scheduled proposal failed")
		return err
	}
	entry.WithField("proposal", proposal.ID).Info("scheduled proposal submitted")
	return nil
}

// Start begins running scheduled jobs.
func (k *Keeper) Start(context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.running {
		return nil
	}
	k.ctx, k.cancel = context.WithCancel(context.Background())
	k.cron.Start()
	k.running = true
	k.log.WithField("jobs", k.jobs).Info("keeper started")
	return nil
}

// Stop cancels in-flight jobs and waits for them to return or for ctx to end.
func (k *Keeper) Stop(ctx context.Context) error {
	k.mu.Lock()
	if !k.running {
		k.mu.Unlock()
		return nil
	}
	k.running = false
	k.cancel()
	k.mu.Unlock()

	done := k.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type cronLogger struct {
	log *logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.WithFields(fields(keysAndValues)).Debug(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.WithError(err).WithFields(fields(keysAndValues)).Error(msg)
}

func fields(kv []interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return out
}
