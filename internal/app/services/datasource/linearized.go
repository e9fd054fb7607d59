package datasource

import (
	"context"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/basket_oracle/internal/app/domain/feed"
	"github.com/R3E-Network/basket_oracle/internal/app/fixedpoint"
	"github.com/R3E-Network/basket_oracle/internal/app/services/medianizer"
	"github.com/R3E-Network/basket_oracle/internal/errors"
	"github.com/R3E-Network/basket_oracle/pkg/logger"
)

// LinearizedConfig configures a Linearized data source.
type LinearizedConfig struct {
	Name            string
	Owner           util.Uint160
	UpdateTolerance uint64
	Medianizer      medianizer.Medianizer
}

// Linearized returns the medianizer price when a poke is on schedule. When
// the poke is later than UpdateTolerance past the scheduled time it returns
// the time-weighted blend
//
//	(P_new*interval + P_prev*lateness) / (lateness + interval)
//
// so a missed slot does not inject a step into an evenly spaced series.
type Linearized struct {
	name      string
	owner     util.Uint160
	tolerance uint64
	log       *logger.Logger
	now       func() time.Time

	mu         sync.RWMutex
	medianizer medianizer.Medianizer
	listeners  []Listener
}

// NewLinearized validates cfg and builds the data source.
func NewLinearized(cfg LinearizedConfig, log *logger.Logger) (*Linearized, error) {
	if cfg.Medianizer == nil {
		return nil, errors.InvalidArgument("linearized source %s: medianizer is required", cfg.Name)
	}
	if log == nil {
		log = logger.NewDefault("datasource")
	}
	return &Linearized{
		name:       cfg.Name,
		owner:      cfg.Owner,
		tolerance:  cfg.UpdateTolerance,
		medianizer: cfg.Medianizer,
		log:        log,
		now:        time.Now,
	}, nil
}

// Describe renders the source as linearized:<medianizer>@<tolerance>.
func (l *Linearized) Describe() string {
	return KindLinearized + ":" + l.currentMedianizer().Name() + "@" + strconv.FormatUint(l.tolerance, 10)
}

// UpdateTolerance reports the lateness, in seconds, tolerated before
// interpolation applies.
func (l *Linearized) UpdateTolerance() uint64 { return l.tolerance }

// Medianizer returns the medianizer currently read.
func (l *Linearized) Medianizer() medianizer.Medianizer { return l.currentMedianizer() }

func (l *Linearized) currentMedianizer() medianizer.Medianizer {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.medianizer
}

func (l *Linearized) Read(ctx context.Context, rc feed.ReadContext) (*big.Int, error) {
	if err := checkSchedule(rc); err != nil {
		return nil, err
	}

	m := l.currentMedianizer()
	reading, err := m.Read(ctx)
	if err != nil {
		return nil, errors.OracleUnavailable(m.Name(), err)
	}
	if reading.Value == nil {
		return nil, errors.OracleUnavailable(m.Name(), errors.InvalidArgument("medianizer returned no value"))
	}

	lateness := rc.Now - rc.NextAvailableUpdate
	if lateness <= l.tolerance || rc.Latest == nil || rc.UpdateInterval == 0 {
		return new(big.Int).Set(reading.Value), nil
	}

	interval := fixedpoint.U64(rc.UpdateInterval)
	late := fixedpoint.U64(lateness)
	numerator := fixedpoint.Add(
		fixedpoint.Mul(reading.Value, interval),
		fixedpoint.Mul(rc.Latest.Value, late),
	)
	value := fixedpoint.FloorDiv(numerator, fixedpoint.Add(late, interval))

	l.log.WithField("feed_id", rc.FeedID).
		WithField("lateness", lateness).
		WithField("raw", reading.Value.String()).
		WithField("interpolated", value.String()).
		Debug("late poke interpolated")
	return value, nil
}

// ChangeMedianizer repoints the source. Only the owner may call it.
func (l *Linearized) ChangeMedianizer(caller util.Uint160, m medianizer.Medianizer) error {
	if !caller.Equals(l.owner) {
		return errors.Unauthorized(address.Uint160ToString(caller), "change medianizer")
	}
	if m == nil {
		return errors.InvalidArgument("medianizer is required")
	}

	l.mu.Lock()
	previous := l.medianizer
	l.medianizer = m
	listeners := append([]Listener(nil), l.listeners...)
	l.mu.Unlock()

	change := Change{
		Target:   l.name,
		Kind:     "medianizer",
		Caller:   address.Uint160ToString(caller),
		Previous: previous.Name(),
		Current:  m.Name(),
		At:       l.now().UTC(),
	}
	l.log.WithField("source", l.name).
		WithField("previous", change.Previous).
		WithField("current", change.Current).
		Info("medianizer changed")
	for _, fn := range listeners {
		fn(change)
	}
	return nil
}

// OnChange registers a listener for medianizer changes.
func (l *Linearized) OnChange(fn Listener) {
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	l.mu.Unlock()
}

// Direct returns the medianizer value unchanged, still honouring the feed's
// schedule.
type Direct struct {
	medianizer medianizer.Medianizer
}

// NewDirect wraps m without interpolation.
func NewDirect(m medianizer.Medianizer) *Direct {
	return &Direct{medianizer: m}
}

func (d *Direct) Describe() string { return KindDirect + ":" + d.medianizer.Name() }

func (d *Direct) Read(ctx context.Context, rc feed.ReadContext) (*big.Int, error) {
	if err := checkSchedule(rc); err != nil {
		return nil, err
	}
	reading, err := d.medianizer.Read(ctx)
	if err != nil {
		return nil, errors.OracleUnavailable(d.medianizer.Name(), err)
	}
	if reading.Value == nil {
		return nil, errors.OracleUnavailable(d.medianizer.Name(), errors.InvalidArgument("medianizer returned no value"))
	}
	return new(big.Int).Set(reading.Value), nil
}
