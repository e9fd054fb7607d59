// Package datasource produces the value a time-series feed appends on each
// poke. Sources are pure functions of the feed's read context and whatever
// medianizer they wrap.
package datasource

import (
	"context"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/R3E-Network/basket_oracle/internal/app/domain/feed"
	"github.com/R3E-Network/basket_oracle/internal/errors"
)

// Source kinds as they appear in descriptions.
const (
	KindLinearized = "linearized"
	KindDirect     = "direct"
	KindConstant   = "constant"
)

// Description is a parsed Describe result.
type Description struct {
	Kind string
	// Medianizer for linearized and direct sources, the value for constants.
	Arg       string
	Tolerance uint64
}

// ParseDescription reverses Describe for the built-in sources.
func ParseDescription(s string) (Description, error) {
	kind, arg, ok := strings.Cut(s, ":")
	if !ok || arg == "" {
		return Description{}, errors.InvalidArgument("malformed data source description %q", s)
	}
	d := Description{Kind: kind, Arg: arg}
	switch kind {
	case KindDirect, KindConstant:
	case KindLinearized:
		i := strings.LastIndex(arg, "@")
		if i <= 0 {
			return Description{}, errors.InvalidArgument("linearized description %q lacks a tolerance", s)
		}
		tol, err := strconv.ParseUint(arg[i+1:], 10, 64)
		if err != nil {
			return Description{}, errors.InvalidArgument("linearized description %q: %v", s, err)
		}
		d.Arg, d.Tolerance = arg[:i], tol
	default:
		return Description{}, errors.InvalidArgument("unknown data source kind %q", kind)
	}
	return d, nil
}

// DataSource yields the next value for a feed.
type DataSource interface {
	Describe() string
	Read(ctx context.Context, rc feed.ReadContext) (*big.Int, error)
}

// Change describes an administrative repointing of a feed or data source.
type Change struct {
	Target   string
	Kind     string
	Caller   string
	Previous string
	Current  string
	At       time.Time
}

// Listener receives change notifications.
type Listener func(Change)

func checkSchedule(rc feed.ReadContext) error {
	if rc.Now < rc.NextAvailableUpdate {
		return errors.TooEarly(rc.Now, rc.NextAvailableUpdate)
	}
	return nil
}

// Constant always yields the same value.
type Constant struct {
	value *big.Int
}

// NewConstant returns a data source fixed at value.
func NewConstant(value *big.Int) *Constant {
	return &Constant{value: new(big.Int).Set(value)}
}

func (c *Constant) Describe() string { return KindConstant + ":" + c.value.String() }

func (c *Constant) Read(_ context.Context, rc feed.ReadContext) (*big.Int, error) {
	if err := checkSchedule(rc); err != nil {
		return nil, err
	}
	return new(big.Int).Set(c.value), nil
}
