package app

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/basket_oracle/internal/app/storage/memory"
	"github.com/R3E-Network/basket_oracle/internal/chain"
	"github.com/R3E-Network/basket_oracle/internal/config"
	"github.com/R3E-Network/basket_oracle/internal/errors"
	"github.com/R3E-Network/basket_oracle/pkg/testutil"
)

const feedOwner = "0x0000000000000000000000000000000000000009"

const restartConfig = `
medianizers:
  - name: primary
    type: static
    value: "100000000000000000000"
  - name: backup
    type: static
    value: "101000000000000000000"
feeds:
  - id: eth
    owner: "` + feedOwner + `"
    update_interval: 3600
    max_data_points: 5
    source:
      type: linearized
      medianizer: primary
      update_tolerance: 60
`

func newApp(t *testing.T, stores Stores) *Application {
	t.Helper()
	cfg, err := config.Parse([]byte(restartConfig))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	a, err := New(context.Background(), cfg, stores, testutil.Logger())
	require.NoError(t, err)
	return a
}

func TestSourceChangesSurviveRestart(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	stores := Stores{Feeds: mem, Proposals: mem}
	owner, err := chain.ParseHashString(feedOwner)
	require.NoError(t, err)

	first := newApp(t, stores)
	err = first.ChangeFeedMedianizer(ctx, "eth", util.Uint160{7}, "backup")
	if !stderrors.Is(err, errors.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	require.NoError(t, first.ChangeFeedMedianizer(ctx, "eth", owner, "backup"))

	second := newApp(t, stores)
	src, err := second.Source("eth")
	require.NoError(t, err)
	assert.Equal(t, "backup", src.Medianizer().Name())
	assert.Equal(t, uint64(60), src.UpdateTolerance())

	require.NoError(t, second.ChangeFeedSource(ctx, "eth", owner, config.SourceConfig{Type: config.SourceConstant, Value: "42"}))

	third := newApp(t, stores)
	f, err := third.Feeds.Get("eth")
	require.NoError(t, err)
	assert.Equal(t, "constant:42", f.State().DataSource)
	if _, err := third.Source("eth"); !stderrors.Is(err, errors.ErrInvalidState) {
		t.Fatalf("expected invalid state for a constant source, got %v", err)
	}
}
