package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	app "github.com/R3E-Network/basket_oracle/internal/app"
	"github.com/R3E-Network/basket_oracle/internal/app/domain/rebalance"
	"github.com/R3E-Network/basket_oracle/internal/chain"
	"github.com/R3E-Network/basket_oracle/internal/config"
	"github.com/R3E-Network/basket_oracle/internal/middleware"
	"github.com/R3E-Network/basket_oracle/pkg/testutil"
)

const (
	tokenA  = "0x000000000000000000000000000000000000000a"
	tokenB  = "0x000000000000000000000000000000000000000b"
	owner   = "0x0000000000000000000000000000000000000009"
	library = "0x00000000000000000000000000000000000000ac"
	basketH = "0x00000000000000000000000000000000000000fe"
)

const testConfig = `
medianizers:
  - name: btc-usd
    type: static
    value: "300000000000000000000"
  - name: btc-backup
    type: static
    value: "310000000000000000000"
feeds:
  - id: btc
    update_interval: 3600
    max_data_points: 10
    next_available_update: 1
    seed: ["100000000000000000000", "200000000000000000000"]
    source:
      type: direct
      medianizer: btc-usd
  - id: eth
    owner: "` + owner + `"
    update_interval: 3600
    max_data_points: 10
    seed: ["100000000000000000000", "110000000000000000000", "105000000000000000000"]
    source:
      type: linearized
      medianizer: btc-usd
oracles:
  - name: usd
    type: constant
    value: "1000000000000000000"
  - name: btc-latest
    type: latest
    feed: btc
managers:
  - name: a-b
    asset_a: {token: "` + tokenA + `", decimals: 18, multiplier: 1, oracle: usd}
    asset_b: {token: "` + tokenB + `", decimals: 18, multiplier: 1, oracle: usd}
    auction_library: "` + library + `"
    auction_time_to_pivot: 86400
    lower_threshold: 48
    upper_threshold: 52
    price_divisor: "1000"
`

type stubBasket struct {
	addr     util.Uint160
	current  rebalance.Composition
	proposed []rebalance.Proposal
}

func (b *stubBasket) Address() util.Uint160 { return b.addr }
func (b *stubBasket) RebalanceState(context.Context) (rebalance.State, error) {
	return rebalance.StateDefault, nil
}
func (b *stubBasket) LastRebalanceTimestamp(context.Context) (uint64, error) { return 0, nil }
func (b *stubBasket) ProposalPeriod(context.Context) (uint64, error)         { return 86400, nil }
func (b *stubBasket) CurrentSet(context.Context) (rebalance.Composition, error) {
	return b.current, nil
}
func (b *stubBasket) Propose(_ context.Context, p rebalance.Proposal) error {
	b.proposed = append(b.proposed, p)
	return nil
}

func mustHash(t *testing.T, s string) util.Uint160 {
	t.Helper()
	h, err := chain.ParseHashString(s)
	require.NoError(t, err)
	return h
}

func newTestAPI(t *testing.T) (*API, *stubBasket) {
	t.Helper()
	cfg, err := config.Parse([]byte(testConfig))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	basket := &stubBasket{
		addr: mustHash(t, basketH),
		current: rebalance.Composition{
			Components:  []util.Uint160{mustHash(t, tokenA), mustHash(t, tokenB)},
			Units:       []*big.Int{big.NewInt(47), big.NewInt(53)},
			NaturalUnit: big.NewInt(1),
		},
	}
	log := testutil.Logger()
	application, err := app.New(context.Background(), cfg, app.Stores{}, log, app.WithBasket("a-b", basket))
	require.NoError(t, err)
	return New(application, Config{}, log), basket
}

func do(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthAndFeeds(t *testing.T) {
	api, _ := newTestAPI(t)

	rec := do(t, api, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
	assert.NotEmpty(t, rec.Header().Get(middleware.TraceHeader))

	rec = do(t, api, http.MethodGet, "/feeds", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var feeds []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &feeds))
	require.Len(t, feeds, 2)
	assert.Equal(t, "btc", feeds[0]["id"])
	assert.Equal(t, float64(2), feeds[0]["length"])

	rec = do(t, api, http.MethodGet, "/feeds/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode(t, rec)["error"])
}

func TestObservationsAndStatistics(t *testing.T) {
	api, _ := newTestAPI(t)

	rec := do(t, api, http.MethodGet, "/feeds/btc/observations?n=2", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	obs := decode(t, rec)["observations"].([]any)
	require.Len(t, obs, 2)
	latest := obs[0].(map[string]any)["value"].(map[string]any)
	assert.Equal(t, "200000000000000000000", latest["raw"])
	assert.Equal(t, "200", latest["decimal"])

	rec = do(t, api, http.MethodGet, "/feeds/btc/observations?n=11", nil, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, api, http.MethodGet, "/feeds/btc/observations?n=abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, api, http.MethodGet, "/feeds/btc/moving-average?n=2", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	value := decode(t, rec)["value"].(map[string]any)
	assert.Equal(t, "150000000000000000000", value["raw"])
	assert.Equal(t, "150", value["decimal"])

	// eth rises 10 then falls 5: RS = 2, RSI = 100 - floor(100/3) at 2 decimals
	rec = do(t, api, http.MethodGet, "/feeds/eth/rsi?n=2&decimals=2", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	value = decode(t, rec)["value"].(map[string]any)
	assert.Equal(t, "66.67", value["decimal"])
}

func TestPokeIsGated(t *testing.T) {
	api, _ := newTestAPI(t)

	rec := do(t, api, http.MethodPost, "/feeds/btc/poke", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "300", decode(t, rec)["value"].(map[string]any)["decimal"])

	// eth's first slot is one interval away.
	rec = do(t, api, http.MethodPost, "/feeds/eth/poke", nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "too_early", decode(t, rec)["error"])

	rec = do(t, api, http.MethodGet, "/oracles/btc-latest", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "300", decode(t, rec)["value"].(map[string]any)["decimal"])
}

func TestChangeMedianizerRequiresOwner(t *testing.T) {
	api, _ := newTestAPI(t)
	body := map[string]string{"medianizer": "btc-backup"}

	rec := do(t, api, http.MethodPut, "/feeds/eth/medianizer", body, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	stranger := map[string]string{middleware.CallerHeader: "0x0000000000000000000000000000000000000007"}
	rec = do(t, api, http.MethodPut, "/feeds/eth/medianizer", body, stranger)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	ownerHdr := map[string]string{middleware.CallerHeader: owner}
	rec = do(t, api, http.MethodPut, "/feeds/eth/medianizer", body, ownerHdr)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, api, http.MethodPut, "/feeds/eth/medianizer", map[string]string{"medianizer": "nope"}, ownerHdr)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// btc uses a direct source, which has no medianizer to repoint.
	rec = do(t, api, http.MethodPut, "/feeds/btc/medianizer", body, ownerHdr)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestChangeSource(t *testing.T) {
	api, _ := newTestAPI(t)
	ownerHdr := map[string]string{middleware.CallerHeader: owner}

	rec := do(t, api, http.MethodPut, "/feeds/eth/source",
		map[string]any{"type": "constant", "value": "42"}, ownerHdr)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "constant:42", decode(t, rec)["data_source"])

	rec = do(t, api, http.MethodPut, "/feeds/eth/medianizer", map[string]string{"medianizer": "btc-backup"}, ownerHdr)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, api, http.MethodPut, "/feeds/eth/source",
		map[string]any{"type": "constant", "value": "x"}, ownerHdr)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOversizedBodyRejected(t *testing.T) {
	api, _ := newTestAPI(t)
	ownerHdr := map[string]string{middleware.CallerHeader: owner}

	padded := map[string]string{"medianizer": "btc-backup", "padding": strings.Repeat("x", maxRequestBody)}
	rec := do(t, api, http.MethodPut, "/feeds/eth/medianizer", padded, ownerHdr)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "exceeds")

	st := decode(t, do(t, api, http.MethodGet, "/feeds/eth", nil, nil))
	assert.NotContains(t, st["data_source"], "btc-backup")
}

func TestProposeAndList(t *testing.T) {
	api, basket := newTestAPI(t)

	rec := do(t, api, http.MethodPost, "/managers/a-b/propose", map[string]string{"basket": basketH}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "16", body["start_price"])
	assert.Equal(t, "24", body["pivot_price"])
	assert.Equal(t, float64(47), body["allocation_percent"])
	require.Len(t, basket.proposed, 1)

	rec = do(t, api, http.MethodGet, "/managers/a-b/proposals", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, body["id"], list[0]["id"])

	rec = do(t, api, http.MethodPost, "/managers/a-b/propose",
		map[string]string{"basket": "0x00000000000000000000000000000000000000ff"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, api, http.MethodPost, "/managers/zz/propose", map[string]string{"basket": basketH}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, api, http.MethodGet, "/managers", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
