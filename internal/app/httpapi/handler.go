// Package httpapi exposes feeds, derived oracles and rebalancing managers
// over HTTP.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/shopspring/decimal"

	app "github.com/R3E-Network/basket_oracle/internal/app"
	"github.com/R3E-Network/basket_oracle/internal/app/domain/feed"
	"github.com/R3E-Network/basket_oracle/internal/app/domain/rebalance"
	"github.com/R3E-Network/basket_oracle/internal/app/metrics"
	"github.com/R3E-Network/basket_oracle/internal/app/services/oracles"
	"github.com/R3E-Network/basket_oracle/internal/chain"
	"github.com/R3E-Network/basket_oracle/internal/config"
	"github.com/R3E-Network/basket_oracle/internal/errors"
	"github.com/R3E-Network/basket_oracle/internal/httputil"
	"github.com/R3E-Network/basket_oracle/internal/middleware"
	"github.com/R3E-Network/basket_oracle/pkg/logger"
)

const (
	// Feed values carry 18 decimals.
	valueDecimals = 18
	// Admin and proposal bodies are a few short fields.
	maxRequestBody = 64 << 10
)

// Config tunes the HTTP middleware stack.
type Config struct {
	RateLimitRPS   float64
	RateLimitBurst int
	CORSOrigins    []string
}

// API is the routed, instrumented HTTP handler.
type API struct {
	app     *app.Application
	log     *logger.Logger
	limiter *middleware.RateLimiter
	handler http.Handler
}

// New builds the router and wraps it with metrics, CORS, request logging,
// rate limiting and caller resolution.
func New(application *app.Application, cfg Config, log *logger.Logger) *API {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	a := &API{app: application, log: log}

	r := mux.NewRouter()
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", a.health).Methods(http.MethodGet)

	r.HandleFunc("/feeds", a.listFeeds).Methods(http.MethodGet)
	r.HandleFunc("/feeds/{id}", a.getFeed).Methods(http.MethodGet)
	r.HandleFunc("/feeds/{id}/observations", a.observations).Methods(http.MethodGet)
	r.HandleFunc("/feeds/{id}/moving-average", a.movingAverage).Methods(http.MethodGet)
	r.HandleFunc("/feeds/{id}/rsi", a.rsi).Methods(http.MethodGet)
	r.HandleFunc("/feeds/{id}/poke", a.poke).Methods(http.MethodPost)
	r.HandleFunc("/feeds/{id}/medianizer", a.changeMedianizer).Methods(http.MethodPut)
	r.HandleFunc("/feeds/{id}/source", a.changeSource).Methods(http.MethodPut)

	r.HandleFunc("/oracles/{name}", a.readOracle).Methods(http.MethodGet)

	r.HandleFunc("/managers", a.listManagers).Methods(http.MethodGet)
	r.HandleFunc("/managers/{name}/propose", a.propose).Methods(http.MethodPost)
	r.HandleFunc("/managers/{name}/proposals", a.proposals).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, errors.NotFound("route", r.URL.Path))
	})

	r.Use(middleware.LoggingMiddleware(log))
	if cfg.RateLimitRPS > 0 {
		a.limiter = middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, log.Named("ratelimit"))
		r.Use(a.limiter.Handler)
	}
	r.Use(middleware.CallerMiddleware)

	cors := middleware.NewCORS(middleware.CORSConfig{AllowedOrigins: cfg.CORSOrigins})
	a.handler = metrics.InstrumentHandler(cors(r))
	return a
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) { a.handler.ServeHTTP(w, r) }

// StartCleanup prunes idle rate limiters until ctx ends.
func (a *API) StartCleanup(ctx context.Context) {
	if a.limiter != nil {
		a.limiter.StartCleanup(ctx, 5*time.Minute)
	}
}

type valueJSON struct {
	Raw     string `json:"raw"`
	Decimal string `json:"decimal"`
}

func renderValue(v *big.Int, decimals uint32) valueJSON {
	return valueJSON{
		Raw:     v.String(),
		Decimal: decimal.NewFromBigInt(v, -int32(decimals)).String(),
	}
}

type observationJSON struct {
	Value     valueJSON `json:"value"`
	Timestamp uint64    `json:"timestamp"`
}

func renderObservation(o feed.Observation) observationJSON {
	return observationJSON{Value: renderValue(o.Value, valueDecimals), Timestamp: o.Timestamp}
}

type feedJSON struct {
	ID                  string           `json:"id"`
	Owner               string           `json:"owner"`
	UpdateInterval      uint64           `json:"update_interval"`
	MaxDataPoints       int              `json:"max_data_points"`
	NextAvailableUpdate uint64           `json:"next_available_update"`
	DataSource          string           `json:"data_source"`
	Length              int              `json:"length"`
	Latest              *observationJSON `json:"latest,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

func (a *API) renderFeed(st feed.State) feedJSON {
	out := feedJSON{
		ID:                  st.ID,
		Owner:               st.Owner,
		UpdateInterval:      st.UpdateInterval,
		MaxDataPoints:       st.MaxDataPoints,
		NextAvailableUpdate: st.NextAvailableUpdate,
		DataSource:          st.DataSource,
		CreatedAt:           st.CreatedAt,
		UpdatedAt:           st.UpdatedAt,
	}
	if f, err := a.app.Feeds.Get(st.ID); err == nil {
		out.Length = f.Len()
		if latest, err := f.Latest(); err == nil {
			obs := renderObservation(latest)
			out.Latest = &obs
		}
	}
	return out
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"feeds":    len(a.app.Feeds.List()),
		"managers": len(a.app.Managers),
	})
}

func (a *API) listFeeds(w http.ResponseWriter, r *http.Request) {
	states := a.app.Feeds.List()
	out := make([]feedJSON, 0, len(states))
	for _, st := range states {
		out = append(out, a.renderFeed(st))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) getFeed(w http.ResponseWriter, r *http.Request) {
	f, err := a.app.Feeds.Get(mux.Vars(r)["id"])
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.renderFeed(f.State()))
}

func (a *API) observations(w http.ResponseWriter, r *http.Request) {
	f, err := a.app.Feeds.Get(mux.Vars(r)["id"])
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	n, err := queryInt(r, "n", f.Len())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	obs, err := f.ReadObservations(n)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	out := make([]observationJSON, len(obs))
	for i, o := range obs {
		out[i] = renderObservation(o)
	}
	writeJSON(w, http.StatusOK, map[string]any{"feed": f.ID(), "observations": out})
}

func (a *API) movingAverage(w http.ResponseWriter, r *http.Request) {
	f, err := a.app.Feeds.Get(mux.Vars(r)["id"])
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	n, err := queryInt(r, "n", f.MaxDataPoints())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	ma, err := oracles.NewMovingAverage(f.ID(), f, n)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	v, err := ma.ReadWindow(r.Context(), n)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"feed": f.ID(), "n": n, "value": renderValue(v, valueDecimals)})
}

func (a *API) rsi(w http.ResponseWriter, r *http.Request) {
	f, err := a.app.Feeds.Get(mux.Vars(r)["id"])
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	n, err := queryInt(r, "n", f.MaxDataPoints()-1)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	decimals, err := queryInt(r, "decimals", valueDecimals)
	if err != nil || decimals > 77 {
		middleware.WriteError(w, errors.InvalidArgument("decimals must be in [0, 77]"))
		return
	}
	idx, err := oracles.NewRSI(f.ID(), f, n, uint32(decimals))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	v, err := idx.ReadPeriods(r.Context(), n)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"feed": f.ID(), "n": n, "value": renderValue(v, uint32(decimals))})
}

func (a *API) poke(w http.ResponseWriter, r *http.Request) {
	obs, err := a.app.Feeds.Poke(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderObservation(obs))
}

func (a *API) changeMedianizer(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFrom(r.Context())
	if !ok {
		middleware.WriteError(w, errors.Unauthorized("anonymous", "change medianizer"))
		return
	}
	var payload struct {
		Medianizer string `json:"medianizer"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		middleware.WriteError(w, err)
		return
	}
	id := mux.Vars(r)["id"]
	if err := a.app.ChangeFeedMedianizer(r.Context(), id, caller, payload.Medianizer); err != nil {
		middleware.WriteError(w, err)
		return
	}
	f, err := a.app.Feeds.Get(id)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"feed": id, "data_source": f.State().DataSource})
}

func (a *API) changeSource(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFrom(r.Context())
	if !ok {
		middleware.WriteError(w, errors.Unauthorized("anonymous", "change data source"))
		return
	}
	var payload struct {
		Type            string `json:"type"`
		Medianizer      string `json:"medianizer"`
		UpdateTolerance uint64 `json:"update_tolerance"`
		Value           string `json:"value"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		middleware.WriteError(w, err)
		return
	}
	id := mux.Vars(r)["id"]
	err := a.app.ChangeFeedSource(r.Context(), id, caller, config.SourceConfig{
		Type:            payload.Type,
		Medianizer:      payload.Medianizer,
		UpdateTolerance: payload.UpdateTolerance,
		Value:           payload.Value,
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	f, err := a.app.Feeds.Get(id)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.renderFeed(f.State()))
}

func (a *API) readOracle(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	o, ok := a.app.Oracles[name]
	if !ok {
		middleware.WriteError(w, errors.NotFound("oracle", name))
		return
	}
	v, err := o.Read(r.Context())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"oracle": name, "value": renderValue(v, valueDecimals)})
}

type managerJSON struct {
	Name               string `json:"name"`
	AssetA             string `json:"asset_a"`
	AssetB             string `json:"asset_b"`
	LowerThreshold     uint64 `json:"lower_threshold"`
	UpperThreshold     uint64 `json:"upper_threshold"`
	AuctionTimeToPivot uint64 `json:"auction_time_to_pivot"`
	PriceDivisor       string `json:"price_divisor"`
}

func (a *API) listManagers(w http.ResponseWriter, r *http.Request) {
	names := a.app.ManagerNames()
	out := make([]managerJSON, 0, len(names))
	for _, name := range names {
		cfg := a.app.Managers[name].Config()
		out = append(out, managerJSON{
			Name:               cfg.Name,
			AssetA:             address.Uint160ToString(cfg.AssetA.ID),
			AssetB:             address.Uint160ToString(cfg.AssetB.ID),
			LowerThreshold:     cfg.LowerThreshold,
			UpperThreshold:     cfg.UpperThreshold,
			AuctionTimeToPivot: cfg.AuctionTimeToPivot,
			PriceDivisor:       cfg.PriceDivisor.String(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type proposalJSON struct {
	ID                 string    `json:"id"`
	Manager            string    `json:"manager"`
	Basket             string    `json:"basket"`
	Components         []string  `json:"components"`
	Units              []string  `json:"units"`
	NaturalUnit        string    `json:"natural_unit"`
	AuctionLibrary     string    `json:"auction_library"`
	AuctionTimeToPivot uint64    `json:"auction_time_to_pivot"`
	StartPrice         string    `json:"start_price"`
	PivotPrice         string    `json:"pivot_price"`
	PriceA             valueJSON `json:"price_a"`
	PriceB             valueJSON `json:"price_b"`
	AllocationPercent  uint64    `json:"allocation_percent"`
	CurrentSetValue    valueJSON `json:"current_set_value"`
	NextSetValue       valueJSON `json:"next_set_value"`
	ProposedAt         time.Time `json:"proposed_at"`
}

func renderProposal(p rebalance.Proposal) proposalJSON {
	out := proposalJSON{
		ID:                 p.ID,
		Manager:            p.Manager,
		Basket:             address.Uint160ToString(p.Basket),
		NaturalUnit:        bigString(p.Next.NaturalUnit),
		AuctionLibrary:     address.Uint160ToString(p.AuctionLibrary),
		AuctionTimeToPivot: p.AuctionTimeToPivot,
		StartPrice:         bigString(p.StartPrice),
		PivotPrice:         bigString(p.PivotPrice),
		PriceA:             renderValue(orZero(p.PriceA), valueDecimals),
		PriceB:             renderValue(orZero(p.PriceB), valueDecimals),
		AllocationPercent:  p.AllocationPercent,
		CurrentSetValue:    renderValue(orZero(p.CurrentSetValue), valueDecimals),
		NextSetValue:       renderValue(orZero(p.NextSetValue), valueDecimals),
		ProposedAt:         p.ProposedAt,
	}
	for _, c := range p.Next.Components {
		out.Components = append(out.Components, address.Uint160ToString(c))
	}
	for _, u := range p.Next.Units {
		out.Units = append(out.Units, bigString(u))
	}
	return out
}

func (a *API) propose(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	var payload struct {
		Basket string `json:"basket"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		middleware.WriteError(w, err)
		return
	}
	hash, err := chain.ParseHashString(payload.Basket)
	if err != nil {
		middleware.WriteError(w, errors.InvalidArgument("invalid basket %q: %v", payload.Basket, err))
		return
	}
	mgr, err := a.app.Manager(name)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	basket, err := a.app.Basket(name, hash)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	proposal, err := mgr.Propose(r.Context(), basket)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, renderProposal(proposal))
}

func (a *API) proposals(w http.ResponseWriter, r *http.Request) {
	mgr, err := a.app.Manager(mux.Vars(r)["name"])
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	list, err := mgr.Proposals(r.Context())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	out := make([]proposalJSON, len(list))
	for i, p := range list {
		out[i] = renderProposal(p)
	}
	writeJSON(w, http.StatusOK, out)
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errors.InvalidArgument("query parameter %s must be a non-negative integer", key)
	}
	return v, nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	raw, err := httputil.ReadAllStrict(body, maxRequestBody)
	if err != nil {
		return errors.InvalidArgument("invalid request body: %v", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.InvalidArgument("invalid request body: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
