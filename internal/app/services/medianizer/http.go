package medianizer

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/R3E-Network/basket_oracle/internal/app/fixedpoint"
	"github.com/R3E-Network/basket_oracle/internal/app/metrics"
	"github.com/R3E-Network/basket_oracle/internal/httputil"
	"github.com/R3E-Network/basket_oracle/pkg/logger"
)

// HTTPConfig configures an HTTP medianizer.
type HTTPConfig struct {
	Name          string
	URL           string
	ValuePath     string // gjson path of the integer price, default "value"
	TimestampPath string // gjson path of the unix timestamp, optional
	Token         string
	Timeout       time.Duration
}

// HTTP reads a JSON price document. The value must be an unsigned integer
// (already fixed-point scaled), given either as a JSON string or number.
type HTTP struct {
	cfg    HTTPConfig
	client *http.Client
	log    *logger.Logger
}

// NewHTTP constructs an HTTP medianizer. A nil client gets a default one with
// cfg.Timeout (10s when unset).
func NewHTTP(client *http.Client, cfg HTTPConfig, log *logger.Logger) (*HTTP, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("medianizer %s: url is required", cfg.Name)
	}
	if cfg.ValuePath == "" {
		cfg.ValuePath = "value"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if log == nil {
		log = logger.NewDefault("medianizer")
	}
	return &HTTP{cfg: cfg, client: client, log: log}, nil
}

func (h *HTTP) Name() string { return h.cfg.Name }

func (h *HTTP) Read(ctx context.Context) (Reading, error) {
	start := time.Now()
	reading, err := h.read(ctx)
	metrics.RecordMedianizerRead(h.cfg.Name, time.Since(start), err == nil)
	if err != nil {
		h.log.WithError(err).WithField("medianizer", h.cfg.Name).Warn("medianizer read failed")
	}
	return reading, err
}

func (h *HTTP) read(ctx context.Context) (Reading, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.cfg.URL, nil)
	if err != nil {
		return Reading{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if h.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+h.cfg.Token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return Reading{}, fmt.Errorf("request failed: %w", err)
	}
	body, err := httputil.ReadBody(resp, 1<<20)
	if err != nil {
		return Reading{}, err
	}
	if !gjson.ValidBytes(body) {
		return Reading{}, fmt.Errorf("invalid json payload")
	}

	raw := gjson.GetBytes(body, h.cfg.ValuePath)
	if !raw.Exists() {
		return Reading{}, fmt.Errorf("path %q missing from payload", h.cfg.ValuePath)
	}
	value, err := fixedpoint.Parse(raw.String())
	if err != nil {
		return Reading{}, fmt.Errorf("path %q: %w", h.cfg.ValuePath, err)
	}

	ts := uint64(time.Now().Unix())
	if h.cfg.TimestampPath != "" {
		if t := gjson.GetBytes(body, h.cfg.TimestampPath); t.Exists() {
			ts = t.Uint()
		}
	}
	return Reading{Value: value, Timestamp: ts}, nil
}
