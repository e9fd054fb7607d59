package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                          "/",
		"/":                         "/",
		"/healthz":                  "/healthz",
		"/feeds":                    "/feeds",
		"/feeds/btc-daily":          "/feeds/:id",
		"/feeds/btc-daily/rsi":      "/feeds/:id/rsi",
		"/managers/btc-eth/propose": "/managers/:id/propose",
	}
	for in, want := range cases {
		if got := canonicalPath(in); got != want {
			t.Fatalf("canonicalPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	RecordPoke("btc-daily", "ok", 1700000000, 3)
	RecordMedianizerRead("btc-usd", 5*time.Millisecond, true)
	RecordProposal("btc-eth", "proposed")

	handler := InstrumentHandler(Handler())
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	body := resp.Body.String()
	for _, name := range []string{
		"basket_oracle_feeds_pokes_total",
		"basket_oracle_medianizer_reads_total",
		"basket_oracle_rebalancing_proposals_total",
	} {
		if !strings.Contains(body, name) {
			t.Fatalf("expected %s in metrics output", name)
		}
	}
}
