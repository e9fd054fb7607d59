package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "basket_oracle",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "basket_oracle",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "basket_oracle",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	feedPokes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "basket_oracle",
			Subsystem: "feeds",
			Name:      "pokes_total",
			Help:      "Poke attempts per feed by outcome.",
		},
		[]string{"feed", "outcome"},
	)

	feedNextUpdate = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "basket_oracle",
			Subsystem: "feeds",
			Name:      "next_available_update_seconds",
			Help:      "Unix time of the next permitted poke.",
		},
		[]string{"feed"},
	)

	feedHistory = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "basket_oracle",
			Subsystem: "feeds",
			Name:      "history_length",
			Help:      "Number of observations held per feed.",
		},
		[]string{"feed"},
	)

	medianizerReads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "basket_oracle",
			Subsystem: "medianizer",
			Name:      "reads_total",
			Help:      "Raw oracle reads by result.",
		},
		[]string{"medianizer", "success"},
	)

	medianizerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "basket_oracle",
			Subsystem: "medianizer",
			Name:      "read_duration_seconds",
			Help:      "Duration of raw oracle reads.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
		[]string{"medianizer"},
	)

	proposals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "basket_oracle",
			Subsystem: "rebalancing",
			Name:      "proposals_total",
			Help:      "Rebalance proposal attempts by outcome.",
		},
		[]string{"manager", "outcome"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		feedPokes,
		feedNextUpdate,
		feedHistory,
		medianizerReads,
		medianizerDuration,
		proposals,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordPoke records the outcome of a feed poke and its resulting state.
func RecordPoke(feedID, outcome string, nextAvailable uint64, historyLen int) {
	if feedID == "" {
		feedID = "unknown"
	}
	feedPokes.WithLabelValues(feedID, outcome).Inc()
	if outcome == "ok" {
		feedNextUpdate.WithLabelValues(feedID).Set(float64(nextAvailable))
		feedHistory.WithLabelValues(feedID).Set(float64(historyLen))
	}
}

// RecordMedianizerRead records a raw oracle read.
func RecordMedianizerRead(name string, duration time.Duration, success bool) {
	if name == "" {
		name = "unknown"
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	medianizerReads.WithLabelValues(name, strconv.FormatBool(success)).Inc()
	medianizerDuration.WithLabelValues(name).Observe(duration.Seconds())
}

// RecordProposal records a rebalance proposal attempt.
func RecordProposal(manager, outcome string) {
	if manager == "" {
		manager = "unknown"
	}
	proposals.WithLabelValues(manager, outcome).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses resource identifiers so label cardinality stays
// bounded: /feeds/btc/rsi becomes /feeds/:id/rsi.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "feeds", "managers":
		if len(parts) == 1 {
			return "/" + parts[0]
		}
		out := "/" + parts[0] + "/:id"
		if len(parts) > 2 {
			out += "/" + parts[2]
		}
		return out
	default:
		return "/" + parts[0]
	}
}
