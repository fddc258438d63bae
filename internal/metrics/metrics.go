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
			Namespace: "yieldledger",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "yieldledger",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "yieldledger",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "path"},
	)

	ledgerOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "yieldledger",
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Ledger units of work by operation and outcome.",
		},
		[]string{"op", "result"},
	)

	ledgerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "yieldledger",
			Subsystem: "ledger",
			Name:      "operation_duration_seconds",
			Help:      "Duration of ledger units of work including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"op"},
	)

	ledgerRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "yieldledger",
			Subsystem: "ledger",
			Name:      "conflict_retries_total",
			Help:      "Units of work restarted after a concurrent update conflict.",
		},
		[]string{"op"},
	)

	accrualUsers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "yieldledger",
			Subsystem: "accrual",
			Name:      "users_total",
			Help:      "Users handled by accrual runs by outcome.",
		},
		[]string{"outcome"},
	)

	accrualCredited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "yieldledger",
			Subsystem: "accrual",
			Name:      "credited_amount_total",
			Help:      "Sum of daily returns credited by accrual runs.",
		},
	)

	accrualDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "yieldledger",
			Subsystem: "accrual",
			Name:      "run_duration_seconds",
			Help:      "Duration of accrual runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "yieldledger",
			Subsystem: "notify",
			Name:      "notifications_total",
			Help:      "Admin notifications by kind and outcome.",
		},
		[]string{"kind", "result"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		ledgerOps,
		ledgerDuration,
		ledgerRetries,
		accrualUsers,
		accrualCredited,
		accrualDuration,
		notifications,
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

		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

func RecordLedgerOp(op, result string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Microsecond
	}
	ledgerOps.WithLabelValues(op, result).Inc()
	ledgerDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func RecordTxRetry(op string) {
	ledgerRetries.WithLabelValues(op).Inc()
}

// RecordAccrualRun records the outcome counts of one accrual run.
func RecordAccrualRun(credited, skipped, reset, failed int, amount float64, duration time.Duration) {
	accrualUsers.WithLabelValues("credited").Add(float64(credited))
	accrualUsers.WithLabelValues("skipped").Add(float64(skipped))
	accrualUsers.WithLabelValues("reset").Add(float64(reset))
	accrualUsers.WithLabelValues("failed").Add(float64(failed))
	if amount > 0 {
		accrualCredited.Add(amount)
	}
	accrualDuration.Observe(duration.Seconds())
}

func RecordNotification(kind string, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	notifications.WithLabelValues(kind, result).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// canonicalPath collapses ids so label cardinality stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	for i, p := range parts {
		if i > 0 && looksLikeID(p) {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}

func looksLikeID(s string) bool {
	if len(s) == 36 && strings.Count(s, "-") == 4 {
		return true
	}
	_, err := strconv.ParseUint(s, 10, 64)
	return err == nil
}
