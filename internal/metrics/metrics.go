package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Capture metrics (low-cardinality)
var (
	captureRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capture_requests_total",
			Help: "Total captured exchanges by method, status and capture mode",
		},
		[]string{"method", "status", "mode"},
	)
	captureReqDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "capture_request_duration_seconds",
			Help:    "End-to-end exchange duration in seconds by capture mode",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)
	captureBodyBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "capture_body_bytes",
			Help:    "Captured body bytes per exchange side, after the per-side cap",
			Buckets: prometheus.ExponentialBuckets(64, 4, 8),
		},
		[]string{"side"},
	)
	captureTunnelsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "capture_tunnels_total",
			Help: "Total CONNECT tunnels established in passthrough mode",
		},
	)
	captureRingSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "capture_ring_size",
			Help: "Number of records currently held in the in-memory ring",
		},
	)
	captureSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "capture_subscribers",
			Help: "Number of live event stream subscribers",
		},
	)
	captureRecordsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "capture_records_dropped_total",
			Help: "Records dropped instead of delivered, by reason",
		},
		[]string{"reason"},
	)
)

// Session metrics
var (
	sessionActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "capture_session_active",
			Help: "Whether a capture session is currently recording (0 or 1)",
		},
	)
	sessionAppendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_appends_total",
			Help: "Session log append attempts by result",
		},
		[]string{"result"},
	)
)

// Demo upstream metrics
var (
	upRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_requests_total",
			Help: "Total demo upstream responses by method and status",
		},
		[]string{"method", "status"},
	)
	upRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_request_duration_seconds",
			Help:    "Demo upstream request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
	upInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "upstream_inflight",
			Help: "Number of in-flight requests in the demo upstream",
		},
	)
)

func init() {
	prometheus.MustRegister(
		// capture
		captureRequestsTotal,
		captureReqDuration,
		captureBodyBytes,
		captureTunnelsTotal,
		captureRingSize,
		captureSubscribers,
		captureRecordsDropped,
		// session
		sessionActive,
		sessionAppendsTotal,
		// demo upstream
		upRequestsTotal,
		upRequestDuration,
		upInflight,
	)
}

// ---- Capture helpers ----

func ObserveExchange(mode, method string, status int, dur time.Duration) {
	captureRequestsTotal.WithLabelValues(method, strconv.Itoa(status), mode).Inc()
	captureReqDuration.WithLabelValues(mode).Observe(dur.Seconds())
}

func ObserveBodyBytes(side string, n int) {
	captureBodyBytes.WithLabelValues(side).Observe(float64(n))
}

func TunnelOpenedInc()            { captureTunnelsTotal.Inc() }
func SetRingSize(n int)           { captureRingSize.Set(float64(n)) }
func SetSubscribers(n int)        { captureSubscribers.Set(float64(n)) }
func RecordDropped(reason string) { captureRecordsDropped.WithLabelValues(reason).Inc() }

// ---- Session helpers ----

func SetSessionActive(active bool) {
	if active {
		sessionActive.Set(1)
		return
	}
	sessionActive.Set(0)
}

func SessionAppend(result string) { sessionAppendsTotal.WithLabelValues(result).Inc() }

// ---- Demo upstream helpers ----

func UpstreamInflightInc() { upInflight.Inc() }
func UpstreamInflightDec() { upInflight.Dec() }
func ObserveUpstreamResponse(method string, status int, dur time.Duration) {
	upRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	upRequestDuration.WithLabelValues(method).Observe(dur.Seconds())
}
