package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Fold state metrics
	Transitions        *prometheus.CounterVec
	TransitionRefusals prometheus.Counter
	FoldState          prometheus.Gauge
	UnsafeTicks        prometheus.Counter
	AutoRecoveries     prometheus.Counter

	// Scan metrics
	ScanDuration *prometheus.HistogramVec
	ScanItems    *prometheus.GaugeVec
	ScanErrors   prometheus.Counter
	CacheHits    *prometheus.CounterVec
	CacheMisses  *prometheus.CounterVec

	// Relocation metrics
	Relocations *prometheus.CounterVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot Snapshot

	mu sync.RWMutex
}

// Snapshot holds current metric values for the JSON API
type Snapshot struct {
	TotalRequests     int64
	TotalErrors       int64
	Transitions       int64
	Refusals          int64
	Recoveries        int64
	Relocations       int64
	ActiveConnections int64
	TotalDuration     float64 // sum of all request durations
	RequestCount      int64   // count for averaging
}

// NewMetrics creates a metrics collector registered with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates a metrics collector registered with reg. Tests
// pass a fresh registry so repeated construction does not collide.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	auto := promauto.With(reg)

	m := &Metrics{
		startTime: time.Now(),

		// HTTP metrics
		RequestsTotal: auto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trayfold_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: auto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trayfold_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),

		// Fold state metrics
		Transitions: auto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trayfold_transitions_total",
				Help: "Total number of completed fold state transitions",
			},
			[]string{"to"},
		),
		TransitionRefusals: auto.NewCounter(
			prometheus.CounterOpts{
				Name: "trayfold_transition_refusals_total",
				Help: "Total number of hides refused by the position check",
			},
		),
		FoldState: auto.NewGauge(
			prometheus.GaugeOpts{
				Name: "trayfold_fold_state",
				Help: "Current fold state (0 = expanded, 1 = hidden)",
			},
		),
		UnsafeTicks: auto.NewCounter(
			prometheus.CounterOpts{
				Name: "trayfold_unsafe_ticks_total",
				Help: "Total number of periodic checks that found the separator misplaced",
			},
		),
		AutoRecoveries: auto.NewCounter(
			prometheus.CounterOpts{
				Name: "trayfold_auto_recoveries_total",
				Help: "Total number of forced expands after sustained misplacement",
			},
		),

		// Scan metrics
		ScanDuration: auto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trayfold_scan_duration_seconds",
				Help:    "Tray enumeration duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"kind"},
		),
		ScanItems: auto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "trayfold_scan_items",
				Help: "Number of items found by the most recent scan",
			},
			[]string{"kind"},
		),
		ScanErrors: auto.NewCounter(
			prometheus.CounterOpts{
				Name: "trayfold_scan_errors_total",
				Help: "Total number of scans that failed outright",
			},
		),
		CacheHits: auto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trayfold_cache_hits_total",
				Help: "Total number of scan cache hits",
			},
			[]string{"cache"},
		),
		CacheMisses: auto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trayfold_cache_misses_total",
				Help: "Total number of scan cache misses",
			},
			[]string{"cache"},
		),

		// Relocation metrics
		Relocations: auto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trayfold_relocations_total",
				Help: "Total number of item relocations",
			},
			[]string{"zone", "status"},
		),

		// WebSocket metrics
		WSConnections: auto.NewGauge(
			prometheus.GaugeOpts{
				Name: "trayfold_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: auto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trayfold_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),

		// System metrics
		Uptime: auto.NewGauge(
			prometheus.GaugeOpts{
				Name: "trayfold_uptime_seconds",
				Help: "Daemon uptime in seconds",
			},
		),
	}

	// Start uptime updater
	go m.updateUptime()

	return m
}

// updateUptime continuously updates the uptime metric
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.Uptime.Set(time.Since(m.startTime).Seconds())
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())

	// Update snapshot
	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.TotalDuration += duration.Seconds()
	m.snapshot.RequestCount++
	if len(status) > 0 && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordTransition records a completed fold state transition
func (m *Metrics) RecordTransition(to string, hidden bool) {
	m.Transitions.WithLabelValues(to).Inc()
	if hidden {
		m.FoldState.Set(1)
	} else {
		m.FoldState.Set(0)
	}

	m.mu.Lock()
	m.snapshot.Transitions++
	m.mu.Unlock()
}

// RecordRefusal records a hide refused by the position check
func (m *Metrics) RecordRefusal() {
	m.TransitionRefusals.Inc()

	m.mu.Lock()
	m.snapshot.Refusals++
	m.mu.Unlock()
}

// RecordUnsafeTick records a periodic check that found the separator misplaced
func (m *Metrics) RecordUnsafeTick() {
	m.UnsafeTicks.Inc()
}

// RecordRecovery records a forced expand after sustained misplacement
func (m *Metrics) RecordRecovery() {
	m.AutoRecoveries.Inc()

	m.mu.Lock()
	m.snapshot.Recoveries++
	m.mu.Unlock()
}

// RecordScan records a completed tray enumeration
func (m *Metrics) RecordScan(kind string, duration time.Duration, items int) {
	m.ScanDuration.WithLabelValues(kind).Observe(duration.Seconds())
	m.ScanItems.WithLabelValues(kind).Set(float64(items))
}

// RecordScanError records a scan that failed outright
func (m *Metrics) RecordScanError() {
	m.ScanErrors.Inc()
}

// RecordCacheHit records a scan cache hit
func (m *Metrics) RecordCacheHit(cache string) {
	m.CacheHits.WithLabelValues(cache).Inc()
}

// RecordCacheMiss records a scan cache miss
func (m *Metrics) RecordCacheMiss(cache string) {
	m.CacheMisses.WithLabelValues(cache).Inc()
}

// RecordRelocation records an item relocation attempt
func (m *Metrics) RecordRelocation(zone string, ok bool) {
	status := "success"
	if !ok {
		status = "failure"
	}
	m.Relocations.WithLabelValues(zone, status).Inc()

	m.mu.Lock()
	m.snapshot.Relocations++
	m.mu.Unlock()
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()

	m.mu.Lock()
	m.snapshot.ActiveConnections++
	m.mu.Unlock()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()

	m.mu.Lock()
	m.snapshot.ActiveConnections--
	m.mu.Unlock()
}
