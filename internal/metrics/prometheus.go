// Package metrics provides Prometheus-based metrics collection for ipprism.
// Collectors are grouped by subsystem: reputation lookups, analysis runs,
// database access, the HTTP API and process-level system gauges.
package metrics

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	// Namespace for all ipprism metrics
	namespace = "ipprism"

	// Subsystems
	subsystemLookup   = "lookup"
	subsystemAnalysis = "analysis"
	subsystemDatabase = "database"
	subsystemAPI      = "api"
	subsystemSystem   = "system"
)

// PrometheusMetrics holds all Prometheus metric collectors
type PrometheusMetrics struct {
	// Lookup metrics
	lookupsTotal   *prometheus.CounterVec
	lookupDuration *prometheus.HistogramVec

	// Analysis metrics
	unitsTotal       *prometheus.CounterVec
	runsTotal        *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	activeUnits      prometheus.Gauge
	freshnessResults *prometheus.CounterVec

	// Database metrics
	dbQueries       *prometheus.CounterVec
	dbQueryDuration *prometheus.HistogramVec
	dbErrors        *prometheus.CounterVec

	// API metrics
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	// System metrics
	memoryUsage prometheus.Gauge
	goroutines  prometheus.Gauge
	uptime      prometheus.Gauge

	startTime  time.Time
	lastUpdate time.Time
	mu         sync.RWMutex
	registry   *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance with all collectors
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	pm := &PrometheusMetrics{
		startTime: time.Now(),
		registry:  registry,
	}

	pm.initLookupMetrics()
	pm.initAnalysisMetrics()
	pm.initDatabaseMetrics()
	pm.initAPIMetrics()
	pm.initSystemMetrics()

	pm.registerMetrics()

	// Standard Go and process collectors for runtime visibility
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return pm
}

func (pm *PrometheusMetrics) initLookupMetrics() {
	pm.lookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemLookup,
			Name:      "total",
			Help:      "Total number of reputation lookups by service and outcome",
		},
		[]string{LabelService, LabelOutcome},
	)

	pm.lookupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemLookup,
			Name:      "duration_seconds",
			Help:      "Duration of reputation lookups in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 20.0},
		},
		[]string{LabelService},
	)
}

func (pm *PrometheusMetrics) initAnalysisMetrics() {
	pm.unitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemAnalysis,
			Name:      "units_total",
			Help:      "Total number of per-address analysis units by result",
		},
		[]string{LabelResult},
	)

	pm.runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemAnalysis,
			Name:      "runs_total",
			Help:      "Total number of analysis runs by final status",
		},
		[]string{LabelStatus},
	)

	pm.runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemAnalysis,
			Name:      "run_duration_seconds",
			Help:      "Duration of analysis runs in seconds",
			Buckets:   []float64{0.1, 0.5, 1.0, 5.0, 10.0, 30.0, 60.0, 300.0, 600.0, 1800.0},
		},
		[]string{LabelStatus},
	)

	pm.activeUnits = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemAnalysis,
			Name:      "active_units",
			Help:      "Number of analysis units currently querying external services",
		},
	)

	pm.freshnessResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemAnalysis,
			Name:      "freshness_total",
			Help:      "Cache freshness classification of planned addresses",
		},
		[]string{LabelResult},
	)
}

func (pm *PrometheusMetrics) initDatabaseMetrics() {
	pm.dbQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemDatabase,
			Name:      "queries_total",
			Help:      "Total number of database queries by operation and status",
		},
		[]string{LabelOperation, LabelStatus},
	)

	pm.dbQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemDatabase,
			Name:      "query_duration_seconds",
			Help:      "Duration of database queries in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
		[]string{LabelOperation},
	)

	pm.dbErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemDatabase,
			Name:      "errors_total",
			Help:      "Total number of database errors by operation",
		},
		[]string{LabelOperation},
	)
}

func (pm *PrometheusMetrics) initAPIMetrics() {
	pm.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path and status",
		},
		[]string{LabelMethod, LabelPath, LabelStatus},
	)

	pm.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelMethod, LabelPath},
	)
}

func (pm *PrometheusMetrics) initSystemMetrics() {
	pm.memoryUsage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "memory_bytes",
			Help:      "Current memory usage in bytes",
		},
	)

	pm.goroutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	pm.uptime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "uptime_seconds",
			Help:      "Application uptime in seconds",
		},
	)
}

func (pm *PrometheusMetrics) registerMetrics() {
	pm.registry.MustRegister(
		pm.lookupsTotal,
		pm.lookupDuration,
		pm.unitsTotal,
		pm.runsTotal,
		pm.runDuration,
		pm.activeUnits,
		pm.freshnessResults,
		pm.dbQueries,
		pm.dbQueryDuration,
		pm.dbErrors,
		pm.httpRequests,
		pm.httpDuration,
		pm.memoryUsage,
		pm.goroutines,
		pm.uptime,
	)
}

// GetRegistry returns the Prometheus registry for HTTP handler
func (pm *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return pm.registry
}

// IncrementLookups counts one reputation lookup.
func (pm *PrometheusMetrics) IncrementLookups(service, outcome string) {
	pm.lookupsTotal.WithLabelValues(service, outcome).Inc()
}

// RecordLookupDuration records how long a reputation lookup took.
func (pm *PrometheusMetrics) RecordLookupDuration(service string, duration time.Duration) {
	pm.lookupDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// IncrementUnits counts one finished analysis unit.
func (pm *PrometheusMetrics) IncrementUnits(result string) {
	pm.unitsTotal.WithLabelValues(result).Inc()
}

// AddActiveUnits adjusts the in-flight unit gauge by delta.
func (pm *PrometheusMetrics) AddActiveUnits(delta int) {
	pm.activeUnits.Add(float64(delta))
}

// IncrementFreshness counts one planned address by freshness class.
func (pm *PrometheusMetrics) IncrementFreshness(class string) {
	pm.freshnessResults.WithLabelValues(class).Inc()
}

// RecordRun records a finished analysis run.
func (pm *PrometheusMetrics) RecordRun(status string, duration time.Duration) {
	pm.runsTotal.WithLabelValues(status).Inc()
	pm.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordDatabaseQuery records a database query outcome and duration.
func (pm *PrometheusMetrics) RecordDatabaseQuery(operation string, duration time.Duration, success bool) {
	status := StatusSuccess
	if !success {
		status = StatusError
		pm.dbErrors.WithLabelValues(operation).Inc()
	}
	pm.dbQueries.WithLabelValues(operation, status).Inc()
	pm.dbQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordHTTPRequest records an HTTP request outcome and duration.
func (pm *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	pm.httpRequests.WithLabelValues(method, path, status).Inc()
	pm.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateSystemMetrics updates all system metrics with current values
func (pm *PrometheusMetrics) UpdateSystemMetrics() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	pm.memoryUsage.Set(float64(memStats.Alloc))
	pm.goroutines.Set(float64(runtime.NumGoroutine()))
	pm.uptime.Set(time.Since(pm.startTime).Seconds())

	pm.lastUpdate = time.Now()
}

// GetUptime returns the application uptime
func (pm *PrometheusMetrics) GetUptime() time.Duration {
	return time.Since(pm.startTime)
}

// GetLastUpdate returns the last system metrics update time
func (pm *PrometheusMetrics) GetLastUpdate() time.Time {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.lastUpdate
}

// StartPeriodicUpdates refreshes system metrics every interval until ctx is done.
func (pm *PrometheusMetrics) StartPeriodicUpdates(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pm.UpdateSystemMetrics()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pm.UpdateSystemMetrics()
		}
	}
}

// Global instance for easy access
var (
	globalMetrics *PrometheusMetrics
	metricsOnce   sync.Once
)

// GetGlobalMetrics returns the global Prometheus metrics instance
func GetGlobalMetrics() *PrometheusMetrics {
	metricsOnce.Do(func() {
		globalMetrics = NewPrometheusMetrics()
	})
	return globalMetrics
}
