package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the API
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// ProviderLogins counts SSO login outcomes (ok, rejected, error)
	ProviderLogins = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "provider_logins_total", Help: "Provider SSO logins by outcome."},
		[]string{"outcome"},
	)
	// TourPages counts manifest page fetches by outcome
	TourPages = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tour_pages_total", Help: "Tour manifest page fetches by outcome."},
		[]string{"outcome"},
	)
	// GeocodeLookups counts resolver outcomes (cache_hit, resolved, unresolved, error)
	GeocodeLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "geocode_lookups_total", Help: "Geocode lookups by outcome."},
		[]string{"outcome"},
	)
	// OptimizeRuns counts optimizer executions by trigger (miss)
	OptimizeRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "optimize_runs_total", Help: "Route optimizer runs by trigger."},
		[]string{"trigger"},
	)
	// OptimizeDuration tracks optimizer wall time in seconds
	OptimizeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "optimize_duration_seconds", Help: "Route optimizer duration in seconds.", Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1}},
	)
	// ReorderConflicts counts rejected manual reorders
	ReorderConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "reorder_conflicts_total", Help: "Rejected manual reorder requests."},
	)
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(ProviderLogins)
		Registry.MustRegister(TourPages)
		Registry.MustRegister(GeocodeLookups)
		Registry.MustRegister(OptimizeRuns)
		Registry.MustRegister(OptimizeDuration)
		Registry.MustRegister(ReorderConflicts)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
