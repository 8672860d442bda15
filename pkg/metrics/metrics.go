// Package metrics exposes the three counters Node.QueryCounters answers
// with (active client connections, open files, total files in the
// filesystem) as Prometheus gauges, adapted from the teacher's
// pkg/metrics/cache.go registry pattern.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mu       sync.Mutex
	enabled  bool
	registry *prometheus.Registry

	activeConnections prometheus.Gauge
	openFiles         prometheus.Gauge
	totalFiles        prometheus.Gauge
)

// InitRegistry turns metrics collection on and registers the QueryCounters
// gauges against a fresh Prometheus registry. Calling it more than once
// replaces the previous registry.
func InitRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()

	registry = prometheus.NewRegistry()
	enabled = true

	activeConnections = promauto.With(registry).NewGauge(prometheus.GaugeOpts{
		Name: "zyn_active_connections",
		Help: "Number of currently connected clients.",
	})
	openFiles = promauto.With(registry).NewGauge(prometheus.GaugeOpts{
		Name: "zyn_open_files",
		Help: "Number of files with a currently running file engine.",
	})
	totalFiles = promauto.With(registry).NewGauge(prometheus.GaugeOpts{
		Name: "zyn_total_files",
		Help: "Total number of files in the filesystem, open or not.",
	})

	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return enabled
}

// GetRegistry returns the active registry, or nil if metrics are disabled.
func GetRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()
	return registry
}

// Counters is the snapshot Node.QueryCounters hands to SetCounters.
type Counters struct {
	ActiveConnections int
	OpenFiles         int
	TotalFiles        int
}

// SetCounters publishes a fresh Counters snapshot to the gauges. A no-op
// when metrics are disabled.
func SetCounters(c Counters) {
	mu.Lock()
	defer mu.Unlock()
	if !enabled {
		return
	}
	activeConnections.Set(float64(c.ActiveConnections))
	openFiles.Set(float64(c.OpenFiles))
	totalFiles.Set(float64(c.TotalFiles))
}
