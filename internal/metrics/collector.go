package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a dedicated Prometheus registry carrying only this
// service's pipeline metrics, so /metrics never leaks process-level
// collectors (goroutines, GC) an operator didn't ask for.
type Collector struct {
	registry *prometheus.Registry
}

// NewCollector registers every pipeline_metrics.go metric into a fresh
// registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		KeyframesCaptured,
		AIClientCallsTotal,
		AIClientLatency,
		AIClientRetries,
		RateLimitRejections,
		OrchestratorPathTotal,
		FrameDedupHits,
		ServiceUp,
	)
	return &Collector{registry: reg}
}

// Handler returns the HTTP handler to mount at /metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
