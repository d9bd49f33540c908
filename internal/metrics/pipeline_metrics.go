package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline metrics. All are low-cardinality (no video_id/person_id labels).

var (
	// KeyframesCaptured counts keyframes the Change Detector emits, by
	// trigger (first/change/max_gap/sample/last/webcam_frame).
	KeyframesCaptured = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_keyframes_captured_total",
			Help: "Total keyframes captured by the change detector, by trigger",
		},
		[]string{"trigger"},
	)

	// AIClientCallsTotal counts every external AI client call by client
	// (vision/speech/remote_gpu) and outcome (ok/error/retry).
	AIClientCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_ai_client_calls_total",
			Help: "Total AI client calls by client and outcome",
		},
		[]string{"client", "outcome"},
	)

	// AIClientLatency tracks AI client call latency in milliseconds.
	AIClientLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_ai_client_latency_ms",
			Help:    "AI client call latency in milliseconds",
			Buckets: []float64{100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"client"},
	)

	// AIClientRetries counts retry attempts issued by the client envelope
	// (exponential backoff on 429/5xx).
	AIClientRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_ai_client_retries_total",
			Help: "Total retry attempts issued by the AI client envelope",
		},
		[]string{"client"},
	)

	// RateLimitRejections counts requests rejected by the per-service
	// sliding-window rate check before ever reaching a provider.
	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_rate_limit_rejections_total",
			Help: "Total requests rejected by the sliding-window rate limiter",
		},
		[]string{"client"},
	)

	// OrchestratorPathTotal counts which of the three dispatch paths
	// (frame/short_video/long_video) handled each request.
	OrchestratorPathTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_orchestrator_path_total",
			Help: "Total analysis requests by dispatch path",
		},
		[]string{"path"},
	)

	// FrameDedupHits counts Path A submissions served from the dedup cache
	// instead of re-billing the provider.
	FrameDedupHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipeline_frame_dedup_hits_total",
			Help: "Total Path A frame submissions served from the dedup cache",
		},
	)

	// ServiceUp reports this instance's own liveness for scrape dashboards.
	ServiceUp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipeline_service_up",
			Help: "Service health status (1=up, 0=down)",
		},
	)
)

// RecordKeyframe increments KeyframesCaptured for trigger.
func RecordKeyframe(trigger string) {
	KeyframesCaptured.WithLabelValues(trigger).Inc()
}

// RecordAICall records one AI client call's outcome and latency.
func RecordAICall(client, outcome string, latencyMs float64) {
	AIClientCallsTotal.WithLabelValues(client, outcome).Inc()
	AIClientLatency.WithLabelValues(client).Observe(latencyMs)
}

// RecordAIRetry increments the retry counter for client.
func RecordAIRetry(client string) {
	AIClientRetries.WithLabelValues(client).Inc()
}

// RecordRateLimitRejection increments the rejection counter for client.
func RecordRateLimitRejection(client string) {
	RateLimitRejections.WithLabelValues(client).Inc()
}

// RecordOrchestratorPath increments the path counter for path.
func RecordOrchestratorPath(path string) {
	OrchestratorPathTotal.WithLabelValues(path).Inc()
}

// RecordFrameDedupHit increments the dedup-cache hit counter.
func RecordFrameDedupHit() {
	FrameDedupHits.Inc()
}

func SetServiceUp(up bool) {
	if up {
		ServiceUp.Set(1)
	} else {
		ServiceUp.Set(0)
	}
}
