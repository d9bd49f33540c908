package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/middleware"
)

// NewRouter assembles the chi mux for the six /analyze/* endpoints,
// mirroring the reference repo's cmd/hlsd mounting order: chi's own
// request-id/real-ip/logger/recoverer/timeout stack first, then CORS
// (ahead of auth so preflight OPTIONS never hits the JWT check), then the
// rate limiter, then per-route JWT auth.
func NewRouter(h *AnalyzeHandler, authH *AuthHandler, jwtAuth *middleware.JWTAuth, rateLimiter *middleware.RateLimiter) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(120 * time.Second))
	r.Use(middleware.CORS)
	r.Use(rateLimiter.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/auth/token", authH.Issue)
	r.Post("/auth/refresh", authH.Refresh)

	// Kept outside the JWT group: a websocket upgrade can't carry a standard
	// Authorization header through the handshake. The shared middleware
	// stack above, including the 120s Timeout, still applies to this route.
	r.Get("/analyze/stream/{video_id}", h.StreamKeyframes)

	r.Group(func(r chi.Router) {
		r.Use(jwtAuth.Middleware)
		r.Post("/analyze/upload", h.Upload)
		r.Post("/analyze/", h.Analyze)
		r.Post("/analyze/frame", h.AnalyzeFrame)
		r.Post("/analyze/frame/parallel", h.AnalyzeFrameParallel)
		r.Post("/analyze/transcribe", h.Transcribe)
		r.Post("/analyze/reset", h.Reset)
	})

	return r
}
