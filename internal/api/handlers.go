// Package api exposes the pipeline over HTTP: the six /analyze/* endpoints
// from spec.md §6, routed with chi and guarded by the JWT bearer middleware
// from internal/middleware.
package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/checklist"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/compliance"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/events"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/metrics"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/orchestrator"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/reportstore"
)

// AnalyzeHandler wires the orchestrator and its supporting services into
// the six analysis endpoints, mirroring the reference repo's
// handler-struct-with-injected-services shape.
type AnalyzeHandler struct {
	Orchestrator *orchestrator.Orchestrator
	Checklist    *checklist.Tracker
	Store        *reportstore.Service
	Events       *events.Publisher
	Stream       *keyframeHub
}

func NewAnalyzeHandler(o *orchestrator.Orchestrator, ck *checklist.Tracker, store *reportstore.Service, pub *events.Publisher) *AnalyzeHandler {
	return &AnalyzeHandler{Orchestrator: o, Checklist: ck, Store: store, Events: pub, Stream: newKeyframeHub()}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("api: encode response failed: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondAnalysis writes the AnalyzeResponse envelope for a finished or
// failed Report, persisting and publishing on success. Persistence and
// eventing failures are logged, never surfaced to the caller — spec.md §7
// marks checklist/report-store/event failures as never fatal to the HTTP
// response.
func (h *AnalyzeHandler) respondAnalysis(w http.ResponseWriter, r *http.Request, report compliance.Report, err error) {
	if err != nil {
		respondJSON(w, http.StatusOK, compliance.AnalyzeResponse{Status: "error", Error: err.Error()})
		return
	}

	if h.Store != nil {
		stored := reportstore.StoredReport{VideoID: report.VideoID, Report: report}
		if werr := h.Store.WriteReport(r.Context(), stored); werr != nil {
			log.Printf("api: report persistence failed: %v", werr)
		}
	}
	if h.Events != nil {
		h.Events.PublishReportCompleted(report)
	}

	respondJSON(w, http.StatusOK, compliance.AnalyzeResponse{Status: "complete", Report: &report})
}

func decodePolicy(policyJSON string) (compliance.Policy, error) {
	var policy compliance.Policy
	if policyJSON == "" {
		return policy, compliance.NewStageError("Decode", compliance.KindBadRequest, "policy_json is required", nil)
	}
	if err := json.Unmarshal([]byte(policyJSON), &policy); err != nil {
		return policy, compliance.NewStageError("Decode", compliance.KindBadRequest, "invalid policy_json", err)
	}
	if !policy.HasRules() {
		return policy, compliance.NewStageError("Decode", compliance.KindBadRequest, "policy carries no rules or custom prompt", nil)
	}
	return policy, nil
}

func recordPath(path string) {
	metrics.RecordOrchestratorPath(path)
}
