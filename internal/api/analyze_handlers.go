package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/changedetect"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/compliance"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/videosrc"
)

// uploadKeyframe is the wire shape of one entry in POST /analyze/upload's
// response, per spec.md §6.
type uploadKeyframe struct {
	Timestamp   float64            `json:"timestamp"`
	FrameNumber int                `json:"frame_number"`
	ChangeScore float64            `json:"change_score"`
	Trigger     compliance.Trigger `json:"trigger"`
}

type uploadResponse struct {
	VideoID        string           `json:"video_id"`
	Metadata       map[string]any   `json:"metadata"`
	TotalKeyframes int              `json:"total_keyframes"`
	Keyframes      []uploadKeyframe `json:"keyframes"`
}

// Upload handles POST /analyze/upload: runs the Change Detector over an
// uploaded video with no AI evaluation, returning just the captured
// keyframe manifest.
func (h *AnalyzeHandler) Upload(w http.ResponseWriter, r *http.Request) {
	path, cleanup, err := saveMultipartVideo(w, r, "video")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer cleanup()

	videoID := uuid.New().String()

	duration, err := videosrc.Duration(r.Context(), path)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, fmt.Sprintf("failed to probe video: %v", err))
		return
	}

	defer h.Stream.close(videoID)

	events, fps, err := h.Orchestrator.CaptureFileKeyframes(r.Context(), path, func(e changedetect.ChangeEvent) {
		h.Stream.publish(videoID, e)
	})
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, fmt.Sprintf("keyframe capture failed: %v", err))
		return
	}

	keyframes := make([]uploadKeyframe, len(events))
	for i, e := range events {
		keyframes[i] = uploadKeyframe{
			Timestamp:   e.Keyframe.Timestamp,
			FrameNumber: e.Keyframe.FrameNumber,
			ChangeScore: e.Keyframe.ChangeScore,
			Trigger:     e.Keyframe.Trigger,
		}
	}

	respondJSON(w, http.StatusOK, uploadResponse{
		VideoID:        videoID,
		Metadata:       map[string]any{"duration": duration, "fps": fps},
		TotalKeyframes: len(keyframes),
		Keyframes:      keyframes,
	})
}

// Analyze handles POST /analyze/: full Path B/C analysis of an uploaded
// video against a policy.
func (h *AnalyzeHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	path, cleanup, err := saveMultipartVideo(w, r, "video")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer cleanup()

	policy, err := decodePolicy(r.FormValue("policy_json"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := h.Orchestrator.AnalyzeVideo(r.Context(), policy, path)
	report.VideoID = cmpNonEmpty(report.VideoID, uuid.New().String())
	recordPath("video")
	h.respondAnalysis(w, r, report, err)
}

// AnalyzeFrame handles POST /analyze/frame: Path A, a single webcam/RTSP
// frame plus an optional extra-frames batch.
func (h *AnalyzeHandler) AnalyzeFrame(w http.ResponseWriter, r *http.Request) {
	var req compliance.FrameAnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	policy, err := decodePolicy(req.PolicyJSON)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	frame, err := base64.StdEncoding.DecodeString(req.ImageBase64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid image_base64")
		return
	}

	extraFrames := make([][]byte, 0, len(req.Frames))
	for _, f := range req.Frames {
		b, err := base64.StdEncoding.DecodeString(f)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid frames[] entry")
			return
		}
		extraFrames = append(extraFrames, b)
	}

	report, err := h.Orchestrator.AnalyzeFrame(r.Context(), policy, frame, extraFrames, req.AccumulatedTranscript, req.Provider)
	report.VideoID = cmpNonEmpty(report.VideoID, uuid.New().String())
	recordPath("frame")
	h.respondAnalysis(w, r, report, err)
}

// AnalyzeFrameParallel handles POST /analyze/frame/parallel: the Remote
// GPU Analyzer's k-batch fan-out, capped at max_concurrent<=5 per spec.md
// §4.2.3.
func (h *AnalyzeHandler) AnalyzeFrameParallel(w http.ResponseWriter, r *http.Request) {
	var req compliance.ParallelBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	policy, err := decodePolicy(req.PolicyJSON)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	maxConcurrent := req.MaxConcurrent
	if maxConcurrent <= 0 || maxConcurrent > 5 {
		maxConcurrent = 5
	}

	batches := make([][][]byte, len(req.Batches))
	for i, batch := range req.Batches {
		frames := make([][]byte, len(batch))
		for j, b64 := range batch {
			b, err := base64.StdEncoding.DecodeString(b64)
			if err != nil {
				respondError(w, http.StatusBadRequest, "invalid batch frame encoding")
				return
			}
			frames[j] = b
		}
		batches[i] = frames
	}

	remoteGPU, rerr := h.Orchestrator.Registry.Get("remote_gpu")
	if rerr != nil {
		respondError(w, http.StatusInternalServerError, "remote GPU provider not configured")
		return
	}
	type parallelBatcher interface {
		ParallelBatches(ctx context.Context, batches [][][]byte, policy compliance.Policy, maxConcurrent int) []compliance.Report
	}
	client, ok := remoteGPU.(parallelBatcher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "remote GPU provider does not support parallel batches")
		return
	}

	reports := client.ParallelBatches(r.Context(), batches, policy, maxConcurrent)
	merged := mergeParallelReports(reports)
	merged.VideoID = cmpNonEmpty(merged.VideoID, uuid.New().String())
	recordPath("frame")
	h.respondAnalysis(w, r, merged, nil)
}

func mergeParallelReports(reports []compliance.Report) compliance.Report {
	if len(reports) == 0 {
		return compliance.Report{AnalyzedAt: time.Now().UTC()}
	}
	merged := reports[0]
	for _, rep := range reports[1:] {
		merged.AllVerdicts = append(merged.AllVerdicts, rep.AllVerdicts...)
		merged.Incidents = append(merged.Incidents, rep.Incidents...)
		merged.FrameObservations = append(merged.FrameObservations, rep.FrameObservations...)
		merged.TotalFramesAnalyzed += rep.TotalFramesAnalyzed
		if !rep.OverallCompliant {
			merged.OverallCompliant = false
		}
	}
	merged.AnalyzedAt = time.Now().UTC()
	return merged
}

type transcribeResponse struct {
	Status     string                       `json:"status"`
	Transcript *compliance.TranscriptResult `json:"transcript"`
}

// Transcribe handles POST /analyze/transcribe: a standalone Whisper-only
// transcription endpoint independent of the full analysis pipeline, per
// analyze.py's transcribe_audio_endpoint.
func (h *AnalyzeHandler) Transcribe(w http.ResponseWriter, r *http.Request) {
	path, cleanup, err := saveMultipartAudio(w, r, "audio")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer cleanup()

	transcript, err := h.Orchestrator.Speech.TranscribeVideo(r.Context(), path)
	if err != nil {
		respondJSON(w, http.StatusOK, transcribeResponse{Status: "error", Transcript: nil})
		return
	}
	respondJSON(w, http.StatusOK, transcribeResponse{Status: "complete", Transcript: transcript})
}

// Reset handles POST /analyze/reset: clears the Checklist Tracker singleton.
func (h *AnalyzeHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.Checklist.Reset()
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func cmpNonEmpty(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
