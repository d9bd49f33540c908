// Package orchestrator dispatches an analysis request to the right
// pipeline shape — a single frame, a short clip, or a long recording —
// and merges every stage's output into one finalized Report (spec.md §4.5).
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/aiclients"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/changedetect"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/compliance"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/dedup"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/metrics"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/reconcile"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/videosrc"
)

// ShortVideoDuration is the spec's Path A/B/C boundary: clips shorter than
// this, with visual rules and no speech rules, skip file-mode change
// detection in favor of interval sampling.
const ShortVideoDuration = 15 * time.Second

// ShortClipSampleFrames bounds interval sampling for short clips. The spec
// names max_webcam_frames (2-3) only for Path A's webcam batch; for short
// uploaded clips we sample a slightly larger fixed set so CombinedAnalysis
// sees enough of the clip to describe it, without re-running full
// change-threshold scoring.
const ShortClipSampleFrames = 10

// Orchestrator wires the AI clients, the provider registry, and the
// verdict reconciler into the three dispatch paths.
type Orchestrator struct {
	Vision      *aiclients.VisionClient
	Speech      *aiclients.SpeechClient
	Registry    *aiclients.Registry
	Reconciler  *reconcile.Reconciler
	DetectCfg   changedetect.Config
	KeyframeDir string

	// FrameDedup suppresses re-billing identical webcam frame submissions
	// (same frame bytes, same policy, within its TTL window). Optional —
	// a nil FrameDedup disables the check entirely.
	FrameDedup *dedup.Deduper
}

func New(vision *aiclients.VisionClient, speech *aiclients.SpeechClient, registry *aiclients.Registry, reconciler *reconcile.Reconciler, detectCfg changedetect.Config, keyframeDir string) *Orchestrator {
	return &Orchestrator{Vision: vision, Speech: speech, Registry: registry, Reconciler: reconciler, DetectCfg: detectCfg, KeyframeDir: keyframeDir}
}

// AnalyzeFrame implements Path A (§4.5): a single webcam/RTSP frame, plus
// an optional extra frames batch, dispatched to the selected provider's
// combined analysis. If the policy carries speech rules and the caller
// supplies an accumulated transcript, the Speech evaluator runs over it
// and the result is merged in.
func (o *Orchestrator) AnalyzeFrame(ctx context.Context, policy compliance.Policy, frame []byte, extraFrames [][]byte, accumulatedTranscript, provider string) (compliance.Report, error) {
	analyzer, err := o.Registry.Get(provider)
	if err != nil {
		return compliance.Report{}, fmt.Errorf("orchestrator: %w", err)
	}

	frames := append([][]byte{frame}, extraFrames...)

	var dedupKey string
	if o.FrameDedup != nil {
		dedupKey = dedup.BuildKey(frames, policy.Rules)
		if cached, ok := o.FrameDedup.Lookup(dedupKey); ok {
			log.Printf("orchestrator: duplicate frame submission, reusing cached analysis")
			metrics.RecordFrameDedupHit()
			return o.finalizeFrameAnalysis(ctx, cached, policy, frame, accumulatedTranscript)
		}
	}

	visualRaw, err := analyzer.AnalyzeFrame(ctx, frames, policy)
	if err != nil {
		return compliance.Report{}, fmt.Errorf("orchestrator: vision analysis failed: %w", err)
	}
	if o.FrameDedup != nil {
		o.FrameDedup.Store(dedupKey, visualRaw)
	}

	return o.finalizeFrameAnalysis(ctx, visualRaw, policy, frame, accumulatedTranscript)
}

// finalizeFrameAnalysis runs dual-mode filtering and the optional speech
// merge over a (possibly dedup-cached) raw visual Report. Split out of
// AnalyzeFrame so a cache hit and a fresh provider call share one path.
func (o *Orchestrator) finalizeFrameAnalysis(ctx context.Context, visualRaw compliance.Report, policy compliance.Policy, frame []byte, accumulatedTranscript string) (compliance.Report, error) {
	now := time.Now().UTC()
	// A single synthetic observation carrying the primary frame, used only
	// as the thumbnail fallback source — Path A produces no per-frame
	// FrameObservations the way the batch-observe paths do.
	observations := []compliance.FrameObservation{{Timestamp: 0, ImageBytes: frame}}
	visualFinal := o.Reconciler.Finalize(now, visualRaw, policy, observations)

	speechRules := policy.SpeechRules()
	if len(speechRules) == 0 || accumulatedTranscript == "" {
		return visualFinal, nil
	}

	speechRaw, err := o.Speech.EvaluateSpeech(ctx, accumulatedTranscript, speechRules)
	if err != nil {
		log.Printf("orchestrator: speech evaluation failed, continuing visual-only: %v", err)
		return visualFinal, nil
	}
	speechFinal := o.Reconciler.Finalize(now, speechRaw, policy, observations)
	return reconcile.MergeSpeech(visualFinal, speechFinal.AllVerdicts), nil
}

// AnalyzeVideo dispatches an uploaded video between Path B (short clip,
// visual-only) and Path C (everything else) based on its probed duration
// and the policy's rule shape.
func (o *Orchestrator) AnalyzeVideo(ctx context.Context, policy compliance.Policy, videoPath string) (compliance.Report, error) {
	duration, err := videosrc.Duration(ctx, videoPath)
	if err != nil {
		return compliance.Report{}, fmt.Errorf("orchestrator: probe duration: %w", err)
	}

	if isShortVideoPath(duration, len(policy.VisualRules()), len(policy.SpeechRules())) {
		return o.analyzeShortVideo(ctx, policy, videoPath, duration)
	}
	return o.analyzeLongVideo(ctx, policy, videoPath)
}

// isShortVideoPath implements §4.5 Path B's selection rule: short clip,
// at least one visual rule, and no speech rules at all.
func isShortVideoPath(durationSeconds float64, visualRuleCount, speechRuleCount int) bool {
	return durationSeconds < ShortVideoDuration.Seconds() && visualRuleCount > 0 && speechRuleCount == 0
}

// analyzeShortVideo implements Path B: interval-sample the clip, then a
// single combined-analysis call over the sampled frames.
func (o *Orchestrator) analyzeShortVideo(ctx context.Context, policy compliance.Policy, videoPath string, duration float64) (compliance.Report, error) {
	events, err := o.captureIntervalKeyframes(ctx, videoPath, duration)
	if err != nil {
		return compliance.Report{}, err
	}

	keyframes := eventsToKeyframes(events)
	report, err := o.Vision.CombinedAnalysis(ctx, keyframes, policy)
	if err != nil {
		return compliance.Report{}, fmt.Errorf("orchestrator: combined analysis failed: %w", err)
	}

	now := time.Now().UTC()
	observations := keyframesToObservations(keyframes)
	return o.Reconciler.Finalize(now, report, policy, observations), nil
}

// analyzeLongVideo implements Path C: file-mode change detection, parallel
// observe+transcribe, then parallel evaluate+report, merged per §4.4.
func (o *Orchestrator) analyzeLongVideo(ctx context.Context, policy compliance.Policy, videoPath string) (compliance.Report, error) {
	events, _, err := o.CaptureFileKeyframes(ctx, videoPath, nil)
	if err != nil {
		return compliance.Report{}, err
	}
	keyframes := eventsToKeyframes(events)

	visualRules := policy.VisualRules()
	speechRules := policy.SpeechRules()
	hasVisual := len(visualRules) > 0
	hasSpeech := len(speechRules) > 0 || policy.IncludeAudio

	observations, transcript, err := o.observeAndTranscribe(ctx, keyframes, policy, videoPath, hasVisual, hasSpeech)
	if err != nil {
		return compliance.Report{}, err
	}

	visualReport, speechReport, err := o.evaluateAndReport(ctx, observations, policy, transcript, hasVisual, hasSpeech)
	if err != nil {
		return compliance.Report{}, err
	}

	now := time.Now().UTC()
	visualFinal := o.Reconciler.Finalize(now, visualReport, policy, observations)
	if speechReport == nil {
		return visualFinal, nil
	}
	speechFinal := o.Reconciler.Finalize(now, *speechReport, policy, observations)
	return reconcile.MergeSpeech(visualFinal, speechFinal.AllVerdicts), nil
}

// observeAndTranscribe runs §4.5 Path C step 3: Vision observe-batch and
// Speech extract+transcribe fanned out in parallel. A Vision failure is
// fatal; a Speech failure is logged and the pipeline proceeds
// transcript-less.
func (o *Orchestrator) observeAndTranscribe(ctx context.Context, keyframes []compliance.KeyframeData, policy compliance.Policy, videoPath string, hasVisual, hasSpeech bool) ([]compliance.FrameObservation, *compliance.TranscriptResult, error) {
	var observations []compliance.FrameObservation
	var transcript *compliance.TranscriptResult
	var visionErr error

	done := make(chan struct{}, 2)
	running := 0

	if hasVisual {
		running++
		go func() {
			defer func() { done <- struct{}{} }()
			observations = o.Vision.ObserveBatch(ctx, keyframes, policy)
			if ctx.Err() != nil {
				visionErr = ctx.Err()
			}
		}()
	}
	if hasSpeech {
		running++
		go func() {
			defer func() { done <- struct{}{} }()
			t, err := o.Speech.TranscribeVideo(ctx, videoPath)
			if err != nil {
				log.Printf("orchestrator: speech transcription failed, continuing without transcript: %v", err)
				return
			}
			transcript = t
		}()
	}
	for i := 0; i < running; i++ {
		<-done
	}

	if visionErr != nil {
		return nil, nil, fmt.Errorf("orchestrator: vision observation cancelled: %w", visionErr)
	}
	return observations, transcript, nil
}

// evaluateAndReport runs §4.5 Path C step 4: Visual evaluate_and_report and
// Speech evaluate_speech fanned out in parallel. A Visual error is fatal; a
// Speech error is logged and skipped.
func (o *Orchestrator) evaluateAndReport(ctx context.Context, observations []compliance.FrameObservation, policy compliance.Policy, transcript *compliance.TranscriptResult, hasVisual, hasSpeech bool) (compliance.Report, *compliance.Report, error) {
	var visualReport compliance.Report
	var speechReport *compliance.Report
	var visualErr error

	done := make(chan struct{}, 2)
	running := 0

	if hasVisual && len(observations) > 0 {
		running++
		go func() {
			defer func() { done <- struct{}{} }()
			rep, err := o.Vision.EvaluateAndReport(ctx, observations, policy, transcript)
			if err != nil {
				visualErr = err
				return
			}
			visualReport = rep
		}()
	}
	speechRules := policy.SpeechRules()
	if hasSpeech && transcript != nil && transcript.FullText != "" && len(speechRules) > 0 {
		running++
		go func() {
			defer func() { done <- struct{}{} }()
			rep, err := o.Speech.EvaluateSpeech(ctx, transcript.FullText, speechRules)
			if err != nil {
				log.Printf("orchestrator: speech evaluation failed, continuing visual-only: %v", err)
				return
			}
			speechReport = &rep
		}()
	}
	for i := 0; i < running; i++ {
		<-done
	}

	if visualErr != nil {
		return compliance.Report{}, nil, fmt.Errorf("orchestrator: visual evaluation failed: %w", visualErr)
	}
	return visualReport, speechReport, nil
}

// CaptureFileKeyframes runs file-mode change detection over videoPath and
// applies the container fallback from spec §4.1: if the primary decoder
// yields zero readable frames and the source extension indicates a
// web-container format, it invokes the external transcoder once to
// produce an mp4 copy and retries, escalating to NoKeyframes only after
// that retry still comes up empty (or to DecodeFailure if the transcode
// itself fails). onChange is forwarded to the Detector unchanged, so
// callers streaming live keyframe events (api.Upload) see events from
// whichever decode attempt actually succeeds. It returns the decoded
// source's FPS alongside the events since Upload's response metadata
// needs it and the source may have been reopened against the fallback
// file.
func (o *Orchestrator) CaptureFileKeyframes(ctx context.Context, videoPath string, onChange changedetect.OnChange) ([]changedetect.ChangeEvent, float64, error) {
	events, fps, err := o.runFileDetection(ctx, videoPath, onChange)
	if err != nil {
		return nil, 0, err
	}
	if len(events) > 0 {
		return events, fps, nil
	}
	if !videosrc.IsWebContainer(videoPath) {
		return nil, 0, compliance.NewStageError("ChangeDetection", compliance.KindNoKeyframes, "no keyframes produced", nil)
	}

	mp4Path, terr := videosrc.TranscodeToMP4(ctx, videoPath)
	if terr != nil {
		return nil, 0, compliance.NewStageError("ChangeDetection", compliance.KindDecodeFailure, "primary decoder rejected source and fallback transcode errored", terr)
	}
	defer os.Remove(mp4Path)

	events, fps, err = o.runFileDetection(ctx, mp4Path, onChange)
	if err != nil {
		return nil, 0, err
	}
	if len(events) == 0 {
		return nil, 0, compliance.NewStageError("ChangeDetection", compliance.KindNoKeyframes, "no keyframes produced after fallback transcode", nil)
	}
	return events, fps, nil
}

func (o *Orchestrator) runFileDetection(ctx context.Context, videoPath string, onChange changedetect.OnChange) ([]changedetect.ChangeEvent, float64, error) {
	src, err := videosrc.Open(ctx, videoPath)
	if err != nil {
		return nil, 0, fmt.Errorf("orchestrator: open video: %w", err)
	}
	defer src.Close()

	detector := changedetect.New(o.DetectCfg, o.KeyframeDir, onChange)
	events, err := changedetect.RunFile(ctx, detector, src)
	if finalizeErr := detector.Finalize(); finalizeErr != nil {
		log.Printf("orchestrator: keyframe writer drain failed: %v", finalizeErr)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("orchestrator: change detection: %w", err)
	}
	return events, src.FPS(), nil
}

// captureIntervalKeyframes is analyzeShortVideo's counterpart to
// CaptureFileKeyframes, applying the same container-fallback rule to
// Path B's interval sampling.
func (o *Orchestrator) captureIntervalKeyframes(ctx context.Context, videoPath string, duration float64) ([]changedetect.ChangeEvent, error) {
	events, err := o.runIntervalDetection(ctx, videoPath, duration)
	if err != nil {
		return nil, err
	}
	if len(events) > 0 {
		return events, nil
	}
	if !videosrc.IsWebContainer(videoPath) {
		return nil, compliance.NewStageError("ChangeDetection", compliance.KindNoKeyframes, "no keyframes sampled", nil)
	}

	mp4Path, terr := videosrc.TranscodeToMP4(ctx, videoPath)
	if terr != nil {
		return nil, compliance.NewStageError("ChangeDetection", compliance.KindDecodeFailure, "primary decoder rejected source and fallback transcode errored", terr)
	}
	defer os.Remove(mp4Path)

	events, err = o.runIntervalDetection(ctx, mp4Path, duration)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, compliance.NewStageError("ChangeDetection", compliance.KindNoKeyframes, "no keyframes sampled after fallback transcode", nil)
	}
	return events, nil
}

func (o *Orchestrator) runIntervalDetection(ctx context.Context, videoPath string, duration float64) ([]changedetect.ChangeEvent, error) {
	src, err := videosrc.Open(ctx, videoPath)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: open video: %w", err)
	}
	defer src.Close()

	detector := changedetect.New(o.DetectCfg, o.KeyframeDir, nil)
	total := int(duration * src.FPS())
	events, err := changedetect.RunInterval(ctx, detector, src, total, ShortClipSampleFrames)
	if finalizeErr := detector.Finalize(); finalizeErr != nil {
		log.Printf("orchestrator: keyframe writer drain failed: %v", finalizeErr)
	}
	if err != nil {
		return nil, fmt.Errorf("orchestrator: interval sampling: %w", err)
	}
	return events, nil
}

func eventsToKeyframes(events []changedetect.ChangeEvent) []compliance.KeyframeData {
	out := make([]compliance.KeyframeData, len(events))
	for i, e := range events {
		out[i] = e.Keyframe
	}
	return out
}

// keyframesToObservations gives Path B's single combined-analysis call the
// same thumbnail-fallback material ObserveBatch-backed paths get for free.
func keyframesToObservations(keyframes []compliance.KeyframeData) []compliance.FrameObservation {
	out := make([]compliance.FrameObservation, len(keyframes))
	for i, kf := range keyframes {
		out[i] = compliance.FrameObservation{Timestamp: kf.Timestamp, ImageBytes: kf.ImageBytes, Trigger: kf.Trigger, ChangeScore: kf.ChangeScore}
	}
	return out
}
