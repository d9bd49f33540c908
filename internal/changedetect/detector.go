package changedetect

import (
	"log"
	"sync"
	"time"

	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/compliance"
	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/metrics"
)

// ChangeEvent is what on_change fires with — a captured keyframe plus its
// score (0 for first/last/sample captures; change and max_gap captures
// carry the score computed for that frame).
type ChangeEvent struct {
	Keyframe compliance.KeyframeData
	Score    float64
}

// OnChange is invoked synchronously inside the detector at capture time.
// It must not block indefinitely. Within one Detector, events fire in
// monotonically increasing timestamp order.
type OnChange func(ChangeEvent)

// Detector runs the capture-policy state machine described in spec.md
// §4.1. It is not safe for concurrent Process calls from multiple
// goroutines — each pipeline (file-mode or streaming) owns exactly one
// Detector and drives it from a single goroutine.
type Detector struct {
	cfg Config

	mu              sync.Mutex // guards the fields below, for Reset/Finalize called from another goroutine
	prevPrep        *prepared
	lastCaptureTime time.Duration
	haveFirst       bool
	lastFrameNumber int
	lastCaptured    bool

	writer   *KeyframeWriter
	onChange OnChange

	events []ChangeEvent
}

// New constructs a Detector. dir is the per-request keyframe directory (see
// spec.md §6 "On-disk state"); pass "" to keep captured images in memory
// only (used by streaming/webcam callers that never touch disk).
func New(cfg Config, dir string, onChange OnChange) *Detector {
	return &Detector{
		cfg:      cfg,
		writer:   NewKeyframeWriter(dir),
		onChange: onChange,
	}
}

// Process runs one frame through the capture policy. It is safe to call
// repeatedly from the single owning goroutine.
func (d *Detector) Process(f Frame) {
	prep := prepare(f.Image)
	t := time.Duration(f.Timestamp * float64(time.Second))

	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case !d.haveFirst:
		d.capture(f, prep, 0, compliance.TriggerFirst, t)
		d.haveFirst = true

	default:
		score := changeScore(d.prevPrep, prep)
		sinceLastCapture := t - d.lastCaptureTime
		switch {
		case score >= d.cfg.ChangeThreshold && sinceLastCapture >= d.cfg.MinChangeInterval:
			d.capture(f, prep, score, compliance.TriggerChange, t)
		case sinceLastCapture >= d.cfg.MaxGap:
			d.capture(f, prep, score, compliance.TriggerMaxGap, t)
		default:
			d.lastCaptured = false
		}
	}

	d.lastFrameNumber = f.Index
}

// capture must be called with d.mu held.
func (d *Detector) capture(f Frame, prep *prepared, score float64, trigger compliance.Trigger, t time.Duration) {
	d.prevPrep = prep
	d.lastCaptureTime = t
	d.lastCaptured = true

	kf := compliance.KeyframeData{
		Timestamp:   f.Timestamp,
		FrameNumber: f.Index,
		ChangeScore: score,
		Trigger:     trigger,
		ImageBytes:  f.JPEGBytes,
	}
	if path, err := d.writer.Enqueue(kf, f); err != nil {
		log.Printf("changedetect: keyframe write failed, dropping event: %v", err)
		return
	} else {
		kf.KeyframePath = path
	}

	d.events = append(d.events, ChangeEvent{Keyframe: kf, Score: score})
	metrics.RecordKeyframe(string(trigger))
	if d.onChange != nil {
		d.onChange(ChangeEvent{Keyframe: kf, Score: score})
	}
}

// ForceLast force-captures the final frame if it wasn't already captured —
// the file-mode pipeline's EOF rule.
func (d *Detector) ForceLast(f Frame) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lastCaptured {
		return
	}
	prep := prepare(f.Image)
	t := time.Duration(f.Timestamp * float64(time.Second))
	d.capture(f, prep, 0, compliance.TriggerLast, t)
}

// CaptureSample unconditionally captures f with trigger=sample, for the
// interval-sampling mode short clips use instead of change-threshold
// scoring (spec.md §4.1).
func (d *Detector) CaptureSample(f Frame) {
	d.mu.Lock()
	defer d.mu.Unlock()
	prep := prepare(f.Image)
	t := time.Duration(f.Timestamp * float64(time.Second))
	d.capture(f, prep, 0, compliance.TriggerSample, t)
}

// Events returns the keyframes captured so far, in capture order (which is
// always ascending timestamp order per spec.md I5).
func (d *Detector) Events() []ChangeEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]ChangeEvent, len(d.events))
	copy(out, d.events)
	return out
}

// Finalize drains the keyframe writer. Idempotent.
func (d *Detector) Finalize() error {
	return d.writer.Drain()
}

// Reset clears all detector state so the same Detector can be reused for a
// new request.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prevPrep = nil
	d.lastCaptureTime = 0
	d.haveFirst = false
	d.lastFrameNumber = 0
	d.lastCaptured = false
	d.events = nil
}
