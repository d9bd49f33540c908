package changedetect

import (
	"context"
	"sync"
	"time"
)

// StreamingDetector runs the live-webcam/RTSP mode described in spec.md
// §4.1: one grabber goroutine continuously overwrites a single-slot latest-
// frame cell (oldest reads drop silently — backpressure by overwrite, not
// by queue), and one sampler goroutine wakes every SampleInterval, snapshots
// the cell, and runs the comparator. This guarantees analysis always sees
// the most recent view even when downstream processing lags, mirroring the
// single-slot "latest detection" cell in the reference VMS's live viewer
// session service.
type StreamingDetector struct {
	det *Detector

	mu    sync.Mutex
	slot  Frame
	valid bool

	stop chan struct{}
	done chan struct{}
}

// NewStreaming constructs a StreamingDetector around an already-built
// Detector.
func NewStreaming(det *Detector) *StreamingDetector {
	return &StreamingDetector{det: det, stop: make(chan struct{}), done: make(chan struct{})}
}

// Feed is called by the grabber (owned by the caller, e.g. an RTSP reader
// loop) for every frame it decodes. It only overwrites the slot — it never
// blocks.
func (s *StreamingDetector) Feed(f Frame) {
	s.mu.Lock()
	s.slot = f
	s.valid = true
	s.mu.Unlock()
}

// Start launches the sampler goroutine. Stop joins it within 3s (spec.md §5
// "Streaming detector: stopped via a stop signal; grabber and sampler join
// within 3 s, writer then drains").
func (s *StreamingDetector) Start(ctx context.Context) {
	go s.sample(ctx)
}

func (s *StreamingDetector) sample(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.det.cfg.SampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			f, ok := s.slot, s.valid
			s.mu.Unlock()
			if ok {
				s.det.Process(f)
			}
		}
	}
}

// Stop signals the sampler to exit and waits up to 3s for it to join, then
// drains the keyframe writer.
func (s *StreamingDetector) Stop() error {
	close(s.stop)
	select {
	case <-s.done:
	case <-time.After(3 * time.Second):
	}
	return s.det.Finalize()
}

// Events returns the keyframes captured so far.
func (s *StreamingDetector) Events() []ChangeEvent {
	return s.det.Events()
}
