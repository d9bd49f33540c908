// Package changedetect implements the keyframe extractor: given a stream of
// raw video frames, it emits the subset that are visually distinct enough to
// be worth sending to the AI clients, with bounded temporal gaps.
package changedetect

import (
	"image"
	"time"
)

// Frame is one raw decoded frame plus its wall/video-clock timestamp.
type Frame struct {
	Index     int
	Timestamp float64 // seconds
	Image     image.Image
	JPEGBytes []byte // original encoding, kept only when the frame is captured
}

// FrameSource abstracts the decoder. The detector never decodes video
// itself — it only scores and captures frames handed to it through this
// interface, supplied by an external decoder (ffmpeg/OpenCV-backed in a
// production binary).
type FrameSource interface {
	// Next returns the next decoded frame, or ok=false at end of stream.
	Next() (f Frame, ok bool, err error)
	// FPS reports the source's frame rate, used to compute the sample
	// decimation interval in file mode.
	FPS() float64
	Close() error
}

// Config holds the detector's tunable parameters (spec.md §6
// "Configuration (enumerated)").
type Config struct {
	SampleInterval    time.Duration // streaming sampler period; also sets the file-mode decimation stride
	ChangeThreshold   float64       // default 0.10
	MinChangeInterval time.Duration // default 0.5s
	MaxGap            time.Duration // default 10s
	MaxWidth          int           // default 768; not read: captured keyframes keep the source frame's size
	JPEGQuality       int           // default 85; not read: the keyframe writer always encodes at quality 85
}

// DefaultConfig matches spec.md §6's stated defaults.
func DefaultConfig() Config {
	return Config{
		SampleInterval:    300 * time.Millisecond,
		ChangeThreshold:   0.10,
		MinChangeInterval: 500 * time.Millisecond,
		MaxGap:            10 * time.Second,
		MaxWidth:          768,
		JPEGQuality:       85,
	}
}

const (
	resizeDim    = 256 // preprocessing square
	histHBins    = 50
	histSBins    = 60
	grayDiffTol  = 25      // |Δgray| > 25 counts as a changed pixel
	earlyExitC   = 0.95    // histogram-correlation early-exit threshold
	pixelCount   = resizeDim * resizeDim
)
