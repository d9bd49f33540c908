package changedetect

import (
	"context"
	"math"
	"time"
)

// RunFile drives the file-mode threaded pipeline described in spec.md
// §4.1: a reader goroutine decodes sequentially (no seeking) and decimates
// by floor(fps * sample_interval), pushing frames into a bounded channel;
// this goroutine (the caller's) consumes them, runs the comparator, and
// queues writes through d.writer. On EOF, force-captures the final frame
// if it wasn't already captured.
//
// RunFile returns the detector's events once the source is exhausted or
// ctx is cancelled. It does not call Finalize — callers decide when to
// drain the writer (they may want to keep capturing across multiple
// sources sharing one Detector).
func RunFile(ctx context.Context, d *Detector, src FrameSource) ([]ChangeEvent, error) {
	decimation := decimationStride(src.FPS(), d.cfg.SampleInterval)

	frames := make(chan Frame, 30)
	errc := make(chan error, 1)

	go func() {
		defer close(frames)
		kept := 0
		for {
			f, ok, err := src.Next()
			if err != nil {
				errc <- err
				return
			}
			if !ok {
				return
			}
			if kept%decimation != 0 {
				kept++
				continue
			}
			kept++
			select {
			case frames <- f:
			case <-ctx.Done():
				return
			}
		}
	}()

	var last Frame
	var haveLast bool
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				goto drained
			}
			d.Process(f)
			last = f
			haveLast = true
		case <-ctx.Done():
			return d.Events(), ctx.Err()
		}
	}

drained:
	select {
	case err := <-errc:
		if err != nil {
			return d.Events(), err
		}
	default:
	}

	if haveLast {
		d.ForceLast(last)
	}
	return d.Events(), nil
}

// decimationStride computes floor(fps * sampleInterval), never less than 1.
func decimationStride(fps float64, interval time.Duration) int {
	if fps <= 0 {
		return 1
	}
	stride := int(math.Floor(fps * interval.Seconds()))
	if stride < 1 {
		return 1
	}
	return stride
}

// SampleIndices computes min(N_max, total) evenly spaced frame indices for
// interval-sampling short videos (spec.md §4.1's "For short videos (<15s)
// the orchestrator may instead request interval sampling").
func SampleIndices(total, nMax int) []int {
	if total <= 0 {
		return nil
	}
	n := nMax
	if total < n {
		n = total
	}
	if n <= 0 {
		return nil
	}
	out := make([]int, n)
	if n == 1 {
		out[0] = 0
		return out
	}
	for i := 0; i < n; i++ {
		out[i] = i * (total - 1) / (n - 1)
	}
	return out
}

// RunInterval drives d in interval-sample mode: it decodes src sequentially
// (no seeking, matching RunFile's decoder contract) and captures only the
// frames at the evenly spaced indices SampleIndices picks for (total,
// nMax), ignoring change-threshold scoring entirely. total must be an
// upper bound on the source's frame count; indices beyond the actual
// stream length are simply never reached.
func RunInterval(ctx context.Context, d *Detector, src FrameSource, total, nMax int) ([]ChangeEvent, error) {
	wanted := make(map[int]bool, nMax)
	for _, idx := range SampleIndices(total, nMax) {
		wanted[idx] = true
	}

	index := 0
	for {
		select {
		case <-ctx.Done():
			return d.Events(), ctx.Err()
		default:
		}

		f, ok, err := src.Next()
		if err != nil {
			return d.Events(), err
		}
		if !ok {
			break
		}
		if wanted[index] {
			d.CaptureSample(f)
		}
		index++
	}
	return d.Events(), nil
}
