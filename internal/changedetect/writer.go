package changedetect

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/compliance"
)

type writeJob struct {
	frame Frame
	kf    compliance.KeyframeData
	path  string
}

// KeyframeWriter is the single background writer goroutine (spec.md §4.1
// "Thread C") that takes imwrite calls off the detector's hot path. It
// consumes a channel buffered to 256 jobs; once 256 writes are queued,
// Enqueue blocks until the writer takes one. Drain blocks until every
// queued write has completed.
type KeyframeWriter struct {
	dir string

	mu      sync.Mutex
	jobs    chan writeJob
	wg      sync.WaitGroup
	seq     int
	started bool
}

// NewKeyframeWriter constructs a writer rooted at dir. dir == "" disables
// on-disk persistence entirely — Enqueue then only assigns a path label and
// never touches the filesystem, used by in-memory/webcam callers.
func NewKeyframeWriter(dir string) *KeyframeWriter {
	w := &KeyframeWriter{dir: dir, jobs: make(chan writeJob, 256)}
	w.wg.Add(1)
	go w.run()
	return w
}

func (w *KeyframeWriter) run() {
	defer w.wg.Done()
	for job := range w.jobs {
		if w.dir == "" {
			continue
		}
		if err := os.MkdirAll(w.dir, 0o755); err != nil {
			log.Printf("changedetect: mkdir %s failed: %v", w.dir, err)
			continue
		}
		f, err := os.Create(job.path)
		if err != nil {
			log.Printf("changedetect: create %s failed: %v", job.path, err)
			continue
		}
		if err := jpeg.Encode(f, job.frame.Image, &jpeg.Options{Quality: 85}); err != nil {
			log.Printf("changedetect: encode %s failed: %v", job.path, err)
		}
		f.Close()
	}
}

// Enqueue assigns a filename (change_#### / sample_####) and hands the
// write off to the background goroutine. It returns without waiting for
// the disk write unless 256 writes are already queued, in which case it
// blocks until the writer takes one.
func (w *KeyframeWriter) Enqueue(kf compliance.KeyframeData, f Frame) (string, error) {
	w.mu.Lock()
	w.seq++
	seq := w.seq
	w.mu.Unlock()

	prefix := "change"
	if kf.Trigger == compliance.TriggerSample {
		prefix = "sample"
	}
	name := fmt.Sprintf("%s_%04d.jpg", prefix, seq)
	path := name
	if w.dir != "" {
		path = filepath.Join(w.dir, name)
	}

	if len(f.JPEGBytes) == 0 && f.Image != nil {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, f.Image, &jpeg.Options{Quality: 85}); err == nil {
			f.JPEGBytes = buf.Bytes()
		}
	}

	select {
	case w.jobs <- writeJob{frame: f, kf: kf, path: path}:
	default:
		// The channel holds 256 jobs; when it is full, fall back to a
		// blocking send rather than growing memory without limit.
		w.jobs <- writeJob{frame: f, kf: kf, path: path}
	}
	return path, nil
}

// Drain closes the job channel and waits for the writer goroutine to
// finish. Idempotent: calling it twice is safe (the second call panics on
// double-close, so Drain guards with a flag).
func (w *KeyframeWriter) Drain() error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = true
	close(w.jobs)
	w.mu.Unlock()
	w.wg.Wait()
	return nil
}
