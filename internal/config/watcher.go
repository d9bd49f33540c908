package config

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher holds the live Config and reloads it when config/default.yaml
// changes, falling back to a slow poll if fsnotify can't watch the file
// (not yet created, unsupported filesystem).
type Watcher struct {
	mu   sync.RWMutex
	cur  Config
	path string
}

// NewWatcher loads the initial config and returns a Watcher serving it.
func NewWatcher() (*Watcher, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	return &Watcher{cur: cfg, path: getEnv("CONFIG_FILE", "config/default.yaml")}, nil
}

// Current returns the most recently loaded Config.
func (w *Watcher) Current() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cur
}

func (w *Watcher) reload() {
	cfg, err := Load()
	if err != nil {
		log.Printf("config: reload failed, keeping previous config: %v", err)
		return
	}
	w.mu.Lock()
	w.cur = cfg
	w.mu.Unlock()
	log.Println("config: reloaded")
}

// Start runs the reload watcher until ctx is cancelled. It always runs a
// 60s poll loop alongside fsnotify as a safety net, same as the license
// watcher's belt-and-suspenders strategy.
func (w *Watcher) Start(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	usePush := err == nil
	if usePush {
		if err := watcher.Add(w.path); err != nil {
			log.Printf("config: failed to watch %s (%v), relying on poll loop", w.path, err)
			watcher.Close()
			usePush = false
		}
	} else {
		log.Printf("config: fsnotify unavailable (%v), relying on poll loop", err)
	}

	if usePush {
		go func() {
			defer watcher.Close()
			for {
				select {
				case <-ctx.Done():
					return
				case event, ok := <-watcher.Events:
					if !ok {
						return
					}
					if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
						time.Sleep(100 * time.Millisecond)
						w.reload()
					}
				case err, ok := <-watcher.Errors:
					if !ok {
						return
					}
					log.Printf("config: watcher error: %v", err)
				}
			}
		}()
	}

	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.reload()
			}
		}
	}()
}
