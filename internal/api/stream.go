package api

import (
	"log"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/kuzeykantarcioglu/compliance-vision-cloud/internal/changedetect"
)

// keyframeHub fans out Change Detector events to any websocket watchers of
// a given video_id, so a streaming-mode caller can see keyframes land while
// POST /analyze/upload is still running instead of waiting for the final
// manifest.
type keyframeHub struct {
	mu   sync.Mutex
	subs map[string][]chan changedetect.ChangeEvent
}

func newKeyframeHub() *keyframeHub {
	return &keyframeHub{subs: make(map[string][]chan changedetect.ChangeEvent)}
}

func (h *keyframeHub) subscribe(videoID string) chan changedetect.ChangeEvent {
	ch := make(chan changedetect.ChangeEvent, 16)
	h.mu.Lock()
	h.subs[videoID] = append(h.subs[videoID], ch)
	h.mu.Unlock()
	return ch
}

func (h *keyframeHub) unsubscribe(videoID string, ch chan changedetect.ChangeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.subs[videoID]
	for i, c := range subs {
		if c == ch {
			h.subs[videoID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(h.subs[videoID]) == 0 {
		delete(h.subs, videoID)
	}
}

func (h *keyframeHub) publish(videoID string, event changedetect.ChangeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[videoID] {
		select {
		case ch <- event:
		default:
			// Slow watcher; drop rather than block keyframe capture.
		}
	}
}

func (h *keyframeHub) close(videoID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[videoID] {
		close(ch)
	}
	delete(h.subs, videoID)
}

var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamKeyframes handles GET /analyze/stream/{video_id}: upgrades to a
// websocket and forwards each keyframe event captured for that video_id
// until the upload's Change Detector run finishes or the client disconnects.
func (h *AnalyzeHandler) StreamKeyframes(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "video_id")
	if videoID == "" {
		respondError(w, http.StatusBadRequest, "video_id is required")
		return
	}

	conn, err := streamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("api: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ch := h.Stream.subscribe(videoID)
	defer h.Stream.unsubscribe(videoID, ch)

	for event := range ch {
		if err := conn.WriteJSON(event); err != nil {
			return
		}
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
}
