package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/racepix/racepix/internal/session"
)

// completeGracePeriod keeps the stream open after the complete event so a
// slow client reads it before the connection drops.
const completeGracePeriod = time.Second

// ProgressHandler streams upload session progress over SSE.
type ProgressHandler struct {
	sessions *session.Store
}

func NewProgressHandler(sessions *session.Store) *ProgressHandler {
	return &ProgressHandler{sessions: sessions}
}

// Events handles GET /api/v1/uploads/{sessionID}/events. The stream starts
// with the current snapshot, then forwards progress events until the
// session completes or the client disconnects.
func (h *ProgressHandler) Events(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := sess.AddListener()
	defer sess.RemoveListener(ch)

	snapshot := sess.Snapshot()
	if snapshot.Complete {
		sendSSEEvent(w, flusher, "complete", snapshot)
		holdAfterComplete(r)
		return
	}
	sendSSEEvent(w, flusher, "progress", snapshot)

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-ch:
			if !open {
				return
			}
			sendSSEEvent(w, flusher, event.Type, event.Session)
			if event.Type == "complete" {
				holdAfterComplete(r)
				return
			}
		}
	}
}

func holdAfterComplete(r *http.Request) {
	select {
	case <-r.Context().Done():
	case <-time.After(completeGracePeriod):
	}
}
