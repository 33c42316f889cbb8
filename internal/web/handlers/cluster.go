package handlers

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/racepix/racepix/internal/cluster"
)

// ClusterHandler triggers clustering passes on demand.
type ClusterHandler struct {
	scheduler *cluster.Scheduler
}

func NewClusterHandler(scheduler *cluster.Scheduler) *ClusterHandler {
	return &ClusterHandler{scheduler: scheduler}
}

// Run handles POST /api/v1/events/{eventID}/cluster. It bypasses the
// debounce window and runs a pass immediately.
func (h *ClusterHandler) Run(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	summary, err := h.scheduler.RunNow(r.Context(), eventID)
	if err != nil {
		log.Printf("clustering for event %s: %v", sanitizeForLog(eventID), err)
		respondError(w, http.StatusInternalServerError, "clustering pass failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"photos_linked":     summary.PhotosLinked,
		"new_bibs_assigned": summary.NewBibsAssigned,
		"credits_refunded":  summary.CreditsRefunded,
	})
}
