package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/racepix/racepix/internal/credits"
	"github.com/racepix/racepix/internal/database"
	"github.com/racepix/racepix/internal/pipeline"
	"github.com/racepix/racepix/internal/session"
)

// Upload limits. A race shoot batch is large but each file is one photo.
const (
	maxUploadMemory = 32 << 20  // multipart parse buffer
	maxFileSize     = 100 << 20 // per file
	maxBatchFiles   = 500
)

// UploadHandler accepts photo batches and feeds them to the pipeline.
type UploadHandler struct {
	photos      database.PhotoStore
	credits     *credits.Service
	sessions    *session.Store
	queue       *pipeline.Queue
	coordinator *pipeline.Coordinator
}

func NewUploadHandler(photos database.PhotoStore, creditSvc *credits.Service, sessions *session.Store, queue *pipeline.Queue, coordinator *pipeline.Coordinator) *UploadHandler {
	return &UploadHandler{
		photos:      photos,
		credits:     creditSvc,
		sessions:    sessions,
		queue:       queue,
		coordinator: coordinator,
	}
}

type uploadResponse struct {
	SessionID string   `json:"session_id"`
	PhotoIDs  []string `json:"photo_ids"`
	Debited   int      `json:"debited"`
	Balance   int      `json:"balance"`
}

// Upload handles POST /api/v1/events/{eventID}/photos. The whole batch is
// debited up front; acceptance enqueues the photos and returns immediately
// with a session ID for progress tracking.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	uid := userID(r)
	if uid == "" {
		respondError(w, http.StatusBadRequest, "missing X-User-ID header")
		return
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		respondError(w, http.StatusBadRequest, "invalid multipart request")
		return
	}

	files := r.MultipartForm.File["photos"]
	if len(files) == 0 {
		respondError(w, http.StatusBadRequest, "no photos in request")
		return
	}
	if len(files) > maxBatchFiles {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("batch exceeds %d files", maxBatchFiles))
		return
	}

	// Read everything before debiting; a half-read batch must not charge.
	type upload struct {
		photo database.Photo
		data  []byte
	}
	uploads := make([]upload, 0, len(files))
	for _, fh := range files {
		if fh.Size > maxFileSize {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("file %s too large", sanitizeForLog(fh.Filename)))
			return
		}
		f, err := fh.Open()
		if err != nil {
			respondError(w, http.StatusBadRequest, "unreadable file in batch")
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			respondError(w, http.StatusBadRequest, "unreadable file in batch")
			return
		}
		uploads = append(uploads, upload{
			photo: database.Photo{
				ID:           uuid.NewString(),
				EventID:      eventID,
				UserID:       uid,
				OriginalName: fh.Filename,
			},
			data: data,
		})
	}

	debit, err := h.credits.DebitBatch(r.Context(), uid, len(uploads))
	if err != nil {
		if errors.Is(err, database.ErrInsufficientCredits) {
			respondError(w, http.StatusPaymentRequired, "insufficient credits for batch")
			return
		}
		log.Printf("debit for user %s: %v", sanitizeForLog(uid), err)
		respondError(w, http.StatusInternalServerError, "failed to debit credits")
		return
	}

	photos := make([]database.Photo, len(uploads))
	photoIDs := make([]string, len(uploads))
	for i, u := range uploads {
		photos[i] = u.photo
		photoIDs[i] = u.photo.ID
	}
	if err := h.photos.CreateBatch(r.Context(), photos); err != nil {
		log.Printf("create batch for user %s: %v", sanitizeForLog(uid), err)
		// The debit already landed; give the credits back before failing.
		if rerr := h.credits.RefundBatch(r.Context(), uid, len(uploads), photoIDs[0]); rerr != nil {
			log.Printf("compensating refund for user %s: %v", sanitizeForLog(uid), rerr)
		}
		respondError(w, http.StatusInternalServerError, "failed to register photos")
		return
	}

	sess := h.sessions.Create(eventID, uid, len(uploads))
	for _, u := range uploads {
		photo := u.photo
		data := u.data
		h.queue.Enqueue(pipeline.Task{
			Name: "process-" + photo.ID,
			Run: func(ctx context.Context) {
				h.coordinator.Process(ctx, photo, data, sess)
			},
		})
	}

	respondJSON(w, http.StatusAccepted, uploadResponse{
		SessionID: sess.ID(),
		PhotoIDs:  photoIDs,
		Debited:   -debit.Amount,
		Balance:   debit.BalanceAfter,
	})
}
