package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/racepix/racepix/internal/database"
	"github.com/racepix/racepix/internal/objstore"
)

// downloadExpirySeconds bounds how long a presigned rendition URL stays valid.
const downloadExpirySeconds = 600

// PhotosHandler exposes photo processing state and linkage.
type PhotosHandler struct {
	photos database.PhotoStore
	bibs   database.BibStore
	faces  database.FaceStore
	store  objstore.Store
}

func NewPhotosHandler(photos database.PhotoStore, bibs database.BibStore, faces database.FaceStore, store objstore.Store) *PhotosHandler {
	return &PhotosHandler{photos: photos, bibs: bibs, faces: faces, store: store}
}

// Get handles GET /api/v1/photos/{photoID}.
func (h *PhotosHandler) Get(w http.ResponseWriter, r *http.Request) {
	photoID := chi.URLParam(r, "photoID")

	photo, err := h.photos.Get(r.Context(), photoID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, http.StatusNotFound, "photo not found")
			return
		}
		log.Printf("get photo %s: %v", sanitizeForLog(photoID), err)
		respondError(w, http.StatusInternalServerError, "failed to load photo")
		return
	}

	bibs, err := h.bibs.GetForPhoto(r.Context(), photoID)
	if err != nil {
		log.Printf("bibs for photo %s: %v", sanitizeForLog(photoID), err)
		respondError(w, http.StatusInternalServerError, "failed to load bibs")
		return
	}
	faces, err := h.faces.GetFaces(r.Context(), photoID)
	if err != nil {
		log.Printf("faces for photo %s: %v", sanitizeForLog(photoID), err)
		respondError(w, http.StatusInternalServerError, "failed to load faces")
		return
	}

	bibList := make([]map[string]any, len(bibs))
	for i, b := range bibs {
		bibList[i] = map[string]any{
			"number":     b.Number,
			"confidence": b.Confidence,
			"source":     b.Source,
		}
	}
	faceList := make([]map[string]any, len(faces))
	for i, f := range faces {
		faceList[i] = map[string]any{
			"face_id":    f.FaceID,
			"confidence": f.Confidence,
			"bbox":       f.BBox,
			"crop_key":   f.CropKey,
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"id":            photo.ID,
		"event_id":      photo.EventID,
		"original_name": photo.OriginalName,
		"web_key":       photo.WebKey,
		"thumb_key":     photo.ThumbKey,
		"quality_score": photo.QualityScore,
		"blurry":        photo.Blurry,
		"auto_edited":   photo.AutoEdited,
		"face_indexed":  photo.FaceIndexed,
		"labels":        photo.Labels,
		"processed_at":  photo.ProcessedAt,
		"bibs":          bibList,
		"faces":         faceList,
	})
}

// Download handles GET /api/v1/photos/{photoID}/download. It redirects to a
// short-lived presigned URL for the requested rendition so image bytes never
// stream through the API process.
func (h *PhotosHandler) Download(w http.ResponseWriter, r *http.Request) {
	photoID := chi.URLParam(r, "photoID")

	photo, err := h.photos.Get(r.Context(), photoID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			respondError(w, http.StatusNotFound, "photo not found")
			return
		}
		log.Printf("get photo %s: %v", sanitizeForLog(photoID), err)
		respondError(w, http.StatusInternalServerError, "failed to load photo")
		return
	}

	kind := r.URL.Query().Get("kind")
	if kind == "" {
		kind = "web"
	}
	var key string
	switch kind {
	case "web":
		key = photo.WebKey
	case "thumb":
		key = photo.ThumbKey
	case "original":
		key = photo.OriginalKey
	default:
		respondError(w, http.StatusBadRequest, "kind must be web, thumb or original")
		return
	}
	if key == "" {
		respondError(w, http.StatusNotFound, "rendition not available")
		return
	}

	url, err := h.store.PresignURL(r.Context(), key, downloadExpirySeconds)
	if err != nil {
		log.Printf("presign %s for photo %s: %v", kind, sanitizeForLog(photoID), err)
		respondError(w, http.StatusInternalServerError, "failed to sign download URL")
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}
