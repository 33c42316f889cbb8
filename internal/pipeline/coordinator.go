package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strings"

	"github.com/racepix/racepix/internal/config"
	"github.com/racepix/racepix/internal/constants"
	"github.com/racepix/racepix/internal/database"
	"github.com/racepix/racepix/internal/imaging"
	"github.com/racepix/racepix/internal/objstore"
	"github.com/racepix/racepix/internal/session"
	"github.com/racepix/racepix/internal/vision"
)

// Stage names reported through upload sessions.
const (
	StageRenditions = "renditions"
	StageQuality    = "quality"
	StageAutoEdit   = "auto-edit"
	StageThumbnail  = "thumbnail"
	StageBibs       = "bibs"
	StageFaces      = "faces"
	StageLabels     = "labels"
)

// ClusterScheduler debounces face clustering for an event. The callback
// runs after the next clustering pass settles, with the credits refunded
// to userID during that pass.
type ClusterScheduler interface {
	Schedule(eventID, userID string, onSettled func(refunded int))
}

// Coordinator runs the per-photo stage sequence. Stage failures are soft:
// a failed stage logs, leaves its result empty and the remaining stages
// still run. Only an undecodable upload short-circuits the sequence.
type Coordinator struct {
	photos database.PhotoStore
	bibs   database.BibStore
	faces  database.FaceStore
	roster database.RosterStore

	store    objstore.Store
	provider vision.Provider
	labeler  vision.Labeler
	clusters ClusterScheduler

	blurThreshold    int
	ocrMinConfidence float64
}

func NewCoordinator(
	photos database.PhotoStore,
	bibs database.BibStore,
	faces database.FaceStore,
	roster database.RosterStore,
	store objstore.Store,
	provider vision.Provider,
	labeler vision.Labeler,
	clusters ClusterScheduler,
	cfg *config.PipelineConfig,
) *Coordinator {
	return &Coordinator{
		photos:           photos,
		bibs:             bibs,
		faces:            faces,
		roster:           roster,
		store:            store,
		provider:         provider,
		labeler:          labeler,
		clusters:         clusters,
		blurThreshold:    cfg.BlurThreshold,
		ocrMinConfidence: cfg.OCRMinConfidence,
	}
}

// Process runs all stages for one uploaded photo. Designed to run inside a
// queue worker; it never returns an error because there is nobody to retry.
// Whatever happens, the photo counts as processed and the session advances.
func (c *Coordinator) Process(ctx context.Context, photo database.Photo, data []byte, sess *session.Session) {
	keys := objstore.Keys{EventID: photo.EventID}

	setStep(sess, StageRenditions)
	rend, err := imaging.Generate(data, photo.OriginalName)
	if err != nil {
		var decodeErr *imaging.DecodeError
		if errors.As(err, &decodeErr) {
			log.Printf("photo %s: undecodable upload %s: %v", photo.ID, decodeErr.Filename, decodeErr.Err)
		} else {
			log.Printf("photo %s: rendition generation failed: %v", photo.ID, err)
		}
		c.finish(ctx, photo, "", sess)
		return
	}

	originalKey := keys.Original(photo.ID)
	webKey := keys.Web(photo.ID)
	if err := c.store.Put(ctx, originalKey, data, http.DetectContentType(data)); err != nil {
		log.Printf("photo %s: storing original: %v", photo.ID, err)
	}
	if err := c.store.Put(ctx, webKey, rend.Web, "image/jpeg"); err != nil {
		log.Printf("photo %s: storing web rendition: %v", photo.ID, err)
	}
	if err := c.photos.SetRenditions(ctx, photo.ID, originalKey, webKey); err != nil {
		log.Printf("photo %s: recording renditions: %v", photo.ID, err)
	}

	var quality imaging.QualityResult
	c.runStage(StageQuality, photo.ID, sess, func() error {
		quality = imaging.Score(rend.Analysis, c.blurThreshold)
		return c.photos.SetQuality(ctx, photo.ID, quality.Score, quality.Blurry)
	})

	// Auto-contrast on a blurry photo only amplifies noise, skip it.
	webData := rend.Web
	if !quality.Blurry {
		c.runStage(StageAutoEdit, photo.ID, sess, func() error {
			edited, err := imaging.AutoEdit(rend.Web)
			if err != nil {
				return err
			}
			if edited == nil {
				return nil
			}
			if err := c.store.Put(ctx, webKey, edited, "image/jpeg"); err != nil {
				return err
			}
			webData = edited
			return c.photos.SetAutoEdited(ctx, photo.ID)
		})
	}

	c.runStage(StageThumbnail, photo.ID, sess, func() error {
		thumb, err := imaging.WatermarkedThumbnail(webData)
		if err != nil {
			return err
		}
		thumbKey := keys.Thumb(photo.ID)
		if err := c.store.Put(ctx, thumbKey, thumb, "image/jpeg"); err != nil {
			return err
		}
		return c.photos.SetThumbnail(ctx, photo.ID, thumbKey)
	})

	providerID := ""
	c.runStage(StageBibs, photo.ID, sess, func() error {
		rosterSet, err := c.roster.BibSet(ctx, photo.EventID)
		if err != nil {
			return err
		}
		result, err := c.provider.DetectText(ctx, rend.Analysis, sortedBibs(rosterSet))
		if err != nil {
			return err
		}
		providerID = result.ProviderID
		bibs := filterBibs(result.Detections, rosterSet, c.ocrMinConfidence)
		return c.bibs.ReplaceOCR(ctx, photo.ID, bibs)
	})

	c.runStage(StageFaces, photo.ID, sess, func() error {
		indexKey := fmt.Sprintf("%s/%s", photo.EventID, photo.ID)
		detections, err := c.provider.IndexFaces(ctx, rend.Analysis, indexKey)
		if err != nil {
			return err
		}

		// One row per external face identifier; a provider that reports the
		// same face twice keeps the higher-confidence reading.
		faces := make([]database.PhotoFace, 0, len(detections))
		seen := make(map[string]int, len(detections))
		for _, d := range detections {
			if at, ok := seen[d.FaceID]; ok {
				if d.Confidence > faces[at].Confidence {
					faces[at].Embedding = d.Embedding
					faces[at].Confidence = d.Confidence
					faces[at].BBox = d.BBox
				}
				continue
			}
			seen[d.FaceID] = len(faces)
			faces = append(faces, database.PhotoFace{
				EventID:    photo.EventID,
				FaceID:     d.FaceID,
				FaceIndex:  len(faces),
				Embedding:  d.Embedding,
				Confidence: d.Confidence,
				BBox:       d.BBox,
			})
		}
		if err := c.faces.SaveFaces(ctx, photo.ID, faces); err != nil {
			return err
		}
		if len(faces) == 0 {
			return nil
		}
		if err := c.photos.SetFaceIndexed(ctx, photo.ID); err != nil {
			return err
		}
		// Crops come from the original raster: the size gate and the output
		// quality must not depend on how far the web rendition was scaled down.
		return c.cropFaces(ctx, photo.ID, keys, data)
	})

	if c.labeler != nil {
		c.runStage(StageLabels, photo.ID, sess, func() error {
			labels, err := c.labeler.DetectLabels(ctx, rend.Analysis, constants.MaxLabels, constants.DefaultLabelConfidence)
			if err != nil {
				return err
			}
			if len(labels) == 0 {
				return nil
			}
			names := make([]string, len(labels))
			for i, l := range labels {
				names[i] = l.Name
			}
			return c.photos.SetLabels(ctx, photo.ID, names)
		})
	}

	c.finish(ctx, photo, providerID, sess)
}

// cropFaces stores a padded portrait crop for every face that survives the
// minimum-size check.
func (c *Coordinator) cropFaces(ctx context.Context, photoID string, keys objstore.Keys, original []byte) error {
	saved, err := c.faces.GetFaces(ctx, photoID)
	if err != nil {
		return err
	}
	for _, f := range saved {
		crop, err := imaging.FaceCrop(original, f.BBox)
		if err != nil {
			log.Printf("photo %s: cropping face %d: %v", photoID, f.FaceIndex, err)
			continue
		}
		if crop == nil {
			continue
		}
		key := keys.FaceCrop(photoID, f.FaceIndex)
		if err := c.store.Put(ctx, key, crop, "image/jpeg"); err != nil {
			log.Printf("photo %s: storing face crop %d: %v", photoID, f.FaceIndex, err)
			continue
		}
		if err := c.faces.SetCropKey(ctx, f.ID, key); err != nil {
			log.Printf("photo %s: recording face crop %d: %v", photoID, f.FaceIndex, err)
		}
	}
	return nil
}

// finish marks the photo processed and advances the session. The last photo
// of a batch schedules clustering; the session completes once that pass
// settles and refunds are known.
func (c *Coordinator) finish(ctx context.Context, photo database.Photo, providerID string, sess *session.Session) {
	if err := c.photos.MarkProcessed(ctx, photo.ID, providerID); err != nil {
		log.Printf("photo %s: marking processed: %v", photo.ID, err)
	}
	if sess == nil {
		return
	}
	if !sess.PhotoDone() {
		return
	}
	if c.clusters == nil {
		sess.Finish()
		return
	}
	c.clusters.Schedule(photo.EventID, photo.UserID, func(refunded int) {
		if refunded > 0 {
			sess.AddRefund(refunded)
		}
		sess.Finish()
	})
}

// runStage executes one stage with panic and error containment.
func (c *Coordinator) runStage(name, photoID string, sess *session.Session, fn func() error) {
	setStep(sess, name)
	defer func() {
		if r := recover(); r != nil {
			log.Printf("photo %s: stage %s panicked: %v", photoID, name, r)
		}
	}()

	if err := fn(); err != nil {
		var svcErr *vision.ExternalServiceError
		if errors.As(err, &svcErr) {
			log.Printf("photo %s: stage %s: %s unavailable: %v", photoID, name, svcErr.Service, svcErr.Err)
			return
		}
		log.Printf("photo %s: stage %s failed: %v", photoID, name, err)
	}
}

func setStep(sess *session.Session, step string) {
	if sess != nil {
		sess.SetStep(step)
	}
}

// filterBibs keeps detections that pass the confidence bar and, when a
// roster exists, match a registered bib. Duplicate numbers keep the highest
// confidence reading.
func filterBibs(detections []vision.TextDetection, roster map[string]struct{}, minConfidence float64) []database.BibNumber {
	best := make(map[string]float64)
	for _, d := range detections {
		if d.Confidence < minConfidence {
			continue
		}
		number, ok := validBib(d.Text, roster)
		if !ok {
			continue
		}
		if d.Confidence > best[number] {
			best[number] = d.Confidence
		}
	}

	numbers := make([]string, 0, len(best))
	for n := range best {
		numbers = append(numbers, n)
	}
	sort.Strings(numbers)

	bibs := make([]database.BibNumber, 0, len(numbers))
	for _, n := range numbers {
		bibs = append(bibs, database.BibNumber{
			Number:     n,
			Confidence: best[n],
			Source:     database.BibSourceOCR,
		})
	}
	return bibs
}

// validBib normalizes an OCR token and validates it. With a roster the
// token must match a registered bib, tried verbatim and with leading zeros
// stripped. Without a roster any short digit run passes.
func validBib(text string, roster map[string]struct{}) (string, bool) {
	number := strings.ToUpper(strings.TrimSpace(text))
	number = strings.Trim(number, ".,:;#")
	if number == "" {
		return "", false
	}

	if len(roster) > 0 {
		if _, ok := roster[number]; ok {
			return number, true
		}
		stripped := strings.TrimLeft(number, "0")
		if stripped != "" && stripped != number {
			if _, ok := roster[stripped]; ok {
				return stripped, true
			}
		}
		return "", false
	}

	if len(number) > 6 {
		return "", false
	}
	for _, r := range number {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return number, true
}

func sortedBibs(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for bib := range set {
		out = append(out, bib)
	}
	sort.Strings(out)
	return out
}
