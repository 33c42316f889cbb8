// Package cluster links photos without a recognized bib number to runners by
// face similarity, and settles per-photo credit refunds once an event's
// linkage stops changing.
package cluster

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/racepix/racepix/internal/constants"
	"github.com/racepix/racepix/internal/credits"
	"github.com/racepix/racepix/internal/database"
)

// Summary reports what one clustering pass changed.
type Summary struct {
	PhotosLinked    int
	NewBibsAssigned int
	CreditsRefunded int
	RefundsByUser   map[string]int
}

// Engine runs clustering passes. Passes for the same event are serialized;
// passes for different events may run concurrently. A pass is idempotent:
// re-running it on unchanged data assigns nothing new.
type Engine struct {
	photos  database.PhotoStore
	bibs    database.BibStore
	faces   database.FaceStore
	credits *credits.Service

	minSimilarity float64

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewEngine(photos database.PhotoStore, bibs database.BibStore, faces database.FaceStore, creditSvc *credits.Service, minSimilarity float64) *Engine {
	if minSimilarity <= 0 {
		minSimilarity = constants.DefaultClusterSimilarity
	}
	return &Engine{
		photos:        photos,
		bibs:          bibs,
		faces:         faces,
		credits:       creditSvc,
		minSimilarity: minSimilarity,
		locks:         make(map[string]*sync.Mutex),
	}
}

func (e *Engine) eventLock(eventID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[eventID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[eventID] = lock
	}
	return lock
}

// Run executes one clustering pass for the event, then evaluates refunds
// for photos that remained unlinked.
func (e *Engine) Run(ctx context.Context, eventID string) (*Summary, error) {
	lock := e.eventLock(eventID)
	lock.Lock()
	defer lock.Unlock()

	summary := &Summary{RefundsByUser: make(map[string]int)}

	faces, err := e.faces.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("load event faces: %w", err)
	}
	bibsByPhoto, err := e.bibs.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("load event bibs: %w", err)
	}

	if err := e.linkOrphans(ctx, faces, bibsByPhoto, summary); err != nil {
		return nil, err
	}
	if err := e.settleRefunds(ctx, eventID, summary); err != nil {
		return nil, err
	}

	return summary, nil
}

// linkOrphans assigns bibs to photos that have indexed faces but no number.
// Each orphan face votes for the bibs of similar faces on other photos; the
// bib with the highest aggregate similarity across all the photo's faces
// wins. Ties break towards the lexicographically smaller number so repeated
// passes stay deterministic.
func (e *Engine) linkOrphans(ctx context.Context, faces []database.PhotoFace, bibsByPhoto map[string][]database.BibNumber, summary *Summary) error {
	index := database.NewFaceIndex()
	if err := index.BuildFromFaces(faces); err != nil {
		return fmt.Errorf("build face index: %w", err)
	}

	facesByPhoto := make(map[string][]database.PhotoFace)
	for _, f := range faces {
		facesByPhoto[f.PhotoID] = append(facesByPhoto[f.PhotoID], f)
	}

	orphans := make([]string, 0)
	for photoID := range facesByPhoto {
		if len(bibsByPhoto[photoID]) == 0 {
			orphans = append(orphans, photoID)
		}
	}
	sort.Strings(orphans)

	for _, photoID := range orphans {
		number, confidence := e.bestBib(index, facesByPhoto[photoID], bibsByPhoto)
		if number == "" {
			continue
		}

		err := e.bibs.Assign(ctx, database.BibNumber{
			PhotoID:    photoID,
			Number:     number,
			Confidence: confidence,
			Source:     database.BibSourceFaceCluster,
		})
		if err != nil {
			return fmt.Errorf("assign bib %s to photo %s: %w", number, photoID, err)
		}
		summary.PhotosLinked++
		summary.NewBibsAssigned++
	}
	return nil
}

// bestBib returns the winning bib for an orphan photo's faces, with the
// strongest single match as confidence (0-100). Empty when no similar face
// carries a bib.
func (e *Engine) bestBib(index *database.FaceIndex, orphanFaces []database.PhotoFace, bibsByPhoto map[string][]database.BibNumber) (string, float64) {
	aggregate := make(map[string]float64)
	strongest := make(map[string]float64)

	for _, face := range orphanFaces {
		if len(face.Embedding) == 0 {
			continue
		}
		ids, distances, err := index.Search(face.Embedding, constants.ClusterSearchLimit)
		if err != nil {
			log.Printf("face search for photo %s: %v", face.PhotoID, err)
			continue
		}

		for i, id := range ids {
			match := index.GetFace(id)
			if match == nil || match.PhotoID == face.PhotoID {
				continue
			}
			similarity := 1 - distances[i]
			if similarity < e.minSimilarity {
				continue
			}
			for _, bib := range bibsByPhoto[match.PhotoID] {
				// Only text-detected bibs can vote. Letting face-cluster
				// assignments vote would chain linkage transitively across
				// passes and compound a single bad match.
				if bib.Source != database.BibSourceOCR {
					continue
				}
				aggregate[bib.Number] += similarity
				if similarity > strongest[bib.Number] {
					strongest[bib.Number] = similarity
				}
			}
		}
	}

	best := ""
	for number, score := range aggregate {
		if best == "" || score > aggregate[best] || (score == aggregate[best] && number < best) {
			best = number
		}
	}
	if best == "" {
		return "", 0
	}
	return best, strongest[best] * 100
}

// settleRefunds refunds photos that stayed unlinked after the pass. The
// ledger's idempotency key makes repeated settles free.
func (e *Engine) settleRefunds(ctx context.Context, eventID string, summary *Summary) error {
	if e.credits == nil {
		return nil
	}

	unlinked, err := e.photos.ListUnlinked(ctx, eventID)
	if err != nil {
		return fmt.Errorf("list unlinked photos: %w", err)
	}

	for _, photo := range unlinked {
		applied, err := e.credits.RefundPhoto(ctx, photo.UserID, photo.ID)
		if err != nil {
			log.Printf("refund for photo %s: %v", photo.ID, err)
			continue
		}
		if applied {
			summary.CreditsRefunded += constants.CreditsPerPhoto
			summary.RefundsByUser[photo.UserID] += constants.CreditsPerPhoto
		}
	}
	return nil
}
