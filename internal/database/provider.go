package database

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrInsufficientCredits is returned by Debit when the user's balance would
// go negative. The whole batch is rejected before any pipeline work starts.
var ErrInsufficientCredits = errors.New("insufficient credits")

// PhotoStore persists photos and the per-stage flags the pipeline sets.
type PhotoStore interface {
	CreateBatch(ctx context.Context, photos []Photo) error
	Get(ctx context.Context, photoID string) (*Photo, error)
	SetRenditions(ctx context.Context, photoID, originalKey, webKey string) error
	SetQuality(ctx context.Context, photoID string, score int, blurry bool) error
	SetAutoEdited(ctx context.Context, photoID string) error
	SetThumbnail(ctx context.Context, photoID, thumbKey string) error
	SetFaceIndexed(ctx context.Context, photoID string) error
	SetLabels(ctx context.Context, photoID string, labels []string) error
	MarkProcessed(ctx context.Context, photoID, provider string) error

	// ListUnlinked returns processed photos of an event with zero bib numbers
	// and zero indexed faces. Used for refund evaluation after clustering.
	ListUnlinked(ctx context.Context, eventID string) ([]Photo, error)
}

// BibStore persists bib numbers attached to photos.
type BibStore interface {
	// ReplaceOCR replaces all ocr-sourced bibs of a photo in one transaction.
	// Reprocessing a photo therefore replaces its numbers wholesale.
	ReplaceOCR(ctx context.Context, photoID string, bibs []BibNumber) error
	// Assign adds a single bib (used by the clustering engine).
	Assign(ctx context.Context, bib BibNumber) error
	GetForPhoto(ctx context.Context, photoID string) ([]BibNumber, error)
	// ListByEvent returns all bibs of an event keyed by photo ID.
	ListByEvent(ctx context.Context, eventID string) (map[string][]BibNumber, error)
}

// FaceStore persists indexed faces and their signatures.
type FaceStore interface {
	// SaveFaces replaces all faces of a photo.
	SaveFaces(ctx context.Context, photoID string, faces []PhotoFace) error
	GetFaces(ctx context.Context, photoID string) ([]PhotoFace, error)
	ListByEvent(ctx context.Context, eventID string) ([]PhotoFace, error)
	SetCropKey(ctx context.Context, faceID int64, cropKey string) error
}

// RosterStore reads and syncs the per-event start list.
type RosterStore interface {
	ListForEvent(ctx context.Context, eventID string) ([]RosterEntry, error)
	// BibSet returns the event's bib numbers as a set for OCR validation.
	// An empty set disables roster filtering.
	BibSet(ctx context.Context, eventID string) (map[string]struct{}, error)
	// Replace swaps the event's roster wholesale (roster sync).
	Replace(ctx context.Context, eventID string, entries []RosterEntry) error
}

// LedgerStore executes credit operations. Every method runs inside a single
// serializable transaction in the SQL implementation so concurrent batches
// from the same user cannot lose updates.
type LedgerStore interface {
	// Debit appends a debit entry. Returns ErrInsufficientCredits when the
	// balance would go negative.
	Debit(ctx context.Context, userID string, amount int, reason string) (*LedgerEntry, error)
	// Refund appends a refund entry unless one with the same idemKey exists.
	// Returns (nil, nil) when the refund was already applied.
	Refund(ctx context.Context, userID string, amount int, reason, idemKey string) (*LedgerEntry, error)
	// Adjust appends an admin adjustment (delta may be negative).
	Adjust(ctx context.Context, userID string, delta int, reason string) (*LedgerEntry, error)
	Balance(ctx context.Context, userID string) (int, error)
	Recent(ctx context.Context, userID string, limit int) ([]LedgerEntry, error)
}
