package database

import (
	"time"
)

// BibNumber sources distinguish how a number was attached to a photo.
const (
	BibSourceOCR         = "ocr"
	BibSourceFaceCluster = "face-cluster"
)

// Ledger entry types.
const (
	EntryDebit      = "debit"
	EntryRefund     = "refund"
	EntryAdjustment = "admin-adjustment"
)

// Photo represents one uploaded race photo and its derived renditions.
// Created at upload acceptance; mutated by pipeline stages; never deleted
// by the pipeline.
type Photo struct {
	ID           string
	EventID      string
	UserID       string
	OriginalName string

	// Object store keys per rendition kind
	OriginalKey string
	WebKey      string
	ThumbKey    string

	QualityScore int // 0-100 sharpness estimate
	Blurry       bool
	AutoEdited   bool
	FaceIndexed  bool

	Provider    string // identifier of the vision provider that processed the photo
	Labels      []string
	ProcessedAt *time.Time
	CreatedAt   time.Time
}

// BibNumber links a recognized race number to a photo.
type BibNumber struct {
	ID         int64
	PhotoID    string
	Number     string
	Confidence float64 // 0-100
	Source     string  // BibSourceOCR or BibSourceFaceCluster
	CreatedAt  time.Time
}

// PhotoFace represents a face detected and indexed on a photo.
// The external FaceID is unique per photo.
type PhotoFace struct {
	ID         int64
	PhotoID    string
	EventID    string
	FaceID     string // external face-index identifier
	FaceIndex  int    // ordinal within the photo
	Embedding  []float32
	Confidence float64   // 0-100 detection confidence
	BBox       []float64 // [x, y, w, h] in image-relative coordinates (0..1)
	CropKey    string    // object store key of the face crop, if generated
	CreatedAt  time.Time
}

// RosterEntry is one start-list row for an event. Read-only input to bib
// recognition and clustering; not mutated by the pipeline.
type RosterEntry struct {
	ID        int64
	EventID   string
	BibNumber string
	FirstName string
	LastName  string
	Email     string
	Notified  bool
	CreatedAt time.Time
}

// LedgerEntry is one immutable credit ledger row.
type LedgerEntry struct {
	ID            int64
	UserID        string
	Type          string // EntryDebit, EntryRefund or EntryAdjustment
	Amount        int
	BalanceBefore int
	BalanceAfter  int
	Reason        string
	IdemKey       string // empty for debits; refund idempotency key otherwise
	CreatedAt     time.Time
}
