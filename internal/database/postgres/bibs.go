package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/racepix/racepix/internal/database"
)

// BibRepository provides PostgreSQL-backed bib number storage.
type BibRepository struct {
	pool *Pool
}

func NewBibRepository(pool *Pool) *BibRepository {
	return &BibRepository{pool: pool}
}

// ReplaceOCR deletes the photo's ocr-sourced bibs and inserts the new set in
// one transaction. Cluster-assigned bibs are untouched.
func (r *BibRepository) ReplaceOCR(ctx context.Context, photoID string, bibs []database.BibNumber) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM bib_numbers WHERE photo_id = $1 AND source = $2",
		photoID, database.BibSourceOCR,
	); err != nil {
		return fmt.Errorf("delete ocr bibs: %w", err)
	}

	for _, b := range bibs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO bib_numbers (photo_id, number, confidence, source)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (photo_id, number) DO NOTHING
		`, photoID, b.Number, b.Confidence, database.BibSourceOCR); err != nil {
			return fmt.Errorf("insert bib %s for photo %s: %w", b.Number, photoID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bib replace: %w", err)
	}
	return nil
}

// Assign adds a single bib to a photo. Assigning an already present number
// is a no-op, which keeps clustering passes idempotent.
func (r *BibRepository) Assign(ctx context.Context, bib database.BibNumber) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO bib_numbers (photo_id, number, confidence, source)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (photo_id, number) DO NOTHING
	`, bib.PhotoID, bib.Number, bib.Confidence, bib.Source)
	if err != nil {
		return fmt.Errorf("assign bib %s to photo %s: %w", bib.Number, bib.PhotoID, err)
	}
	return nil
}

func (r *BibRepository) GetForPhoto(ctx context.Context, photoID string) ([]database.BibNumber, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, photo_id, number, confidence, source, created_at
		FROM bib_numbers
		WHERE photo_id = $1
		ORDER BY confidence DESC, id
	`, photoID)
	if err != nil {
		return nil, fmt.Errorf("query bibs: %w", err)
	}
	defer rows.Close()

	return scanBibs(rows)
}

// ListByEvent returns all bibs for the event's photos keyed by photo ID.
func (r *BibRepository) ListByEvent(ctx context.Context, eventID string) (map[string][]database.BibNumber, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT b.id, b.photo_id, b.number, b.confidence, b.source, b.created_at
		FROM bib_numbers b
		JOIN photos p ON p.id = b.photo_id
		WHERE p.event_id = $1
		ORDER BY b.photo_id, b.confidence DESC
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("query event bibs: %w", err)
	}
	defer rows.Close()

	bibs, err := scanBibs(rows)
	if err != nil {
		return nil, err
	}

	byPhoto := make(map[string][]database.BibNumber)
	for _, b := range bibs {
		byPhoto[b.PhotoID] = append(byPhoto[b.PhotoID], b)
	}
	return byPhoto, nil
}

func scanBibs(rows *sql.Rows) ([]database.BibNumber, error) {
	var bibs []database.BibNumber
	for rows.Next() {
		var b database.BibNumber
		if err := rows.Scan(&b.ID, &b.PhotoID, &b.Number, &b.Confidence, &b.Source, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan bib: %w", err)
		}
		bibs = append(bibs, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bibs: %w", err)
	}
	return bibs, nil
}
