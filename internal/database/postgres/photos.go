package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/racepix/racepix/internal/database"
)

// PhotoRepository provides PostgreSQL-backed photo storage.
type PhotoRepository struct {
	pool *Pool
}

func NewPhotoRepository(pool *Pool) *PhotoRepository {
	return &PhotoRepository{pool: pool}
}

// CreateBatch inserts all photos of an upload batch in one transaction so a
// partially accepted batch never exists.
func (r *PhotoRepository) CreateBatch(ctx context.Context, photos []database.Photo) error {
	if len(photos) == 0 {
		return nil
	}

	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO photos (id, event_id, user_id, original_name, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`)
	if err != nil {
		return fmt.Errorf("prepare photo insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, p := range photos {
		createdAt := p.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		if _, err := stmt.ExecContext(ctx, p.ID, p.EventID, p.UserID, p.OriginalName, createdAt); err != nil {
			return fmt.Errorf("insert photo %s: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit photo batch: %w", err)
	}
	return nil
}

func (r *PhotoRepository) Get(ctx context.Context, photoID string) (*database.Photo, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, event_id, user_id, original_name, original_key, web_key, thumb_key,
		       quality_score, blurry, auto_edited, face_indexed, provider, labels,
		       processed_at, created_at
		FROM photos
		WHERE id = $1
	`, photoID)

	return scanPhotoRow(row)
}

func (r *PhotoRepository) SetRenditions(ctx context.Context, photoID, originalKey, webKey string) error {
	return r.update(ctx, photoID,
		"UPDATE photos SET original_key = $2, web_key = $3 WHERE id = $1",
		photoID, originalKey, webKey)
}

func (r *PhotoRepository) SetQuality(ctx context.Context, photoID string, score int, blurry bool) error {
	return r.update(ctx, photoID,
		"UPDATE photos SET quality_score = $2, blurry = $3 WHERE id = $1",
		photoID, score, blurry)
}

func (r *PhotoRepository) SetAutoEdited(ctx context.Context, photoID string) error {
	return r.update(ctx, photoID,
		"UPDATE photos SET auto_edited = TRUE WHERE id = $1", photoID)
}

func (r *PhotoRepository) SetThumbnail(ctx context.Context, photoID, thumbKey string) error {
	return r.update(ctx, photoID,
		"UPDATE photos SET thumb_key = $2 WHERE id = $1", photoID, thumbKey)
}

func (r *PhotoRepository) SetFaceIndexed(ctx context.Context, photoID string) error {
	return r.update(ctx, photoID,
		"UPDATE photos SET face_indexed = TRUE WHERE id = $1", photoID)
}

func (r *PhotoRepository) SetLabels(ctx context.Context, photoID string, labels []string) error {
	return r.update(ctx, photoID,
		"UPDATE photos SET labels = $2 WHERE id = $1", photoID, pq.Array(labels))
}

func (r *PhotoRepository) MarkProcessed(ctx context.Context, photoID, provider string) error {
	return r.update(ctx, photoID,
		"UPDATE photos SET processed_at = NOW(), provider = $2 WHERE id = $1",
		photoID, provider)
}

// ListUnlinked returns processed photos of an event that have neither a bib
// number nor an indexed face attached.
func (r *PhotoRepository) ListUnlinked(ctx context.Context, eventID string) ([]database.Photo, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.id, p.event_id, p.user_id, p.original_name, p.original_key, p.web_key,
		       p.thumb_key, p.quality_score, p.blurry, p.auto_edited, p.face_indexed,
		       p.provider, p.labels, p.processed_at, p.created_at
		FROM photos p
		WHERE p.event_id = $1
		  AND p.processed_at IS NOT NULL
		  AND NOT EXISTS (SELECT 1 FROM bib_numbers b WHERE b.photo_id = p.id)
		  AND NOT EXISTS (SELECT 1 FROM photo_faces f WHERE f.photo_id = p.id)
		ORDER BY p.created_at
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("query unlinked photos: %w", err)
	}
	defer rows.Close()

	var photos []database.Photo
	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, err
		}
		photos = append(photos, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unlinked photos: %w", err)
	}
	return photos, nil
}

func (r *PhotoRepository) update(ctx context.Context, photoID, query string, args ...any) error {
	result, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update photo %s: %w", photoID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return database.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPhoto(s rowScanner) (*database.Photo, error) {
	var p database.Photo
	var labels pq.StringArray
	var processedAt sql.NullTime

	err := s.Scan(
		&p.ID, &p.EventID, &p.UserID, &p.OriginalName, &p.OriginalKey, &p.WebKey,
		&p.ThumbKey, &p.QualityScore, &p.Blurry, &p.AutoEdited, &p.FaceIndexed,
		&p.Provider, &labels, &processedAt, &p.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan photo: %w", err)
	}

	p.Labels = labels
	if processedAt.Valid {
		p.ProcessedAt = &processedAt.Time
	}
	return &p, nil
}

func scanPhotoRow(row *sql.Row) (*database.Photo, error) {
	p, err := scanPhoto(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}
