package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/racepix/racepix/internal/database"
)

// FaceRepository provides PostgreSQL-backed face storage. Embeddings are
// stored in a pgvector column so similarity queries can run in SQL when the
// in-memory index is cold.
type FaceRepository struct {
	pool *Pool
}

func NewFaceRepository(pool *Pool) *FaceRepository {
	return &FaceRepository{pool: pool}
}

// SaveFaces replaces all faces of a photo in one transaction. Reprocessing a
// photo therefore never duplicates faces.
func (r *FaceRepository) SaveFaces(ctx context.Context, photoID string, faces []database.PhotoFace) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM photo_faces WHERE photo_id = $1", photoID); err != nil {
		return fmt.Errorf("delete faces: %w", err)
	}

	for _, f := range faces {
		var embedding any
		if len(f.Embedding) > 0 {
			embedding = pgvector.NewVector(f.Embedding)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO photo_faces (photo_id, event_id, face_id, face_index, embedding, confidence, bbox)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, photoID, f.EventID, f.FaceID, f.FaceIndex, embedding, f.Confidence, pq.Array(f.BBox)); err != nil {
			return fmt.Errorf("insert face %d for photo %s: %w", f.FaceIndex, photoID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit faces: %w", err)
	}
	return nil
}

func (r *FaceRepository) GetFaces(ctx context.Context, photoID string) ([]database.PhotoFace, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, photo_id, event_id, face_id, face_index, embedding, confidence, bbox, crop_key, created_at
		FROM photo_faces
		WHERE photo_id = $1
		ORDER BY face_index
	`, photoID)
	if err != nil {
		return nil, fmt.Errorf("query faces: %w", err)
	}
	defer rows.Close()

	return scanFaces(rows)
}

// ListByEvent returns all indexed faces of an event, ordered by insertion.
// Used to rebuild the in-memory similarity index.
func (r *FaceRepository) ListByEvent(ctx context.Context, eventID string) ([]database.PhotoFace, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, photo_id, event_id, face_id, face_index, embedding, confidence, bbox, crop_key, created_at
		FROM photo_faces
		WHERE event_id = $1
		ORDER BY id
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("query event faces: %w", err)
	}
	defer rows.Close()

	return scanFaces(rows)
}

func (r *FaceRepository) SetCropKey(ctx context.Context, faceID int64, cropKey string) error {
	result, err := r.pool.Exec(ctx,
		"UPDATE photo_faces SET crop_key = $2 WHERE id = $1", faceID, cropKey)
	if err != nil {
		return fmt.Errorf("update crop key: %w", err)
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

func scanFaces(rows *sql.Rows) ([]database.PhotoFace, error) {
	var faces []database.PhotoFace
	for rows.Next() {
		var f database.PhotoFace
		var bbox pq.Float64Array
		var embedding sql.Null[pgvector.Vector]

		err := rows.Scan(
			&f.ID, &f.PhotoID, &f.EventID, &f.FaceID, &f.FaceIndex,
			&embedding, &f.Confidence, &bbox, &f.CropKey, &f.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan face: %w", err)
		}

		if embedding.Valid {
			f.Embedding = embedding.V.Slice()
		}
		f.BBox = bbox
		faces = append(faces, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate faces: %w", err)
	}
	return faces, nil
}
