package postgres

import (
	"context"
	"fmt"

	"github.com/racepix/racepix/internal/database"
)

// RosterRepository provides PostgreSQL-backed start-list storage.
type RosterRepository struct {
	pool *Pool
}

func NewRosterRepository(pool *Pool) *RosterRepository {
	return &RosterRepository{pool: pool}
}

func (r *RosterRepository) ListForEvent(ctx context.Context, eventID string) ([]database.RosterEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, event_id, bib_number, first_name, last_name, email, notified, created_at
		FROM roster_entries
		WHERE event_id = $1
		ORDER BY bib_number
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("query roster: %w", err)
	}
	defer rows.Close()

	var entries []database.RosterEntry
	for rows.Next() {
		var e database.RosterEntry
		if err := rows.Scan(&e.ID, &e.EventID, &e.BibNumber, &e.FirstName, &e.LastName, &e.Email, &e.Notified, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan roster entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roster: %w", err)
	}
	return entries, nil
}

func (r *RosterRepository) BibSet(ctx context.Context, eventID string) (map[string]struct{}, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT bib_number FROM roster_entries WHERE event_id = $1", eventID)
	if err != nil {
		return nil, fmt.Errorf("query roster bibs: %w", err)
	}
	defer rows.Close()

	set := make(map[string]struct{})
	for rows.Next() {
		var bib string
		if err := rows.Scan(&bib); err != nil {
			return nil, fmt.Errorf("scan roster bib: %w", err)
		}
		set[bib] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roster bibs: %w", err)
	}
	return set, nil
}

// Replace swaps the event's roster wholesale inside one transaction.
func (r *RosterRepository) Replace(ctx context.Context, eventID string, entries []database.RosterEntry) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM roster_entries WHERE event_id = $1", eventID); err != nil {
		return fmt.Errorf("delete roster: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO roster_entries (event_id, bib_number, first_name, last_name, email, notified)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id, bib_number) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("prepare roster insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, eventID, e.BibNumber, e.FirstName, e.LastName, e.Email, e.Notified); err != nil {
			return fmt.Errorf("insert roster entry %s: %w", e.BibNumber, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit roster replace: %w", err)
	}
	return nil
}
