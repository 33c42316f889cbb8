package mariadb

import (
	"context"
	"fmt"

	"github.com/racepix/racepix/internal/database"
)

// FetchRoster reads the confirmed registrations of an event. The result
// feeds RosterStore.Replace during roster sync.
func (p *Pool) FetchRoster(ctx context.Context, eventID string) ([]database.RosterEntry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT bib_number, first_name, last_name, email
		FROM registrations
		WHERE event_id = ? AND status = 'confirmed' AND bib_number IS NOT NULL
		ORDER BY bib_number
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("query registrations: %w", err)
	}
	defer rows.Close()

	var entries []database.RosterEntry
	for rows.Next() {
		var e database.RosterEntry
		e.EventID = eventID
		if err := rows.Scan(&e.BibNumber, &e.FirstName, &e.LastName, &e.Email); err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		e.FirstName = canonicalName(e.FirstName)
		e.LastName = canonicalName(e.LastName)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate registrations: %w", err)
	}
	return entries, nil
}
