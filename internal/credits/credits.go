// Package credits implements the photographer credit ledger. One credit is
// consumed per uploaded photo; photos that end up with no bib and no face
// are refunded after clustering settles.
package credits

import (
	"context"
	"fmt"

	"github.com/racepix/racepix/internal/constants"
	"github.com/racepix/racepix/internal/database"
)

// Service wraps the ledger store with the marketplace's credit rules.
type Service struct {
	ledger database.LedgerStore
}

func NewService(ledger database.LedgerStore) *Service {
	return &Service{ledger: ledger}
}

// DebitBatch charges the user for an upload batch before any pipeline work
// starts. Returns database.ErrInsufficientCredits when the balance does not
// cover the whole batch; no partial debit happens.
func (s *Service) DebitBatch(ctx context.Context, userID string, photoCount int) (*database.LedgerEntry, error) {
	if photoCount <= 0 {
		return nil, fmt.Errorf("photo count must be positive, got %d", photoCount)
	}
	amount := photoCount * constants.CreditsPerPhoto
	reason := fmt.Sprintf("upload of %d photos", photoCount)
	return s.ledger.Debit(ctx, userID, amount, reason)
}

// RefundPhoto refunds the credit of a photo that stayed unlinked after
// clustering. Safe to call repeatedly; only the first call per photo
// appends an entry. Returns true when a refund was actually applied.
func (s *Service) RefundPhoto(ctx context.Context, userID, photoID string) (bool, error) {
	idemKey := "refund:" + photoID
	entry, err := s.ledger.Refund(ctx, userID, constants.CreditsPerPhoto, "no runner linked", idemKey)
	if err != nil {
		return false, fmt.Errorf("refund photo %s: %w", photoID, err)
	}
	return entry != nil, nil
}

// RefundBatch reverses a batch debit whose photos never made it into the
// database. Keyed on the batch so a retried compensation cannot double-credit.
func (s *Service) RefundBatch(ctx context.Context, userID string, photoCount int, batchKey string) error {
	if photoCount <= 0 {
		return fmt.Errorf("photo count must be positive, got %d", photoCount)
	}
	amount := photoCount * constants.CreditsPerPhoto
	idemKey := "batch-refund:" + batchKey
	if _, err := s.ledger.Refund(ctx, userID, amount, "upload batch failed", idemKey); err != nil {
		return fmt.Errorf("refund batch %s: %w", batchKey, err)
	}
	return nil
}

// AdminAdjust applies a manual balance correction, positive or negative.
func (s *Service) AdminAdjust(ctx context.Context, userID string, delta int, reason string) (*database.LedgerEntry, error) {
	if reason == "" {
		return nil, fmt.Errorf("adjustment requires a reason")
	}
	return s.ledger.Adjust(ctx, userID, delta, reason)
}

// Balance returns the user's current credit balance.
func (s *Service) Balance(ctx context.Context, userID string) (int, error) {
	return s.ledger.Balance(ctx, userID)
}

// Recent returns the user's newest ledger entries.
func (s *Service) Recent(ctx context.Context, userID string, limit int) ([]database.LedgerEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.ledger.Recent(ctx, userID, limit)
}
