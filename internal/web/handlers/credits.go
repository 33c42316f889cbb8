package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/racepix/racepix/internal/config"
	"github.com/racepix/racepix/internal/credits"
	"github.com/racepix/racepix/internal/database"
)

// CreditsHandler exposes the photographer credit ledger.
type CreditsHandler struct {
	credits *credits.Service
	pricing config.PricingConfig
}

func NewCreditsHandler(creditSvc *credits.Service, pricing config.PricingConfig) *CreditsHandler {
	return &CreditsHandler{credits: creditSvc, pricing: pricing}
}

// Balance handles GET /api/v1/credits.
func (h *CreditsHandler) Balance(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		respondError(w, http.StatusBadRequest, "missing X-User-ID header")
		return
	}

	balance, err := h.credits.Balance(r.Context(), uid)
	if err != nil {
		log.Printf("balance for user %s: %v", sanitizeForLog(uid), err)
		respondError(w, http.StatusInternalServerError, "failed to read balance")
		return
	}
	entries, err := h.credits.Recent(r.Context(), uid, 20)
	if err != nil {
		log.Printf("ledger for user %s: %v", sanitizeForLog(uid), err)
		respondError(w, http.StatusInternalServerError, "failed to read ledger")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"balance": balance,
		"recent":  formatEntries(entries),
	})
}

// Packs handles GET /api/v1/credits/packs.
func (h *CreditsHandler) Packs(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"packs": h.pricing.Packs})
}

type adjustRequest struct {
	UserID string `json:"user_id"`
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
}

// Adjust handles POST /api/v1/admin/credits/adjust.
func (h *CreditsHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.UserID == "" || req.Delta == 0 || req.Reason == "" {
		respondError(w, http.StatusBadRequest, "user_id, delta and reason are required")
		return
	}

	entry, err := h.credits.AdminAdjust(r.Context(), req.UserID, req.Delta, req.Reason)
	if err != nil {
		if errors.Is(err, database.ErrInsufficientCredits) {
			respondError(w, http.StatusConflict, "adjustment would make balance negative")
			return
		}
		log.Printf("adjust for user %s: %v", sanitizeForLog(req.UserID), err)
		respondError(w, http.StatusInternalServerError, "failed to adjust balance")
		return
	}

	respondJSON(w, http.StatusOK, formatEntry(*entry))
}

func formatEntry(e database.LedgerEntry) map[string]any {
	return map[string]any{
		"id":             e.ID,
		"type":           e.Type,
		"amount":         e.Amount,
		"balance_before": e.BalanceBefore,
		"balance_after":  e.BalanceAfter,
		"reason":         e.Reason,
		"created_at":     e.CreatedAt,
	}
}

func formatEntries(entries []database.LedgerEntry) []map[string]any {
	out := make([]map[string]any, len(entries))
	for i, e := range entries {
		out[i] = formatEntry(e)
	}
	return out
}
