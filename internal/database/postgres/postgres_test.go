//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/racepix/racepix/internal/config"
	"github.com/racepix/racepix/internal/database"
)

func setupTestContainer(t *testing.T) (*Pool, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}
	if container == nil {
		t.Skip("Docker not available, skipping integration test")
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	dbURL := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	cfg := &config.DatabaseConfig{
		URL:          dbURL,
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}

	pool, err := NewPool(cfg)
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to create pool: %v", err)
	}

	if err := pool.Migrate(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		pool.Close()
		container.Terminate(ctx)
	}

	return pool, cleanup
}

func createTestPhoto(t *testing.T, pool *Pool, id, eventID string) {
	t.Helper()
	photos := NewPhotoRepository(pool)
	err := photos.CreateBatch(context.Background(), []database.Photo{
		{ID: id, EventID: eventID, UserID: "user-1", OriginalName: id + ".jpg"},
	})
	if err != nil {
		t.Fatalf("Failed to create test photo: %v", err)
	}
}

func TestPhotoRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	photos := NewPhotoRepository(pool)

	createTestPhoto(t, pool, "photo-1", "event-1")

	if err := photos.SetQuality(ctx, "photo-1", 72, false); err != nil {
		t.Fatalf("SetQuality failed: %v", err)
	}
	if err := photos.SetLabels(ctx, "photo-1", []string{"running", "trail"}); err != nil {
		t.Fatalf("SetLabels failed: %v", err)
	}
	if err := photos.MarkProcessed(ctx, "photo-1", "test-provider"); err != nil {
		t.Fatalf("MarkProcessed failed: %v", err)
	}

	p, err := photos.Get(ctx, "photo-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if p.QualityScore != 72 {
		t.Errorf("expected quality 72, got %d", p.QualityScore)
	}
	if len(p.Labels) != 2 {
		t.Errorf("expected 2 labels, got %v", p.Labels)
	}
	if p.ProcessedAt == nil {
		t.Error("expected ProcessedAt to be set")
	}

	if _, err := photos.Get(ctx, "missing"); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := photos.SetQuality(ctx, "missing", 10, true); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("expected ErrNotFound on update, got %v", err)
	}

	// photo-1 is processed but unlinked (no bibs, no faces)
	unlinked, err := photos.ListUnlinked(ctx, "event-1")
	if err != nil {
		t.Fatalf("ListUnlinked failed: %v", err)
	}
	if len(unlinked) != 1 || unlinked[0].ID != "photo-1" {
		t.Errorf("expected photo-1 unlinked, got %+v", unlinked)
	}
}

func TestBibRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	bibs := NewBibRepository(pool)
	createTestPhoto(t, pool, "photo-1", "event-1")

	err := bibs.ReplaceOCR(ctx, "photo-1", []database.BibNumber{
		{Number: "101", Confidence: 95},
		{Number: "204", Confidence: 80},
	})
	if err != nil {
		t.Fatalf("ReplaceOCR failed: %v", err)
	}

	// Cluster assignment of an existing number is a no-op.
	err = bibs.Assign(ctx, database.BibNumber{
		PhotoID: "photo-1", Number: "101", Confidence: 60,
		Source: database.BibSourceFaceCluster,
	})
	if err != nil {
		t.Fatalf("Assign failed: %v", err)
	}

	got, err := bibs.GetForPhoto(ctx, "photo-1")
	if err != nil {
		t.Fatalf("GetForPhoto failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 bibs, got %d", len(got))
	}
	if got[0].Number != "101" || got[0].Source != database.BibSourceOCR {
		t.Errorf("unexpected first bib: %+v", got[0])
	}

	// Reprocessing replaces ocr bibs wholesale.
	if err := bibs.ReplaceOCR(ctx, "photo-1", []database.BibNumber{{Number: "999", Confidence: 70}}); err != nil {
		t.Fatalf("second ReplaceOCR failed: %v", err)
	}
	got, err = bibs.GetForPhoto(ctx, "photo-1")
	if err != nil {
		t.Fatalf("GetForPhoto failed: %v", err)
	}
	if len(got) != 1 || got[0].Number != "999" {
		t.Errorf("expected only bib 999 after replace, got %+v", got)
	}

	byPhoto, err := bibs.ListByEvent(ctx, "event-1")
	if err != nil {
		t.Fatalf("ListByEvent failed: %v", err)
	}
	if len(byPhoto["photo-1"]) != 1 {
		t.Errorf("expected 1 bib for photo-1, got %+v", byPhoto)
	}
}

func TestFaceRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	faces := NewFaceRepository(pool)
	createTestPhoto(t, pool, "photo-1", "event-1")

	embedding := make([]float32, 512)
	embedding[0] = 1.0

	err := faces.SaveFaces(ctx, "photo-1", []database.PhotoFace{
		{
			EventID:    "event-1",
			FaceID:     "ext-face-1",
			FaceIndex:  0,
			Embedding:  embedding,
			Confidence: 99.1,
			BBox:       []float64{0.1, 0.2, 0.3, 0.4},
		},
	})
	if err != nil {
		t.Fatalf("SaveFaces failed: %v", err)
	}

	got, err := faces.GetFaces(ctx, "photo-1")
	if err != nil {
		t.Fatalf("GetFaces failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 face, got %d", len(got))
	}
	if got[0].FaceID != "ext-face-1" {
		t.Errorf("unexpected face id: %s", got[0].FaceID)
	}
	if len(got[0].Embedding) != 512 || got[0].Embedding[0] != 1.0 {
		t.Errorf("embedding not round-tripped")
	}
	if len(got[0].BBox) != 4 || got[0].BBox[2] != 0.3 {
		t.Errorf("bbox not round-tripped: %v", got[0].BBox)
	}

	if err := faces.SetCropKey(ctx, got[0].ID, "events/event-1/crops/photo-1-0.jpg"); err != nil {
		t.Fatalf("SetCropKey failed: %v", err)
	}

	byEvent, err := faces.ListByEvent(ctx, "event-1")
	if err != nil {
		t.Fatalf("ListByEvent failed: %v", err)
	}
	if len(byEvent) != 1 || byEvent[0].CropKey == "" {
		t.Errorf("unexpected event faces: %+v", byEvent)
	}
}

func TestRosterRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	roster := NewRosterRepository(pool)

	err := roster.Replace(ctx, "event-1", []database.RosterEntry{
		{BibNumber: "101", FirstName: "Jana", LastName: "Nová"},
		{BibNumber: "204", FirstName: "Petr", LastName: "Dvořák"},
	})
	if err != nil {
		t.Fatalf("Replace failed: %v", err)
	}

	set, err := roster.BibSet(ctx, "event-1")
	if err != nil {
		t.Fatalf("BibSet failed: %v", err)
	}
	if _, ok := set["101"]; !ok {
		t.Error("expected bib 101 in set")
	}
	if len(set) != 2 {
		t.Errorf("expected 2 bibs, got %d", len(set))
	}

	// Replace is wholesale.
	if err := roster.Replace(ctx, "event-1", []database.RosterEntry{{BibNumber: "500"}}); err != nil {
		t.Fatalf("second Replace failed: %v", err)
	}
	entries, err := roster.ListForEvent(ctx, "event-1")
	if err != nil {
		t.Fatalf("ListForEvent failed: %v", err)
	}
	if len(entries) != 1 || entries[0].BibNumber != "500" {
		t.Errorf("expected only bib 500, got %+v", entries)
	}
}

func TestLedgerRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	ledger := NewLedgerRepository(pool)

	// Seed credits via admin adjustment.
	if _, err := ledger.Adjust(ctx, "user-1", 10, "initial purchase"); err != nil {
		t.Fatalf("Adjust failed: %v", err)
	}

	entry, err := ledger.Debit(ctx, "user-1", 4, "upload batch")
	if err != nil {
		t.Fatalf("Debit failed: %v", err)
	}
	if entry.BalanceBefore != 10 || entry.BalanceAfter != 6 {
		t.Errorf("unexpected balances: %+v", entry)
	}

	// Over-debit is rejected.
	if _, err := ledger.Debit(ctx, "user-1", 100, "too much"); !errors.Is(err, database.ErrInsufficientCredits) {
		t.Errorf("expected ErrInsufficientCredits, got %v", err)
	}

	// Refunds are idempotent per key.
	refund, err := ledger.Refund(ctx, "user-1", 1, "no linkage", "refund:photo-1")
	if err != nil {
		t.Fatalf("Refund failed: %v", err)
	}
	if refund == nil || refund.BalanceAfter != 7 {
		t.Errorf("unexpected refund entry: %+v", refund)
	}

	again, err := ledger.Refund(ctx, "user-1", 1, "no linkage", "refund:photo-1")
	if err != nil {
		t.Fatalf("repeated Refund failed: %v", err)
	}
	if again != nil {
		t.Errorf("expected nil entry for repeated refund, got %+v", again)
	}

	balance, err := ledger.Balance(ctx, "user-1")
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if balance != 7 {
		t.Errorf("expected balance 7, got %d", balance)
	}

	recent, err := ledger.Recent(ctx, "user-1", 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recent) != 3 {
		t.Errorf("expected 3 entries, got %d", len(recent))
	}
	if recent[0].Type != database.EntryRefund {
		t.Errorf("expected newest entry to be refund, got %s", recent[0].Type)
	}
}
