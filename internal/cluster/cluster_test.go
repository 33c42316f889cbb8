package cluster

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/racepix/racepix/internal/credits"
	"github.com/racepix/racepix/internal/database"
	"github.com/racepix/racepix/internal/database/mock"
)

func processedPhoto(t *testing.T, stores *mock.Stores, id, eventID, userID string) {
	t.Helper()
	ctx := context.Background()
	err := stores.Photos.CreateBatch(ctx, []database.Photo{
		{ID: id, EventID: eventID, UserID: userID, OriginalName: id + ".jpg"},
	})
	if err != nil {
		t.Fatalf("create photo %s: %v", id, err)
	}
	if err := stores.Photos.MarkProcessed(ctx, id, "test"); err != nil {
		t.Fatalf("mark processed %s: %v", id, err)
	}
}

func addFace(t *testing.T, stores *mock.Stores, photoID, eventID, faceID string, embedding []float32) {
	t.Helper()
	err := stores.Faces.SaveFaces(context.Background(), photoID, []database.PhotoFace{
		{EventID: eventID, FaceID: faceID, FaceIndex: 0, Embedding: embedding, Confidence: 99, BBox: []float64{0.4, 0.3, 0.2, 0.2}},
	})
	if err != nil {
		t.Fatalf("save face for %s: %v", photoID, err)
	}
}

func addOCRBib(t *testing.T, stores *mock.Stores, photoID, number string) {
	t.Helper()
	err := stores.Bibs.ReplaceOCR(context.Background(), photoID, []database.BibNumber{
		{Number: number, Confidence: 95},
	})
	if err != nil {
		t.Fatalf("add bib for %s: %v", photoID, err)
	}
}

func TestRunLinksOrphansAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	stores := mock.NewStores()
	engine := NewEngine(stores.Photos, stores.Bibs, stores.Faces, nil, 0.55)

	// photo-a carries bib 101, photo-b shows the same runner without a
	// readable bib.
	processedPhoto(t, stores, "photo-a", "event-1", "user-1")
	processedPhoto(t, stores, "photo-b", "event-1", "user-1")
	addFace(t, stores, "photo-a", "event-1", "ext-a", []float32{1, 0, 0})
	addFace(t, stores, "photo-b", "event-1", "ext-b", []float32{0.99, 0.1, 0})
	addOCRBib(t, stores, "photo-a", "101")

	summary, err := engine.Run(ctx, "event-1")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.PhotosLinked != 1 || summary.NewBibsAssigned != 1 {
		t.Errorf("expected 1 link, got %+v", summary)
	}

	bibs, _ := stores.Bibs.GetForPhoto(ctx, "photo-b")
	if len(bibs) != 1 || bibs[0].Number != "101" || bibs[0].Source != database.BibSourceFaceCluster {
		t.Fatalf("unexpected linked bibs: %+v", bibs)
	}

	// Unchanged data, second pass assigns nothing.
	summary, err = engine.Run(ctx, "event-1")
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if summary.NewBibsAssigned != 0 {
		t.Errorf("expected idempotent pass, got %+v", summary)
	}
	bibs, _ = stores.Bibs.GetForPhoto(ctx, "photo-b")
	if len(bibs) != 1 {
		t.Errorf("expected no duplicate bibs, got %+v", bibs)
	}
}

func TestRunIgnoresDissimilarFaces(t *testing.T) {
	ctx := context.Background()
	stores := mock.NewStores()
	engine := NewEngine(stores.Photos, stores.Bibs, stores.Faces, nil, 0.55)

	processedPhoto(t, stores, "photo-a", "event-1", "user-1")
	processedPhoto(t, stores, "photo-b", "event-1", "user-1")
	addFace(t, stores, "photo-a", "event-1", "ext-a", []float32{1, 0, 0})
	// Orthogonal embedding, similarity 0.
	addFace(t, stores, "photo-b", "event-1", "ext-b", []float32{0, 1, 0})
	addOCRBib(t, stores, "photo-a", "101")

	summary, err := engine.Run(ctx, "event-1")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.NewBibsAssigned != 0 {
		t.Errorf("expected no links below threshold, got %+v", summary)
	}
}

func TestBestBibTieBreaksDeterministically(t *testing.T) {
	ctx := context.Background()
	stores := mock.NewStores()
	engine := NewEngine(stores.Photos, stores.Bibs, stores.Faces, nil, 0.55)

	emb := []float32{1, 0, 0}
	processedPhoto(t, stores, "photo-a", "event-1", "user-1")
	processedPhoto(t, stores, "photo-b", "event-1", "user-1")
	processedPhoto(t, stores, "photo-c", "event-1", "user-1")
	addFace(t, stores, "photo-a", "event-1", "ext-a", emb)
	addFace(t, stores, "photo-b", "event-1", "ext-b", emb)
	addFace(t, stores, "photo-c", "event-1", "ext-c", emb)
	addOCRBib(t, stores, "photo-a", "204")
	addOCRBib(t, stores, "photo-b", "101")

	if _, err := engine.Run(ctx, "event-1"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	bibs, _ := stores.Bibs.GetForPhoto(ctx, "photo-c")
	if len(bibs) != 1 || bibs[0].Number != "101" {
		t.Errorf("expected tie to break towards 101, got %+v", bibs)
	}
}

func TestRunSettlesRefundsOnce(t *testing.T) {
	ctx := context.Background()
	stores := mock.NewStores()
	creditSvc := credits.NewService(stores.Ledger)
	engine := NewEngine(stores.Photos, stores.Bibs, stores.Faces, creditSvc, 0.55)

	if _, err := stores.Ledger.Adjust(ctx, "user-1", 5, "seed"); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if _, err := creditSvc.DebitBatch(ctx, "user-1", 2); err != nil {
		t.Fatalf("debit failed: %v", err)
	}

	// photo-a gets a bib, photo-b stays unlinked.
	processedPhoto(t, stores, "photo-a", "event-1", "user-1")
	processedPhoto(t, stores, "photo-b", "event-1", "user-1")
	addOCRBib(t, stores, "photo-a", "101")

	summary, err := engine.Run(ctx, "event-1")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.CreditsRefunded != 1 || summary.RefundsByUser["user-1"] != 1 {
		t.Errorf("expected 1 refund, got %+v", summary)
	}

	// Settling again refunds nothing new.
	summary, err = engine.Run(ctx, "event-1")
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if summary.CreditsRefunded != 0 {
		t.Errorf("expected idempotent settle, got %+v", summary)
	}

	balance, _ := creditSvc.Balance(ctx, "user-1")
	if balance != 4 {
		t.Errorf("expected balance 4, got %d", balance)
	}
}

type countingFaceStore struct {
	database.FaceStore
	lists atomic.Int32
}

func (c *countingFaceStore) ListByEvent(ctx context.Context, eventID string) ([]database.PhotoFace, error) {
	c.lists.Add(1)
	return c.FaceStore.ListByEvent(ctx, eventID)
}

func TestSchedulerCollapsesBursts(t *testing.T) {
	stores := mock.NewStores()
	faces := &countingFaceStore{FaceStore: stores.Faces}
	engine := NewEngine(stores.Photos, stores.Bibs, faces, nil, 0.55)
	scheduler := NewScheduler(engine, 20*time.Millisecond)
	defer scheduler.Close()

	var settled atomic.Int32
	var wg sync.WaitGroup
	wg.Add(3)
	for i := 0; i < 3; i++ {
		scheduler.Schedule("event-1", "user-1", func(int) {
			settled.Add(1)
			wg.Done()
		})
	}

	wg.Wait()
	if got := faces.lists.Load(); got != 1 {
		t.Errorf("expected a single collapsed pass, got %d", got)
	}
	if settled.Load() != 3 {
		t.Errorf("expected all 3 waiters settled, got %d", settled.Load())
	}
}

func TestSchedulerReschedulesAfterFire(t *testing.T) {
	stores := mock.NewStores()
	faces := &countingFaceStore{FaceStore: stores.Faces}
	engine := NewEngine(stores.Photos, stores.Bibs, faces, nil, 0.55)
	scheduler := NewScheduler(engine, 10*time.Millisecond)

	first := make(chan struct{})
	scheduler.Schedule("event-1", "user-1", func(int) { close(first) })
	select {
	case <-first:
	case <-time.After(time.Second):
		t.Fatal("first pass never settled")
	}

	// A second batch after the first pass fired must get its own timer,
	// its own pass and exactly one settle.
	var settled atomic.Int32
	scheduler.Schedule("event-1", "user-1", func(int) { settled.Add(1) })
	scheduler.Close()

	if got := settled.Load(); got != 1 {
		t.Errorf("expected the late waiter settled once, got %d", got)
	}
	if got := faces.lists.Load(); got != 2 {
		t.Errorf("expected two passes, got %d", got)
	}
}

func TestSchedulerSurvivesConcurrentBursts(t *testing.T) {
	stores := mock.NewStores()
	engine := NewEngine(stores.Photos, stores.Bibs, stores.Faces, nil, 0.55)
	scheduler := NewScheduler(engine, time.Millisecond)

	// Schedule calls racing against expiring timers must neither panic the
	// scheduler's bookkeeping nor drop a waiter.
	var settled atomic.Int32
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				scheduler.Schedule("event-1", "user-1", func(int) { settled.Add(1) })
				time.Sleep(time.Duration(i%3) * time.Millisecond)
			}
		}()
	}
	wg.Wait()
	scheduler.Close()

	if got := settled.Load(); got != 8*50 {
		t.Errorf("expected all %d waiters settled, got %d", 8*50, got)
	}
}

func TestRunNowBypassesDebounce(t *testing.T) {
	stores := mock.NewStores()
	faces := &countingFaceStore{FaceStore: stores.Faces}
	engine := NewEngine(stores.Photos, stores.Bibs, faces, nil, 0.55)
	scheduler := NewScheduler(engine, time.Hour)
	defer scheduler.Close()

	settled := make(chan int, 1)
	scheduler.Schedule("event-1", "user-1", func(refunded int) { settled <- refunded })

	if _, err := scheduler.RunNow(context.Background(), "event-1"); err != nil {
		t.Fatalf("RunNow failed: %v", err)
	}
	if faces.lists.Load() != 1 {
		t.Errorf("expected one pass, got %d", faces.lists.Load())
	}

	select {
	case <-settled:
	case <-time.After(time.Second):
		t.Fatal("waiter not settled by RunNow")
	}
}
