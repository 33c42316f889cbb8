package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
	"time"

	"github.com/racepix/racepix/internal/config"
	"github.com/racepix/racepix/internal/database"
	"github.com/racepix/racepix/internal/database/mock"
	"github.com/racepix/racepix/internal/objstore"
	"github.com/racepix/racepix/internal/session"
	"github.com/racepix/racepix/internal/vision"
)

type fakeProvider struct {
	text  *vision.TextResult
	faces []vision.FaceDetection

	textErr error
	faceErr error
}

func (f *fakeProvider) DetectText(context.Context, []byte, []string) (*vision.TextResult, error) {
	if f.textErr != nil {
		return nil, f.textErr
	}
	return f.text, nil
}

func (f *fakeProvider) IndexFaces(context.Context, []byte, string) ([]vision.FaceDetection, error) {
	if f.faceErr != nil {
		return nil, f.faceErr
	}
	return f.faces, nil
}

type fakeLabeler struct {
	labels []vision.Label
}

func (f *fakeLabeler) Name() string { return "fake" }

func (f *fakeLabeler) DetectLabels(context.Context, []byte, int, float64) ([]vision.Label, error) {
	return f.labels, nil
}

type fakeScheduler struct {
	scheduled []string
	refund    int
}

func (f *fakeScheduler) Schedule(eventID, _ string, onSettled func(int)) {
	f.scheduled = append(f.scheduled, eventID)
	onSettled(f.refund)
}

// testJPEG produces a decodable photo with some texture so quality scoring
// has gradients to work with.
func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			v := uint8((x*7 + y*13) % 256)
			img.Set(x, y, color.RGBA{R: v, G: 255 - v, B: v / 2, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode test jpeg: %v", err)
	}
	return buf.Bytes()
}

func pipelineConfig() *config.PipelineConfig {
	return &config.PipelineConfig{
		Workers:          1,
		BlurThreshold:    50,
		OCRMinConfidence: 60,
	}
}

func TestProcessHappyPath(t *testing.T) {
	ctx := context.Background()
	stores := mock.NewStores()
	objects := objstore.NewMemory()
	scheduler := &fakeScheduler{refund: 0}

	provider := &fakeProvider{
		text: &vision.TextResult{
			ProviderID: "test-ocr",
			Detections: []vision.TextDetection{
				{Text: "101", Confidence: 92},
				{Text: "999", Confidence: 95}, // not on roster
				{Text: "204", Confidence: 40}, // below min confidence
			},
		},
		faces: []vision.FaceDetection{
			{FaceID: "ext-1", Confidence: 98, Embedding: []float32{1, 0}, BBox: []float64{0.4, 0.3, 0.2, 0.25}},
		},
	}
	labeler := &fakeLabeler{labels: []vision.Label{{Name: "running", Confidence: 0.9}}}

	stores.Roster.Replace(ctx, "event-1", []database.RosterEntry{
		{BibNumber: "101"}, {BibNumber: "204"},
	})

	photo := database.Photo{ID: "photo-1", EventID: "event-1", UserID: "user-1", OriginalName: "a.jpg"}
	if err := stores.Photos.CreateBatch(ctx, []database.Photo{photo}); err != nil {
		t.Fatalf("create photo: %v", err)
	}

	sessions := session.NewStore(time.Minute)
	defer sessions.Close()
	sess := sessions.Create("event-1", "user-1", 1)

	c := NewCoordinator(stores.Photos, stores.Bibs, stores.Faces, stores.Roster,
		objects, provider, labeler, scheduler, pipelineConfig())
	c.Process(ctx, photo, testJPEG(t, 800, 600), sess)

	got, err := stores.Photos.Get(ctx, "photo-1")
	if err != nil {
		t.Fatalf("get photo: %v", err)
	}
	if got.ProcessedAt == nil {
		t.Fatal("photo not marked processed")
	}
	if got.Provider != "test-ocr" {
		t.Errorf("expected provider test-ocr, got %q", got.Provider)
	}
	if got.WebKey == "" || got.ThumbKey == "" || got.OriginalKey == "" {
		t.Errorf("missing rendition keys: %+v", got)
	}
	if got.QualityScore <= 0 {
		t.Errorf("expected positive quality score, got %d", got.QualityScore)
	}
	if !got.FaceIndexed {
		t.Error("expected face indexed flag")
	}
	if len(got.Labels) != 1 || got.Labels[0] != "running" {
		t.Errorf("unexpected labels: %v", got.Labels)
	}

	bibs, _ := stores.Bibs.GetForPhoto(ctx, "photo-1")
	if len(bibs) != 1 || bibs[0].Number != "101" {
		t.Errorf("expected only roster bib 101, got %+v", bibs)
	}

	faces, _ := stores.Faces.GetFaces(ctx, "photo-1")
	if len(faces) != 1 {
		t.Fatalf("expected 1 face, got %d", len(faces))
	}
	if faces[0].CropKey == "" {
		t.Error("expected face crop key")
	}
	if _, err := objects.Get(ctx, faces[0].CropKey); err != nil {
		t.Errorf("face crop not stored: %v", err)
	}

	if len(scheduler.scheduled) != 1 || scheduler.scheduled[0] != "event-1" {
		t.Errorf("expected clustering scheduled for event-1, got %v", scheduler.scheduled)
	}
	snap := sess.Snapshot()
	if !snap.Complete || snap.Processed != 1 {
		t.Errorf("expected completed session, got %+v", snap)
	}
}

func TestProcessCropsFacesFromOriginal(t *testing.T) {
	ctx := context.Background()
	stores := mock.NewStores()
	objects := objstore.NewMemory()

	// A face this small clears the minimum crop size on the 2000px original
	// but not on the downscaled web rendition.
	provider := &fakeProvider{
		text: &vision.TextResult{ProviderID: "test-ocr"},
		faces: []vision.FaceDetection{
			{FaceID: "ext-1", Confidence: 97, Embedding: []float32{1, 0}, BBox: []float64{0.5, 0.5, 0.011, 0.011}},
		},
	}

	photo := database.Photo{ID: "photo-1", EventID: "event-1", UserID: "user-1", OriginalName: "a.jpg"}
	stores.Photos.CreateBatch(ctx, []database.Photo{photo})

	c := NewCoordinator(stores.Photos, stores.Bibs, stores.Faces, stores.Roster,
		objects, provider, nil, nil, pipelineConfig())
	c.Process(ctx, photo, testJPEG(t, 2000, 2000), nil)

	faces, _ := stores.Faces.GetFaces(ctx, "photo-1")
	if len(faces) != 1 {
		t.Fatalf("expected 1 face, got %d", len(faces))
	}
	if faces[0].CropKey == "" {
		t.Fatal("expected a crop for a face that is large enough in the original")
	}
	if _, err := objects.Get(ctx, faces[0].CropKey); err != nil {
		t.Errorf("face crop not stored: %v", err)
	}
}

func TestProcessDeduplicatesFaceIDs(t *testing.T) {
	ctx := context.Background()
	stores := mock.NewStores()
	objects := objstore.NewMemory()

	provider := &fakeProvider{
		text: &vision.TextResult{ProviderID: "test-ocr"},
		faces: []vision.FaceDetection{
			{FaceID: "ext-1", Confidence: 80, Embedding: []float32{1, 0}, BBox: []float64{0.1, 0.1, 0.2, 0.2}},
			{FaceID: "ext-1", Confidence: 95, Embedding: []float32{0, 1}, BBox: []float64{0.4, 0.3, 0.2, 0.25}},
			{FaceID: "ext-2", Confidence: 90, Embedding: []float32{1, 1}, BBox: []float64{0.6, 0.3, 0.2, 0.25}},
		},
	}

	photo := database.Photo{ID: "photo-1", EventID: "event-1", UserID: "user-1", OriginalName: "a.jpg"}
	stores.Photos.CreateBatch(ctx, []database.Photo{photo})

	c := NewCoordinator(stores.Photos, stores.Bibs, stores.Faces, stores.Roster,
		objects, provider, nil, nil, pipelineConfig())
	c.Process(ctx, photo, testJPEG(t, 800, 600), nil)

	faces, _ := stores.Faces.GetFaces(ctx, "photo-1")
	if len(faces) != 2 {
		t.Fatalf("expected 2 faces after dedupe, got %d", len(faces))
	}
	byID := make(map[string]database.PhotoFace)
	for _, f := range faces {
		byID[f.FaceID] = f
	}
	if f := byID["ext-1"]; f.Confidence != 95 {
		t.Errorf("expected the higher-confidence reading for ext-1, got %+v", f)
	}
	if faces[0].FaceIndex == faces[1].FaceIndex {
		t.Error("face indexes must stay distinct")
	}
}

func TestProcessUndecodableUpload(t *testing.T) {
	ctx := context.Background()
	stores := mock.NewStores()
	objects := objstore.NewMemory()
	scheduler := &fakeScheduler{refund: 1}

	photo := database.Photo{ID: "photo-1", EventID: "event-1", UserID: "user-1", OriginalName: "broken.jpg"}
	stores.Photos.CreateBatch(ctx, []database.Photo{photo})

	sessions := session.NewStore(time.Minute)
	defer sessions.Close()
	sess := sessions.Create("event-1", "user-1", 1)

	c := NewCoordinator(stores.Photos, stores.Bibs, stores.Faces, stores.Roster,
		objects, &fakeProvider{}, nil, scheduler, pipelineConfig())
	c.Process(ctx, photo, []byte("definitely not an image"), sess)

	got, _ := stores.Photos.Get(ctx, "photo-1")
	if got.ProcessedAt == nil {
		t.Fatal("undecodable photo must still count as processed")
	}
	if got.WebKey != "" {
		t.Error("undecodable photo must not have renditions")
	}
	if objects.Len() != 0 {
		t.Errorf("expected no stored objects, got %d", objects.Len())
	}

	snap := sess.Snapshot()
	if !snap.Complete {
		t.Error("session must complete")
	}
	if snap.CreditsRefunded != 1 {
		t.Errorf("expected 1 refunded credit after settle, got %d", snap.CreditsRefunded)
	}
}

func TestProcessVisionOutageIsSoft(t *testing.T) {
	ctx := context.Background()
	stores := mock.NewStores()
	objects := objstore.NewMemory()

	provider := &fakeProvider{
		textErr: &vision.ExternalServiceError{Service: "vision", Err: context.DeadlineExceeded},
		faceErr: &vision.ExternalServiceError{Service: "vision", Err: context.DeadlineExceeded},
	}

	photo := database.Photo{ID: "photo-1", EventID: "event-1", UserID: "user-1", OriginalName: "a.jpg"}
	stores.Photos.CreateBatch(ctx, []database.Photo{photo})

	c := NewCoordinator(stores.Photos, stores.Bibs, stores.Faces, stores.Roster,
		objects, provider, nil, nil, pipelineConfig())
	c.Process(ctx, photo, testJPEG(t, 400, 300), nil)

	got, _ := stores.Photos.Get(ctx, "photo-1")
	if got.ProcessedAt == nil {
		t.Fatal("photo must be processed despite vision outage")
	}
	if got.WebKey == "" || got.ThumbKey == "" {
		t.Error("renditions must exist despite vision outage")
	}
	if stores.Bibs.Count() != 0 {
		t.Error("expected no bibs")
	}
	if got.FaceIndexed {
		t.Error("expected no indexed faces")
	}
}

func TestFilterBibs(t *testing.T) {
	roster := map[string]struct{}{"101": {}, "204": {}}

	tests := []struct {
		name       string
		detections []vision.TextDetection
		roster     map[string]struct{}
		want       []string
	}{
		{
			name: "roster filters unknown numbers",
			detections: []vision.TextDetection{
				{Text: "101", Confidence: 90},
				{Text: "777", Confidence: 90},
			},
			roster: roster,
			want:   []string{"101"},
		},
		{
			name: "leading zeros collapse onto roster bib",
			detections: []vision.TextDetection{
				{Text: "0101", Confidence: 90},
			},
			roster: roster,
			want:   []string{"101"},
		},
		{
			name: "low confidence dropped",
			detections: []vision.TextDetection{
				{Text: "101", Confidence: 59},
			},
			roster: roster,
			want:   nil,
		},
		{
			name: "no roster accepts short digit runs only",
			detections: []vision.TextDetection{
				{Text: "42", Confidence: 80},
				{Text: "START", Confidence: 80},
				{Text: "1234567", Confidence: 80},
			},
			roster: nil,
			want:   []string{"42"},
		},
		{
			name: "duplicates keep best confidence",
			detections: []vision.TextDetection{
				{Text: "101", Confidence: 70},
				{Text: "101.", Confidence: 95},
			},
			roster: roster,
			want:   []string{"101"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := filterBibs(tt.detections, tt.roster, 60)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %+v", tt.want, got)
			}
			for i, n := range tt.want {
				if got[i].Number != n {
					t.Errorf("expected %s at %d, got %s", n, i, got[i].Number)
				}
			}
		})
	}

	t.Run("best confidence survives dedupe", func(t *testing.T) {
		got := filterBibs([]vision.TextDetection{
			{Text: "101", Confidence: 70},
			{Text: "101", Confidence: 95},
		}, roster, 60)
		if len(got) != 1 || got[0].Confidence != 95 {
			t.Errorf("expected confidence 95, got %+v", got)
		}
	})
}
