// Package vision wraps the external computer-vision services used by the
// ingestion pipeline: bib number OCR, face indexing and label detection.
package vision

import (
	"context"
	"fmt"
)

// TextDetection is a single piece of text the OCR backend read from an image.
type TextDetection struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"` // 0-100
}

// TextResult contains all text detections for one image.
type TextResult struct {
	Detections []TextDetection `json:"detections"`
	ProviderID string          `json:"provider_id"`
}

// FaceDetection is a single face found and indexed by the face backend.
// BBox is [x, y, w, h] relative to image dimensions (0.0-1.0).
type FaceDetection struct {
	FaceID     string    `json:"face_id"`
	Confidence float64   `json:"confidence"`
	Embedding  []float32 `json:"embedding"`
	BBox       []float64 `json:"bbox"`
}

// Label is a scene or activity label with its confidence (0.0-1.0).
type Label struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// Provider defines the vision backend used for OCR and face indexing.
type Provider interface {
	// DetectText runs OCR on the image. The hints set, when non-empty, is
	// passed to the backend to bias recognition towards known bib numbers.
	DetectText(ctx context.Context, imageData []byte, hints []string) (*TextResult, error)

	// IndexFaces detects faces in the image and registers them in the
	// backend's collection under indexKey so they can be matched later.
	IndexFaces(ctx context.Context, imageData []byte, indexKey string) ([]FaceDetection, error)
}

// Labeler detects content labels for an image.
type Labeler interface {
	Name() string
	DetectLabels(ctx context.Context, imageData []byte, maxLabels int, minConfidence float64) ([]Label, error)
}

// ExternalServiceError wraps a failure of an external vision service.
// Pipeline stages treat it as a soft failure and continue with empty results.
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s service error: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

// NewLabeler creates a label detection provider by name.
// Supported providers: "gemini", "openai".
func NewLabeler(ctx context.Context, provider, geminiAPIKey, openaiToken string) (Labeler, error) {
	switch provider {
	case "gemini":
		if geminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required for the gemini label provider")
		}
		return NewGeminiLabeler(ctx, geminiAPIKey)
	case "openai":
		if openaiToken == "" {
			return nil, fmt.Errorf("OPENAI_TOKEN is required for the openai label provider")
		}
		return NewOpenAILabeler(openaiToken), nil
	case "", "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown label provider: %q", provider)
	}
}
