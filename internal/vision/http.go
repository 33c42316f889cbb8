package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

const defaultVisionURL = "http://localhost:8100"

// Client talks to the vision sidecar over HTTP. The sidecar exposes
// multipart endpoints for OCR and face indexing.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a vision client. An empty baseURL falls back to the
// local development sidecar.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultVisionURL
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

type textResponse struct {
	Detections []TextDetection `json:"detections"`
	Provider   string          `json:"provider"`
}

type faceResponse struct {
	Faces []FaceDetection `json:"faces"`
}

// postMultipartImage constructs a multipart form with the image data plus
// extra fields and posts it to the given endpoint.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte, fields map[string]string) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", detectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}

	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("failed to write form field %s: %w", name, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &ExternalServiceError{Service: "vision", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ExternalServiceError{Service: "vision", Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &ExternalServiceError{
			Service: "vision",
			Err:     fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body)),
		}
	}

	return body, nil
}

// DetectText runs OCR on the image via the sidecar's /detect/text endpoint.
func (c *Client) DetectText(ctx context.Context, imageData []byte, hints []string) (*TextResult, error) {
	fields := map[string]string{}
	if len(hints) > 0 {
		fields["hints"] = strings.Join(hints, ",")
	}

	body, err := c.postMultipartImage(ctx, "/detect/text", imageData, fields)
	if err != nil {
		return nil, err
	}

	var tr textResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, &ExternalServiceError{Service: "vision", Err: fmt.Errorf("failed to parse text response: %w", err)}
	}

	return &TextResult{Detections: tr.Detections, ProviderID: tr.Provider}, nil
}

// IndexFaces detects and indexes faces via the sidecar's /index/faces endpoint.
// The indexKey links indexed faces back to the source photo in the backend's
// face collection.
func (c *Client) IndexFaces(ctx context.Context, imageData []byte, indexKey string) ([]FaceDetection, error) {
	body, err := c.postMultipartImage(ctx, "/index/faces", imageData, map[string]string{
		"external_id": indexKey,
	})
	if err != nil {
		return nil, err
	}

	var fr faceResponse
	if err := json.Unmarshal(body, &fr); err != nil {
		return nil, &ExternalServiceError{Service: "vision", Err: fmt.Errorf("failed to parse face response: %w", err)}
	}

	return fr.Faces, nil
}

// detectMIMEType inspects magic bytes to determine the image MIME type.
func detectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	// PNG: 89 50 4E 47 0D 0A 1A 0A
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	// GIF: 47 49 46 38
	if data[0] == 0x47 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x38 {
		return "image/gif"
	}
	// WebP: 52 49 46 46 ... 57 45 42 50
	if len(data) >= 12 && data[0] == 0x52 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x46 &&
		data[8] == 0x57 && data[9] == 0x45 && data[10] == 0x42 && data[11] == 0x50 {
		return "image/webp"
	}
	return "application/octet-stream"
}
