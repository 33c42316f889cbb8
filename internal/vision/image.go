package vision

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

// labelPromptSize is the max dimension sent to LLM label providers.
// Smaller inputs keep token costs down without hurting label quality.
const labelPromptSize = 800

// resizeForPrompt resizes an image to fit within maxSize while keeping
// aspect ratio, re-encoding as JPEG.
func resizeForPrompt(data []byte, maxSize int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	if width <= maxSize && height <= maxSize {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
			return nil, fmt.Errorf("failed to encode image: %w", err)
		}
		return buf.Bytes(), nil
	}

	var newWidth, newHeight int
	if width > height {
		newWidth = maxSize
		newHeight = int(float64(height) * float64(maxSize) / float64(width))
	} else {
		newHeight = maxSize
		newWidth = int(float64(width) * float64(maxSize) / float64(height))
	}

	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("failed to encode resized image: %w", err)
	}

	return buf.Bytes(), nil
}

// buildLabelPrompt builds the instruction for LLM label providers.
func buildLabelPrompt(maxLabels int) string {
	return fmt.Sprintf(`You are tagging sports event photographs for a photo marketplace.
Look at the image and return up to %d short labels describing the visible
sport, scenery and context (for example "running", "marathon", "finish line",
"trail", "cycling", "crowd", "podium").

Respond with a JSON object of the form:
{"labels": [{"name": "running", "confidence": 0.95}]}

Confidence is your certainty between 0.0 and 1.0. Use lowercase label names.
Do not include people's identities or bib numbers as labels.`, maxLabels)
}

type labelPayload struct {
	Labels []Label `json:"labels"`
}

// parseLabels decodes the provider JSON and applies the confidence and
// count limits.
func parseLabels(content string, maxLabels int, minConfidence float64) ([]Label, error) {
	var payload labelPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return nil, fmt.Errorf("failed to parse labels JSON: %w (response: %s)", err, content)
	}

	labels := make([]Label, 0, len(payload.Labels))
	for _, l := range payload.Labels {
		l.Name = strings.ToLower(strings.TrimSpace(l.Name))
		if l.Name == "" || l.Confidence < minConfidence {
			continue
		}
		labels = append(labels, l)
		if len(labels) >= maxLabels {
			break
		}
	}
	return labels, nil
}
