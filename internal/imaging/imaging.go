// Package imaging produces the derived renditions of an uploaded race photo:
// the web display image, the analysis raster sent to the vision service, the
// watermarked preview thumbnail and per-face crops. It also computes the
// sharpness score used for blur detection.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

// DecodeError means all decode fallback strategies were exhausted. It is
// fatal for the affected photo; no other photo in the batch is affected.
type DecodeError struct {
	Filename string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding %s: %v", e.Filename, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// decodeStrict decodes with a pixel-count guard against decompression bombs.
func decodeStrict(data []byte, maxPixels int) (image.Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("reading image header: %w", err)
	}
	if cfg.Width*cfg.Height > maxPixels {
		return nil, fmt.Errorf("image too large: %dx%d", cfg.Width, cfg.Height)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}

// decodeRelaxed decodes without the pixel-count guard.
func decodeRelaxed(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image (relaxed): %w", err)
	}
	return img, nil
}

// decodeRepaired patches common JPEG damage (missing end-of-image marker,
// trailing garbage) and round-trips the raw pixels through NRGBA so the
// re-encode never carries the original's defects forward.
func decodeRepaired(data []byte) (image.Image, error) {
	repaired := repairJPEG(data)
	img, _, err := image.Decode(bytes.NewReader(repaired))
	if err != nil {
		return nil, fmt.Errorf("decoding repaired image: %w", err)
	}
	bounds := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Copy(dst, image.Point{}, img, bounds, draw.Src, nil)
	return dst, nil
}

// repairJPEG appends a missing EOI marker and strips bytes after the last one.
// Non-JPEG data is returned unchanged.
func repairJPEG(data []byte) []byte {
	if len(data) < 4 || data[0] != 0xFF || data[1] != 0xD8 {
		return data
	}
	if idx := bytes.LastIndex(data, []byte{0xFF, 0xD9}); idx >= 0 {
		return data[:idx+2]
	}
	repaired := make([]byte, 0, len(data)+2)
	repaired = append(repaired, data...)
	return append(repaired, 0xFF, 0xD9)
}

// resizeFit scales an image to fit within maxSize while keeping aspect ratio.
// Images already small enough are copied, not upscaled.
func resizeFit(img image.Image, maxSize int) *image.RGBA {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	newWidth, newHeight := width, height
	if width > maxSize || height > maxSize {
		if width > height {
			newWidth = maxSize
			newHeight = int(float64(height) * float64(maxSize) / float64(width))
		} else {
			newHeight = maxSize
			newWidth = int(float64(width) * float64(maxSize) / float64(height))
		}
	}
	if newWidth < 1 {
		newWidth = 1
	}
	if newHeight < 1 {
		newHeight = 1
	}

	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.BiLinear.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
	return resized
}

// encodeJPEG encodes with the given quality.
func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encoding jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// toGrayscale converts an image to a 2D array of grayscale values (0-255).
func toGrayscale(img *image.RGBA) [][]float64 {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	gray := make([][]float64, width)
	for x := range width {
		gray[x] = make([]float64, height)
		for y := range height {
			r, g, b, _ := img.At(x, y).RGBA()
			// ITU-R BT.601 luma formula.
			luma := 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
			gray[x][y] = luma
		}
	}

	return gray
}
