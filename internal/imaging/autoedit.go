package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	"github.com/racepix/racepix/internal/constants"
)

// AutoEdit applies a linear auto-contrast stretch and returns the re-encoded
// JPEG, or (nil, nil) when the image already uses the full luma range and
// there is nothing to stretch. Blurry photos are skipped by the caller; a
// contrast stretch on a soft image only amplifies noise.
func AutoEdit(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding for auto-edit: %w", err)
	}

	rgba := resizeFit(img, constants.MaxAnalysisSize)
	bounds := rgba.Bounds()

	// Find the luma range actually used.
	minLuma, maxLuma := 255.0, 0.0
	for x := bounds.Min.X; x < bounds.Max.X; x++ {
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			r, g, b, _ := rgba.At(x, y).RGBA()
			luma := 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
			if luma < minLuma {
				minLuma = luma
			}
			if luma > maxLuma {
				maxLuma = luma
			}
		}
	}

	spread := maxLuma - minLuma
	if spread < 1 || spread > 250 {
		// Full-range or flat image, nothing to stretch.
		return nil, nil
	}

	scale := 255.0 / spread
	for x := bounds.Min.X; x < bounds.Max.X; x++ {
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			r, g, b, a := rgba.At(x, y).RGBA()
			rgba.Set(x, y, color.RGBA{
				R: stretchChannel(float64(r>>8), minLuma, scale),
				G: stretchChannel(float64(g>>8), minLuma, scale),
				B: stretchChannel(float64(b>>8), minLuma, scale),
				A: uint8(a >> 8),
			})
		}
	}

	return encodeJPEG(rgba, constants.JPEGQuality)
}

func stretchChannel(v, minLuma, scale float64) uint8 {
	stretched := (v - minLuma) * scale
	if stretched < 0 {
		return 0
	}
	if stretched > 255 {
		return 255
	}
	return uint8(stretched)
}
