package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	"github.com/racepix/racepix/internal/constants"
)

// watermarkBandFraction is the width of the diagonal watermark band relative
// to the thumbnail diagonal.
const watermarkBandFraction = 0.12

// WatermarkedThumbnail produces the preview thumbnail shown before purchase:
// resized to fit ThumbSize with a translucent diagonal band so the preview is
// recognizable but not usable as-is.
func WatermarkedThumbnail(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding for thumbnail: %w", err)
	}

	thumb := resizeFit(img, constants.ThumbSize)
	bounds := thumb.Bounds()
	width := float64(bounds.Dx())
	height := float64(bounds.Dy())
	band := (width + height) / 2 * watermarkBandFraction

	for x := bounds.Min.X; x < bounds.Max.X; x++ {
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			// Distance from the main diagonal, normalized to the aspect ratio.
			d := float64(x)*height - float64(y)*width
			if d < 0 {
				d = -d
			}
			if d/height > band {
				continue
			}
			r, g, b, a := thumb.At(x, y).RGBA()
			thumb.Set(x, y, color.RGBA{
				R: blendWhite(r >> 8),
				G: blendWhite(g >> 8),
				B: blendWhite(b >> 8),
				A: uint8(a >> 8),
			})
		}
	}

	return encodeJPEG(thumb, constants.JPEGQuality)
}

// blendWhite mixes 40% white into the channel.
func blendWhite(v uint32) uint8 {
	return uint8((float64(v)*0.6 + 255*0.4))
}
