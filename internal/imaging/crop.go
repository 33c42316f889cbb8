package imaging

import (
	"bytes"
	"fmt"
	"image"

	"github.com/racepix/racepix/internal/constants"
)

// CropRegion is a padded, clamped crop window in pixel coordinates.
type CropRegion struct {
	X, Y, W, H int
}

// PadFaceRegion converts a relative face box [x, y, w, h] (0..1) to pixel
// coordinates and pads it asymmetrically: 0.8x the face width on each side,
// 0.5x the face height above for hair and headwear, and 2.0x the face height
// below so the runner's torso and bib land inside the crop. The padded region
// is clamped to the image bounds.
//
// Returns false when the box is malformed or the clamped region is below the
// minimum usable size: a degenerate crop is worse than no crop.
func PadFaceRegion(bbox []float64, imgWidth, imgHeight int) (CropRegion, bool) {
	if len(bbox) != 4 || imgWidth <= 0 || imgHeight <= 0 {
		return CropRegion{}, false
	}

	faceX := bbox[0] * float64(imgWidth)
	faceY := bbox[1] * float64(imgHeight)
	faceW := bbox[2] * float64(imgWidth)
	faceH := bbox[3] * float64(imgHeight)
	if faceW <= 0 || faceH <= 0 {
		return CropRegion{}, false
	}

	x1 := faceX - faceW*constants.CropPadSideFactor
	x2 := faceX + faceW + faceW*constants.CropPadSideFactor
	y1 := faceY - faceH*constants.CropPadTopFactor
	y2 := faceY + faceH + faceH*constants.CropPadBottomFactor

	// Clamp to image bounds.
	if x1 < 0 {
		x1 = 0
	}
	if y1 < 0 {
		y1 = 0
	}
	if x2 > float64(imgWidth) {
		x2 = float64(imgWidth)
	}
	if y2 > float64(imgHeight) {
		y2 = float64(imgHeight)
	}

	region := CropRegion{
		X: int(x1),
		Y: int(y1),
		W: int(x2 - x1),
		H: int(y2 - y1),
	}
	if region.W < constants.MinCropSize || region.H < constants.MinCropSize {
		return CropRegion{}, false
	}
	return region, true
}

// FaceCrop extracts the padded region around a face from the full-resolution
// raster, resizes it into a bounded square and returns the encoded JPEG.
// Returns (nil, nil) when the crop is rejected as degenerate.
func FaceCrop(data []byte, bbox []float64) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding for face crop: %w", err)
	}

	bounds := img.Bounds()
	region, ok := PadFaceRegion(bbox, bounds.Dx(), bounds.Dy())
	if !ok {
		return nil, nil
	}

	sub := image.Rect(
		bounds.Min.X+region.X,
		bounds.Min.Y+region.Y,
		bounds.Min.X+region.X+region.W,
		bounds.Min.Y+region.Y+region.H,
	)

	type subImager interface {
		SubImage(r image.Rectangle) image.Image
	}
	cropper, ok := img.(subImager)
	if !ok {
		return nil, fmt.Errorf("image type %T does not support cropping", img)
	}

	cropped := resizeFit(cropper.SubImage(sub), constants.CropOutputSize)
	return encodeJPEG(cropped, constants.JPEGQuality)
}
