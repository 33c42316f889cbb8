package imaging

import (
	"fmt"
	"image"

	"github.com/racepix/racepix/internal/constants"
)

// Renditions holds everything derived from one upload: the web display JPEG
// (persisted by the caller) and the analysis buffer handed to the vision
// service, kept in memory to avoid a re-fetch from object storage.
type Renditions struct {
	Web      []byte
	Analysis []byte
	Width    int // source dimensions after decode
	Height   int
}

// Generate decodes the raw upload and produces the display rendition and the
// analysis raster. Decoding proceeds through three fallback strategies in
// order, stopping at the first success: strict decode with a pixel-count
// guard, decode with the guard relaxed, and a repaired raw-pixel round-trip.
// If all three fail the photo is unrecoverable and a *DecodeError is returned.
//
// Given identical input bytes the output is deterministic.
func Generate(data []byte, filename string) (*Renditions, error) {
	img, err := decodeWithFallback(data)
	if err != nil {
		return nil, &DecodeError{Filename: filename, Err: err}
	}

	bounds := img.Bounds()

	web, err := encodeJPEG(resizeFit(img, constants.MaxWebSize), constants.JPEGQuality)
	if err != nil {
		return nil, fmt.Errorf("encoding web rendition: %w", err)
	}

	analysis, err := encodeBounded(img, constants.MaxAnalysisSize, constants.MaxAnalysisBytes)
	if err != nil {
		return nil, fmt.Errorf("encoding analysis raster: %w", err)
	}

	return &Renditions{
		Web:      web,
		Analysis: analysis,
		Width:    bounds.Dx(),
		Height:   bounds.Dy(),
	}, nil
}

func decodeWithFallback(data []byte) (image.Image, error) {
	img, strictErr := decodeStrict(data, constants.MaxDecodePixels)
	if strictErr == nil {
		return img, nil
	}

	img, relaxedErr := decodeRelaxed(data)
	if relaxedErr == nil {
		return img, nil
	}

	img, repairedErr := decodeRepaired(data)
	if repairedErr == nil {
		return img, nil
	}

	return nil, fmt.Errorf("all decode strategies failed: strict: %v; relaxed: %v; repaired: %v",
		strictErr, relaxedErr, repairedErr)
}

// encodeBounded fits the image inside maxSize and re-encodes at descending
// quality until the buffer is under maxBytes. The quality ladder is fixed so
// identical inputs yield identical outputs.
func encodeBounded(img image.Image, maxSize, maxBytes int) ([]byte, error) {
	resized := resizeFit(img, maxSize)

	for _, quality := range []int{constants.JPEGQuality, 70, 55, 40} {
		buf, err := encodeJPEG(resized, quality)
		if err != nil {
			return nil, err
		}
		if len(buf) <= maxBytes {
			return buf, nil
		}
	}

	// Last resort: halve the dimensions once at the lowest quality.
	halved := resizeFit(resized, maxSize/2)
	buf, err := encodeJPEG(halved, 40)
	if err != nil {
		return nil, err
	}
	if len(buf) > maxBytes {
		return nil, fmt.Errorf("analysis raster exceeds %d bytes even at minimum quality", maxBytes)
	}
	return buf, nil
}
