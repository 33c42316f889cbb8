package imaging

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/racepix/racepix/internal/constants"
)

// flatJPEG encodes a uniform gray image.
func flatJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: 128, G: 128, B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

// checkerPNG encodes a 1px black/white checkerboard. PNG keeps the hard
// edges that JPEG compression would soften.
func checkerPNG(t *testing.T, size int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for x := 0; x < size; x++ {
		for y := 0; y < size; y++ {
			if (x+y)%2 == 0 {
				img.Set(x, y, color.White)
			} else {
				img.Set(x, y, color.Black)
			}
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func decodeDims(t *testing.T, data []byte) (int, int) {
	t.Helper()
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode config: %v", err)
	}
	return cfg.Width, cfg.Height
}

func TestScoreFlatImageIsBlurry(t *testing.T) {
	result := Score(flatJPEG(t, 256, 256), constants.DefaultBlurThreshold)
	if result.Score != 0 {
		t.Errorf("flat image should score 0, got %d", result.Score)
	}
	if !result.Blurry {
		t.Error("flat image should be flagged blurry")
	}
}

func TestScoreSharpImageScoresHigh(t *testing.T) {
	result := Score(checkerPNG(t, 256), constants.DefaultBlurThreshold)
	if result.Score != 100 {
		t.Errorf("checkerboard should max out the score, got %d", result.Score)
	}
	if result.Blurry {
		t.Error("checkerboard should not be flagged blurry")
	}
}

func TestScoreIsDeterministic(t *testing.T) {
	data := checkerPNG(t, 200)
	first := Score(data, constants.DefaultBlurThreshold)
	for i := 0; i < 3; i++ {
		if got := Score(data, constants.DefaultBlurThreshold); got != first {
			t.Fatalf("score changed between runs: %+v vs %+v", first, got)
		}
	}
}

func TestScoreUndecodableReturnsNeutral(t *testing.T) {
	result := Score([]byte("not an image"), constants.DefaultBlurThreshold)
	if result.Score != constants.NeutralQualityScore {
		t.Errorf("expected neutral score %d, got %d", constants.NeutralQualityScore, result.Score)
	}
	if result.Blurry {
		t.Error("scoring failure must not flag the photo blurry")
	}
}

func TestGenerateBoundsRenditions(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2400, 1200))
	for x := 0; x < 2400; x++ {
		for y := 0; y < 1200; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 64, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode: %v", err)
	}

	rend, err := Generate(buf.Bytes(), "start-line.jpg")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if rend.Width != 2400 || rend.Height != 1200 {
		t.Errorf("source dims %dx%d, expected 2400x1200", rend.Width, rend.Height)
	}

	w, h := decodeDims(t, rend.Web)
	if w != constants.MaxWebSize || h != constants.MaxWebSize/2 {
		t.Errorf("web rendition %dx%d, expected %dx%d", w, h, constants.MaxWebSize, constants.MaxWebSize/2)
	}

	if len(rend.Analysis) > constants.MaxAnalysisBytes {
		t.Errorf("analysis raster %d bytes exceeds cap", len(rend.Analysis))
	}
	aw, ah := decodeDims(t, rend.Analysis)
	if aw > constants.MaxAnalysisSize || ah > constants.MaxAnalysisSize {
		t.Errorf("analysis raster %dx%d exceeds max dimension", aw, ah)
	}
}

func TestGenerateDoesNotUpscale(t *testing.T) {
	rend, err := Generate(flatJPEG(t, 320, 200), "small.jpg")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if w, h := decodeDims(t, rend.Web); w != 320 || h != 200 {
		t.Errorf("small image was rescaled to %dx%d", w, h)
	}
}

func TestGenerateUndecodable(t *testing.T) {
	_, err := Generate([]byte{0xde, 0xad, 0xbe, 0xef}, "broken.jpg")
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected *DecodeError, got %v", err)
	}
	if decodeErr.Filename != "broken.jpg" {
		t.Errorf("filename %q not carried into the error", decodeErr.Filename)
	}
}

func TestGenerateRecoversMissingEOI(t *testing.T) {
	data := flatJPEG(t, 64, 64)
	if !bytes.HasSuffix(data, []byte{0xFF, 0xD9}) {
		t.Fatal("test image has no EOI marker to strip")
	}
	truncated := data[:len(data)-2]

	rend, err := Generate(truncated, "truncated.jpg")
	if err != nil {
		t.Fatalf("truncated JPEG should be recoverable: %v", err)
	}
	if rend.Width != 64 || rend.Height != 64 {
		t.Errorf("recovered dims %dx%d, expected 64x64", rend.Width, rend.Height)
	}
}

func TestRepairJPEG(t *testing.T) {
	valid := flatJPEG(t, 16, 16)

	missing := valid[:len(valid)-2]
	if repaired := repairJPEG(missing); !bytes.HasSuffix(repaired, []byte{0xFF, 0xD9}) {
		t.Error("missing EOI marker not restored")
	}

	trailing := append(append([]byte{}, valid...), 0x00, 0x01, 0x02)
	if repaired := repairJPEG(trailing); !bytes.Equal(repaired, valid) {
		t.Error("trailing garbage not stripped")
	}

	notJPEG := []byte("plain text")
	if repaired := repairJPEG(notJPEG); !bytes.Equal(repaired, notJPEG) {
		t.Error("non-JPEG data must pass through unchanged")
	}
}

func TestPadFaceRegion(t *testing.T) {
	tests := []struct {
		name     string
		bbox     []float64
		imgW     int
		imgH     int
		ok       bool
		verify   func(t *testing.T, r CropRegion)
	}{
		{
			name: "centered face pads below for the bib",
			bbox: []float64{0.4, 0.2, 0.2, 0.2},
			imgW: 1000, imgH: 1000,
			ok: true,
			verify: func(t *testing.T, r CropRegion) {
				// 0.8x padding each side: x from 240 to 760.
				if r.X != 240 || r.W != 520 {
					t.Errorf("horizontal region %d+%d, expected 240+520", r.X, r.W)
				}
				// 0.5x above, 2.0x below: y from 100 to 800.
				if r.Y != 100 || r.H != 700 {
					t.Errorf("vertical region %d+%d, expected 100+700", r.Y, r.H)
				}
			},
		},
		{
			name: "face at the edge clamps to bounds",
			bbox: []float64{0.0, 0.0, 0.3, 0.3},
			imgW: 500, imgH: 500,
			ok: true,
			verify: func(t *testing.T, r CropRegion) {
				if r.X != 0 || r.Y != 0 {
					t.Errorf("region %d,%d not clamped to origin", r.X, r.Y)
				}
				if r.X+r.W > 500 || r.Y+r.H > 500 {
					t.Errorf("region %+v exceeds image bounds", r)
				}
			},
		},
		{"zero size face rejected", []float64{0.5, 0.5, 0, 0.1}, 1000, 1000, false, nil},
		{"malformed bbox rejected", []float64{0.1, 0.2, 0.3}, 1000, 1000, false, nil},
		{"tiny clamped region rejected", []float64{0.0, 0.0, 0.01, 0.01}, 200, 200, false, nil},
		{"zero image rejected", []float64{0.4, 0.2, 0.2, 0.2}, 0, 0, false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			region, ok := PadFaceRegion(tt.bbox, tt.imgW, tt.imgH)
			if ok != tt.ok {
				t.Fatalf("ok = %v, expected %v (region %+v)", ok, tt.ok, region)
			}
			if tt.verify != nil {
				tt.verify(t, region)
			}
		})
	}
}

func TestFaceCropDegenerateReturnsNil(t *testing.T) {
	crop, err := FaceCrop(flatJPEG(t, 100, 100), []float64{0.0, 0.0, 0.02, 0.02})
	if err != nil {
		t.Fatalf("degenerate crop should not error: %v", err)
	}
	if crop != nil {
		t.Error("degenerate crop should return nil")
	}
}

func TestFaceCropBounded(t *testing.T) {
	crop, err := FaceCrop(flatJPEG(t, 2000, 2000), []float64{0.4, 0.2, 0.2, 0.2})
	if err != nil {
		t.Fatalf("face crop: %v", err)
	}
	if crop == nil {
		t.Fatal("expected a crop")
	}
	w, h := decodeDims(t, crop)
	if w > constants.CropOutputSize || h > constants.CropOutputSize {
		t.Errorf("crop %dx%d exceeds output bound", w, h)
	}
}

func TestWatermarkedThumbnail(t *testing.T) {
	thumb, err := WatermarkedThumbnail(flatJPEG(t, 1600, 800))
	if err != nil {
		t.Fatalf("thumbnail: %v", err)
	}
	w, h := decodeDims(t, thumb)
	if w != constants.ThumbSize || h != constants.ThumbSize/2 {
		t.Errorf("thumbnail %dx%d, expected %dx%d", w, h, constants.ThumbSize, constants.ThumbSize/2)
	}

	// The diagonal band must actually lighten pixels.
	img, _, err := image.Decode(bytes.NewReader(thumb))
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	r, _, _, _ := img.At(w/2, h/2).RGBA()
	if r>>8 <= 128 {
		t.Errorf("center pixel %d not lightened by the watermark band", r>>8)
	}
}

func TestAutoEditStretchesLowContrast(t *testing.T) {
	// Narrow luma range around mid-gray.
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for x := 0; x < 64; x++ {
		for y := 0; y < 64; y++ {
			v := uint8(110 + (x+y)%40)
			img.Set(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("encode: %v", err)
	}

	edited, err := AutoEdit(buf.Bytes())
	if err != nil {
		t.Fatalf("auto-edit: %v", err)
	}
	if edited == nil {
		t.Fatal("low-contrast image should be stretched")
	}

	out, _, err := image.Decode(bytes.NewReader(edited))
	if err != nil {
		t.Fatalf("decode edited: %v", err)
	}
	minLuma, maxLuma := 255.0, 0.0
	bounds := out.Bounds()
	for x := bounds.Min.X; x < bounds.Max.X; x++ {
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			r, g, b, _ := out.At(x, y).RGBA()
			luma := 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
			if luma < minLuma {
				minLuma = luma
			}
			if luma > maxLuma {
				maxLuma = luma
			}
		}
	}
	if maxLuma-minLuma < 150 {
		t.Errorf("luma spread %f after stretch, expected a much wider range", maxLuma-minLuma)
	}
}

func TestAutoEditSkipsFullRange(t *testing.T) {
	edited, err := AutoEdit(checkerPNG(t, 64))
	if err != nil {
		t.Fatalf("auto-edit: %v", err)
	}
	if edited != nil {
		t.Error("full-range image should be left untouched")
	}
}
