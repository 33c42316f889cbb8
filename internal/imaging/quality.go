package imaging

import (
	"bytes"
	"image"

	"github.com/racepix/racepix/internal/constants"
)

const qualitySampleSize = 256

// QualityResult is the outcome of sharpness scoring for one photo.
type QualityResult struct {
	Score  int // 0-100, higher is sharper
	Blurry bool
}

// Score computes a deterministic 0-100 sharpness score from the analysis
// raster. The image is downsampled to 256px (fit inside, aspect preserved),
// converted to grayscale, and the variance of a 4-neighbor discrete Laplacian
// over all interior pixels is normalized against an empirical scale where a
// variance of 500 maps to 100.
//
// Scoring must never abort the pipeline: any internal failure returns the
// neutral default (score 50, not blurry).
func Score(analysis []byte, blurThreshold int) QualityResult {
	img, _, err := image.Decode(bytes.NewReader(analysis))
	if err != nil {
		return QualityResult{Score: constants.NeutralQualityScore, Blurry: false}
	}

	gray := toGrayscale(resizeFit(img, qualitySampleSize))
	variance := laplacianVariance(gray)

	score := int(variance / constants.QualityVarianceScale * 100)
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	return QualityResult{
		Score:  score,
		Blurry: score < blurThreshold,
	}
}

// laplacianVariance accumulates the mean of squared 4-neighbor Laplacian
// responses (kernel center -4, orthogonal neighbors +1) over every interior
// pixel, excluding a 1-pixel border. A flat image yields exactly 0.
func laplacianVariance(gray [][]float64) float64 {
	width := len(gray)
	if width < 3 {
		return 0
	}
	height := len(gray[0])
	if height < 3 {
		return 0
	}

	var sum float64
	count := 0
	for x := 1; x < width-1; x++ {
		for y := 1; y < height-1; y++ {
			lap := gray[x-1][y] + gray[x+1][y] + gray[x][y-1] + gray[x][y+1] - 4*gray[x][y]
			sum += lap * lap
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}
