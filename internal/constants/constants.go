// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Pipeline constants
const (
	// DefaultQueueWorkers is the default number of parallel workers draining
	// the ingestion backlog. Concurrency is bounded at the task level, so this
	// is also the cap on concurrent calls to the vision service.
	DefaultQueueWorkers = 4

	// EventChannelBuffer is the buffer size for progress listener channels
	EventChannelBuffer = 100

	// SessionRetentionMinutes is how long a completed upload session is kept
	// for late-joining listeners before it is garbage collected
	SessionRetentionMinutes = 5
)

// Rendition constants
const (
	// MaxWebSize is the maximum dimension (width or height) for the display rendition
	MaxWebSize = 1600

	// MaxAnalysisSize is the maximum dimension for the analysis raster
	MaxAnalysisSize = 2048

	// MaxAnalysisBytes bounds the analysis buffer so it stays under the
	// vision service's payload limit
	MaxAnalysisBytes = 4 << 20

	// MaxDecodePixels guards the first decode strategy against decompression
	// bombs; the relaxed strategy ignores it
	MaxDecodePixels = 80_000_000

	// JPEGQuality is the encoding quality for stored renditions
	JPEGQuality = 85

	// ThumbSize is the maximum dimension for the watermarked thumbnail
	ThumbSize = 480
)

// Quality scoring constants
const (
	// QualityVarianceScale maps Laplacian variance to the 0-100 score range:
	// a variance of 500 or more scores 100
	QualityVarianceScale = 500.0

	// DefaultBlurThreshold marks photos below this score as blurry
	DefaultBlurThreshold = 50

	// NeutralQualityScore is returned when scoring fails internally
	NeutralQualityScore = 50
)

// Bib recognition constants
const (
	// DefaultOCRMinConfidence discards text detections below this confidence (0-100)
	DefaultOCRMinConfidence = 60
)

// Crop constants
const (
	// CropPadSideFactor pads each side of the face box by this fraction of face width
	CropPadSideFactor = 0.8

	// CropPadTopFactor pads above the face box by this fraction of face height
	CropPadTopFactor = 0.5

	// CropPadBottomFactor pads below the face box by this fraction of face
	// height, biased downward so the runner's bib lands inside the crop
	CropPadBottomFactor = 2.0

	// MinCropSize rejects degenerate crops below this pixel size
	MinCropSize = 50

	// CropOutputSize is the bounded square size of stored face crops
	CropOutputSize = 600
)

// Clustering constants
const (
	// DefaultClusterSimilarity is the minimum cosine similarity for linking an
	// orphan face to an identified runner
	DefaultClusterSimilarity = 0.55

	// DefaultClusterDebounceSeconds is the quiet period after the last photo of
	// an event completes before a clustering pass starts
	DefaultClusterDebounceSeconds = 30

	// ClusterSearchLimit is the number of nearest neighbors fetched per orphan face
	ClusterSearchLimit = 20

	// HNSWMaxNeighbors is the M parameter for the in-memory face index
	HNSWMaxNeighbors = 16
)

// Label detection constants
const (
	// MaxLabels is the maximum number of labels requested per photo
	MaxLabels = 10

	// DefaultLabelConfidence is the minimum confidence for persisted labels
	DefaultLabelConfidence = 0.8
)

// Credit constants
const (
	// CreditsPerPhoto is debited per accepted photo and refunded per orphan
	CreditsPerPhoto = 1
)
