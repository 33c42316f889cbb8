package config

import (
	_ "embed"
	"os"
	"strconv"
	"time"

	"github.com/racepix/racepix/internal/constants"
	"gopkg.in/yaml.v3"
)

//go:embed pricing.yaml
var pricingYAML []byte

type Config struct {
	Pipeline     PipelineConfig
	Storage      StorageConfig
	Vision       VisionConfig
	Database     DatabaseConfig
	Registration RegistrationConfig
	Pricing      PricingConfig
}

type PipelineConfig struct {
	Workers           int           // worker pool size for photo processing (default 4)
	BlurThreshold     int           // quality score below which a photo is flagged blurry
	OCRMinConfidence  float64       // minimum confidence for text detections (0-100)
	ClusterSimilarity float64       // minimum cosine similarity for face clustering
	ClusterDebounce   time.Duration // quiet period before a clustering pass starts
	SessionRetention  time.Duration // how long completed sessions stay readable
}

type StorageConfig struct {
	Endpoint  string // S3/MinIO endpoint (e.g., minio:9000)
	AccessKey string
	SecretKey string
	Bucket    string // bucket for all renditions (default racepix)
	UseSSL    bool
	Region    string
}

type VisionConfig struct {
	URL           string // vision service base URL (defaults to http://localhost:8100)
	GeminiAPIKey  string // optional: label detection via Gemini
	OpenAIToken   string // optional: label detection via OpenAI
	LabelProvider string // "gemini", "openai" or "none" (default none)
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

// RegistrationConfig points at the external race-registration MariaDB used
// for read-only roster sync (e.g., racepix:racepix@tcp(mariadb:3306)/registration).
type RegistrationConfig struct {
	DatabaseDSN string
}

type PricingConfig struct {
	Packs map[string]CreditPack `yaml:"packs"`
}

type CreditPack struct {
	Credits  int     `yaml:"credits"`
	PriceEUR float64 `yaml:"price_eur"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a positive float.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

// envSeconds reads an environment variable as a number of seconds.
func envSeconds(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return defaultVal
}

func Load() *Config {
	var pricing PricingConfig
	if err := yaml.Unmarshal(pricingYAML, &pricing); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded pricing.yaml: " + err.Error())
	}

	return &Config{
		Pipeline: PipelineConfig{
			Workers:           envInt("PIPELINE_WORKERS", constants.DefaultQueueWorkers),
			BlurThreshold:     envInt("QUALITY_BLUR_THRESHOLD", constants.DefaultBlurThreshold),
			OCRMinConfidence:  envFloat("OCR_MIN_CONFIDENCE", constants.DefaultOCRMinConfidence),
			ClusterSimilarity: envFloat("CLUSTER_SIMILARITY", constants.DefaultClusterSimilarity),
			ClusterDebounce:   envSeconds("CLUSTER_DEBOUNCE_SECONDS", constants.DefaultClusterDebounceSeconds*time.Second),
			SessionRetention:  envSeconds("SESSION_RETENTION_SECONDS", constants.SessionRetentionMinutes*time.Minute),
		},
		Storage: StorageConfig{
			Endpoint:  os.Getenv("S3_ENDPOINT"),
			AccessKey: os.Getenv("S3_ACCESS_KEY"),
			SecretKey: os.Getenv("S3_SECRET_KEY"),
			Bucket:    envString("S3_BUCKET", "racepix"),
			UseSSL:    os.Getenv("S3_USE_SSL") == "true",
			Region:    os.Getenv("S3_REGION"),
		},
		Vision: VisionConfig{
			URL:           os.Getenv("VISION_URL"),
			GeminiAPIKey:  os.Getenv("GEMINI_API_KEY"),
			OpenAIToken:   os.Getenv("OPENAI_TOKEN"),
			LabelProvider: envString("LABEL_PROVIDER", "none"),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Registration: RegistrationConfig{
			DatabaseDSN: os.Getenv("REGISTRATION_DATABASE_DSN"),
		},
		Pricing: pricing,
	}
}

// envString reads an environment variable with a default.
func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// GetPack returns a credit pack by name, with zero value if not found.
func (c *Config) GetPack(name string) CreditPack {
	if pack, ok := c.Pricing.Packs[name]; ok {
		return pack
	}
	return CreditPack{}
}
