// Package config loads process configuration from .env files and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// QueueBackend selects the task queue implementation.
type QueueBackend string

const QueueInProcess QueueBackend = "inprocess"

// BlobBackend selects where uploaded bytes live until consumed.
type BlobBackend string

const (
	BlobLocal BlobBackend = "local"
	BlobS3    BlobBackend = "s3"
)

type S3 struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

type Config struct {
	Port           string
	DataDir        string
	MaxUploadBytes int64

	BlobBackend BlobBackend
	BlobDir     string
	S3          S3

	QueueBackend  QueueBackend
	QueueWorkers  int
	QueueCapacity int

	AttributionPolicy  string
	StageMaxAttempts   int
	StageRetryDelay    time.Duration
	StageTimeout       time.Duration
	InferenceURL       string
	UseMockInference   bool
	FFmpegPath         string
	CreateLabelingTask bool
}

// Load reads .env (if present) and then the environment.
func Load() (Config, error) {
	_ = godotenv.Load() // loads .env
	return FromEnv()
}

// FromEnv parses the current environment without touching .env files.
func FromEnv() (Config, error) {
	var errs []error
	cfg := Config{
		Port:               envOr("PORT", "8080"),
		DataDir:            envOr("DATA_DIR", "data"),
		MaxUploadBytes:     envInt64(&errs, "MAX_UPLOAD_BYTES", 500*1024*1024),
		BlobBackend:        BlobBackend(strings.ToLower(envOr("BLOB_BACKEND", string(BlobLocal)))),
		BlobDir:            envOr("BLOB_DIR", "data/uploads"),
		QueueBackend:       QueueBackend(strings.ToLower(envOr("QUEUE_BACKEND", string(QueueInProcess)))),
		QueueWorkers:       int(envInt64(&errs, "QUEUE_WORKERS", 1)),
		QueueCapacity:      int(envInt64(&errs, "QUEUE_CAPACITY", 64)),
		AttributionPolicy:  envOr("ATTRIBUTION_POLICY", "overlap"),
		StageMaxAttempts:   int(envInt64(&errs, "STAGE_MAX_ATTEMPTS", 5)),
		StageRetryDelay:    envDuration(&errs, "STAGE_RETRY_DELAY", 5*time.Second),
		StageTimeout:       envDuration(&errs, "STAGE_TIMEOUT", 30*time.Minute),
		InferenceURL:       os.Getenv("INFERENCE_URL"),
		UseMockInference:   envBool(&errs, "USE_MOCK_INFERENCE", false),
		FFmpegPath:         envOr("FFMPEG_PATH", "ffmpeg"),
		CreateLabelingTask: envBool(&errs, "CREATE_LABELING_TASK", true),
		S3: S3{
			Bucket:    os.Getenv("S3_BUCKET"),
			Prefix:    os.Getenv("S3_PREFIX"),
			Region:    envOr("S3_REGION", "us-east-1"),
			Endpoint:  os.Getenv("S3_ENDPOINT"),
			AccessKey: os.Getenv("S3_ACCESS_KEY"),
			SecretKey: os.Getenv("S3_SECRET_KEY"),
		},
	}
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the tagged variants and numeric bounds.
func (c Config) Validate() error {
	switch c.QueueBackend {
	case QueueInProcess:
	default:
		return fmt.Errorf("unsupported QUEUE_BACKEND %q", c.QueueBackend)
	}
	switch c.BlobBackend {
	case BlobLocal:
	case BlobS3:
		if c.S3.Bucket == "" {
			return errors.New("S3_BUCKET is required when BLOB_BACKEND=s3")
		}
	default:
		return fmt.Errorf("unsupported BLOB_BACKEND %q", c.BlobBackend)
	}
	if c.QueueWorkers < 1 {
		return fmt.Errorf("QUEUE_WORKERS must be >= 1, got %d", c.QueueWorkers)
	}
	if c.QueueCapacity < 0 {
		return fmt.Errorf("QUEUE_CAPACITY must be >= 0, got %d", c.QueueCapacity)
	}
	if c.StageMaxAttempts < 1 {
		return fmt.Errorf("STAGE_MAX_ATTEMPTS must be >= 1, got %d", c.StageMaxAttempts)
	}
	if !c.UseMockInference && c.InferenceURL == "" {
		return errors.New("INFERENCE_URL not set")
	}
	return nil
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt64(errs *[]error, k string, def int64) int64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return n
}

func envBool(errs *[]error, k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return b
}

func envDuration(errs *[]error, k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return d
}
