// Package config loads worker configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Storage backend names.
const (
	BackendMinio      = "minio"
	BackendFilesystem = "filesystem"
)

// Config holds the worker configuration.
type Config struct {
	HTTPAddr string

	// DatabaseURL selects the Postgres record store; empty selects the
	// in-memory store (development preset).
	DatabaseURL string

	// StorageBackend is minio or filesystem.
	StorageBackend string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	FilesystemDir     string
	FilesystemBaseURL string
	FilesystemSecret  string

	VisionBaseURL string
	VisionAPIKey  string
	LanguageHints []string

	ModelURI string

	DisplayURLTTL time.Duration
	FetchURLTTL   time.Duration
	ListFreshFor  time.Duration
	JobTimeout    time.Duration
	VendorTimeout time.Duration
	PageSize      int
}

// Load reads configuration from the environment, applying defaults.
func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:          envOr("HTTP_ADDR", ":8081"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		StorageBackend:    envOr("STORAGE_BACKEND", BackendFilesystem),
		MinioEndpoint:     os.Getenv("MINIO_ENDPOINT"),
		MinioAccessKey:    os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey:    os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:       envOr("MINIO_BUCKET", "images"),
		FilesystemDir:     envOr("FILESYSTEM_DIR", "./data/blobs"),
		FilesystemBaseURL: envOr("FILESYSTEM_BASE_URL", "http://localhost:8081/blobs"),
		FilesystemSecret:  envOr("FILESYSTEM_SECRET", "dev-secret"),
		VisionBaseURL:     envOr("VISION_BASE_URL", "https://vision.googleapis.com"),
		VisionAPIKey:      os.Getenv("VISION_API_KEY"),
		ModelURI:          os.Getenv("MODEL_URI"),
	}

	if hints := os.Getenv("OCR_LANGUAGE_HINTS"); hints != "" {
		cfg.LanguageHints = strings.Split(hints, ",")
	}

	var err error
	if cfg.MinioUseSSL, err = envBool("MINIO_USE_SSL", false); err != nil {
		return Config{}, err
	}
	if cfg.DisplayURLTTL, err = envDuration("DISPLAY_URL_TTL", time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.FetchURLTTL, err = envDuration("FETCH_URL_TTL", time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.ListFreshFor, err = envDuration("LIST_FRESH_FOR", 5*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.JobTimeout, err = envDuration("JOB_TIMEOUT", 2*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.VendorTimeout, err = envDuration("VENDOR_TIMEOUT", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.PageSize, err = envInt("PAGE_SIZE", 20); err != nil {
		return Config{}, err
	}

	switch cfg.StorageBackend {
	case BackendMinio:
		if cfg.MinioEndpoint == "" {
			return Config{}, fmt.Errorf("MINIO_ENDPOINT is required for the minio backend")
		}
	case BackendFilesystem:
	default:
		return Config{}, fmt.Errorf("unknown STORAGE_BACKEND %q", cfg.StorageBackend)
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
