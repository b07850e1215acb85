package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr       string
	AuthSecret string
	AccessTTL  time.Duration
	CORSOrigin string
	// Catalog - empty means use the embedded default catalog
	CatalogDir string
	// Image embedding
	ImageMaxBytes   int64
	ImageTimeout    time.Duration
	AllowHTTPImages bool
	// PDF rendering
	PDFTimeout time.Duration
	// Proxy artifact storage
	ProxyRetention time.Duration
	RedisURL       string
	// MinIO - empty endpoint disables the object storage backend
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
}

func Load() Config {
	return Config{
		Addr:            getenv("API_ADDR", ":8686"),
		AuthSecret:      getenv("FOLIATE_AUTH_SECRET", "foliate-dev-secret"),
		AccessTTL:       time.Duration(getenvInt("FOLIATE_ACCESS_TTL_SECONDS", 3600)) * time.Second,
		CORSOrigin:      getenv("FOLIATE_CORS_ORIGIN", "*"),
		CatalogDir:      getenv("FOLIATE_CATALOG_DIR", ""),
		ImageMaxBytes:   int64(getenvInt("FOLIATE_IMAGE_MAX_BYTES", 10*1024*1024)),
		ImageTimeout:    time.Duration(getenvInt("FOLIATE_IMAGE_TIMEOUT_SECONDS", 10)) * time.Second,
		AllowHTTPImages: getenvBool("FOLIATE_ALLOW_HTTP_IMAGES", false),
		PDFTimeout:      time.Duration(getenvInt("FOLIATE_PDF_TIMEOUT_SECONDS", 30)) * time.Second,
		// Retention is enforced by the artifact backend (Redis TTL); the
		// memory backend keeps artifacts for the process lifetime.
		ProxyRetention: time.Duration(getenvInt("FOLIATE_PROXY_RETENTION_SECONDS", 7*24*3600)) * time.Second,
		// Redis - empty disables the Redis artifact backend
		RedisURL: getenv("REDIS_URL", ""),
		// MinIO - empty by default, object storage disabled if not configured
		MinioEndpoint:  getenv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getenv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getenv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getenv("MINIO_BUCKET", "foliate-artifacts"),
		MinioUseSSL:    getenvBool("MINIO_USE_SSL", false),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
