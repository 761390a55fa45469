// Package config loads configuration from an optional YAML file and
// environment variables. Environment variables win over the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fruitsalade/projectfiles/internal/storage"
	"github.com/fruitsalade/projectfiles/internal/storage/local"
	"github.com/fruitsalade/projectfiles/internal/storage/minio"
	s3backend "github.com/fruitsalade/projectfiles/internal/storage/s3"
)

// Config holds all server configuration.
type Config struct {
	// Server
	ListenAddr  string   `yaml:"listen_addr"`
	MetricsAddr string   `yaml:"metrics_addr"`
	CORSOrigins []string `yaml:"cors_origins"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Metadata ("postgres" or "bolt", default: "postgres")
	MetadataBackend string `yaml:"metadata_backend"`
	DatabaseURL     string `yaml:"database_url"`
	MigrationsDir   string `yaml:"migrations_dir"`
	BoltPath        string `yaml:"bolt_path"`

	// Storage backend ("local", "s3" or "minio", default: "local")
	StorageBackend   string `yaml:"storage_backend"`
	LocalStoragePath string `yaml:"local_storage_path"`

	// S3 / MinIO
	S3Endpoint     string `yaml:"s3_endpoint"`
	S3Bucket       string `yaml:"s3_bucket"`
	S3AccessKey    string `yaml:"s3_access_key"`
	S3SecretKey    string `yaml:"s3_secret_key"`
	S3Region       string `yaml:"s3_region"`
	S3UseSSL       bool   `yaml:"s3_use_ssl"`
	S3CreateBucket bool   `yaml:"s3_create_bucket"`

	// Uploads
	MaxUploadSize int64         `yaml:"max_upload_size"`
	PresignTTL    time.Duration `yaml:"presign_ttl"`

	// Selection sessions idle longer than this are dropped.
	SelectionTTL time.Duration `yaml:"selection_ttl"`
}

func defaults() *Config {
	return &Config{
		ListenAddr:       ":8080",
		MetricsAddr:      ":9090",
		CORSOrigins:      []string{"http://localhost:3000"},
		LogLevel:         "info",
		LogFormat:        "json",
		MetadataBackend:  "postgres",
		BoltPath:         "/data/projectfiles.db",
		StorageBackend:   "local",
		LocalStoragePath: "/data/storage",
		S3Endpoint:       "http://localhost:9000",
		S3Bucket:         "projectfiles",
		S3AccessKey:      "minioadmin",
		S3SecretKey:      "minioadmin",
		S3Region:         "us-east-1",
		MaxUploadSize:    100 * 1024 * 1024, // 100MB default
		PresignTTL:       15 * time.Minute,
		SelectionTTL:     time.Hour,
	}
}

// Load reads CONFIG_FILE when set, then applies environment variables.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.ListenAddr = envOr("LISTEN_ADDR", cfg.ListenAddr)
	cfg.MetricsAddr = envOr("METRICS_ADDR", cfg.MetricsAddr)
	cfg.CORSOrigins = envList("CORS_ORIGINS", cfg.CORSOrigins)
	cfg.LogLevel = envOr("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envOr("LOG_FORMAT", cfg.LogFormat)
	cfg.MetadataBackend = envOr("METADATA_BACKEND", cfg.MetadataBackend)
	cfg.DatabaseURL = envOr("DATABASE_URL", cfg.DatabaseURL)
	cfg.MigrationsDir = envOr("MIGRATIONS_DIR", cfg.MigrationsDir)
	cfg.BoltPath = envOr("BOLT_PATH", cfg.BoltPath)
	cfg.StorageBackend = envOr("STORAGE_BACKEND", cfg.StorageBackend)
	cfg.LocalStoragePath = envOr("LOCAL_STORAGE_PATH", cfg.LocalStoragePath)
	cfg.S3Endpoint = envOr("S3_ENDPOINT", cfg.S3Endpoint)
	cfg.S3Bucket = envOr("S3_BUCKET", cfg.S3Bucket)
	cfg.S3AccessKey = envOr("S3_ACCESS_KEY", cfg.S3AccessKey)
	cfg.S3SecretKey = envOr("S3_SECRET_KEY", cfg.S3SecretKey)
	cfg.S3Region = envOr("S3_REGION", cfg.S3Region)
	cfg.S3UseSSL = envBool("S3_USE_SSL", cfg.S3UseSSL)
	cfg.S3CreateBucket = envBool("S3_CREATE_BUCKET", cfg.S3CreateBucket)
	cfg.MaxUploadSize = envInt64("MAX_UPLOAD_SIZE", cfg.MaxUploadSize)
	cfg.PresignTTL = envDuration("PRESIGN_TTL", cfg.PresignTTL)
	cfg.SelectionTTL = envDuration("SELECTION_TTL", cfg.SelectionTTL)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) validate() error {
	switch c.MetadataBackend {
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres metadata backend")
		}
	case "bolt":
		if c.BoltPath == "" {
			return fmt.Errorf("BOLT_PATH is required for the bolt metadata backend")
		}
	default:
		return fmt.Errorf("unknown metadata backend: %s", c.MetadataBackend)
	}

	switch c.StorageBackend {
	case "local", "s3", "minio":
	default:
		return fmt.Errorf("unknown storage backend: %s", c.StorageBackend)
	}
	return nil
}

// Storage returns the object-store configuration.
func (c *Config) Storage() storage.Config {
	return storage.Config{
		Type: c.StorageBackend,
		Local: local.Config{
			RootPath:   c.LocalStoragePath,
			CreateDirs: true,
		},
		S3: s3backend.Config{
			Endpoint:     c.S3Endpoint,
			Bucket:       c.S3Bucket,
			AccessKey:    c.S3AccessKey,
			SecretKey:    c.S3SecretKey,
			Region:       c.S3Region,
			CreateBucket: c.S3CreateBucket,
		},
		MinIO: minio.Config{
			Endpoint:     strings.TrimPrefix(strings.TrimPrefix(c.S3Endpoint, "https://"), "http://"),
			Bucket:       c.S3Bucket,
			AccessKey:    c.S3AccessKey,
			SecretKey:    c.S3SecretKey,
			Region:       c.S3Region,
			UseSSL:       c.S3UseSSL,
			CreateBucket: c.S3CreateBucket,
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// envList splits a comma-separated variable.
func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
