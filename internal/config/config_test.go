package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithBolt(t *testing.T) {
	t.Setenv("METADATA_BACKEND", "bolt")
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.ListenAddr)
	require.Equal(t, "local", cfg.StorageBackend)
	require.Equal(t, int64(100*1024*1024), cfg.MaxUploadSize)
	require.Equal(t, 15*time.Minute, cfg.PresignTTL)
}

func TestLoadRequiresDatabaseURLForPostgres(t *testing.T) {
	t.Setenv("METADATA_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("CONFIG_FILE", "")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsUnknownBackends(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("METADATA_BACKEND", "bolt")
	t.Setenv("STORAGE_BACKEND", "ftp")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("STORAGE_BACKEND", "local")
	t.Setenv("METADATA_BACKEND", "mongo")
	_, err = Load()
	require.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: ":7000"
metadata_backend: bolt
bolt_path: /tmp/pf.db
storage_backend: minio
s3_endpoint: https://minio.internal:9000
s3_bucket: from-file
max_upload_size: 2048
presign_ttl: 5m
cors_origins:
  - https://a.example
`), 0644))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("S3_BUCKET", "from-env")
	t.Setenv("CORS_ORIGINS", "https://b.example, https://c.example")
	t.Setenv("MAX_UPLOAD_SIZE", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":7000", cfg.ListenAddr)
	require.Equal(t, "from-env", cfg.S3Bucket)
	require.Equal(t, int64(2048), cfg.MaxUploadSize)
	require.Equal(t, 5*time.Minute, cfg.PresignTTL)
	require.Equal(t, []string{"https://b.example", "https://c.example"}, cfg.CORSOrigins)

	sc := cfg.Storage()
	require.Equal(t, "minio", sc.Type)
	require.Equal(t, "minio.internal:9000", sc.MinIO.Endpoint)
	require.Equal(t, "from-env", sc.MinIO.Bucket)
	require.Equal(t, "https://minio.internal:9000", sc.S3.Endpoint)
}

func TestLoadFileErrors(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	require.Error(t, err)
}
