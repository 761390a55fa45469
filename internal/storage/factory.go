package storage

import (
	"context"
	"fmt"

	"github.com/fruitsalade/projectfiles/internal/storage/local"
	"github.com/fruitsalade/projectfiles/internal/storage/minio"
	s3backend "github.com/fruitsalade/projectfiles/internal/storage/s3"
)

// Config selects and configures one backend.
type Config struct {
	Type  string           `yaml:"type"`
	Local local.Config     `yaml:"local"`
	S3    s3backend.Config `yaml:"s3"`
	MinIO minio.Config     `yaml:"minio"`
}

// NewBackend creates the Backend named by cfg.Type.
func NewBackend(ctx context.Context, cfg Config) (Backend, error) {
	switch cfg.Type {
	case "local", "":
		return local.New(cfg.Local)
	case "s3":
		return s3backend.New(ctx, cfg.S3)
	case "minio":
		return minio.New(ctx, cfg.MinIO)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}
