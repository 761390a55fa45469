// Package bootstrap opens the metadata store and object store named by the
// configuration. The server and pfctl share it.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/fruitsalade/projectfiles/internal/config"
	"github.com/fruitsalade/projectfiles/internal/logging"
	"github.com/fruitsalade/projectfiles/internal/metadata"
	"github.com/fruitsalade/projectfiles/internal/metadata/bolt"
	"github.com/fruitsalade/projectfiles/internal/metadata/postgres"
	"github.com/fruitsalade/projectfiles/internal/storage"
)

// ConnectionReporter is implemented by stores that publish pool gauges.
type ConnectionReporter interface {
	UpdateConnectionMetrics()
}

// OpenStore opens the metadata store. Postgres migrations run on open when
// a migrations directory can be found.
func OpenStore(cfg *config.Config) (metadata.Store, error) {
	switch cfg.MetadataBackend {
	case "bolt":
		if dir := filepath.Dir(cfg.BoltPath); dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create bolt dir: %w", err)
			}
		}
		store, err := bolt.Open(cfg.BoltPath)
		if err != nil {
			return nil, err
		}
		return store, nil

	case "postgres":
		logging.Info("connecting to PostgreSQL...")
		store, err := postgres.New(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if dir := FindMigrationsDir(cfg.MigrationsDir); dir != "" {
			logging.Info("running migrations...", zap.String("dir", dir))
			if err := store.Migrate(dir); err != nil {
				store.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown metadata backend: %s", cfg.MetadataBackend)
}

// OpenBackend opens the object store.
func OpenBackend(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	backend, err := storage.NewBackend(ctx, cfg.Storage())
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", cfg.StorageBackend, err)
	}
	logging.Info("storage backend ready", zap.String("type", backend.Type()))
	return backend, nil
}

// FindMigrationsDir returns configured when set, otherwise the first
// "migrations" directory found near the working directory or executable.
func FindMigrationsDir(configured string) string {
	if configured != "" {
		return configured
	}
	candidates := []string{
		"migrations",
		"../migrations",
		"../../migrations",
	}

	exe, _ := os.Executable()
	if exe != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), "migrations"))
	}

	for _, dir := range candidates {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
	}
	return ""
}
