// projectfiles server
//
// Features:
// - Virtual folder hierarchy over a flat object store and metadata table
// - Folder create/rename/delete and bulk move with per-item results
// - Uploads (streamed or presigned) with name collision resolution
// - Selection sessions and SSE change events
// - Prometheus metrics & structured logging (zap)
// - Postgres or bbolt metadata, local/S3/MinIO objects
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fruitsalade/projectfiles/internal/api"
	"github.com/fruitsalade/projectfiles/internal/bootstrap"
	"github.com/fruitsalade/projectfiles/internal/config"
	"github.com/fruitsalade/projectfiles/internal/events"
	"github.com/fruitsalade/projectfiles/internal/logging"
	"github.com/fruitsalade/projectfiles/internal/metrics"
	"github.com/fruitsalade/projectfiles/internal/retry"
	"github.com/fruitsalade/projectfiles/internal/selection"
	"github.com/fruitsalade/projectfiles/internal/uploads"
	"github.com/fruitsalade/projectfiles/internal/vfs"
)

func main() {
	// A missing .env is fine
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("projectfiles server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("metadata", cfg.MetadataBackend),
		zap.String("storage", cfg.StorageBackend))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := bootstrap.OpenStore(cfg)
	if err != nil {
		logging.Fatal("metadata store init failed", zap.Error(err))
	}
	defer store.Close()

	backend, err := bootstrap.OpenBackend(ctx, cfg)
	if err != nil {
		logging.Fatal("storage init failed", zap.Error(err))
	}
	defer backend.Close()

	broadcaster := events.NewBroadcaster()
	selections := selection.NewRegistry()
	service := vfs.New(store, backend, vfs.WithPublisher(broadcaster))
	uploadManager := uploads.NewManager(store, backend, broadcaster, uploads.Config{
		MaxSize:    cfg.MaxUploadSize,
		PresignTTL: cfg.PresignTTL,
		Retry:      retry.DefaultConfig(),
	})

	srv := api.NewServer(api.Deps{
		VFS:           service,
		Backend:       backend,
		Uploads:       uploadManager,
		Selections:    selections,
		Broadcaster:   broadcaster,
		MaxUploadSize: cfg.MaxUploadSize,
		CORSOrigins:   cfg.CORSOrigins,
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
		// WriteTimeout stays 0 for SSE streams and large downloads
	}
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logging.Info("server listening (HTTP)", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logging.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		metricsServer.Close()
		return err
	})

	// Periodic metrics update
	if reporter, ok := store.(bootstrap.ConnectionReporter); ok {
		g.Go(func() error {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					reporter.UpdateConnectionMetrics()
				}
			}
		})
	}

	// Drop idle selection sessions
	g.Go(func() error {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if n := selections.Expire(cfg.SelectionTTL); n > 0 {
					logging.Info("expired idle selections", zap.Int("count", n))
				}
				metrics.SetSelectionsActive(selections.Len())
			}
		}
	})

	if err := g.Wait(); err != nil {
		logging.Fatal("server error", zap.Error(err))
	}
	logging.Info("server stopped")
}
