// Package vfs synthesizes a hierarchical file system over a flat object
// store and a flat metadata table.
//
// Folders are never stored as such. They are derived from the virtual paths
// of file records, declared by folder records, or kept alive by a sentinel
// record and object at "<folder>/.keeper". Every operation here is a
// sequence of independent single-row writes; cascades record per-item
// failures and keep going.
package vfs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fruitsalade/projectfiles/internal/events"
	"github.com/fruitsalade/projectfiles/internal/index"
	"github.com/fruitsalade/projectfiles/internal/logging"
	"github.com/fruitsalade/projectfiles/internal/metadata"
	"github.com/fruitsalade/projectfiles/internal/metrics"
	"github.com/fruitsalade/projectfiles/internal/models"
	"github.com/fruitsalade/projectfiles/internal/retry"
	"github.com/fruitsalade/projectfiles/internal/selection"
	"github.com/fruitsalade/projectfiles/internal/storage"
	"github.com/fruitsalade/projectfiles/internal/vpath"
)

// Service implements folder listing and mutation for all projects.
type Service struct {
	store   metadata.Store
	backend storage.Backend
	events  events.Publisher
	retry   retry.Config
	newID   func() string
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sends change events to p.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithRetry overrides the retry policy for object-store calls.
func WithRetry(cfg retry.Config) Option {
	return func(s *Service) { s.retry = cfg }
}

// New creates a Service.
func New(store metadata.Store, backend storage.Backend, opts ...Option) *Service {
	s := &Service{
		store:   store,
		backend: backend,
		events:  events.Discard,
		retry:   retry.DefaultConfig(),
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type actorKey struct{}

// WithActor records who is performing the request.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// Actor returns the actor set by WithActor, or "system".
func Actor(ctx context.Context) string {
	if a, ok := ctx.Value(actorKey{}).(string); ok && a != "" {
		return a
	}
	return "system"
}

// SentinelKey is the object key of the placeholder for folderPath.
func SentinelKey(projectID, folderPath string) string {
	return projectID + vpath.Separator + vpath.Join(folderPath, models.SentinelName)
}

// ListDirectory returns the child folders and direct files at path.
func (s *Service) ListDirectory(ctx context.Context, projectID, path string) (models.Listing, error) {
	if err := validateProject(projectID); err != nil {
		return models.Listing{}, err
	}
	path = vpath.Normalize(path)
	start := time.Now()

	files, err := s.store.ListFiles(ctx, projectID, metadata.FileFilter{Prefix: path})
	if err != nil {
		return models.Listing{}, storageErr("list files", err)
	}
	folders, err := s.store.ListFolders(ctx, projectID)
	if err != nil {
		return models.Listing{}, storageErr("list folders", err)
	}

	listing := index.Build(path, files, folders)
	metrics.RecordListing(time.Since(start), len(files))
	return listing, nil
}

// Records returns the active records strictly below path, sentinels
// included. Selection state is computed from these.
func (s *Service) Records(ctx context.Context, projectID, path string) ([]models.FileRecord, error) {
	if err := validateProject(projectID); err != nil {
		return nil, err
	}
	files, err := s.store.ListFiles(ctx, projectID, metadata.FileFilter{Prefix: vpath.Normalize(path)})
	if err != nil {
		return nil, storageErr("list files", err)
	}
	return files, nil
}

// GetFile returns one active record.
func (s *Service) GetFile(ctx context.Context, projectID, id string) (*models.FileRecord, error) {
	if err := validateProject(projectID); err != nil {
		return nil, err
	}
	rec, err := s.store.GetFile(ctx, projectID, id)
	if err != nil {
		return nil, storeErr("get file", "file "+id, err)
	}
	if rec.IsDeleted {
		return nil, &NotFoundError{What: "file " + id}
	}
	return rec, nil
}

// ExpandFolderSelection returns the IDs of every active, non-sentinel file
// below path.
func (s *Service) ExpandFolderSelection(ctx context.Context, projectID, path string) ([]string, error) {
	files, err := s.Records(ctx, projectID, path)
	if err != nil {
		return nil, err
	}
	return selection.ExpandFolder(vpath.Normalize(path), files), nil
}

// FolderExists reports whether path is a folder: the root, a folder with
// active content (sentinel included) or a declared folder record.
func (s *Service) FolderExists(ctx context.Context, projectID, path string) (bool, error) {
	path = vpath.Normalize(path)
	if path == "" {
		return true, nil
	}
	files, err := s.store.ListFiles(ctx, projectID, metadata.FileFilter{Prefix: path})
	if err != nil {
		return false, storageErr("list files", err)
	}
	if len(files) > 0 {
		return true, nil
	}
	if _, err := s.store.GetFolder(ctx, projectID, path); err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			return false, nil
		}
		return false, storageErr("get folder", err)
	}
	return true, nil
}

func (s *Service) publish(ev events.Event) {
	s.events.Publish(ev)
}

// storeErr maps a metadata error to NotFound or StorageError.
func storeErr(op, what string, err error) error {
	if errors.Is(err, metadata.ErrNotFound) {
		return &NotFoundError{What: what}
	}
	return storageErr(op, err)
}

func newBatch() BatchResult {
	return BatchResult{Failed: []ItemFailure{}}
}

// record applies one cascade step's outcome to r and the batch metrics.
func (r *BatchResult) record(op, item string, err error) {
	metrics.RecordBatchItem(op, err == nil)
	if err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			err = errors.New("not found")
		}
		r.fail(item, err)
		return
	}
	r.ok()
}

func logBatch(ctx context.Context, msg, projectID, path string, r BatchResult) {
	logger := logging.WithContext(ctx)
	fields := []zap.Field{
		zap.String("project_id", projectID),
		zap.String("path", path),
		zap.Int("succeeded", r.Succeeded),
		zap.Int("failed", len(r.Failed)),
	}
	if len(r.Failed) > 0 {
		logger.Warn(msg+" with failures", fields...)
		return
	}
	logger.Info(msg, fields...)
}
