// Package uploads writes new files into the virtual hierarchy.
//
// An upload is two independent writes: the object under a random key, then
// the metadata row. There is no transaction across them. A failed or
// cancelled upload can leave an orphaned object behind; it is logged and
// counted, never retracted.
package uploads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fruitsalade/projectfiles/internal/events"
	"github.com/fruitsalade/projectfiles/internal/logging"
	"github.com/fruitsalade/projectfiles/internal/metadata"
	"github.com/fruitsalade/projectfiles/internal/metrics"
	"github.com/fruitsalade/projectfiles/internal/models"
	"github.com/fruitsalade/projectfiles/internal/retry"
	"github.com/fruitsalade/projectfiles/internal/storage"
	"github.com/fruitsalade/projectfiles/internal/vfs"
	"github.com/fruitsalade/projectfiles/internal/vpath"
)

// ErrCancelled is returned by Upload when Cancel was called for it.
var ErrCancelled = errors.New("upload cancelled")

// Config holds upload limits.
type Config struct {
	MaxSize    int64
	PresignTTL time.Duration
	Retry      retry.Config
}

// Pending describes an upload in flight.
type Pending struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"project_id"`
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	UploadedBy string    `json:"uploaded_by"`
	StartedAt  time.Time `json:"started_at"`
}

type entry struct {
	Pending
	cancel context.CancelFunc
}

// Request is one file to upload.
type Request struct {
	ProjectID  string
	FolderPath string
	Name       string
	MimeType   string
	// Size is the declared length, or -1 when unknown.
	Size int64
	Body io.Reader
}

// Manager runs uploads and tracks the pending ones. Each upload has its own
// cancel handle.
type Manager struct {
	store   metadata.Store
	backend storage.Backend
	events  events.Publisher
	cfg     Config

	mu      sync.Mutex
	pending map[string]*entry
}

// NewManager creates a Manager.
func NewManager(store metadata.Store, backend storage.Backend, pub events.Publisher, cfg Config) *Manager {
	if pub == nil {
		pub = events.Discard
	}
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = 15 * time.Minute
	}
	if cfg.Retry.MaxAttempts == 0 && cfg.Retry.InitialWait == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	return &Manager{
		store:   store,
		backend: backend,
		events:  pub,
		cfg:     cfg,
		pending: make(map[string]*entry),
	}
}

// resolveName picks a free name for name inside folder.
func (m *Manager) resolveName(ctx context.Context, projectID, folder, name string) (string, error) {
	files, err := m.store.ListFiles(ctx, projectID, metadata.FileFilter{Prefix: folder})
	if err != nil {
		return "", &vfs.StorageError{Op: "list files", Err: err}
	}
	taken := vpath.NewNameSet()
	for _, f := range files {
		if vpath.Parent(f.VirtualPath) == folder {
			taken.Add(vpath.Base(f.VirtualPath))
		}
	}
	return vpath.UniqueName(name, taken), nil
}

func (m *Manager) track(e *entry) {
	m.mu.Lock()
	m.pending[e.ID] = e
	n := len(m.pending)
	m.mu.Unlock()
	metrics.SetUploadsPending(n)
}

func (m *Manager) untrack(id string) {
	m.mu.Lock()
	delete(m.pending, id)
	n := len(m.pending)
	m.mu.Unlock()
	metrics.SetUploadsPending(n)
}

// Upload stores req.Body and registers its row. A name already taken in the
// folder becomes "stem_N.ext".
func (m *Manager) Upload(ctx context.Context, req Request) (*models.FileRecord, error) {
	name, err := vfs.ValidateName(req.ProjectID, req.Name)
	if err != nil {
		return nil, err
	}
	if m.cfg.MaxSize > 0 && req.Size > m.cfg.MaxSize {
		return nil, &vfs.ValidationError{Message: fmt.Sprintf("file exceeds the %d byte limit", m.cfg.MaxSize)}
	}
	folder := vpath.Normalize(req.FolderPath)

	name, err = m.resolveName(ctx, req.ProjectID, folder, name)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	rec := &models.FileRecord{
		ID:          id,
		ProjectID:   req.ProjectID,
		StorageKey:  req.ProjectID + vpath.Separator + uuid.NewString(),
		VirtualPath: vpath.Join(folder, name),
		MimeType:    mimeType(name, req.MimeType),
		Kind:        models.KindNormal,
		UploadedBy:  vfs.Actor(ctx),
	}

	uctx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.track(&entry{
		Pending: Pending{
			ID: id, ProjectID: req.ProjectID, Path: rec.VirtualPath,
			Size: req.Size, UploadedBy: rec.UploadedBy, StartedAt: time.Now().UTC(),
		},
		cancel: cancel,
	})
	defer m.untrack(id)

	logger := logging.WithContext(ctx).With(
		zap.String("upload_id", id),
		zap.String("project_id", req.ProjectID),
		zap.String("path", rec.VirtualPath))

	size, err := m.put(uctx, rec.StorageKey, req.Body, req.Size)
	if err != nil {
		if uctx.Err() != nil && ctx.Err() == nil {
			metrics.RecordUpload("cancelled", 0)
			logger.Info("upload cancelled")
			return nil, ErrCancelled
		}
		metrics.RecordUpload("error", 0)
		return nil, &vfs.StorageError{Op: "write object", Err: err}
	}
	rec.Size = size
	rec.UploadedAt = time.Now().UTC()

	if err := m.store.InsertFile(ctx, rec); err != nil {
		metrics.RecordUpload("orphaned", size)
		logger.Error("upload row insert failed, object left orphaned",
			zap.String("key", rec.StorageKey), zap.Error(err))
		return nil, &vfs.StorageError{Op: "insert file row", Err: err}
	}

	metrics.RecordUpload("success", size)
	logger.Info("upload complete", zap.Int64("size", size))
	m.events.Publish(events.Event{
		Type: events.EventUpload, ProjectID: req.ProjectID, FileID: id, Path: rec.VirtualPath,
	})
	return rec, nil
}

// put writes the object. Seekable bodies are rewound and retried; streams
// get a single attempt.
func (m *Manager) put(ctx context.Context, key string, body io.Reader, size int64) (int64, error) {
	seeker, seekable := body.(io.ReadSeeker)
	if !seekable {
		cr := &countingReader{r: body}
		err := m.backend.PutObject(ctx, key, cr, size)
		return cr.n, err
	}

	var written int64
	err := retry.Do(ctx, m.cfg.Retry, "put_object", func() error {
		if _, err := seeker.Seek(0, io.SeekStart); err != nil {
			return err
		}
		cr := &countingReader{r: seeker}
		if err := m.backend.PutObject(ctx, key, cr, size); err != nil {
			if ctx.Err() != nil {
				return err
			}
			return retry.Retryable(err)
		}
		written = cr.n
		return nil
	})
	return written, err
}

// Cancel aborts an upload in flight and forgets it. Bytes already stored
// stay in the object store.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	e, ok := m.pending[id]
	if ok {
		delete(m.pending, id)
	}
	n := len(m.pending)
	m.mu.Unlock()
	if !ok {
		return false
	}
	e.cancel()
	metrics.SetUploadsPending(n)
	return true
}

// List returns the uploads in flight, oldest first.
func (m *Manager) List() []Pending {
	m.mu.Lock()
	out := make([]Pending, 0, len(m.pending))
	for _, e := range m.pending {
		out = append(out, e.Pending)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Target is a presigned location a client can write an object to directly.
type Target struct {
	URL        string    `json:"url"`
	StorageKey string    `json:"storage_key"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Target issues a presigned PUT for a new object in projectID.
func (m *Manager) Target(ctx context.Context, projectID string) (*Target, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, &vfs.ValidationError{Message: "project id is required"}
	}
	p, ok := m.backend.(storage.Presigner)
	if !ok {
		return nil, &vfs.ValidationError{Message: fmt.Sprintf("%s storage does not support direct uploads", m.backend.Type())}
	}
	key := projectID + vpath.Separator + uuid.NewString()
	url, err := p.PresignPut(ctx, key, m.cfg.PresignTTL)
	if err != nil {
		return nil, &vfs.StorageError{Op: "presign", Err: err}
	}
	return &Target{URL: url, StorageKey: key, ExpiresAt: time.Now().Add(m.cfg.PresignTTL).UTC()}, nil
}

// CompleteRequest registers an object written through a Target.
type CompleteRequest struct {
	ProjectID  string `json:"-"`
	StorageKey string `json:"storage_key"`
	FolderPath string `json:"path"`
	Name       string `json:"name"`
	MimeType   string `json:"mime_type"`
	Size       int64  `json:"size"`
}

// Complete checks the object exists and inserts its row.
func (m *Manager) Complete(ctx context.Context, req CompleteRequest) (*models.FileRecord, error) {
	name, err := vfs.ValidateName(req.ProjectID, req.Name)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(req.StorageKey, req.ProjectID+vpath.Separator) {
		return nil, &vfs.ValidationError{Message: "storage key does not belong to this project"}
	}

	exists, err := retry.DoWithResult(ctx, m.cfg.Retry, "head_object", func() (bool, error) {
		ok, err := m.backend.ObjectExists(ctx, req.StorageKey)
		return ok, retry.Retryable(err)
	})
	if err != nil {
		return nil, &vfs.StorageError{Op: "probe object", Err: err}
	}
	if !exists {
		return nil, &vfs.NotFoundError{What: "object " + req.StorageKey}
	}

	folder := vpath.Normalize(req.FolderPath)
	name, err = m.resolveName(ctx, req.ProjectID, folder, name)
	if err != nil {
		return nil, err
	}
	rec := &models.FileRecord{
		ID:          uuid.NewString(),
		ProjectID:   req.ProjectID,
		StorageKey:  req.StorageKey,
		VirtualPath: vpath.Join(folder, name),
		Size:        req.Size,
		MimeType:    mimeType(name, req.MimeType),
		Kind:        models.KindNormal,
		UploadedBy:  vfs.Actor(ctx),
		UploadedAt:  time.Now().UTC(),
	}
	if err := m.store.InsertFile(ctx, rec); err != nil {
		metrics.RecordUpload("orphaned", req.Size)
		return nil, &vfs.StorageError{Op: "insert file row", Err: err}
	}

	metrics.RecordUpload("success", req.Size)
	m.events.Publish(events.Event{
		Type: events.EventUpload, ProjectID: req.ProjectID, FileID: rec.ID, Path: rec.VirtualPath,
	})
	return rec, nil
}

func mimeType(name, declared string) string {
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if _, ext := vpath.SplitExt(name); ext != "" {
		if t := mime.TypeByExtension(strings.ToLower(ext)); t != "" {
			return t
		}
	}
	return "application/octet-stream"
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
