package vfs

import (
	"bytes"
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/projectfiles/internal/events"
	"github.com/fruitsalade/projectfiles/internal/logging"
	"github.com/fruitsalade/projectfiles/internal/metadata"
	"github.com/fruitsalade/projectfiles/internal/metrics"
	"github.com/fruitsalade/projectfiles/internal/models"
	"github.com/fruitsalade/projectfiles/internal/retry"
	"github.com/fruitsalade/projectfiles/internal/vpath"
)

// Reconcile outcomes, also used as metric labels.
const (
	outcomeExists      = "exists"
	outcomeImplied     = "implied"
	outcomeHealed      = "healed"
	outcomeCreated     = "created"
	outcomeCompensated = "compensated"
	outcomeError       = "error"
)

// CreateFolder creates name under parentPath.
//
// The sentinel row and object may each exist or not:
//
//	row active                 -> AlreadyExists
//	row missing, object exists -> insert (or revive) the row; success.
//	                              An object still held by a renamed folder
//	                              does not count, a fresh key is used

//	both missing, content      -> AlreadyExists, the folder is implied
//	both missing               -> write object, insert row; if the row
//	                              insert fails, delete the object again
func (s *Service) CreateFolder(ctx context.Context, projectID, parentPath, name string) error {
	name, err := ValidateName(projectID, name)
	if err != nil {
		return err
	}
	folderPath := vpath.Join(vpath.Normalize(parentPath), name)
	key := SentinelKey(projectID, folderPath)
	logger := logging.WithContext(ctx).With(
		zap.String("project_id", projectID),
		zap.String("path", folderPath))

	rows, err := s.store.ListFiles(ctx, projectID, metadata.FileFilter{
		Path:           vpath.Join(folderPath, models.SentinelName),
		IncludeDeleted: true,
	})
	if err != nil {
		metrics.RecordFolderReconcile(outcomeError)
		return storageErr("look up sentinel", err)
	}
	for i := range rows {
		if !rows[i].IsDeleted {
			metrics.RecordFolderReconcile(outcomeExists)
			return &AlreadyExistsError{Path: folderPath}
		}
	}
	revivable := revivableRow(rows, key)

	exists, err := retry.DoWithResult(ctx, s.retry, "probe_sentinel", func() (bool, error) {
		ok, err := s.backend.ObjectExists(ctx, key)
		return ok, retry.Retryable(err)
	})
	if err != nil {
		metrics.RecordFolderReconcile(outcomeError)
		return storageErr("probe sentinel", err)
	}

	if exists {
		owned, err := s.sentinelOwned(ctx, projectID, key)
		if err != nil {
			metrics.RecordFolderReconcile(outcomeError)
			return storageErr("look up sentinel owner", err)
		}
		exists = !owned
		if owned {
			// The object moved away with a renamed folder; this path needs
			// an object of its own.
			key = key + "." + s.newID()
			revivable = nil
		}
	}

	if exists {
		if err := s.restoreSentinel(ctx, projectID, folderPath, key, revivable); err != nil {
			metrics.RecordFolderReconcile(outcomeError)
			return storageErr("heal sentinel row", err)
		}
		s.declareFolder(ctx, projectID, folderPath)
		metrics.RecordFolderReconcile(outcomeHealed)
		logger.Info("folder sentinel row healed", zap.String("key", key))
		s.publish(events.Event{Type: events.EventFolderCreate, ProjectID: projectID, Path: folderPath})
		return nil
	}

	implied, err := s.FolderExists(ctx, projectID, folderPath)
	if err != nil {
		metrics.RecordFolderReconcile(outcomeError)
		return err
	}
	if implied {
		metrics.RecordFolderReconcile(outcomeImplied)
		return &AlreadyExistsError{Path: folderPath}
	}

	err = retry.Do(ctx, s.retry, "put_sentinel", func() error {
		return retry.Retryable(s.backend.PutObject(ctx, key, bytes.NewReader(nil), 0))
	})
	if err != nil {
		metrics.RecordFolderReconcile(outcomeError)
		return storageErr("write sentinel", err)
	}

	if err := s.restoreSentinel(ctx, projectID, folderPath, key, revivable); err != nil {
		if derr := s.backend.DeleteObject(ctx, key); derr != nil {
			logger.Error("compensating sentinel delete failed",
				zap.String("key", key), zap.Error(derr))
		}
		metrics.RecordFolderReconcile(outcomeCompensated)
		return storageErr("insert sentinel row", err)
	}

	s.declareFolder(ctx, projectID, folderPath)
	metrics.RecordFolderReconcile(outcomeCreated)
	logger.Info("folder created")
	s.publish(events.Event{Type: events.EventFolderCreate, ProjectID: projectID, Path: folderPath})
	return nil
}

// revivableRow picks a soft-deleted sentinel row that points at key. Rows
// carried over from a renamed folder keep their old key and are skipped.
func revivableRow(rows []models.FileRecord, key string) *models.FileRecord {
	for i := range rows {
		if rows[i].IsDeleted && rows[i].StorageKey == key {
			return &rows[i]
		}
	}
	return nil
}

// sentinelOwned reports whether an active record already points at key.
func (s *Service) sentinelOwned(ctx context.Context, projectID, key string) (bool, error) {
	rows, err := s.store.ListFiles(ctx, projectID, metadata.FileFilter{})
	if err != nil {
		return false, err
	}
	for _, r := range rows {
		if r.StorageKey == key {
			return true, nil
		}
	}
	return false, nil
}

// restoreSentinel makes the sentinel row active, reviving a soft-deleted
// row when there is one so repeated create/delete cycles do not pile up
// rows for the same path.
func (s *Service) restoreSentinel(ctx context.Context, projectID, folderPath, key string, revivable *models.FileRecord) error {
	if revivable != nil {
		return s.store.SetFileDeleted(ctx, projectID, revivable.ID, false)
	}
	return s.store.InsertFile(ctx, &models.FileRecord{
		ID:          s.newID(),
		ProjectID:   projectID,
		StorageKey:  key,
		VirtualPath: vpath.Join(folderPath, models.SentinelName),
		Kind:        models.KindSentinel,
		UploadedBy:  Actor(ctx),
		UploadedAt:  time.Now().UTC(),
	})
}

// declareFolder writes the folder record. The sentinel already makes the
// folder listable, so a failure here is logged and not returned.
func (s *Service) declareFolder(ctx context.Context, projectID, folderPath string) {
	err := s.store.InsertFolder(ctx, &models.FolderRecord{
		ProjectID:  projectID,
		FolderName: vpath.Base(folderPath),
		FolderPath: folderPath,
		ParentPath: vpath.Parent(folderPath),
	})
	if err != nil {
		logging.WithContext(ctx).Warn("folder record insert failed",
			zap.String("project_id", projectID),
			zap.String("path", folderPath),
			zap.Error(err))
	}
}
