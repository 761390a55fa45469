// Package bolt provides an embedded bbolt metadata store for single-node
// deployments and tests.
//
// Layout: two top-level buckets, "files" and "folders", each holding one
// nested bucket per project. File records are JSON keyed by ID; folder
// records are JSON keyed by folder path so descendants sit in one cursor
// range.
package bolt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/fruitsalade/projectfiles/internal/logging"
	"github.com/fruitsalade/projectfiles/internal/metadata"
	"github.com/fruitsalade/projectfiles/internal/metrics"
	"github.com/fruitsalade/projectfiles/internal/models"
	"github.com/fruitsalade/projectfiles/internal/vpath"
)

var (
	filesBucket   = []byte("files")
	foldersBucket = []byte("folders")
)

// Store is a bbolt-backed metadata store.
type Store struct {
	conn *bbolt.DB
}

var _ metadata.Store = (*Store)(nil)

// Open opens or creates the database file at path.
func Open(path string) (*Store, error) {
	// Timeout keeps a second process from blocking forever on the file lock.
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{filesBucket, foldersBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	logging.Info("bolt metadata store opened", zap.String("path", path))
	return &Store{conn: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.conn.Close()
}

func observe(query string) func() {
	start := time.Now()
	return func() { metrics.RecordDBQuery(query, time.Since(start)) }
}

// projectBucket returns the project's nested bucket under root, creating it
// in writable transactions. It returns nil for a missing bucket on reads.
func projectBucket(tx *bbolt.Tx, root []byte, projectID string) (*bbolt.Bucket, error) {
	parent := tx.Bucket(root)
	if !tx.Writable() {
		return parent.Bucket([]byte(projectID)), nil
	}
	return parent.CreateBucketIfNotExists([]byte(projectID))
}

func getFile(b *bbolt.Bucket, id string) (*models.FileRecord, error) {
	if b == nil {
		return nil, metadata.ErrNotFound
	}
	v := b.Get([]byte(id))
	if v == nil {
		return nil, metadata.ErrNotFound
	}
	var f models.FileRecord
	if err := json.Unmarshal(v, &f); err != nil {
		return nil, fmt.Errorf("decode file %s: %w", id, err)
	}
	return &f, nil
}

func putJSON(b *bbolt.Bucket, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return b.Put([]byte(key), data)
}

// ─── File records ───────────────────────────────────────────────────────────

// InsertFile stores a new record. IDs are unique per project.
func (s *Store) InsertFile(ctx context.Context, f *models.FileRecord) error {
	defer observe("insert_file")()

	if f.Kind == "" {
		f.Kind = models.KindNormal
	}
	if f.UploadedAt.IsZero() {
		f.UploadedAt = time.Now().UTC()
	}
	f.VirtualPath = vpath.Normalize(f.VirtualPath)

	return s.conn.Update(func(tx *bbolt.Tx) error {
		b, err := projectBucket(tx, filesBucket, f.ProjectID)
		if err != nil {
			return err
		}
		if b.Get([]byte(f.ID)) != nil {
			return fmt.Errorf("insert file: duplicate id %s", f.ID)
		}
		return putJSON(b, f.ID, f)
	})
}

// GetFile returns one record by ID, deleted or not.
func (s *Store) GetFile(ctx context.Context, projectID, id string) (*models.FileRecord, error) {
	defer observe("get_file")()

	var out *models.FileRecord
	err := s.conn.View(func(tx *bbolt.Tx) error {
		b, _ := projectBucket(tx, filesBucket, projectID)
		f, err := getFile(b, id)
		out = f
		return err
	})
	return out, err
}

// ListFiles scans the project's records and returns those matching filter,
// ordered by path then ID.
func (s *Store) ListFiles(ctx context.Context, projectID string, filter metadata.FileFilter) ([]models.FileRecord, error) {
	defer observe("list_files")()

	prefix := vpath.Normalize(filter.Prefix)
	exact := vpath.Normalize(filter.Path)

	var out []models.FileRecord
	err := s.conn.View(func(tx *bbolt.Tx) error {
		b, _ := projectBucket(tx, filesBucket, projectID)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var f models.FileRecord
			if err := json.Unmarshal(v, &f); err != nil {
				return fmt.Errorf("decode file %s: %w", k, err)
			}
			if f.IsDeleted && !filter.IncludeDeleted {
				return nil
			}
			if prefix != "" && !vpath.IsDescendant(f.VirtualPath, prefix) {
				return nil
			}
			if filter.Path != "" && f.VirtualPath != exact {
				return nil
			}
			out = append(out, f)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].VirtualPath != out[j].VirtualPath {
			return out[i].VirtualPath < out[j].VirtualPath
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) updateFile(projectID, id string, fn func(f *models.FileRecord) bool) error {
	return s.conn.Update(func(tx *bbolt.Tx) error {
		b, err := projectBucket(tx, filesBucket, projectID)
		if err != nil {
			return err
		}
		f, err := getFile(b, id)
		if err != nil {
			return err
		}
		if !fn(f) {
			return metadata.ErrNotFound
		}
		return putJSON(b, id, f)
	})
}

// UpdateFilePath rewrites the virtual path of a non-deleted record.
func (s *Store) UpdateFilePath(ctx context.Context, projectID, id, newPath string) error {
	defer observe("update_file_path")()

	newPath = vpath.Normalize(newPath)
	return s.updateFile(projectID, id, func(f *models.FileRecord) bool {
		if f.IsDeleted {
			return false
		}
		f.VirtualPath = newPath
		return true
	})
}

// SetFileDeleted flips the soft-delete flag. Setting the flag to its current
// value reports ErrNotFound, matching a zero-row update.
func (s *Store) SetFileDeleted(ctx context.Context, projectID, id string, deleted bool) error {
	defer observe("set_file_deleted")()

	return s.updateFile(projectID, id, func(f *models.FileRecord) bool {
		if f.IsDeleted == deleted {
			return false
		}
		f.IsDeleted = deleted
		return true
	})
}

// ─── Folder records ─────────────────────────────────────────────────────────

// InsertFolder declares a folder. Declaring an existing folder is a no-op.
func (s *Store) InsertFolder(ctx context.Context, f *models.FolderRecord) error {
	defer observe("insert_folder")()

	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	f.FolderPath = vpath.Normalize(f.FolderPath)
	f.ParentPath = vpath.Normalize(f.ParentPath)

	return s.conn.Update(func(tx *bbolt.Tx) error {
		b, err := projectBucket(tx, foldersBucket, f.ProjectID)
		if err != nil {
			return err
		}
		if b.Get([]byte(f.FolderPath)) != nil {
			return nil
		}
		return putJSON(b, f.FolderPath, f)
	})
}

// GetFolder returns the folder record at folderPath.
func (s *Store) GetFolder(ctx context.Context, projectID, folderPath string) (*models.FolderRecord, error) {
	defer observe("get_folder")()

	var out *models.FolderRecord
	err := s.conn.View(func(tx *bbolt.Tx) error {
		b, _ := projectBucket(tx, foldersBucket, projectID)
		if b == nil {
			return metadata.ErrNotFound
		}
		v := b.Get([]byte(vpath.Normalize(folderPath)))
		if v == nil {
			return metadata.ErrNotFound
		}
		out = &models.FolderRecord{}
		return json.Unmarshal(v, out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListFolders returns every folder record of the project, ordered by path.
func (s *Store) ListFolders(ctx context.Context, projectID string) ([]models.FolderRecord, error) {
	defer observe("list_folders")()

	var out []models.FolderRecord
	err := s.conn.View(func(tx *bbolt.Tx) error {
		b, _ := projectBucket(tx, foldersBucket, projectID)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var f models.FolderRecord
			if err := json.Unmarshal(v, &f); err != nil {
				return fmt.Errorf("decode folder %s: %w", k, err)
			}
			out = append(out, f)
			return nil
		})
	})
	return out, err
}

// UpdateFolderPath moves one folder record to newPath. An existing record at
// newPath is replaced.
func (s *Store) UpdateFolderPath(ctx context.Context, projectID, oldPath, newPath string) error {
	defer observe("update_folder_path")()

	oldPath = vpath.Normalize(oldPath)
	newPath = vpath.Normalize(newPath)

	return s.conn.Update(func(tx *bbolt.Tx) error {
		b, err := projectBucket(tx, foldersBucket, projectID)
		if err != nil {
			return err
		}
		v := b.Get([]byte(oldPath))
		if v == nil {
			return metadata.ErrNotFound
		}
		var f models.FolderRecord
		if err := json.Unmarshal(v, &f); err != nil {
			return err
		}
		f.FolderPath = newPath
		f.FolderName = vpath.Base(newPath)
		f.ParentPath = vpath.Parent(newPath)
		if err := b.Delete([]byte(oldPath)); err != nil {
			return err
		}
		return putJSON(b, newPath, &f)
	})
}

// DeleteFolders removes the folder record at path and every record below it.
func (s *Store) DeleteFolders(ctx context.Context, projectID, path string) (int64, error) {
	defer observe("delete_folders")()

	path = vpath.Normalize(path)
	if path == "" {
		return 0, fmt.Errorf("delete folders: empty path")
	}

	var n int64
	err := s.conn.Update(func(tx *bbolt.Tx) error {
		b, err := projectBucket(tx, foldersBucket, projectID)
		if err != nil {
			return err
		}
		var keys [][]byte
		if b.Get([]byte(path)) != nil {
			keys = append(keys, []byte(path))
		}
		// Descendant keys share the guarded prefix and are contiguous.
		guard := []byte(path + vpath.Separator)
		c := b.Cursor()
		for k, _ := c.Seek(guard); k != nil && bytes.HasPrefix(k, guard); k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		n = int64(len(keys))
		return nil
	})
	if err == nil && n > 0 {
		logging.Debug("deleted folder records",
			zap.String("project_id", projectID),
			zap.String("path", path),
			zap.Int64("rows", n))
	}
	return n, err
}
