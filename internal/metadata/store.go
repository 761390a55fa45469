// Package metadata defines the relational metadata store behind the virtual
// file system. Implementations live in the postgres and bolt subpackages.
package metadata

import (
	"context"
	"errors"

	"github.com/fruitsalade/projectfiles/internal/models"
)

// ErrNotFound is returned when a row does not exist or no longer matches the
// expected state (for example it was soft-deleted by another session).
var ErrNotFound = errors.New("record not found")

// FileFilter narrows ListFiles. Zero value lists every non-deleted record of
// the project.
type FileFilter struct {
	// Prefix keeps records strictly below this folder (guarded: Prefix+"/").
	Prefix string
	// Path keeps only the record at this exact virtual path.
	Path string
	// IncludeDeleted also returns soft-deleted records.
	IncludeDeleted bool
}

// Store is the flat metadata table of file and folder records. It has no
// notion of directories beyond string prefixes, and no method spans more
// than one row transactionally except the *ByPrefix helpers.
type Store interface {
	InsertFile(ctx context.Context, f *models.FileRecord) error
	GetFile(ctx context.Context, projectID, id string) (*models.FileRecord, error)
	ListFiles(ctx context.Context, projectID string, filter FileFilter) ([]models.FileRecord, error)
	// UpdateFilePath rewrites the virtual path of one non-deleted record.
	UpdateFilePath(ctx context.Context, projectID, id, newPath string) error
	// SetFileDeleted flips the soft-delete flag of one record.
	SetFileDeleted(ctx context.Context, projectID, id string, deleted bool) error

	InsertFolder(ctx context.Context, f *models.FolderRecord) error
	GetFolder(ctx context.Context, projectID, folderPath string) (*models.FolderRecord, error)
	ListFolders(ctx context.Context, projectID string) ([]models.FolderRecord, error)
	// UpdateFolderPath moves one folder record.
	UpdateFolderPath(ctx context.Context, projectID, oldPath, newPath string) error
	// DeleteFolders removes the folder record at path and every record below it.
	DeleteFolders(ctx context.Context, projectID, path string) (int64, error)

	Close() error
}
