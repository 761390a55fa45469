// Package postgres provides a PostgreSQL-backed metadata store with metrics.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/fruitsalade/projectfiles/internal/logging"
	"github.com/fruitsalade/projectfiles/internal/metadata"
	"github.com/fruitsalade/projectfiles/internal/metrics"
	"github.com/fruitsalade/projectfiles/internal/models"
	"github.com/fruitsalade/projectfiles/internal/vpath"
)

const fileColumns = `id, project_id, storage_key, virtual_path, size, mime_type, kind, uploaded_by, uploaded_at, is_deleted`

// Store is a PostgreSQL metadata store.
type Store struct {
	db *sql.DB
}

var _ metadata.Store = (*Store)(nil)

// New opens a PostgreSQL metadata store.
func New(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpdateConnectionMetrics updates the database connection metrics.
func (s *Store) UpdateConnectionMetrics() {
	stats := s.db.Stats()
	metrics.SetDBConnectionsOpen(stats.OpenConnections)
}

// Migrate runs SQL migration files in lexical order.
func (s *Store) Migrate(migrationsDir string) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.up.sql"))
	if err != nil {
		return fmt.Errorf("glob migrations: %w", err)
	}
	sort.Strings(files)

	for _, f := range files {
		logging.Info("running migration", zap.String("file", filepath.Base(f)))
		content, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
	}

	return nil
}

// ─── File records ───────────────────────────────────────────────────────────

// InsertFile inserts a new file record.
func (s *Store) InsertFile(ctx context.Context, f *models.FileRecord) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("insert_file", time.Since(start)) }()

	if f.Kind == "" {
		f.Kind = models.KindNormal
	}
	if f.UploadedAt.IsZero() {
		f.UploadedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO file_records (`+fileColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		f.ID, f.ProjectID, f.StorageKey, vpath.Normalize(f.VirtualPath), f.Size,
		f.MimeType, string(f.Kind), f.UploadedBy, f.UploadedAt, f.IsDeleted)
	if err != nil {
		return fmt.Errorf("insert file: %w", err)
	}

	logging.Debug("inserted file record",
		zap.String("id", f.ID),
		zap.String("project_id", f.ProjectID),
		zap.String("path", f.VirtualPath))
	return nil
}

// GetFile returns one record by ID, deleted or not.
func (s *Store) GetFile(ctx context.Context, projectID, id string) (*models.FileRecord, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("get_file", time.Since(start)) }()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM file_records WHERE project_id = $1 AND id = $2`,
		projectID, id)
	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		return nil, metadata.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	return f, nil
}

// ListFiles returns the project's records matching filter, ordered by path.
func (s *Store) ListFiles(ctx context.Context, projectID string, filter metadata.FileFilter) ([]models.FileRecord, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("list_files", time.Since(start)) }()

	query := `SELECT ` + fileColumns + ` FROM file_records WHERE project_id = $1`
	args := []interface{}{projectID}

	if !filter.IncludeDeleted {
		query += ` AND NOT is_deleted`
	}
	if p := vpath.Normalize(filter.Prefix); p != "" {
		args = append(args, p+vpath.Separator)
		query += fmt.Sprintf(` AND starts_with(virtual_path, $%d)`, len(args))
	}
	if filter.Path != "" {
		args = append(args, vpath.Normalize(filter.Path))
		query += fmt.Sprintf(` AND virtual_path = $%d`, len(args))
	}
	query += ` ORDER BY virtual_path, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer rows.Close()

	var out []models.FileRecord
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

// UpdateFilePath rewrites the virtual path of a non-deleted record.
func (s *Store) UpdateFilePath(ctx context.Context, projectID, id, newPath string) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("update_file_path", time.Since(start)) }()

	res, err := s.db.ExecContext(ctx,
		`UPDATE file_records SET virtual_path = $3
		 WHERE project_id = $1 AND id = $2 AND NOT is_deleted`,
		projectID, id, vpath.Normalize(newPath))
	if err != nil {
		return fmt.Errorf("update file path: %w", err)
	}
	return expectOne(res)
}

// SetFileDeleted flips the soft-delete flag of one record.
func (s *Store) SetFileDeleted(ctx context.Context, projectID, id string, deleted bool) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("set_file_deleted", time.Since(start)) }()

	res, err := s.db.ExecContext(ctx,
		`UPDATE file_records SET is_deleted = $3
		 WHERE project_id = $1 AND id = $2 AND is_deleted <> $3`,
		projectID, id, deleted)
	if err != nil {
		return fmt.Errorf("set file deleted: %w", err)
	}
	return expectOne(res)
}

// ─── Folder records ─────────────────────────────────────────────────────────

// InsertFolder declares a folder. Declaring an existing folder is a no-op.
func (s *Store) InsertFolder(ctx context.Context, f *models.FolderRecord) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("insert_folder", time.Since(start)) }()

	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO folder_records (project_id, folder_name, folder_path, parent_path, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (project_id, folder_path) DO NOTHING`,
		f.ProjectID, f.FolderName, vpath.Normalize(f.FolderPath), vpath.Normalize(f.ParentPath), f.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert folder: %w", err)
	}
	return nil
}

// GetFolder returns the folder record at folderPath.
func (s *Store) GetFolder(ctx context.Context, projectID, folderPath string) (*models.FolderRecord, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("get_folder", time.Since(start)) }()

	var f models.FolderRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT project_id, folder_name, folder_path, parent_path, created_at
		 FROM folder_records WHERE project_id = $1 AND folder_path = $2`,
		projectID, vpath.Normalize(folderPath)).
		Scan(&f.ProjectID, &f.FolderName, &f.FolderPath, &f.ParentPath, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, metadata.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get folder: %w", err)
	}
	return &f, nil
}

// ListFolders returns every folder record of the project.
func (s *Store) ListFolders(ctx context.Context, projectID string) ([]models.FolderRecord, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("list_folders", time.Since(start)) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT project_id, folder_name, folder_path, parent_path, created_at
		 FROM folder_records WHERE project_id = $1 ORDER BY folder_path`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query folders: %w", err)
	}
	defer rows.Close()

	var out []models.FolderRecord
	for rows.Next() {
		var f models.FolderRecord
		if err := rows.Scan(&f.ProjectID, &f.FolderName, &f.FolderPath, &f.ParentPath, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// UpdateFolderPath moves one folder record to newPath.
func (s *Store) UpdateFolderPath(ctx context.Context, projectID, oldPath, newPath string) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("update_folder_path", time.Since(start)) }()

	newPath = vpath.Normalize(newPath)
	res, err := s.db.ExecContext(ctx,
		`UPDATE folder_records SET folder_path = $3, folder_name = $4, parent_path = $5
		 WHERE project_id = $1 AND folder_path = $2`,
		projectID, vpath.Normalize(oldPath), newPath, vpath.Base(newPath), vpath.Parent(newPath))
	if err != nil {
		return fmt.Errorf("update folder path: %w", err)
	}
	return expectOne(res)
}

// DeleteFolders removes the folder record at path and every record below it.
func (s *Store) DeleteFolders(ctx context.Context, projectID, path string) (int64, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("delete_folders", time.Since(start)) }()

	path = vpath.Normalize(path)
	if path == "" {
		return 0, fmt.Errorf("delete folders: empty path")
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM folder_records
		 WHERE project_id = $1 AND (folder_path = $2 OR starts_with(folder_path, $3))`,
		projectID, path, path+vpath.Separator)
	if err != nil {
		return 0, fmt.Errorf("delete folders: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanFile(row scanner) (*models.FileRecord, error) {
	var f models.FileRecord
	var kind string
	if err := row.Scan(&f.ID, &f.ProjectID, &f.StorageKey, &f.VirtualPath, &f.Size,
		&f.MimeType, &kind, &f.UploadedBy, &f.UploadedAt, &f.IsDeleted); err != nil {
		return nil, err
	}
	f.Kind = models.Kind(strings.TrimSpace(kind))
	return &f, nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return metadata.ErrNotFound
	}
	return nil
}
