package bolt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/projectfiles/internal/logging"
	"github.com/fruitsalade/projectfiles/internal/metadata"
	"github.com/fruitsalade/projectfiles/internal/models"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	logging.InitNop()
	s, err := Open(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func insert(t *testing.T, s *Store, id, path string) {
	t.Helper()
	require.NoError(t, s.InsertFile(context.Background(), &models.FileRecord{
		ID: id, ProjectID: "p1", StorageKey: "p1/" + id, VirtualPath: path,
	}))
}

func TestFileLifecycle(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	insert(t, s, "f1", "/a//b/c.txt")
	f, err := s.GetFile(ctx, "p1", "f1")
	require.NoError(t, err)
	require.Equal(t, "a/b/c.txt", f.VirtualPath)
	require.Equal(t, models.KindNormal, f.Kind)
	require.False(t, f.UploadedAt.IsZero())

	require.Error(t, s.InsertFile(ctx, &models.FileRecord{ID: "f1", ProjectID: "p1"}))

	require.NoError(t, s.UpdateFilePath(ctx, "p1", "f1", "a2/b/c.txt"))
	f, err = s.GetFile(ctx, "p1", "f1")
	require.NoError(t, err)
	require.Equal(t, "a2/b/c.txt", f.VirtualPath)

	require.NoError(t, s.SetFileDeleted(ctx, "p1", "f1", true))
	require.ErrorIs(t, s.SetFileDeleted(ctx, "p1", "f1", true), metadata.ErrNotFound)
	require.ErrorIs(t, s.UpdateFilePath(ctx, "p1", "f1", "x.txt"), metadata.ErrNotFound)

	_, err = s.GetFile(ctx, "p1", "nope")
	require.ErrorIs(t, err, metadata.ErrNotFound)
	_, err = s.GetFile(ctx, "other", "f1")
	require.ErrorIs(t, err, metadata.ErrNotFound)
}

func TestListFilesFilters(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	insert(t, s, "3", "ab/x.txt")
	insert(t, s, "1", "a/x.txt")
	insert(t, s, "2", "a/b/y.txt")
	insert(t, s, "4", "a")
	require.NoError(t, s.SetFileDeleted(ctx, "p1", "2", true))

	all, err := s.ListFiles(ctx, "p1", metadata.FileFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)

	under, err := s.ListFiles(ctx, "p1", metadata.FileFilter{Prefix: "a"})
	require.NoError(t, err)
	require.Len(t, under, 1)
	require.Equal(t, "a/x.txt", under[0].VirtualPath)

	withDeleted, err := s.ListFiles(ctx, "p1", metadata.FileFilter{Prefix: "a", IncludeDeleted: true})
	require.NoError(t, err)
	require.Len(t, withDeleted, 2)
	require.Equal(t, "a/b/y.txt", withDeleted[0].VirtualPath)

	exact, err := s.ListFiles(ctx, "p1", metadata.FileFilter{Path: "ab/x.txt"})
	require.NoError(t, err)
	require.Len(t, exact, 1)
	require.Equal(t, "3", exact[0].ID)

	none, err := s.ListFiles(ctx, "empty", metadata.FileFilter{})
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestFolderRecords(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	for _, p := range []string{"Docs", "Docs/Permits", "Docs/Permits/2024", "Docsx"} {
		require.NoError(t, s.InsertFolder(ctx, &models.FolderRecord{
			ProjectID: "p1", FolderPath: p,
		}))
	}
	// Idempotent.
	require.NoError(t, s.InsertFolder(ctx, &models.FolderRecord{ProjectID: "p1", FolderPath: "Docs"}))

	folders, err := s.ListFolders(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, folders, 4)

	require.NoError(t, s.UpdateFolderPath(ctx, "p1", "Docs/Permits", "Archive/Permits"))
	f, err := s.GetFolder(ctx, "p1", "Archive/Permits")
	require.NoError(t, err)
	require.Equal(t, "Permits", f.FolderName)
	require.Equal(t, "Archive", f.ParentPath)
	_, err = s.GetFolder(ctx, "p1", "Docs/Permits")
	require.ErrorIs(t, err, metadata.ErrNotFound)
	require.ErrorIs(t, s.UpdateFolderPath(ctx, "p1", "Missing", "Other"), metadata.ErrNotFound)

	n, err := s.DeleteFolders(ctx, "p1", "Docs")
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	folders, err = s.ListFolders(ctx, "p1")
	require.NoError(t, err)
	var paths []string
	for _, f := range folders {
		paths = append(paths, f.FolderPath)
	}
	require.ElementsMatch(t, []string{"Archive/Permits", "Docsx"}, paths)
}
