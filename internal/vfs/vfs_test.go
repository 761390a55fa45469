package vfs

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/projectfiles/internal/events"
	"github.com/fruitsalade/projectfiles/internal/logging"
	"github.com/fruitsalade/projectfiles/internal/metadata"
	"github.com/fruitsalade/projectfiles/internal/metadata/bolt"
	"github.com/fruitsalade/projectfiles/internal/models"
	"github.com/fruitsalade/projectfiles/internal/retry"
	"github.com/fruitsalade/projectfiles/internal/storage"
	"github.com/fruitsalade/projectfiles/internal/storage/local"
)

const project = "p1"

var fastRetry = retry.Config{MaxAttempts: 2, InitialWait: time.Millisecond, MaxWait: time.Millisecond, Multiplier: 1}

type fixture struct {
	store   metadata.Store
	backend storage.Backend
	svc     *Service
	events  *events.Broadcaster
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logging.InitNop()
	dir := t.TempDir()

	store, err := bolt.Open(filepath.Join(dir, "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	backend, err := local.New(local.Config{RootPath: filepath.Join(dir, "objects"), CreateDirs: true})
	require.NoError(t, err)

	f := &fixture{store: store, backend: backend, events: events.NewBroadcaster()}
	f.svc = f.build(store, backend)
	return f
}

func (f *fixture) build(store metadata.Store, backend storage.Backend) *Service {
	return New(store, backend, WithPublisher(f.events), WithRetry(fastRetry))
}

func (f *fixture) file(t *testing.T, id, path string) {
	t.Helper()
	require.NoError(t, f.store.InsertFile(context.Background(), &models.FileRecord{
		ID: id, ProjectID: project, StorageKey: project + "/" + id, VirtualPath: path, Size: 1,
	}))
}

func (f *fixture) path(t *testing.T, id string) string {
	t.Helper()
	rec, err := f.store.GetFile(context.Background(), project, id)
	require.NoError(t, err)
	return rec.VirtualPath
}

func names(nodes []models.VirtualNode) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Name)
	}
	return out
}

// failingStore injects errors into selected calls.
type failingStore struct {
	metadata.Store
	failInsert bool
	failUpdate map[string]bool
	failAll    bool
}

var errInjected = errors.New("injected failure")

func (s *failingStore) InsertFile(ctx context.Context, f *models.FileRecord) error {
	if s.failInsert || s.failAll {
		return errInjected
	}
	return s.Store.InsertFile(ctx, f)
}

func (s *failingStore) UpdateFilePath(ctx context.Context, projectID, id, newPath string) error {
	if s.failUpdate[id] || s.failAll {
		return errInjected
	}
	return s.Store.UpdateFilePath(ctx, projectID, id, newPath)
}

func (s *failingStore) ListFiles(ctx context.Context, projectID string, filter metadata.FileFilter) ([]models.FileRecord, error) {
	if s.failAll {
		return nil, errInjected
	}
	return s.Store.ListFiles(ctx, projectID, filter)
}

// flakyBackend fails ObjectExists.
type flakyBackend struct {
	storage.Backend
	probes int
}

func (b *flakyBackend) ObjectExists(ctx context.Context, key string) (bool, error) {
	b.probes++
	return false, errors.New("connection reset")
}

func TestListDirectory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.file(t, "1", "a/b/c.txt")
	f.file(t, "2", "Plans/Site.pdf")
	f.file(t, "3", "Plans/Archive/old.pdf")
	f.file(t, "4", "readme.md")

	root, err := f.svc.ListDirectory(ctx, project, "")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "Plans"}, names(root.Folders))
	require.Equal(t, []string{"readme.md"}, names(root.Files))

	plans, err := f.svc.ListDirectory(ctx, project, "/Plans/")
	require.NoError(t, err)
	require.Equal(t, "Plans", plans.Path)
	require.Equal(t, []string{"Archive"}, names(plans.Folders))
	require.Equal(t, []string{"Site.pdf"}, names(plans.Files))

	_, err = f.svc.ListDirectory(ctx, "", "")
	require.ErrorIs(t, err, ErrValidation)
}

func TestCreateFolderThenAlreadyExists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ch := f.events.Subscribe(project)
	defer f.events.Unsubscribe(ch)

	require.NoError(t, f.svc.CreateFolder(ctx, project, "", "Permits"))

	ok, err := f.backend.ObjectExists(ctx, SentinelKey(project, "Permits"))
	require.NoError(t, err)
	require.True(t, ok)

	rows, err := f.store.ListFiles(ctx, project, metadata.FileFilter{Path: "Permits/.keeper"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.True(t, rows[0].IsSentinel())

	_, err = f.store.GetFolder(ctx, project, "Permits")
	require.NoError(t, err)

	listing, err := f.svc.ListDirectory(ctx, project, "")
	require.NoError(t, err)
	require.Equal(t, []string{"Permits"}, names(listing.Folders))
	require.Empty(t, listing.Files)

	err = f.svc.CreateFolder(ctx, project, "", "Permits")
	require.ErrorIs(t, err, ErrAlreadyExists)

	ev := <-ch
	require.Equal(t, events.EventFolderCreate, ev.Type)
	require.Equal(t, "Permits", ev.Path)
}

func TestCreateFolderAutoHeal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Object written by an earlier attempt whose row insert never landed.
	key := SentinelKey(project, "Docs/x")
	require.NoError(t, f.backend.PutObject(ctx, key, strings.NewReader(""), 0))

	require.NoError(t, f.svc.CreateFolder(ctx, project, "Docs", "x"))

	rows, err := f.store.ListFiles(ctx, project, metadata.FileFilter{Path: "Docs/x/.keeper"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, key, rows[0].StorageKey)

	require.ErrorIs(t, f.svc.CreateFolder(ctx, project, "Docs", "x"), ErrAlreadyExists)
}

func TestCreateFolderImpliedByContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.file(t, "1", "x/y.txt")

	err := f.svc.CreateFolder(ctx, project, "", "x")
	require.ErrorIs(t, err, ErrAlreadyExists)

	ok, err := f.backend.ObjectExists(ctx, SentinelKey(project, "x"))
	require.NoError(t, err)
	require.False(t, ok, "no sentinel should be written for an implied folder")
}

func TestCreateFolderCompensatesFailedInsert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := f.build(&failingStore{Store: f.store, failInsert: true}, f.backend)

	err := svc.CreateFolder(ctx, project, "", "Orphan")
	require.ErrorIs(t, err, ErrStorage)
	var se *StorageError
	require.True(t, errors.As(err, &se))
	require.ErrorIs(t, err, errInjected)

	ok, err := f.backend.ObjectExists(ctx, SentinelKey(project, "Orphan"))
	require.NoError(t, err)
	require.False(t, ok, "sentinel object should be deleted after a failed insert")

	rows, err := f.store.ListFiles(ctx, project, metadata.FileFilter{})
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestCreateFolderProbeFailureIsStorageError(t *testing.T) {
	f := newFixture(t)
	backend := &flakyBackend{Backend: f.backend}
	svc := f.build(f.store, backend)

	err := svc.CreateFolder(context.Background(), project, "", "x")
	require.ErrorIs(t, err, ErrStorage)
	require.Equal(t, fastRetry.MaxAttempts, backend.probes)
}

func TestCreateFolderValidatesBeforeIO(t *testing.T) {
	f := newFixture(t)
	svc := f.build(&failingStore{Store: f.store, failAll: true}, &flakyBackend{Backend: f.backend})

	for _, name := range []string{"", "  ", "a/b", `a\b`, "..", ".keeper"} {
		err := svc.CreateFolder(context.Background(), project, "", name)
		require.ErrorIs(t, err, ErrValidation, "name %q", name)
		var he HTTPError
		require.True(t, errors.As(err, &he))
		require.Equal(t, 400, he.StatusCode())
	}
}

func TestRecreateRevivesSentinel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.CreateFolder(ctx, project, "", "tmp"))
	_, err := f.svc.DeleteFolder(ctx, project, "tmp")
	require.NoError(t, err)
	require.NoError(t, f.svc.CreateFolder(ctx, project, "", "tmp"))

	rows, err := f.store.ListFiles(ctx, project, metadata.FileFilter{Path: "tmp/.keeper", IncludeDeleted: true})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.False(t, rows[0].IsDeleted)
}

func activeSentinels(t *testing.T, f *fixture) map[string]string {
	t.Helper()
	rows, err := f.store.ListFiles(context.Background(), project, metadata.FileFilter{})
	require.NoError(t, err)
	keys := make(map[string]string)
	for _, r := range rows {
		if r.IsSentinel() {
			keys[r.VirtualPath] = r.StorageKey
		}
	}
	return keys
}

func TestRecreateAfterRenameUsesOwnSentinel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.CreateFolder(ctx, project, "", "x"))
	_, err := f.svc.RenameFolder(ctx, project, "x", "y")
	require.NoError(t, err)
	_, err = f.svc.DeleteFolder(ctx, project, "y")
	require.NoError(t, err)
	require.NoError(t, f.svc.CreateFolder(ctx, project, "", "y"))

	keys := activeSentinels(t, f)
	require.Equal(t, SentinelKey(project, "y"), keys["y/.keeper"])

	require.NoError(t, f.svc.CreateFolder(ctx, project, "", "x"))
	keys = activeSentinels(t, f)
	require.Len(t, keys, 2)
	require.Equal(t, SentinelKey(project, "x"), keys["x/.keeper"])
	require.NotEqual(t, keys["x/.keeper"], keys["y/.keeper"])
}

func TestCreateFolderSkipsObjectHeldByRenamedFolder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.CreateFolder(ctx, project, "", "x"))
	_, err := f.svc.RenameFolder(ctx, project, "x", "y")
	require.NoError(t, err)
	require.NoError(t, f.svc.CreateFolder(ctx, project, "", "x"))

	keys := activeSentinels(t, f)
	require.Len(t, keys, 2)
	require.Equal(t, SentinelKey(project, "x"), keys["y/.keeper"])
	require.NotEqual(t, keys["y/.keeper"], keys["x/.keeper"])

	ok, err := f.backend.ObjectExists(ctx, keys["x/.keeper"])
	require.NoError(t, err)
	require.True(t, ok)
	require.ErrorIs(t, f.svc.CreateFolder(ctx, project, "", "x"), ErrAlreadyExists)
}

func TestRenameFolderIsGuarded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.file(t, "1", "a/b/c.txt")
	f.file(t, "2", "a/d.txt")
	f.file(t, "3", "ab/x.txt")

	res, err := f.svc.RenameFolder(ctx, project, "a", "a2")
	require.NoError(t, err)
	require.Equal(t, 2, res.Succeeded)
	require.Empty(t, res.Failed)

	require.Equal(t, "a2/b/c.txt", f.path(t, "1"))
	require.Equal(t, "a2/d.txt", f.path(t, "2"))
	require.Equal(t, "ab/x.txt", f.path(t, "3"))
}

func TestRenameFolderContinuesPastFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.file(t, "1", "a/one.txt")
	f.file(t, "2", "a/two.txt")
	f.file(t, "3", "a/three.txt")

	svc := f.build(&failingStore{Store: f.store, failUpdate: map[string]bool{"1": true}}, f.backend)
	res, err := svc.RenameFolder(ctx, project, "a", "b")
	require.NoError(t, err)
	require.Equal(t, 2, res.Succeeded)
	require.Len(t, res.Failed, 1)
	require.Equal(t, "a/one.txt", res.Failed[0].Item)
	require.True(t, res.Partial())

	require.Equal(t, "a/one.txt", f.path(t, "1"))
	require.Equal(t, "b/two.txt", f.path(t, "2"))
	require.Equal(t, "b/three.txt", f.path(t, "3"))
}

func TestRenameFolderErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.file(t, "1", "a/x.txt")
	f.file(t, "2", "b/y.txt")

	_, err := f.svc.RenameFolder(ctx, project, "a", "b")
	require.ErrorIs(t, err, ErrAlreadyExists)

	_, err = f.svc.RenameFolder(ctx, project, "missing", "z")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.RenameFolder(ctx, project, "", "z")
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.RenameFolder(ctx, project, "a", "c/d")
	require.ErrorIs(t, err, ErrValidation)
}

func TestRenameEmptyFolder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.CreateFolder(ctx, project, "", "Empty"))

	res, err := f.svc.RenameFolder(ctx, project, "Empty", "Full")
	require.NoError(t, err)
	require.Equal(t, 1, res.Succeeded) // the sentinel row

	listing, err := f.svc.ListDirectory(ctx, project, "")
	require.NoError(t, err)
	require.Equal(t, []string{"Full"}, names(listing.Folders))

	_, err = f.store.GetFolder(ctx, project, "Full")
	require.NoError(t, err)
	_, err = f.store.GetFolder(ctx, project, "Empty")
	require.ErrorIs(t, err, metadata.ErrNotFound)
}

func TestMoveResolvesNameCollisions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.file(t, "1", "x/report.pdf")
	f.file(t, "2", "y/report.pdf")
	require.NoError(t, f.svc.CreateFolder(ctx, project, "", "Docs"))

	res, err := f.svc.MoveEntries(ctx, project, MoveRequest{FileIDs: []string{"1", "2"}, Destination: "Docs"})
	require.NoError(t, err)
	require.Equal(t, 2, res.Succeeded)
	require.Equal(t, "Docs/report.pdf", f.path(t, "1"))
	require.Equal(t, "Docs/report_1.pdf", f.path(t, "2"))

	f.file(t, "3", "z/report.pdf")
	_, err = f.svc.MoveEntries(ctx, project, MoveRequest{FileIDs: []string{"3"}, Destination: "Docs"})
	require.NoError(t, err)
	require.Equal(t, "Docs/report_2.pdf", f.path(t, "3"))
}

func TestMoveFoldersAndFiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.file(t, "1", "Plans/Site/a.pdf")
	f.file(t, "2", "Plans/b.pdf")
	f.file(t, "3", "loose.txt")
	f.file(t, "4", "Archive/keep.txt")

	res, err := f.svc.MoveEntries(ctx, project, MoveRequest{
		FileIDs:     []string{"3", "1"}, // "1" is carried by its folder
		FolderPaths: []string{"Plans/Site", "Plans"},
		Destination: "Archive",
	})
	require.NoError(t, err)
	require.Empty(t, res.Failed)
	require.Equal(t, "Archive/Plans/Site/a.pdf", f.path(t, "1"))
	require.Equal(t, "Archive/Plans/b.pdf", f.path(t, "2"))
	require.Equal(t, "Archive/loose.txt", f.path(t, "3"))
	require.Equal(t, "Archive/keep.txt", f.path(t, "4"))

	res, err = f.svc.MoveEntries(ctx, project, MoveRequest{FileIDs: []string{"3"}, Destination: RootDestination})
	require.NoError(t, err)
	require.Equal(t, 1, res.Succeeded)
	require.Equal(t, "loose.txt", f.path(t, "3"))
}

func TestMoveFolderMergesWithoutDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.file(t, "1", "src/Plans/site.pdf")
	f.file(t, "2", "dst/Plans/site.pdf")
	f.file(t, "3", "src/Plans/other.pdf")

	res, err := f.svc.MoveEntries(ctx, project, MoveRequest{FolderPaths: []string{"src/Plans"}, Destination: "dst"})
	require.NoError(t, err)
	require.Empty(t, res.Failed)

	require.Equal(t, "dst/Plans/site.pdf", f.path(t, "2"))
	require.Equal(t, "dst/Plans/site_1.pdf", f.path(t, "1"))
	require.Equal(t, "dst/Plans/other.pdf", f.path(t, "3"))

	listing, err := f.svc.ListDirectory(ctx, project, "dst/Plans")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"site.pdf", "site_1.pdf", "other.pdf"}, names(listing.Files))
}

func TestMoveFolderRetiresSecondSentinel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.CreateFolder(ctx, project, "", "src"))
	require.NoError(t, f.svc.CreateFolder(ctx, project, "", "dst"))
	require.NoError(t, f.svc.CreateFolder(ctx, project, "src", "Plans"))
	require.NoError(t, f.svc.CreateFolder(ctx, project, "dst", "Plans"))

	res, err := f.svc.MoveEntries(ctx, project, MoveRequest{FolderPaths: []string{"src/Plans"}, Destination: "dst"})
	require.NoError(t, err)
	require.Empty(t, res.Failed)

	rows, err := f.store.ListFiles(ctx, project, metadata.FileFilter{Path: "dst/Plans/.keeper"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, SentinelKey(project, "dst/Plans"), rows[0].StorageKey)

	listing, err := f.svc.ListDirectory(ctx, project, "src")
	require.NoError(t, err)
	require.Empty(t, listing.Folders)
}

func TestMoveRejectsCyclesAndStaleItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.file(t, "1", "a/b/c.txt")
	f.file(t, "2", "gone.txt")
	require.NoError(t, f.store.SetFileDeleted(ctx, project, "2", true))

	res, err := f.svc.MoveEntries(ctx, project, MoveRequest{
		FileIDs:     []string{"2", "nope"},
		FolderPaths: []string{"a"},
		Destination: "a/b",
	})
	require.NoError(t, err)
	require.Equal(t, 0, res.Succeeded)
	require.Len(t, res.Failed, 3)
	require.Equal(t, "a/b/c.txt", f.path(t, "1"))

	_, err = f.svc.MoveEntries(ctx, project, MoveRequest{FileIDs: []string{"1"}, Destination: "nowhere"})
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.MoveEntries(ctx, project, MoveRequest{Destination: "a"})
	require.ErrorIs(t, err, ErrValidation)
}

func TestMoveSetupFailureAborts(t *testing.T) {
	f := newFixture(t)
	f.file(t, "1", "a.txt")
	svc := f.build(&failingStore{Store: f.store, failAll: true}, f.backend)

	_, err := svc.MoveEntries(context.Background(), project, MoveRequest{FileIDs: []string{"1"}, Destination: "b"})
	require.ErrorIs(t, err, ErrStorage)
	require.Equal(t, "a.txt", f.path(t, "1"))
}

func TestDeleteFolderIsGuarded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.file(t, "1", "a/x.txt")
	f.file(t, "2", "a/b/y.txt")
	f.file(t, "3", "ab/file.txt")
	require.NoError(t, f.svc.CreateFolder(ctx, project, "a", "empty"))

	res, err := f.svc.DeleteFolder(ctx, project, "a")
	require.NoError(t, err)
	require.Equal(t, 3, res.Succeeded) // two files and the sentinel
	require.Empty(t, res.Failed)

	left, err := f.store.ListFiles(ctx, project, metadata.FileFilter{})
	require.NoError(t, err)
	require.Len(t, left, 1)
	require.Equal(t, "ab/file.txt", left[0].VirtualPath)

	folders, err := f.store.ListFolders(ctx, project)
	require.NoError(t, err)
	require.Empty(t, folders)

	_, err = f.svc.DeleteFolder(ctx, project, "a")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.DeleteFolder(ctx, project, "/")
	require.ErrorIs(t, err, ErrValidation)
}

func TestRenameAndDeleteFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.file(t, "1", "Docs/draft.txt")
	f.file(t, "2", "Docs/final.txt")

	rec, err := f.svc.RenameFile(ctx, project, "1", "v2.txt")
	require.NoError(t, err)
	require.Equal(t, "Docs/v2.txt", rec.VirtualPath)
	require.Equal(t, "Docs/v2.txt", f.path(t, "1"))

	_, err = f.svc.RenameFile(ctx, project, "1", "final.txt")
	require.ErrorIs(t, err, ErrAlreadyExists)

	require.NoError(t, f.svc.DeleteFile(ctx, project, "1"))
	require.ErrorIs(t, f.svc.DeleteFile(ctx, project, "1"), ErrNotFound)
	_, err = f.svc.RenameFile(ctx, project, "1", "again.txt")
	require.ErrorIs(t, err, ErrNotFound)
	require.True(t, IsNotFound(err))
}

func TestExpandFolderSelection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.file(t, "1", "a/x.txt")
	f.file(t, "2", "a/b/y.txt")
	f.file(t, "3", "ab/z.txt")
	require.NoError(t, f.svc.CreateFolder(ctx, project, "a", "c"))

	ids, err := f.svc.ExpandFolderSelection(ctx, project, "a")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"1", "2"}, ids)
}

func TestActor(t *testing.T) {
	require.Equal(t, "system", Actor(context.Background()))
	require.Equal(t, "ana", Actor(WithActor(context.Background(), "ana")))
}
