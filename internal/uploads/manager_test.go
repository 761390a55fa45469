package uploads

import (
	"context"
	"errors"
	"io"
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
	"github.com/fruitsalade/projectfiles/internal/storage/local"
	"github.com/fruitsalade/projectfiles/internal/vfs"
)

type harness struct {
	store   *bolt.Store
	backend *local.Backend
	mgr     *Manager
	events  *events.Broadcaster
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logging.InitNop()
	dir := t.TempDir()

	store, err := bolt.Open(filepath.Join(dir, "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	backend, err := local.New(local.Config{RootPath: filepath.Join(dir, "objects"), CreateDirs: true})
	require.NoError(t, err)

	b := events.NewBroadcaster()
	return &harness{
		store:   store,
		backend: backend,
		events:  b,
		mgr: NewManager(store, backend, b, Config{
			MaxSize: 1 << 20,
			Retry:   retry.Config{MaxAttempts: 2, InitialWait: time.Millisecond, Multiplier: 1},
		}),
	}
}

func TestUploadWritesObjectAndRow(t *testing.T) {
	h := newHarness(t)
	ctx := vfs.WithActor(context.Background(), "ana")
	ch := h.events.Subscribe("p1")
	defer h.events.Unsubscribe(ch)

	rec, err := h.mgr.Upload(ctx, Request{
		ProjectID: "p1", FolderPath: "/Plans/", Name: "site.pdf",
		Size: 5, Body: strings.NewReader("hello"),
	})
	require.NoError(t, err)
	require.Equal(t, "Plans/site.pdf", rec.VirtualPath)
	require.Equal(t, int64(5), rec.Size)
	require.Equal(t, "application/pdf", rec.MimeType)
	require.Equal(t, "ana", rec.UploadedBy)
	require.True(t, strings.HasPrefix(rec.StorageKey, "p1/"))

	ok, err := h.backend.ObjectExists(ctx, rec.StorageKey)
	require.NoError(t, err)
	require.True(t, ok)

	stored, err := h.store.GetFile(ctx, "p1", rec.ID)
	require.NoError(t, err)
	require.Equal(t, rec.VirtualPath, stored.VirtualPath)

	ev := <-ch
	require.Equal(t, events.EventUpload, ev.Type)
	require.Equal(t, rec.ID, ev.FileID)
	require.Empty(t, h.mgr.List())
}

func TestUploadResolvesNameCollisions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var paths []string
	for i := 0; i < 3; i++ {
		rec, err := h.mgr.Upload(ctx, Request{
			ProjectID: "p1", FolderPath: "Docs", Name: "report.pdf",
			Size: -1, Body: io.NopCloser(strings.NewReader("x")),
		})
		require.NoError(t, err)
		paths = append(paths, rec.VirtualPath)
	}
	require.Equal(t, []string{"Docs/report.pdf", "Docs/report_1.pdf", "Docs/report_2.pdf"}, paths)
}

func TestUploadValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.mgr.Upload(ctx, Request{ProjectID: "p1", Name: "a/b", Body: strings.NewReader("")})
	require.ErrorIs(t, err, vfs.ErrValidation)

	_, err = h.mgr.Upload(ctx, Request{ProjectID: "p1", Name: "big.bin", Size: 2 << 20, Body: strings.NewReader("")})
	require.ErrorIs(t, err, vfs.ErrValidation)
}

func TestCancelLeavesNoRow(t *testing.T) {
	h := newHarness(t)
	pr, pw := io.Pipe()

	done := make(chan error, 1)
	go func() {
		_, err := h.mgr.Upload(context.Background(), Request{
			ProjectID: "p1", Name: "slow.bin", Size: -1, Body: pr,
		})
		done <- err
	}()

	_, err := pw.Write([]byte("first chunk"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(h.mgr.List()) == 1 }, time.Second, 5*time.Millisecond)

	pending := h.mgr.List()[0]
	require.Equal(t, "slow.bin", pending.Path)
	require.True(t, h.mgr.Cancel(pending.ID))
	require.False(t, h.mgr.Cancel(pending.ID))
	require.Empty(t, h.mgr.List())

	pw.CloseWithError(io.ErrClosedPipe)
	require.ErrorIs(t, <-done, ErrCancelled)

	rows, err := h.store.ListFiles(context.Background(), "p1", metadata.FileFilter{})
	require.NoError(t, err)
	require.Empty(t, rows)
}

type rejectingStore struct {
	metadata.Store
}

func (rejectingStore) InsertFile(context.Context, *models.FileRecord) error {
	return errors.New("db down")
}

func TestRowFailureOrphansObject(t *testing.T) {
	h := newHarness(t)
	mgr := NewManager(rejectingStore{h.store}, h.backend, nil, Config{})

	_, err := mgr.Upload(context.Background(), Request{
		ProjectID: "p1", Name: "x.txt", Size: 1, Body: strings.NewReader("x"),
	})
	require.ErrorIs(t, err, vfs.ErrStorage)
}

func TestTargetUnsupportedOnLocal(t *testing.T) {
	h := newHarness(t)
	_, err := h.mgr.Target(context.Background(), "p1")
	require.ErrorIs(t, err, vfs.ErrValidation)
}

func TestComplete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.backend.PutObject(ctx, "p1/direct", strings.NewReader("abc"), 3))

	rec, err := h.mgr.Complete(ctx, CompleteRequest{
		ProjectID: "p1", StorageKey: "p1/direct", FolderPath: "In", Name: "notes.json", Size: 3,
	})
	require.NoError(t, err)
	require.Equal(t, "In/notes.json", rec.VirtualPath)
	require.Equal(t, "application/json", rec.MimeType)

	_, err = h.mgr.Complete(ctx, CompleteRequest{ProjectID: "p1", StorageKey: "p1/missing", Name: "a.txt"})
	require.ErrorIs(t, err, vfs.ErrNotFound)

	_, err = h.mgr.Complete(ctx, CompleteRequest{ProjectID: "p1", StorageKey: "p2/direct", Name: "a.txt"})
	require.ErrorIs(t, err, vfs.ErrValidation)
}
