package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cogrouter/internal/indexing/hashtrack"
)

func TestProcessPathNewFileInvokesHandle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.go")
	require.NoError(t, os.WriteFile(path, []byte("package a"), 0o644))

	var got FileChange
	calls := 0
	w := New(dir, hashtrack.New(), 0, 0, 1, func(ctx context.Context, change FileChange) error {
		calls++
		got = change
		return nil
	})

	require.NoError(t, w.ProcessPath(context.Background(), path))
	require.Equal(t, 1, calls)
	require.Equal(t, hashtrack.NewFile, got.Status)
	require.Equal(t, "package a", string(got.Content))
}

func TestProcessPathUnchangedSkipsHandle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.go")
	require.NoError(t, os.WriteFile(path, []byte("package a"), 0o644))

	tracker := hashtrack.New()
	calls := 0
	w := New(dir, tracker, 0, 0, 1, func(ctx context.Context, change FileChange) error {
		calls++
		return nil
	})

	require.NoError(t, w.ProcessPath(context.Background(), path))
	require.Equal(t, 1, calls, "first sighting is New and should dispatch")

	require.NoError(t, w.ProcessPath(context.Background(), path))
	require.Equal(t, 1, calls, "unchanged content must not re-dispatch")
}

func TestProcessPathChangedRedispatches(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.go")
	require.NoError(t, os.WriteFile(path, []byte("package a"), 0o644))

	var statuses []hashtrack.Status
	w := New(dir, hashtrack.New(), 0, 0, 1, func(ctx context.Context, change FileChange) error {
		statuses = append(statuses, change.Status)
		return nil
	})
	require.NoError(t, w.ProcessPath(context.Background(), path))

	require.NoError(t, os.WriteFile(path, []byte("package a // v2"), 0o644))
	require.NoError(t, w.ProcessPath(context.Background(), path))

	require.Equal(t, []hashtrack.Status{hashtrack.NewFile, hashtrack.Changed}, statuses)
}

func TestProcessPathDeletedFileForgetsTracker(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.go")
	require.NoError(t, os.WriteFile(path, []byte("package a"), 0o644))

	tracker := hashtrack.New()
	w := New(dir, tracker, 0, 0, 1, func(ctx context.Context, change FileChange) error {
		return nil
	})
	require.NoError(t, w.ProcessPath(context.Background(), path))
	require.NotEmpty(t, tracker.History(path))

	require.NoError(t, os.Remove(path))
	require.NoError(t, w.ProcessPath(context.Background(), path))
	require.Empty(t, tracker.History(path), "a deleted file's state must be forgotten, not just skipped")
}

func TestDispatchFallsBackToInProcessChannelWithoutQueue(t *testing.T) {
	dir := t.TempDir()
	w := New(dir, hashtrack.New(), 0, 0, 1, func(ctx context.Context, change FileChange) error {
		return nil
	})

	path := filepath.Join(dir, "a.go")
	w.dispatch(path)

	select {
	case got := <-w.jobs:
		require.Equal(t, path, got)
	case <-time.After(time.Second):
		t.Fatal("expected dispatch to enqueue onto the in-process jobs channel")
	}
}
