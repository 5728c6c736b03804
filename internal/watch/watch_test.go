package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelevant(t *testing.T) {
	assert.True(t, Relevant("a/b/Windows.admx"))
	assert.True(t, Relevant("a/en-US/Windows.ADML"))
	assert.False(t, Relevant("a/readme.txt"))
	assert.False(t, Relevant("a/admx"))
}

func startWatcher(t *testing.T, root string) <-chan []string {
	t.Helper()
	calls := make(chan []string, 10)

	w, err := New(root, 20*time.Millisecond, func(ctx context.Context, changed []string) error {
		calls <- changed
		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() {
		cancel()
		w.Stop()
		w.Wait()
	})
	return calls
}

func waitForRebuild(t *testing.T, calls <-chan []string) []string {
	t.Helper()
	select {
	case changed := <-calls:
		return changed
	case <-time.After(5 * time.Second):
		t.Fatal("no rebuild triggered")
		return nil
	}
}

func TestWatcher_RebuildsOnTemplateChange(t *testing.T) {
	root := t.TempDir()
	calls := startWatcher(t, root)

	require.NoError(t, os.WriteFile(filepath.Join(root, "ignored.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "Sample.admx"), []byte("<a/>"), 0o644))

	changed := waitForRebuild(t, calls)
	assert.Equal(t, []string{"Sample.admx"}, changed)
}

func TestWatcher_WatchesNewDirectories(t *testing.T) {
	root := t.TempDir()
	calls := startWatcher(t, root)

	locale := filepath.Join(root, "en-US")
	require.NoError(t, os.Mkdir(locale, 0o755))
	first := waitForRebuild(t, calls)
	assert.Equal(t, []string{"en-US"}, first)

	require.NoError(t, os.WriteFile(filepath.Join(locale, "Sample.adml"), []byte("<a/>"), 0o644))

	changed := waitForRebuild(t, calls)
	assert.Contains(t, changed, "en-US/Sample.adml")
}

func TestNew_DefaultDebounce(t *testing.T) {
	w, err := New(t.TempDir(), 0, func(context.Context, []string) error { return nil })
	require.NoError(t, err)
	defer w.Stop()

	assert.Equal(t, DefaultDebounce, w.debounce)
}
