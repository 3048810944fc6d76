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

const quiet = 100 * time.Millisecond

type runResult struct {
	err error
}

// startWatch runs a Watcher on dir and reports each onChange call on the
// returned channel.
func startWatch(t *testing.T, dir string) (<-chan struct{}, <-chan runResult, context.CancelFunc) {
	w, err := New(dir)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	calls := make(chan struct{}, 16)
	done := make(chan runResult, 1)
	go func() {
		err := w.Run(ctx, quiet, func(context.Context) {
			calls <- struct{}{}
		})
		done <- runResult{err}
	}()
	return calls, done, cancel
}

func expectCall(t *testing.T, calls <-chan struct{}) {
	select {
	case <-calls:
	case <-time.After(5 * time.Second):
		t.Fatal("expected a change callback")
	}
}

func expectNoCall(t *testing.T, calls <-chan struct{}) {
	select {
	case <-calls:
		t.Fatal("unexpected change callback")
	case <-time.After(5 * quiet):
	}
}

func TestWriteTriggersOneCall(t *testing.T) {
	dir := t.TempDir()
	calls, _, _ := startWatch(t, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("hello"), 0644))
	expectCall(t, calls)
	expectNoCall(t, calls)
}

func TestBurstIsCoalesced(t *testing.T) {
	dir := t.TempDir()
	calls, _, _ := startWatch(t, dir)

	for i := 0; i < 20; i++ {
		name := filepath.Join(dir, "page"+string(rune('a'+i))+".html")
		require.NoError(t, os.WriteFile(name, []byte("x"), 0644))
	}
	expectCall(t, calls)
	expectNoCall(t, calls)
}

func TestExistingSubdirectoryIsWatched(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "assets", "css")
	require.NoError(t, os.MkdirAll(sub, 0755))
	calls, _, _ := startWatch(t, dir)

	require.NoError(t, os.WriteFile(filepath.Join(sub, "site.css"), []byte("body{}"), 0644))
	expectCall(t, calls)
}

func TestNewSubdirectoryIsWatched(t *testing.T) {
	dir := t.TempDir()
	calls, _, _ := startWatch(t, dir)

	sub := filepath.Join(dir, "img")
	require.NoError(t, os.Mkdir(sub, 0755))
	expectCall(t, calls)

	require.NoError(t, os.WriteFile(filepath.Join(sub, "logo.png"), []byte("png"), 0644))
	expectCall(t, calls)
}

func TestRootRemoved(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "www")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "a.html"), []byte("a"), 0644))
	_, done, _ := startWatch(t, dir)

	require.NoError(t, os.RemoveAll(dir))

	select {
	case res := <-done:
		assert.Equal(t, ErrRootRemoved, res.err)
	case <-time.After(5 * time.Second):
		t.Fatal("expected Run to return after the root was removed")
	}
}

func TestCancelStopsRun(t *testing.T) {
	dir := t.TempDir()
	_, done, cancel := startWatch(t, dir)

	cancel()
	select {
	case res := <-done:
		assert.NoError(t, res.err)
	case <-time.After(5 * time.Second):
		t.Fatal("expected Run to return after cancel")
	}
}

func TestNewRejectsMissingAndFiles(t *testing.T) {
	dir := t.TempDir()
	_, err := New(filepath.Join(dir, "missing"))
	assert.Error(t, err)

	file := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(file, nil, 0644))
	_, err = New(file)
	assert.Error(t, err)
}
