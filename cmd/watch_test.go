package cmd

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"constellation-sync/watch"
)

func TestWatchSyncsOnChangeAndStopsWhenRootRemoved(t *testing.T) {
	runner := &recordingRunner{}
	mock, _ := stub(t, runner)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM constellation")).WillReturnRows(
		sqlmock.NewRows([]string{"ipv4"}).AddRow("10.0.0.1").AddRow("10.0.0.2"))

	source := filepath.Join(t.TempDir(), "www")
	require.NoError(t, os.Mkdir(source, 0755))
	path := writeConfig(t, "[database]\nhost = db1\nuser = sync\npass = secret\ndb = constellation\n"+
		"[sync]\nsource = "+source+"\n")

	done := make(chan error, 1)
	go func() {
		_, err := execute(t, "watch", "--config", path, "--quiet", "50ms")
		done <- err
	}()

	// The watcher starts asynchronously, so keep touching the tree until a
	// sync happens. The tick is longer than the quiet interval.
	i := 0
	require.Eventually(t, func() bool {
		i++
		_ = os.WriteFile(filepath.Join(source, "index.html"), []byte{byte(i)}, 0644)
		return runner.count() >= 2
	}, 5*time.Second, 250*time.Millisecond)

	runner.mu.Lock()
	assert.Equal(t, "root@10.0.0.1:/var", runner.calls[0][len(runner.calls[0])-1])
	assert.Equal(t, "root@10.0.0.2:/var", runner.calls[1][len(runner.calls[1])-1])
	runner.mu.Unlock()

	require.NoError(t, os.RemoveAll(source))
	select {
	case err := <-done:
		assert.Equal(t, watch.ErrRootRemoved, errors.Cause(err))
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after the source was removed")
	}
}

func TestWatchMissingSource(t *testing.T) {
	runner := &recordingRunner{}
	stub(t, runner)

	path := writeConfig(t, "[database]\nhost = db1\nuser = sync\npass = secret\ndb = constellation\n"+
		"[sync]\nsource = "+filepath.Join(t.TempDir(), "nope")+"\n")
	_, err := execute(t, "watch", "--config", path)
	assert.Error(t, err)
	assert.Empty(t, runner.calls)
}
