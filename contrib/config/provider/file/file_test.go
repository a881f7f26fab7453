package file_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omalloc/blockcache/contrib/config/provider/file"
)

func TestLoadYAMLByDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("hostname: cache-1\n"), 0o644))

	src := file.NewSource(path)
	kvs, err := src.Load()
	require.NoError(t, err)
	require.Len(t, kvs, 1)
	assert.Equal(t, "yaml", kvs[0].Format)
	assert.Equal(t, path, kvs[0].Key)
	assert.Contains(t, string(kvs[0].Value), "cache-1")
}

func TestLoadJSONByExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"hostname":"cache-1"}`), 0o644))

	src := file.NewSource(path)
	kvs, err := src.Load()
	require.NoError(t, err)
	require.Len(t, kvs, 1)
	assert.Equal(t, "json", kvs[0].Format)
}

func TestLoadMissingFileErrors(t *testing.T) {
	src := file.NewSource(filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := src.Load()
	assert.Error(t, err)
}

func TestWatchNextFiresOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("hostname: cache-1\n"), 0o644))

	src := file.NewSource(path)
	w, err := src.Watch()
	require.NoError(t, err)
	defer w.Stop()

	done := make(chan struct{})
	go func() {
		_, _ = w.Next()
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("hostname: cache-2\n"), 0o644))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Next did not return after file write")
	}
}

func TestWatchStopClosesNext(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("hostname: cache-1\n"), 0o644))

	src := file.NewSource(path)
	w, err := src.Watch()
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		_, _ = w.Next()
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, w.Stop())

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Next did not return after Stop")
	}
}
