package chc_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omalloc/blockcache/internal/chc"
)

func TestGetFileDownloadsOnce(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	c, err := chc.New(t.TempDir(), 0)
	require.NoError(t, err)
	defer c.Close()

	path, downloaded, err := c.GetFile(context.Background(), srv.URL+"/a")
	require.NoError(t, err)
	assert.True(t, downloaded)
	assert.FileExists(t, path)

	path2, downloaded2, err := c.GetFile(context.Background(), srv.URL+"/a")
	require.NoError(t, err)
	assert.False(t, downloaded2)
	assert.Equal(t, path, path2)

	assert.EqualValues(t, 1, hits.Load())
}

func TestGetFileConcurrentDedup(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	c, err := chc.New(t.TempDir(), 0)
	require.NoError(t, err)
	defer c.Close()

	var wg sync.WaitGroup
	paths := make([]string, 8)
	for i := range paths {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, _, err := c.GetFile(context.Background(), srv.URL+"/same")
			require.NoError(t, err)
			paths[i] = p
		}(i)
	}
	wg.Wait()

	for _, p := range paths {
		assert.Equal(t, paths[0], p)
	}
	assert.EqualValues(t, 1, hits.Load())
}

func TestGetCachedResponseHeadersMissingIsFalse(t *testing.T) {
	c, err := chc.New(t.TempDir(), 0)
	require.NoError(t, err)
	defer c.Close()

	_, ok := c.GetCachedResponseHeaders("http://example.invalid/never-fetched")
	assert.False(t, ok)
}

func TestGetAsJSONRewritesToBinaryForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"a":1,"b":[true,false,null,"x"]}`))
	}))
	defer srv.Close()

	c, err := chc.New(t.TempDir(), 0)
	require.NoError(t, err)
	defer c.Close()

	v1, err := c.GetAsJSON(context.Background(), srv.URL+"/doc.json")
	require.NoError(t, err)
	m1, ok := v1.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), m1["a"])

	v2, err := c.GetAsJSON(context.Background(), srv.URL+"/doc.json")
	require.NoError(t, err)
	m2, ok := v2.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, m1["a"], m2["a"])
}

func TestDownloadFileFailsOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c, err := chc.New(t.TempDir(), 0)
	require.NoError(t, err)
	defer c.Close()

	_, _, err = c.GetFile(context.Background(), srv.URL+"/missing")
	assert.Error(t, err)
}

func TestSingletonRootsLFCUnderHTTPCacheSubdir(t *testing.T) {
	base := t.TempDir()
	c, err := chc.Singleton(base, 0)
	require.NoError(t, err)
	defer c.Close()

	info, err := os.Stat(filepath.Join(base, "http_cache"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
