package chc_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omalloc/blockcache/internal/chc"
)

func TestPurgeEvictsCachedEntry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	c, err := chc.New(t.TempDir(), 0)
	require.NoError(t, err)
	defer c.Close()

	url := srv.URL + "/a"
	_, _, err = c.GetFile(context.Background(), url)
	require.NoError(t, err)

	_, ok := c.GetCachedResponseHeaders(url)
	require.True(t, ok)

	require.NoError(t, c.Purge(context.Background(), url))

	_, ok = c.GetCachedResponseHeaders(url)
	assert.False(t, ok)
}

func TestPurgeMissingURLIsNotAnError(t *testing.T) {
	c, err := chc.New(t.TempDir(), 0)
	require.NoError(t, err)
	defer c.Close()

	assert.NoError(t, c.Purge(context.Background(), "http://example.invalid/never-fetched"))
}

func TestPurgeExpiredEvictsStaleEntriesOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/fresh":
			w.Header().Set("Cache-Control", "max-age=3600")
		case "/stale":
			w.Header().Set("Cache-Control", "no-store")
		}
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	c, err := chc.New(t.TempDir(), 0)
	require.NoError(t, err)
	defer c.Close()

	freshURL := srv.URL + "/fresh"
	staleURL := srv.URL + "/stale"

	_, _, err = c.GetFile(context.Background(), freshURL)
	require.NoError(t, err)
	_, _, err = c.GetFile(context.Background(), staleURL)
	require.NoError(t, err)

	n, err := c.PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok := c.GetCachedResponseHeaders(freshURL)
	assert.True(t, ok)

	_, ok = c.GetCachedResponseHeaders(staleURL)
	assert.False(t, ok)
}
