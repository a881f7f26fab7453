package lfc_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omalloc/blockcache/internal/lfc"
)

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
}

func TestUpdateAndGetFile(t *testing.T) {
	dir := t.TempDir()
	c, err := lfc.Open(dir, 0)
	require.NoError(t, err)
	defer c.Close()

	key := uint64(42)
	path := c.DataPath(key)
	writeFile(t, path, 100)

	require.NoError(t, c.Update(key, path))
	assert.EqualValues(t, 100, c.Size())

	got, err := c.GetFile(key)
	require.NoError(t, err)
	assert.Equal(t, path, got)
}

func TestEvictionUnderBudget(t *testing.T) {
	dir := t.TempDir()
	c, err := lfc.Open(dir, 150)
	require.NoError(t, err)
	defer c.Close()

	k1, k2, k3 := uint64(1), uint64(2), uint64(3)

	p1, p2, p3 := c.DataPath(k1), c.DataPath(k2), c.DataPath(k3)
	writeFile(t, p1, 100)
	writeFile(t, p2, 100)

	require.NoError(t, c.Update(k1, p1))
	require.NoError(t, c.Update(k2, p2))
	// k1 should have been evicted to stay under the 150-byte budget.
	assert.NoFileExists(t, p1)
	assert.FileExists(t, p2)

	writeFile(t, p3, 100)
	require.NoError(t, c.Update(k3, p3))
	assert.NoFileExists(t, p2)
	assert.LessOrEqual(t, c.Size(), uint64(150))
}

func TestGetFileTouchesLRU(t *testing.T) {
	dir := t.TempDir()
	c, err := lfc.Open(dir, 100)
	require.NoError(t, err)
	defer c.Close()

	k1, k2, k3 := uint64(10), uint64(20), uint64(30)
	p1, p2, p3 := c.DataPath(k1), c.DataPath(k2), c.DataPath(k3)
	writeFile(t, p1, 50)
	writeFile(t, p2, 50)
	require.NoError(t, c.Update(k1, p1))
	require.NoError(t, c.Update(k2, p2))

	// Touching k1 makes it most-recently-used; k2 becomes the LRU victim
	// when a third entry forces eviction under the 100-byte budget.
	_, err = c.GetFile(k1)
	require.NoError(t, err)

	writeFile(t, p3, 50)
	require.NoError(t, c.Update(k3, p3))

	assert.FileExists(t, p1)
	assert.NoFileExists(t, p2)
	assert.FileExists(t, p3)
}

func TestClearRemovesEverything(t *testing.T) {
	dir := t.TempDir()
	c, err := lfc.Open(dir, 0)
	require.NoError(t, err)
	defer c.Close()

	key := uint64(7)
	path := c.DataPath(key)
	writeFile(t, path, 50)
	require.NoError(t, c.Update(key, path))

	require.NoError(t, c.Clear())
	assert.EqualValues(t, 0, c.Size())
	assert.NoFileExists(t, path)
	assert.DirExists(t, filepath.Dir(path))
}

func TestReopenRebuildsState(t *testing.T) {
	dir := t.TempDir()
	c, err := lfc.Open(dir, 0)
	require.NoError(t, err)

	key := uint64(99)
	path := c.DataPath(key)
	writeFile(t, path, 30)
	require.NoError(t, c.Update(key, path))
	require.NoError(t, c.Close())

	reopened, err := lfc.Open(dir, 0)
	require.NoError(t, err)
	defer reopened.Close()

	assert.EqualValues(t, 30, reopened.Size())
	got, err := reopened.GetFile(key)
	require.NoError(t, err)
	assert.Equal(t, path, got)
}
