package xhttp_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omalloc/blockcache/internal/xhttp"
)

func TestParseRangeNoHeaderCoversWholeResource(t *testing.T) {
	rng, has, err := xhttp.ParseRange("", 100)
	require.NoError(t, err)
	assert.False(t, has)
	assert.Equal(t, xhttp.Range{Start: 0, End: 99}, rng)
}

func TestParseRangeMissingStartDefaultsToZero(t *testing.T) {
	rng, has, err := xhttp.ParseRange("bytes=-10", 100)
	require.NoError(t, err)
	assert.True(t, has)
	assert.Equal(t, xhttp.Range{Start: 0, End: 10}, rng)
}

func TestParseRangeOpenEnded(t *testing.T) {
	rng, has, err := xhttp.ParseRange("bytes=50-", 100)
	require.NoError(t, err)
	assert.True(t, has)
	assert.Equal(t, xhttp.Range{Start: 50, End: 99}, rng)
}

func TestParseRangeExplicitClampsToSize(t *testing.T) {
	rng, has, err := xhttp.ParseRange("bytes=10-1000", 100)
	require.NoError(t, err)
	assert.True(t, has)
	assert.Equal(t, xhttp.Range{Start: 10, End: 99}, rng)
}

func TestParseRangeNonBytesUnitIsUnsatisfiable(t *testing.T) {
	_, has, err := xhttp.ParseRange("chunks=0-10", 100)
	assert.True(t, has)
	assert.ErrorIs(t, err, xhttp.ErrRangeHeaderUnsatisfiable)
}

func TestParseRangeMultiRangeIsUnsatisfiable(t *testing.T) {
	_, has, err := xhttp.ParseRange("bytes=0-1,4-5", 100)
	assert.True(t, has)
	assert.ErrorIs(t, err, xhttp.ErrRangeHeaderUnsatisfiable)
}

func TestParseRangeStartBeyondSizeIsUnsatisfiable(t *testing.T) {
	_, has, err := xhttp.ParseRange("bytes=200-300", 100)
	assert.True(t, has)
	assert.ErrorIs(t, err, xhttp.ErrRangeHeaderUnsatisfiable)
}

func TestParseContentRangeParsesUpstreamHeader(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Range", "bytes 200-999/67589")

	cr, err := xhttp.ParseContentRange(h)
	require.NoError(t, err)
	assert.Equal(t, xhttp.ContentRange{Start: 200, End: 999, ObjSize: 67589}, cr)
}

func TestParseContentRangeFallsBackToContentLength(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Length", "42")

	cr, err := xhttp.ParseContentRange(h)
	require.NoError(t, err)
	assert.Equal(t, int64(42), cr.ObjSize)
	assert.Equal(t, int64(41), cr.End)
}

func TestParseContentRangeMissingBothIsError(t *testing.T) {
	_, err := xhttp.ParseContentRange(http.Header{})
	assert.ErrorIs(t, err, xhttp.ErrContentRangeHeaderNotFound)
}
