package sidecar_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omalloc/blockcache/internal/cacheerr"
	"github.com/omalloc/blockcache/internal/sidecar"
	"github.com/omalloc/blockcache/internal/varint"
)

func TestEncodeDecodeHeaderRoundTrip(t *testing.T) {
	h := sidecar.NewHeader(
		"http://example.com/object.bin",
		[]string{"Content-Type", "ETag"},
		map[string]string{"Content-Type": "application/octet-stream", "ETag": `"abc123"`},
	)

	buf := sidecar.EncodeHeader(h)
	got, off, err := sidecar.DecodeHeader(buf)
	require.NoError(t, err)

	assert.Equal(t, h.URL, got.URL)
	assert.Equal(t, h.Order, got.Order)
	assert.Equal(t, h.Headers, got.Headers)
	assert.Equal(t, len(buf), off)
}

func TestDecodeHeaderEmptyHeaders(t *testing.T) {
	h := sidecar.NewHeader("http://example.com/empty", nil, nil)
	buf := sidecar.EncodeHeader(h)

	got, off, err := sidecar.DecodeHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/empty", got.URL)
	assert.Empty(t, got.Order)
	assert.Equal(t, len(buf), off)
}

func TestDecodeHeaderLeavesRoomForTrailingBitmap(t *testing.T) {
	h := sidecar.NewHeader("http://example.com/object.bin", []string{"X"}, map[string]string{"X": "1"})
	buf := sidecar.EncodeHeader(h)
	buf = append(buf, 0xFF, 0x00, 0x0F) // simulated PCF bitmap tail

	got, off, err := sidecar.DecodeHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, h.URL, got.URL)
	assert.Less(t, off, len(buf))
	assert.Equal(t, []byte{0xFF, 0x00, 0x0F}, buf[off:])
}

func TestDecodeHeaderMalformedTotalTooLarge(t *testing.T) {
	_, _, err := sidecar.DecodeHeader([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	assert.ErrorIs(t, err, cacheerr.ErrMalformedSidecar)
}

func TestDecodeHeaderMalformedTruncated(t *testing.T) {
	h := sidecar.NewHeader("http://example.com/x", []string{"A"}, map[string]string{"A": "1"})
	buf := sidecar.EncodeHeader(h)

	_, _, err := sidecar.DecodeHeader(buf[:len(buf)-2])
	assert.ErrorIs(t, err, cacheerr.ErrMalformedSidecar)
}

func TestDecodeHeaderDuplicateNameKeepsFirstValue(t *testing.T) {
	// Hand-build a header block with a duplicated name carrying two distinct
	// values, which sidecar.NewHeader's map-based API can't represent, to
	// verify DecodeHeader keeps the first value and doesn't double-count Order.
	body := varint.NewWriter(64)
	body.PutString("http://example.com/dup")
	body.PutSize(2)
	body.PutString("A")
	body.PutString("first")
	body.PutString("A")
	body.PutString("second")

	out := varint.NewWriter(0)
	out.PutU32(uint32(4 + body.Len()))
	out.PutBytes(body.Bytes())

	got, off, err := sidecar.DecodeHeader(out.Bytes())
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, got.Order)
	assert.Equal(t, "first", got.Headers["A"])
	assert.Equal(t, out.Len(), off)
}
