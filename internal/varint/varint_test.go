package varint_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omalloc/blockcache/internal/varint"
)

func TestEncodeSizeThresholds(t *testing.T) {
	cases := []struct {
		n    uint32
		want []byte
	}{
		{0, []byte{0}},
		{253, []byte{253}},
		{254, []byte{254, 254, 0}},
		{0xFFFF, []byte{254, 0xFF, 0xFF}},
		{0x10000, []byte{255, 0, 0, 1, 0}},
	}
	for _, c := range cases {
		got := varint.EncodeSize(nil, c.n)
		assert.Equal(t, c.want, got)
		assert.Equal(t, len(c.want), varint.SizeLen(c.n))
	}
}

func TestDecodeSizeRoundTrip(t *testing.T) {
	for _, n := range []uint32{0, 1, 253, 254, 255, 0xFFFF, 0x10000, 0xFFFFFFFF} {
		buf := varint.EncodeSize(nil, n)
		got, consumed, err := varint.DecodeSize(buf, 0)
		require.NoError(t, err)
		assert.Equal(t, n, got)
		assert.Equal(t, len(buf), consumed)
	}
}

func TestDecodeSizeBufferUnderrun(t *testing.T) {
	_, _, err := varint.DecodeSize([]byte{254, 0x01}, 0)
	assert.ErrorIs(t, err, varint.ErrBufferUnderrun)

	_, _, err = varint.DecodeSize(nil, 0)
	assert.ErrorIs(t, err, varint.ErrBufferUnderrun)
}

func TestWriterReaderRoundTrip(t *testing.T) {
	w := varint.NewWriter(0)
	w.PutU8(7)
	w.PutU16(1000)
	w.PutU32(123456)
	w.PutU64(9999999999)
	w.PutString("hello")
	w.PutBytes([]byte{1, 2, 3})

	r := varint.NewReader(w.Bytes())

	u8, err := r.U8()
	require.NoError(t, err)
	assert.EqualValues(t, 7, u8)

	u16, err := r.U16()
	require.NoError(t, err)
	assert.EqualValues(t, 1000, u16)

	u32, err := r.U32()
	require.NoError(t, err)
	assert.EqualValues(t, 123456, u32)

	u64, err := r.U64()
	require.NoError(t, err)
	assert.EqualValues(t, 9999999999, u64)

	s, err := r.String()
	require.NoError(t, err)
	assert.Equal(t, "hello", s)

	b, err := r.Bytes(3)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, b)

	assert.Equal(t, 0, r.Remaining())
}

func TestReaderStringMalformedOnTruncatedBody(t *testing.T) {
	w := varint.NewWriter(0)
	w.PutSize(10)
	w.PutBytes([]byte("short"))

	r := varint.NewReader(w.Bytes())
	_, err := r.String()
	assert.ErrorIs(t, err, varint.ErrMalformed)
}

func TestReaderUnderrunOnEmptyBuffer(t *testing.T) {
	r := varint.NewReader(nil)
	_, err := r.U8()
	assert.ErrorIs(t, err, varint.ErrBufferUnderrun)
}
