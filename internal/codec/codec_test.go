package codec_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omalloc/blockcache/internal/codec"
	"github.com/omalloc/blockcache/internal/varint"
)

func roundTrip(t *testing.T, v codec.Value) codec.Value {
	t.Helper()
	buf := codec.EncodeBytes(v)
	got, err := codec.DecodeBytes(buf)
	require.NoError(t, err)
	return got
}

func TestScalarRoundTrip(t *testing.T) {
	assert.Equal(t, codec.Null(), roundTrip(t, codec.Null()))
	assert.Equal(t, codec.Bool(true), roundTrip(t, codec.Bool(true)))
	assert.Equal(t, codec.Bool(false), roundTrip(t, codec.Bool(false)))
	assert.Equal(t, codec.Int32Val(-42), roundTrip(t, codec.Int32Val(-42)))
	assert.Equal(t, codec.Int64Val(-9223372036854775808), roundTrip(t, codec.Int64Val(-9223372036854775808)))
	assert.Equal(t, codec.Float64Val(3.14159), roundTrip(t, codec.Float64Val(3.14159)))
	assert.Equal(t, codec.StringVal("hello, world"), roundTrip(t, codec.StringVal("hello, world")))
}

func TestArrayRoundTrip(t *testing.T) {
	v := codec.ArrayVal([]codec.Value{
		codec.Int32Val(1),
		codec.StringVal("two"),
		codec.Bool(true),
		codec.Null(),
	})
	got := roundTrip(t, v)
	assert.Equal(t, v, got)
}

func TestMapRoundTrip(t *testing.T) {
	v := codec.MapVal(map[string]codec.Value{
		"count": codec.Int64Val(7),
		"name":  codec.StringVal("cache"),
	})
	got := roundTrip(t, v)
	assert.Equal(t, v, got)
}

func TestNestedStructureRoundTrip(t *testing.T) {
	v := codec.MapVal(map[string]codec.Value{
		"items": codec.ArrayVal([]codec.Value{
			codec.MapVal(map[string]codec.Value{"id": codec.Int32Val(1)}),
			codec.MapVal(map[string]codec.Value{"id": codec.Int32Val(2)}),
		}),
	})
	got := roundTrip(t, v)
	assert.Equal(t, v, got)
}

func TestDecodeBytesRejectsTrailingBytes(t *testing.T) {
	buf := append(codec.EncodeBytes(codec.Int32Val(1)), 0x00)
	_, err := codec.DecodeBytes(buf)
	assert.ErrorIs(t, err, varint.ErrMalformed)
}

func TestDecodeUnknownTagByte(t *testing.T) {
	_, err := codec.DecodeBytes([]byte{0xAA})
	assert.ErrorIs(t, err, varint.ErrMalformed)
}

func TestEncodePanicsOnInvalidKind(t *testing.T) {
	assert.Panics(t, func() {
		codec.Encode(varint.NewWriter(8), codec.Value{Kind: codec.Tag(99)})
	})
}
