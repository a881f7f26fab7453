package codec_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omalloc/blockcache/internal/codec"
)

func TestFromJSONBytesConvertsNestedValue(t *testing.T) {
	v, err := codec.FromJSONBytes([]byte(`{"count": 3, "tags": ["a", "b"], "ok": true, "note": null}`))
	require.NoError(t, err)
	require.Equal(t, codec.TagMap, v.Kind)

	assert.Equal(t, codec.Float64Val(3), v.Map["count"])
	assert.Equal(t, codec.Bool(true), v.Map["ok"])
	assert.Equal(t, codec.Null(), v.Map["note"])

	tags := v.Map["tags"]
	require.Equal(t, codec.TagArray, tags.Kind)
	assert.Equal(t, []codec.Value{codec.StringVal("a"), codec.StringVal("b")}, tags.Arr)
}

func TestFromJSONBytesInvalidJSON(t *testing.T) {
	_, err := codec.FromJSONBytes([]byte(`{not json`))
	assert.Error(t, err)
}

func TestFromAnyUnsupportedType(t *testing.T) {
	_, err := codec.FromAny(struct{}{})
	assert.Error(t, err)
}

func TestToAnyRoundTripsThroughJSONShapes(t *testing.T) {
	v := codec.MapVal(map[string]codec.Value{
		"n": codec.Int64Val(5),
		"s": codec.StringVal("x"),
	})
	got := codec.ToAny(v).(map[string]any)
	assert.Equal(t, int64(5), got["n"])
	assert.Equal(t, "x", got["s"])
}

func TestToAnyNullIsNil(t *testing.T) {
	assert.Nil(t, codec.ToAny(codec.Null()))
}
