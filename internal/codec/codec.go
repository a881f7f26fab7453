// Package codec implements the portable binary message codec shared by
// the get_as_json cache format (§6.3) and PersistValues (§6.5): a tagged
// sum type over { Null, Bool, Int32, Int64, Float64, String, Array, Map }
// with recursive encode/decode (spec §6.4, §9 "Dynamic JSON values").
//
// The wire format must interoperate with previously-written cache files,
// so the tag byte values below are load-bearing and must never change:
// reassigning a tag breaks every cached get_as_json file and
// _persist_values file already on disk.
package codec

import (
	"fmt"

	"github.com/omalloc/blockcache/internal/varint"
)

type Tag byte

const (
	TagNull Tag = iota
	TagTrue
	TagFalse
	TagInt32
	TagInt64
	TagFloat64
	TagString
	TagArray
	TagMap
)

// Value is the tagged sum type values round-trip through.
//
// Exactly one of the typed fields is meaningful, selected by Kind. A zero
// Value is Null.
type Value struct {
	Kind    Tag
	Int32   int32
	Int64   int64
	Float64 float64
	Str     string
	Arr     []Value
	Map     map[string]Value
}

func Null() Value                { return Value{Kind: TagNull} }
func Bool(b bool) Value          { if b { return Value{Kind: TagTrue} }; return Value{Kind: TagFalse} }
func Int32Val(v int32) Value     { return Value{Kind: TagInt32, Int32: v} }
func Int64Val(v int64) Value     { return Value{Kind: TagInt64, Int64: v} }
func Float64Val(v float64) Value { return Value{Kind: TagFloat64, Float64: v} }
func StringVal(s string) Value   { return Value{Kind: TagString, Str: s} }
func ArrayVal(a []Value) Value   { return Value{Kind: TagArray, Arr: a} }
func MapVal(m map[string]Value) Value { return Value{Kind: TagMap, Map: m} }

// Encode appends the binary encoding of v to w.
func Encode(w *varint.Writer, v Value) {
	switch v.Kind {
	case TagNull:
		w.PutU8(byte(TagNull))
	case TagTrue:
		w.PutU8(byte(TagTrue))
	case TagFalse:
		w.PutU8(byte(TagFalse))
	case TagInt32:
		w.PutU8(byte(TagInt32))
		w.PutU32(uint32(v.Int32))
	case TagInt64:
		w.PutU8(byte(TagInt64))
		w.PutU64(uint64(v.Int64))
	case TagFloat64:
		w.PutU8(byte(TagFloat64))
		w.PutU64(floatBits(v.Float64))
	case TagString:
		w.PutU8(byte(TagString))
		w.PutString(v.Str)
	case TagArray:
		w.PutU8(byte(TagArray))
		w.PutSize(uint32(len(v.Arr)))
		for _, el := range v.Arr {
			Encode(w, el)
		}
	case TagMap:
		w.PutU8(byte(TagMap))
		w.PutSize(uint32(len(v.Map)))
		for k, val := range v.Map {
			w.PutString(k)
			Encode(w, val)
		}
	default:
		panic(fmt.Sprintf("codec: unknown tag %d", v.Kind))
	}
}

// EncodeBytes is a convenience wrapper returning the standalone encoding of v.
func EncodeBytes(v Value) []byte {
	w := varint.NewWriter(64)
	Encode(w, v)
	return w.Bytes()
}

// Decode reads one Value from r.
func Decode(r *varint.Reader) (Value, error) {
	tagByte, err := r.U8()
	if err != nil {
		return Value{}, err
	}
	tag := Tag(tagByte)
	switch tag {
	case TagNull:
		return Value{Kind: TagNull}, nil
	case TagTrue:
		return Value{Kind: TagTrue}, nil
	case TagFalse:
		return Value{Kind: TagFalse}, nil
	case TagInt32:
		u, err := r.U32()
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: TagInt32, Int32: int32(u)}, nil
	case TagInt64:
		u, err := r.U64()
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: TagInt64, Int64: int64(u)}, nil
	case TagFloat64:
		u, err := r.U64()
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: TagFloat64, Float64: bitsToFloat(u)}, nil
	case TagString:
		s, err := r.String()
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: TagString, Str: s}, nil
	case TagArray:
		n, err := r.Size()
		if err != nil {
			return Value{}, err
		}
		arr := make([]Value, 0, n)
		for i := uint32(0); i < n; i++ {
			el, err := Decode(r)
			if err != nil {
				return Value{}, err
			}
			arr = append(arr, el)
		}
		return Value{Kind: TagArray, Arr: arr}, nil
	case TagMap:
		n, err := r.Size()
		if err != nil {
			return Value{}, err
		}
		m := make(map[string]Value, n)
		for i := uint32(0); i < n; i++ {
			k, err := r.String()
			if err != nil {
				return Value{}, err
			}
			val, err := Decode(r)
			if err != nil {
				return Value{}, err
			}
			m[k] = val
		}
		return Value{Kind: TagMap, Map: m}, nil
	default:
		return Value{}, fmt.Errorf("%w: unknown tag byte %d", varint.ErrMalformed, tagByte)
	}
}

// DecodeBytes decodes a single Value from a standalone buffer, requiring
// the entire buffer to be consumed.
func DecodeBytes(buf []byte) (Value, error) {
	r := varint.NewReader(buf)
	v, err := Decode(r)
	if err != nil {
		return Value{}, err
	}
	if r.Remaining() != 0 {
		return Value{}, fmt.Errorf("%w: %d trailing bytes after value", varint.ErrMalformed, r.Remaining())
	}
	return v, nil
}
