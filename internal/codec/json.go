package codec

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// FromJSONBytes parses textual JSON and converts it to the tagged Value form,
// the normalization step get_as_json performs on first fetch (spec §6.3)
// before rewriting the cache file as magic || binary.
func FromJSONBytes(b []byte) (Value, error) {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return Value{}, fmt.Errorf("codec: parse json: %w", err)
	}
	return FromAny(v)
}

// FromAny converts a decoded encoding/json-style value (nil, bool, float64,
// string, []any, map[string]any) into the tagged Value form. JSON has no
// integer type, so numeric literals always become Float64 here; callers
// that need exact Int32/Int64 round-tripping construct those Values directly
// (e.g. PersistValues entries written by non-JSON callers).
func FromAny(v any) (Value, error) {
	switch t := v.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case float64:
		return Float64Val(t), nil
	case int:
		return Int64Val(int64(t)), nil
	case int32:
		return Int32Val(t), nil
	case int64:
		return Int64Val(t), nil
	case string:
		return StringVal(t), nil
	case []any:
		arr := make([]Value, len(t))
		for i, el := range t {
			cv, err := FromAny(el)
			if err != nil {
				return Value{}, err
			}
			arr[i] = cv
		}
		return ArrayVal(arr), nil
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, el := range t {
			cv, err := FromAny(el)
			if err != nil {
				return Value{}, err
			}
			m[k] = cv
		}
		return MapVal(m), nil
	default:
		return Value{}, fmt.Errorf("codec: unsupported json value type %T", v)
	}
}

// ToAny converts a tagged Value back into the plain any form encoding/json
// (or goccy/go-json) would have produced, for callers that want to treat a
// decoded cache entry like ordinary parsed JSON.
func ToAny(v Value) any {
	switch v.Kind {
	case TagNull:
		return nil
	case TagTrue:
		return true
	case TagFalse:
		return false
	case TagInt32:
		return v.Int32
	case TagInt64:
		return v.Int64
	case TagFloat64:
		return v.Float64
	case TagString:
		return v.Str
	case TagArray:
		out := make([]any, len(v.Arr))
		for i, el := range v.Arr {
			out[i] = ToAny(el)
		}
		return out
	case TagMap:
		out := make(map[string]any, len(v.Map))
		for k, el := range v.Map {
			out[k] = ToAny(el)
		}
		return out
	default:
		return nil
	}
}
