package results

import (
	"reflect"
	"strconv"
)

// DefaultDelimiter joins flattened keys.
const DefaultDelimiter = ":"

// Flatten collapses nested maps and slices into a single level map whose
// keys are the joined paths, slice elements keyed by index:
//
//	{"results": [{"source_meta": {"x": 1}}]} -> {"results:0:source_meta:x": 1}
//
// Empty containers are kept as leaves.
func Flatten(in map[string]any, delim string) map[string]any {
	if delim == "" {
		delim = DefaultDelimiter
	}
	out := make(map[string]any)
	for k, v := range in {
		flattenInto(out, k, v, delim)
	}
	return out
}

func flattenInto(out map[string]any, prefix string, v any, delim string) {
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 0 {
			out[prefix] = t
			return
		}
		for k, child := range t {
			flattenInto(out, prefix+delim+k, child, delim)
		}
	case []any:
		if len(t) == 0 {
			out[prefix] = t
			return
		}
		for i, child := range t {
			flattenInto(out, prefix+delim+strconv.Itoa(i), child, delim)
		}
	default:
		rv := reflect.ValueOf(v)
		switch {
		case rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String && rv.Len() > 0:
			iter := rv.MapRange()
			for iter.Next() {
				flattenInto(out, prefix+delim+iter.Key().String(), iter.Value().Interface(), delim)
			}
		case rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() != reflect.Uint8 && rv.Len() > 0:
			for i := 0; i < rv.Len(); i++ {
				flattenInto(out, prefix+delim+strconv.Itoa(i), rv.Index(i).Interface(), delim)
			}
		default:
			out[prefix] = v
		}
	}
}
