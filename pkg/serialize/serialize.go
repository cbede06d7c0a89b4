// Package serialize renders arbitrary handler results as JSON without ever
// failing. Values that resist direct marshaling are degraded step by step:
// first into plain maps and slices, then into their string form, and as a
// last resort into a fixed error envelope naming the original type.
package serialize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/rs/zerolog/log"
)

// JSON renders v as a JSON document. It always returns valid JSON and never
// panics, regardless of what v contains.
func JSON(v any) []byte {
	if b, ok := tryMarshal(v); ok {
		return b
	}

	log.Debug().Str("type", typeName(v)).Msg("Direct serialization failed, converting to plain form")
	if b, ok := tryMarshal(toPlain(v)); ok {
		return b
	}

	log.Debug().Str("type", typeName(v)).Msg("Plain form serialization failed, using string form")
	if b, ok := tryMarshal(stringForm(v)); ok {
		return b
	}

	return envelope(v)
}

// tryMarshal encodes v with HTML escaping disabled so text content survives
// unmangled. A marshaler panic counts as a failed attempt.
func tryMarshal(v any) (b []byte, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			b, ok = nil, false
		}
	}()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, false
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), true
}

func stringForm(v any) (s string) {
	defer func() {
		if r := recover(); r != nil {
			s = typeName(v)
		}
	}()
	return fmt.Sprint(v)
}

func envelope(v any) []byte {
	return fmt.Appendf(nil, `{"error": "Serialization failed", "original_type": %q}`, typeName(v))
}

func typeName(v any) string {
	if v == nil {
		return "nil"
	}
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if name := t.Name(); name != "" {
		return name
	}
	return t.String()
}

// toPlain rebuilds v out of nothing but maps, slices and primitives so that a
// second marshal attempt cannot hit unsupported types or cycles.
func toPlain(v any) (res any) {
	defer func() {
		if r := recover(); r != nil {
			res = stringForm(v)
		}
	}()
	return plain(reflect.ValueOf(v), make(map[uintptr]bool))
}

func plain(v reflect.Value, seen map[uintptr]bool) any {
	if !v.IsValid() {
		return nil
	}

	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return plain(v.Elem(), seen)

	case reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		ptr := v.Pointer()
		if seen[ptr] {
			return "<cycle>"
		}
		seen[ptr] = true
		defer delete(seen, ptr)
		return plain(v.Elem(), seen)

	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		ptr := v.Pointer()
		if seen[ptr] {
			return "<cycle>"
		}
		seen[ptr] = true
		defer delete(seen, ptr)

		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out[keyString(iter.Key())] = plain(iter.Value(), seen)
		}
		return out

	case reflect.Slice:
		if v.IsNil() {
			return nil
		}
		ptr := v.Pointer()
		if seen[ptr] {
			return "<cycle>"
		}
		seen[ptr] = true
		defer delete(seen, ptr)
		return plainSequence(v, seen)

	case reflect.Array:
		return plainSequence(v, seen)

	case reflect.Struct:
		t := v.Type()
		out := make(map[string]any, t.NumField())
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}
			name := field.Name
			if tag, ok := field.Tag.Lookup("json"); ok {
				tag, _, _ = strings.Cut(tag, ",")
				if tag == "-" {
					continue
				}
				if tag != "" {
					name = tag
				}
			}
			out[name] = plain(v.Field(i), seen)
		}
		return out

	case reflect.String:
		return v.String()

	case reflect.Bool:
		return v.Bool()

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int()

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint()

	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Sprint(f)
		}
		return f

	case reflect.Complex64, reflect.Complex128:
		return fmt.Sprint(v.Complex())

	case reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return v.Type().String()

	default:
		return fmt.Sprint(v)
	}
}

func plainSequence(v reflect.Value, seen map[uintptr]bool) []any {
	out := make([]any, v.Len())
	for i := 0; i < v.Len(); i++ {
		out[i] = plain(v.Index(i), seen)
	}
	return out
}

// keyString renders a map key of any type as a JSON object key.
func keyString(k reflect.Value) string {
	if k.Kind() == reflect.String {
		return k.String()
	}
	return fmt.Sprint(k)
}
