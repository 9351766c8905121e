package schema

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"

	"github.com/aretw0/docsync/pkg/core"
)

var primitives = map[string]bool{
	"string":  true,
	"number":  true,
	"boolean": true,
}

// checkDeclarative walks data against sch and returns every violation.
func checkDeclarative(data any, sch map[string]any) []core.FieldError {
	var errs []core.FieldError
	obj, ok := asMap(data)
	if !ok {
		return append(errs, core.FieldError{
			Path:    "",
			Message: fmt.Sprintf("Expected object at: , got %s", typeName(data)),
		})
	}
	walkMap(obj, sch, "", &errs)
	return errs
}

func walkMap(obj map[string]any, sch map[string]any, prefix string, errs *[]core.FieldError) {
	for _, key := range slices.Sorted(maps.Keys(sch)) {
		actual, optional := strings.CutSuffix(key, "?")
		path := joinPath(prefix, actual)

		val, present := obj[actual]
		if !present {
			if !optional {
				*errs = append(*errs, core.FieldError{Path: path, Message: "Missing key: " + path})
			}
			continue
		}
		walkValue(val, sch[key], path, errs)
	}
}

func walkValue(val, node any, path string, errs *[]core.FieldError) {
	if m, ok := asMap(node); ok {
		obj, isObj := asMap(val)
		if !isObj {
			*errs = append(*errs, mismatch("object", val, path))
			return
		}
		if len(m) > 0 {
			walkMap(obj, m, path, errs)
		}
		return
	}

	if list, ok := node.([]any); ok {
		items, isList := val.([]any)
		if !isList {
			*errs = append(*errs, mismatch("array", val, path))
			return
		}
		if len(list) != 1 {
			return
		}
		for i, item := range items {
			walkValue(item, list[0], fmt.Sprintf("%s[%d]", path, i), errs)
		}
		return
	}

	if name, ok := node.(string); ok && primitives[name] {
		if typeName(val) != name {
			*errs = append(*errs, mismatch(name, val, path))
		}
		return
	}

	if node == nil {
		return
	}
	if !sameValue(val, node) {
		*errs = append(*errs, core.FieldError{
			Path:    path,
			Message: fmt.Sprintf("Expected value %s at: %s, got %s", formatValue(node), path, formatValue(val)),
		})
	}
}

func mismatch(expected string, val any, path string) core.FieldError {
	return core.FieldError{
		Path:    path,
		Message: fmt.Sprintf("Expected %s at: %s, got %s", expected, path, typeName(val)),
	}
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// typeName reports the JSON type of a decoded value.
func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return "number"
	case map[string]any, map[any]any:
		return "object"
	case []any:
		return "array"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func sameValue(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

func formatValue(v any) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprintf("%v", v)
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, item := range m {
			out[fmt.Sprintf("%v", k)] = item
		}
		return out, true
	}
	return nil, false
}
