package core

import (
	"fmt"
	"math"
	"sort"
	"strconv"
)

// unencodable reports every value of a decoded document that has no JSON
// representation. YAML accepts .inf, -.inf and .nan; JSON does not, and such
// a document could be stored but never pushed to a viewer.
func unencodable(v any) []FieldError {
	var errs []FieldError
	walkValues(v, "", &errs)
	return errs
}

func walkValues(v any, path string, errs *[]FieldError) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			next := k
			if path != "" {
				next = path + "." + k
			}
			walkValues(val[k], next, errs)
		}
	case []any:
		for i, item := range val {
			walkValues(item, path+"["+strconv.Itoa(i)+"]", errs)
		}
	case float64:
		if math.IsInf(val, 0) || math.IsNaN(val) {
			*errs = append(*errs, FieldError{
				Path:    path,
				Message: fmt.Sprintf("Unsupported value at: %s, got %v", path, val),
			})
		}
	case float32:
		walkValues(float64(val), path, errs)
	}
}
