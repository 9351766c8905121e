package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/aretw0/docsync/pkg/core"
)

// checkStrict validates data against a compiled JSON Schema and flattens the
// error tree into one FieldError per leaf.
func checkStrict(data any, sch *jsonschema.Schema) []core.FieldError {
	doc, err := toJSONValue(data)
	if err != nil {
		return []core.FieldError{{Path: "", Message: err.Error()}}
	}

	err = sch.Validate(doc)
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return []core.FieldError{{Path: "", Message: err.Error()}}
	}

	var out []core.FieldError
	collectLeaves(verr, &out)
	return out
}

func collectLeaves(e *jsonschema.ValidationError, out *[]core.FieldError) {
	if len(e.Causes) == 0 {
		*out = append(*out, core.FieldError{
			Path:    pointerToPath(e.InstanceLocation),
			Message: e.Message,
		})
		return
	}
	for _, c := range e.Causes {
		collectLeaves(c, out)
	}
}

// pointerToPath converts a JSON pointer ("/items/0/name") to the dotted
// notation used across the API ("items[0].name").
func pointerToPath(ptr string) string {
	ptr = strings.TrimPrefix(ptr, "/")
	if ptr == "" {
		return ""
	}
	var b strings.Builder
	for _, seg := range strings.Split(ptr, "/") {
		seg = strings.ReplaceAll(strings.ReplaceAll(seg, "~1", "/"), "~0", "~")
		if _, err := strconv.Atoi(seg); err == nil && b.Len() > 0 {
			b.WriteString("[" + seg + "]")
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(seg)
	}
	return b.String()
}

// toJSONValue round-trips v through encoding/json so numbers arrive as
// json.Number, the representation the validator expects.
func toJSONValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
