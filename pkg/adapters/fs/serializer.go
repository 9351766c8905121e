package fs

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/aretw0/docsync/pkg/core"
)

// DefaultExtensions are the storage suffixes recognised as documents.
var DefaultExtensions = []string{".yaml", ".yml"}

// YAMLCodec parses and renders documents as YAML.
type YAMLCodec struct {
	// Indent is the number of spaces used when encoding. Zero means 2.
	Indent int
}

// NewYAMLCodec creates a new YAML codec.
func NewYAMLCodec() *YAMLCodec {
	return &YAMLCodec{Indent: 2}
}

// Decode parses raw into a tree of map[string]any, []any and scalars.
// Only the first YAML document of the stream is considered.
func (c *YAMLCodec) Decode(raw []byte) (any, error) {
	var payload any
	if err := yaml.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("invalid yaml: %w", err)
	}
	return normalize(payload), nil
}

// Encode renders v as YAML.
func (c *YAMLCodec) Encode(v any) ([]byte, error) {
	indent := c.Indent
	if indent == 0 {
		indent = 2
	}

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(indent)
	if err := encoder.Encode(v); err != nil {
		return nil, err
	}
	if err := encoder.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var _ core.Codec = (*YAMLCodec)(nil)

// normalize converts maps with non-string keys (which YAML allows) into
// map[string]any so that the value is JSON compatible.
func normalize(val any) any {
	switch v := val.(type) {
	case map[string]any:
		for k, item := range v {
			v[k] = normalize(item)
		}
		return v
	case map[any]any:
		m := make(map[string]any, len(v))
		for k, item := range v {
			m[fmt.Sprintf("%v", k)] = normalize(item)
		}
		return m
	case []any:
		for i, item := range v {
			v[i] = normalize(item)
		}
		return v
	default:
		return v
	}
}
