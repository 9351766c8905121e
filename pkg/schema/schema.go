// Package schema validates document content against per-resource schemas.
//
// Two schema shapes are supported. A Declarative schema is a YAML mapping
// that mirrors the expected document: leaves name a primitive type
// ("string", "number", "boolean") or a fixed value, keys ending in "?" are
// optional, an empty mapping accepts anything and a one-element list [T]
// constrains every element of a list. A Strict schema is a JSON Schema
// document and takes precedence when both exist for the same resource.
package schema

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// Kind tells which validation walk applies to a Schema.
type Kind int

const (
	// KindNone means no schema was found; content passes unchecked.
	KindNone Kind = iota
	KindDeclarative
	KindStrict
)

func (k Kind) String() string {
	switch k {
	case KindDeclarative:
		return "declarative"
	case KindStrict:
		return "strict"
	default:
		return "none"
	}
}

// Schema is a loaded schema. Exactly one of Declarative or Strict is set,
// according to Kind.
type Schema struct {
	ID          string
	Kind        Kind
	Declarative map[string]any
	Strict      *jsonschema.Schema
	// Path is the file the schema was loaded from, if any.
	Path string
}

// LoadFile loads a schema from a single file. ".json" files are compiled as
// JSON Schema, anything else is read as a declarative YAML mapping.
func LoadFile(path string) (Schema, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Schema{}, err
	}
	id := filepath.Base(path)
	id = id[:len(id)-len(filepath.Ext(id))]

	if filepath.Ext(path) == ".json" {
		return compileStrict(id, path, raw)
	}
	return parseDeclarative(id, path, raw)
}

func parseDeclarative(id, path string, raw []byte) (Schema, error) {
	var root any
	if err := yaml.Unmarshal(raw, &root); err != nil {
		return Schema{}, fmt.Errorf("schema %s: invalid yaml: %w", id, err)
	}
	m, ok := asMap(root)
	if !ok {
		return Schema{}, fmt.Errorf("schema %s: declarative schema must be a mapping, got %s", id, typeName(root))
	}
	return Schema{ID: id, Kind: KindDeclarative, Declarative: m, Path: path}, nil
}

func compileStrict(id, path string, raw []byte) (Schema, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Schema{}, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(abs, bytes.NewReader(raw)); err != nil {
		return Schema{}, fmt.Errorf("schema %s: %w", id, err)
	}
	compiled, err := compiler.Compile(abs)
	if err != nil {
		return Schema{}, fmt.Errorf("schema %s: %w", id, err)
	}
	return Schema{ID: id, Kind: KindStrict, Strict: compiled, Path: path}, nil
}
