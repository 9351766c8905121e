// Package core holds the domain of the synchronization engine: documents,
// change events and the Service that gates every write.
package core

import (
	"path/filepath"
	"strings"
	"time"
)

// Key identifies a document inside the store.
type Key struct {
	Namespace string
	Name      string
}

func (k Key) String() string {
	return k.Namespace + "/" + k.Name
}

// SchemaID derives the schema identifier from a resource name ("north-star.yaml" -> "north-star").
func SchemaID(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// Document is the central entity of the domain.
// Data is always re-derivable from Raw through the configured Codec.
type Document struct {
	Namespace string
	Name      string
	Raw       []byte
	Data      any
}

// Key returns the document key.
func (d Document) Key() Key {
	return Key{Namespace: d.Namespace, Name: d.Name}
}

// EventKind represents the type of change observed on a document.
type EventKind string

const (
	EventUpdated EventKind = "UPDATED"
	EventDeleted EventKind = "DELETED"
)

// Origin records which component produced a change event.
type Origin string

const (
	OriginService Origin = "service"
	OriginWatcher Origin = "watcher"
	OriginRelay   Origin = "relay"
)

// ChangeEvent represents a change of one document.
// Payload is the parsed content for EventUpdated and nil for EventDeleted.
type ChangeEvent struct {
	Kind      EventKind
	Namespace string
	Name      string
	Payload   any
	Raw       []byte
	Origin    Origin
	Timestamp time.Time
}

// Key returns the key of the changed document.
func (e ChangeEvent) Key() Key {
	return Key{Namespace: e.Namespace, Name: e.Name}
}

// String implements fmt.Stringer.
func (e ChangeEvent) String() string {
	return string(e.Kind) + " " + e.Key().String()
}

// FieldError is a single schema violation.
// Path uses dotted notation with [i] for list elements; the empty path is the document root.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationResult is the outcome of validating raw content against a schema.
type ValidationResult struct {
	Errors []FieldError
	// SchemaMissing is set when no schema was available and the content passed through unchecked.
	SchemaMissing bool
}

// Valid reports whether the result carries no errors.
func (r ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}
