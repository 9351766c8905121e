package core

import "context"

// Repository defines the contract for storing raw document bytes.
// Implementations must confine every operation to their storage root and
// reject namespaces or names that would escape it with ErrInvalidPath.
type Repository interface {
	// Read returns the raw content of a document, or ErrNotFound.
	Read(ctx context.Context, namespace, name string) ([]byte, error)

	// Write replaces the whole document. Readers never observe a partial write.
	Write(ctx context.Context, namespace, name string, raw []byte) error

	// Delete removes a document, or returns ErrNotFound.
	Delete(ctx context.Context, namespace, name string) error

	// Exists reports whether the document is present.
	Exists(ctx context.Context, namespace, name string) (bool, error)

	// List returns the document names of a namespace in lexicographic order.
	List(ctx context.Context, namespace string) ([]string, error)

	// Namespaces returns the known namespaces in lexicographic order.
	Namespaces(ctx context.Context) ([]string, error)
}

// Codec turns raw bytes into the structured value and back.
type Codec interface {
	Decode(raw []byte) (any, error)
	Encode(v any) ([]byte, error)
}

// Validator gates writes on a schema keyed by resource name.
type Validator interface {
	Validate(raw []byte, schemaID string) ValidationResult
}

// Publisher receives every accepted change.
type Publisher interface {
	Publish(ev ChangeEvent)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ev ChangeEvent)

// Publish implements Publisher.
func (f PublisherFunc) Publish(ev ChangeEvent) { f(ev) }
