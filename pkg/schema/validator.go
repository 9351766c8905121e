package schema

import (
	"fmt"
	"log/slog"

	"github.com/aretw0/docsync/pkg/core"
)

// Validator implements core.Validator on top of a Source.
type Validator struct {
	source Source
	codec  core.Codec
	logger *slog.Logger
}

// NewValidator creates a validator. A nil logger discards output.
func NewValidator(source Source, codec core.Codec, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Validator{source: source, codec: codec, logger: logger}
}

// Validate parses raw and checks it against the schema named schemaID.
// Every violation is reported, not only the first one.
func (v *Validator) Validate(raw []byte, schemaID string) core.ValidationResult {
	data, err := v.codec.Decode(raw)
	if err != nil {
		return core.ValidationResult{Errors: []core.FieldError{{Path: "", Message: core.ErrMalformed.Error()}}}
	}

	sch, err := v.source.Load(schemaID)
	if err != nil {
		v.logger.Error("failed to load schema", "schema", schemaID, "error", err)
		return core.ValidationResult{Errors: []core.FieldError{{
			Path:    "",
			Message: fmt.Sprintf("schema %s unavailable: %v", schemaID, err),
		}}}
	}
	if sch.Kind == KindNone {
		v.logger.Info("no schema available", "schema", schemaID)
		return core.ValidationResult{SchemaMissing: true}
	}

	return core.ValidationResult{Errors: Check(data, sch)}
}

// Check validates an already decoded value against sch.
func Check(data any, sch Schema) []core.FieldError {
	switch sch.Kind {
	case KindDeclarative:
		return checkDeclarative(data, sch.Declarative)
	case KindStrict:
		return checkStrict(data, sch.Strict)
	default:
		return nil
	}
}

var _ core.Validator = (*Validator)(nil)
