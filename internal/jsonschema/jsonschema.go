// Package jsonschema is a thin wrapper around gojsonschema so the rest of
// the module never imports it directly.
package jsonschema

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

type (
	// Result is the outcome of a single Validate call.
	Result = gojsonschema.Result
	// Loader lazily produces the JSON document backing a schema or a payload.
	Loader = gojsonschema.JSONLoader
)

// NewStringLoader builds a Loader from a JSON string.
func NewStringLoader(s string) Loader {
	return gojsonschema.NewStringLoader(s)
}

// NewBytesLoader builds a Loader from raw JSON bytes.
func NewBytesLoader(b []byte) Loader {
	return gojsonschema.NewBytesLoader(b)
}

// NewSchema compiles a schema, failing fast on malformed schema documents.
func NewSchema(loader Loader) (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(loader)
}

// Validate checks docLoader against schemaLoader.
func Validate(schemaLoader, docLoader Loader) (*Result, error) {
	return gojsonschema.Validate(schemaLoader, docLoader)
}

// FormatErrors collapses a validation result and a system error into a single
// wrapped error, or nil if the document was valid.
func FormatErrors(result *Result, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidationSystem, err)
	}
	if result.Valid() {
		return nil
	}
	var msg string
	for _, desc := range result.Errors() {
		msg += fmt.Sprintf("- %s; ", desc)
	}
	return fmt.Errorf("%w: %s", ErrValidationFailed, msg)
}
