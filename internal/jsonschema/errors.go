package jsonschema

import "errors"

var (
	// ErrValidationSystem indicates the validator itself failed (bad schema, I/O, etc).
	ErrValidationSystem = errors.New("schema validation system error")
	// ErrValidationFailed indicates the document did not conform to the schema.
	ErrValidationFailed = errors.New("schema validation failed")
)
