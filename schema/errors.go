package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned when the document has no definition for the
	// requested entity name.
	ErrNotFound = errors.New("dynorm: schema not found")

	// ErrInvalidSchema is returned when a definition breaks a structural
	// invariant (missing hash key, more than one version property, ...).
	ErrInvalidSchema = errors.New("dynorm: invalid schema")

	// ErrValidation is returned when an entity fails document validation.
	ErrValidation = errors.New("dynorm: validation failed")
)

// NotFoundError reports a missing entity definition.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("schema %q not found in document", e.Name)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// InvalidSchemaError reports a definition that cannot be compiled.
type InvalidSchemaError struct {
	Name   string
	Reason string
}

func (e *InvalidSchemaError) Error() string {
	return fmt.Sprintf("schema %q: %s", e.Name, e.Reason)
}

func (e *InvalidSchemaError) Is(target error) bool {
	return target == ErrInvalidSchema
}

// ValidationError carries the validator's per-field error list.
type ValidationError struct {
	Name   string
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Fields))
	for f := range e.Fields {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f, e.Fields[f]))
	}
	return fmt.Sprintf("entity %q failed validation: %s", e.Name, strings.Join(parts, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
