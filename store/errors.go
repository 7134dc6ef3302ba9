package store

import (
	"errors"
	"fmt"
)

var (
	// ErrRelationNotFound is returned when an unresolved relation value does
	// not match any row of the referenced entity's table.
	ErrRelationNotFound = errors.New("dynorm: related entity not found")

	// ErrMissingIndexValue is returned when a unique index cannot be checked
	// because a key component resolves to nothing.
	ErrMissingIndexValue = errors.New("dynorm: missing unique index value")

	// ErrUniqueConstraint is returned when another entity already holds the
	// same unique index key.
	ErrUniqueConstraint = errors.New("dynorm: unique constraint violated")

	// ErrUnsupportedVersionType is returned when the version property is
	// neither integer nor date-time typed.
	ErrUnsupportedVersionType = errors.New("dynorm: unsupported version property type")

	// ErrConstraintViolation is returned when the store rejects a
	// conditional write: the create guard hit an existing key, or the
	// version guard hit a concurrent modification.
	ErrConstraintViolation = errors.New("dynorm: conditional write failed")
)

// RelationNotFoundError reports an unresolvable relation value.
type RelationNotFoundError struct {
	Model string
	Field string
	Key   map[string]any
}

func (e *RelationNotFoundError) Error() string {
	return fmt.Sprintf("%s.%s: related entity %v not found", e.Model, e.Field, e.Key)
}

func (e *RelationNotFoundError) Is(target error) bool {
	return target == ErrRelationNotFound
}

// MissingIndexValueError reports an unenforceable unique index.
type MissingIndexValueError struct {
	Model string
	Index string
	Attr  string
}

func (e *MissingIndexValueError) Error() string {
	return fmt.Sprintf("%s: unique index %q has no value for %q", e.Model, e.Index, e.Attr)
}

func (e *MissingIndexValueError) Is(target error) bool {
	return target == ErrMissingIndexValue
}

// UniqueConstraintError reports a unique index collision.
type UniqueConstraintError struct {
	Model string
	Index string
	Value any
}

func (e *UniqueConstraintError) Error() string {
	return fmt.Sprintf("%s: unique index %q already holds %v", e.Model, e.Index, e.Value)
}

func (e *UniqueConstraintError) Is(target error) bool {
	return target == ErrUniqueConstraint
}

// ConstraintViolationError reports a store-rejected conditional write. It
// covers both the create guard and the version guard.
type ConstraintViolationError struct {
	Model string
	Op    string
}

func (e *ConstraintViolationError) Error() string {
	return fmt.Sprintf("%s: %s rejected by conditional check", e.Model, e.Op)
}

func (e *ConstraintViolationError) Is(target error) bool {
	return target == ErrConstraintViolation
}
