package store

import (
	"fmt"
	"time"
)

// Entity is an in-memory instance of a compiled schema, backed by a mutable
// attribute map. It is either new (constructed, not yet persisted) or
// hydrated from a fetched record. The original snapshot preserves the state
// at load time for timestamp restoration and version conflict detection.
type Entity struct {
	model    *Model
	attrs    map[string]any
	original map[string]any
	isNew    bool
}

// Model returns the compiled model this entity belongs to.
func (e *Entity) Model() *Model { return e.model }

// IsNew reports whether the entity has never been persisted.
func (e *Entity) IsNew() bool { return e.isNew }

// Get returns the attribute value, or nil if unset.
func (e *Entity) Get(name string) any { return e.attrs[name] }

// Set assigns an attribute. Undeclared attribute names are rejected; the
// accessor set is fixed by the compiled schema.
func (e *Entity) Set(name string, v any) error {
	if e.model.schema.Property(name) == nil {
		return fmt.Errorf("entity %q has no attribute %q", e.model.name, name)
	}
	e.attrs[name] = v
	return nil
}

// Unset removes an attribute.
func (e *Entity) Unset(name string) { delete(e.attrs, name) }

// Original returns the attribute value captured at load or construction
// time, before any mutation.
func (e *Entity) Original(name string) any { return e.original[name] }

// String returns the attribute as a string, or "" when unset or mistyped.
func (e *Entity) String(name string) string {
	s, _ := e.attrs[name].(string)
	return s
}

// Int returns the attribute as an int64, converting numeric shapes.
func (e *Entity) Int(name string) int64 {
	switch v := e.attrs[name].(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}

// Time returns the attribute as a time.Time, or the zero time.
func (e *Entity) Time(name string) time.Time {
	t, _ := e.attrs[name].(time.Time)
	return t
}

// Attributes returns a copy of the attribute map. Resolved relation values
// appear as the referenced entity.
func (e *Entity) Attributes() map[string]any {
	return copyAttrs(e.attrs)
}

// Key projects the entity's attributes onto its primary key.
func (e *Entity) Key() map[string]any {
	s := e.model.schema
	key := map[string]any{s.HashKey: e.attrs[s.HashKey]}
	if s.RangeKey != "" {
		key[s.RangeKey] = e.attrs[s.RangeKey]
	}
	return key
}

// snapshot refreshes the original state, typically after a successful save.
func (e *Entity) snapshot() {
	e.original = copyAttrs(e.attrs)
}

func copyAttrs(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
