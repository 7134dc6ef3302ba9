package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Managed timestamp attribute names, injected into the compiled definition
// when the entity enables timestamps.
const (
	CreatedAtAttr = "createdAt"
	UpdatedAtAttr = "updatedAt"
)

// Schema is a compiled entity definition: derived keys, indexes, markers and
// validation rules, plus the record transform (transform.go).
type Schema struct {
	Name      string
	TableName string

	HashKey  string
	RangeKey string

	// VersionAttr is the optimistic-lock attribute name, empty when the
	// definition declares none. VersionType is "integer", "number",
	// "date-time" or whatever the definition declared; anything but an
	// integer or date-time type is rejected at save time.
	VersionAttr string
	VersionType string

	// OwnerAttr is the owning-principal attribute name, empty when absent.
	OwnerAttr string

	Timestamps bool

	def  *Definition
	refs map[string]*Definition

	// requiredRefs holds relation property names whose required marker was
	// hoisted onto the referenced definition.
	requiredRefs map[string]bool

	validate *validator.Validate
	rules    map[string]any
	refRules map[string]map[string]any
}

// Compile locates name in doc and derives its compiled schema.
//
// Relation cross-references are resolved on deep copies: a required marker on
// a relation property is hoisted onto the referenced definition, and any
// property of the referenced definition whose relation points straight back
// at name is pruned before validation rules are built. Pruning is one hop
// only; cycles longer than two definitions are not broken and will recurse
// in validation, matching the embedded validator's limitation.
func Compile(doc Document, name string) (*Schema, error) {
	src, ok := doc[name]
	if !ok {
		return nil, &NotFoundError{Name: name}
	}

	def := src.clone()
	s := &Schema{
		Name:         name,
		TableName:    def.TableName,
		Timestamps:   def.Timestamps,
		def:          def,
		refs:         make(map[string]*Definition),
		requiredRefs: make(map[string]bool),
		validate:     validator.New(),
		refRules:     make(map[string]map[string]any),
	}
	if s.TableName == "" {
		return nil, &InvalidSchemaError{Name: name, Reason: "missing tableName"}
	}

	for _, propName := range sortedNames(def.Properties) {
		prop := def.Properties[propName]
		if prop.Relation == nil {
			continue
		}
		rel := prop.Relation
		refSrc, ok := doc[rel.Ref]
		if !ok {
			return nil, &InvalidSchemaError{
				Name:   name,
				Reason: fmt.Sprintf("property %q references unknown schema %q", propName, rel.Ref),
			}
		}
		if len(rel.Join) == 0 {
			return nil, &InvalidSchemaError{
				Name:   name,
				Reason: fmt.Sprintf("relation property %q has no join mapping", propName),
			}
		}

		ref := refSrc.clone()
		// Break the immediate back-edge so nested validation terminates.
		for refProp, rp := range ref.Properties {
			if rp.Relation != nil && rp.Relation.Ref == name {
				delete(ref.Properties, refProp)
			}
		}
		s.refs[rel.Ref] = ref

		// Required-ness on a relation constrains the referenced entity's own
		// required fields, not the local attribute.
		if prop.Required {
			prop.Required = false
			s.requiredRefs[propName] = true
		}
	}

	if def.Timestamps {
		if _, ok := def.Properties[CreatedAtAttr]; !ok {
			def.Properties[CreatedAtAttr] = &Property{Type: "string", Format: "date-time"}
		}
		if _, ok := def.Properties[UpdatedAtAttr]; !ok {
			def.Properties[UpdatedAtAttr] = &Property{Type: "string", Format: "date-time"}
		}
	}

	for _, propName := range sortedNames(def.Properties) {
		prop := def.Properties[propName]
		if prop.HashKey {
			if s.HashKey != "" {
				return nil, &InvalidSchemaError{Name: name, Reason: "more than one hash key property"}
			}
			s.HashKey = propName
		}
		if prop.RangeKey {
			if s.RangeKey != "" {
				return nil, &InvalidSchemaError{Name: name, Reason: "more than one range key property"}
			}
			s.RangeKey = propName
		}
		if prop.Version {
			if s.VersionAttr != "" {
				return nil, &InvalidSchemaError{Name: name, Reason: "more than one version property"}
			}
			s.VersionAttr = propName
			if prop.Format == "date-time" {
				s.VersionType = "date-time"
			} else {
				s.VersionType = prop.Type
			}
		}
		if prop.Owner {
			if s.OwnerAttr != "" {
				return nil, &InvalidSchemaError{Name: name, Reason: "more than one owner property"}
			}
			s.OwnerAttr = propName
		}
	}
	if s.HashKey == "" {
		return nil, &InvalidSchemaError{Name: name, Reason: "missing hash key property"}
	}

	s.rules = buildRules(def)
	for refName, ref := range s.refs {
		s.refRules[refName] = buildRules(ref)
	}

	return s, nil
}

// Properties returns the compiled property set, timestamp attributes
// included and relation required markers already hoisted.
func (s *Schema) Properties() map[string]*Property {
	return s.def.Properties
}

// Property returns the descriptor for name, or nil if undeclared.
func (s *Schema) Property(name string) *Property {
	return s.def.Properties[name]
}

// Relations returns the relation properties of the compiled definition.
func (s *Schema) Relations() map[string]*Relation {
	out := make(map[string]*Relation)
	for name, prop := range s.def.Properties {
		if prop.Relation != nil {
			out[name] = prop.Relation
		}
	}
	return out
}

// Ref returns the pruned copy of a referenced definition.
func (s *Schema) Ref(name string) *Definition {
	return s.refs[name]
}

// Indexes returns the definition's secondary indexes keyed by name.
func (s *Schema) Indexes() map[string]*Index {
	return s.def.Indexes
}

// UniqueIndexes returns only the indexes flagged unique, in name order.
func (s *Schema) UniqueIndexes() []string {
	var names []string
	for name, idx := range s.def.Indexes {
		if idx.Unique {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Validate checks attrs against the compiled rules. Relation values must be
// resolved to attribute maps before calling; unresolved scalars are skipped.
// The returned error is a *ValidationError carrying the field error list.
func (s *Schema) Validate(attrs map[string]any) error {
	fields := make(map[string]string)

	data := make(map[string]any, len(attrs))
	for k, v := range attrs {
		if prop := s.def.Properties[k]; prop != nil && prop.Relation != nil {
			continue
		}
		data[k] = v
	}
	collectFieldErrors(fields, "", s.validate.ValidateMap(data, s.rules))

	for name, prop := range s.def.Properties {
		if prop.Relation == nil || !s.requiredRefs[name] {
			continue
		}
		nested, ok := attrs[name].(map[string]any)
		if !ok {
			continue
		}
		rules := s.refRules[prop.Relation.Ref]
		collectFieldErrors(fields, name+".", s.validate.ValidateMap(nested, rules))
	}

	if len(fields) > 0 {
		return &ValidationError{Name: s.Name, Fields: fields}
	}
	return nil
}

// buildRules compiles a definition's properties into validator rules.
// Relation properties are excluded; they validate through the referenced
// definition's own rules.
func buildRules(def *Definition) map[string]any {
	rules := make(map[string]any)
	for name, prop := range def.Properties {
		if prop.Relation != nil {
			continue
		}
		var parts []string
		if prop.Required {
			parts = append(parts, "required")
		} else {
			parts = append(parts, "omitempty")
		}
		switch prop.Format {
		case "email":
			parts = append(parts, "email")
		case "uuid":
			parts = append(parts, "uuid")
		case "url":
			parts = append(parts, "url")
		}
		switch prop.Type {
		case "integer", "number":
			parts = append(parts, "numeric")
		}
		if prop.MinLength > 0 {
			parts = append(parts, fmt.Sprintf("min=%d", prop.MinLength))
		}
		if prop.MaxLength > 0 {
			parts = append(parts, fmt.Sprintf("max=%d", prop.MaxLength))
		}
		if len(parts) == 1 && !prop.Required {
			continue // nothing to enforce
		}
		rules[name] = strings.Join(parts, ",")
	}
	return rules
}

// collectFieldErrors flattens ValidateMap output into fields, prefixing
// nested relation attributes with their property name.
func collectFieldErrors(fields map[string]string, prefix string, errs map[string]any) {
	for field, err := range errs {
		if e, ok := err.(error); ok {
			fields[prefix+field] = e.Error()
		} else {
			fields[prefix+field] = fmt.Sprintf("%v", err)
		}
	}
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
