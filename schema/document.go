// Package schema compiles declarative entity definitions into keys, indexes,
// validators and record transforms for the entity store.
package schema

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Document holds every entity definition of a deployment, keyed by entity name.
// Definitions may reference each other through relation properties.
type Document map[string]*Definition

// Definition describes a single entity type.
type Definition struct {
	// TableName is the DynamoDB table backing this entity type.
	TableName string `yaml:"tableName" json:"tableName"`

	// Properties maps attribute names to their descriptors.
	Properties map[string]*Property `yaml:"properties" json:"properties"`

	// Timestamps enables managed createdAt/updatedAt attributes.
	Timestamps bool `yaml:"timestamps" json:"timestamps"`

	// Indexes declares secondary indexes, keyed by index name.
	Indexes map[string]*Index `yaml:"indexes" json:"indexes"`
}

// Property describes a single entity attribute.
type Property struct {
	// Type is the semantic type: string, integer, number, boolean or object.
	Type string `yaml:"type" json:"type"`

	// Format narrows Type: date, date-time, email, uuid or url.
	Format string `yaml:"format" json:"format"`

	// Default is applied on save when the attribute is absent.
	// The string "uuid" generates a fresh UUID per entity.
	Default any `yaml:"default" json:"default"`

	HashKey  bool `yaml:"hashKey" json:"hashKey"`
	RangeKey bool `yaml:"rangeKey" json:"rangeKey"`

	// Version marks the optimistic-lock attribute. At most one per definition.
	Version bool `yaml:"version" json:"version"`

	// Owner marks the owning-principal attribute. At most one per definition.
	Owner bool `yaml:"owner" json:"owner"`

	// Required marks the attribute mandatory for validation. On relation
	// properties the marker is hoisted onto the referenced definition at
	// compile time (see Compile).
	Required bool `yaml:"required" json:"required"`

	MinLength int `yaml:"minLength" json:"minLength"`
	MaxLength int `yaml:"maxLength" json:"maxLength"`

	// Relation points at another definition in the same document.
	Relation *Relation `yaml:"relation" json:"relation"`
}

// Relation references another entity type through a join mapping.
type Relation struct {
	// Ref is the referenced definition's name in the document.
	Ref string `yaml:"ref" json:"ref"`

	// Join maps local record attribute names to attribute names of the
	// referenced entity. At least one pair.
	Join map[string]string `yaml:"join" json:"join"`
}

// Index describes a secondary index over the entity's table.
type Index struct {
	HashKey  string `yaml:"hashKey" json:"hashKey"`
	RangeKey string `yaml:"rangeKey" json:"rangeKey"`

	// Unique enforces at most one entity per index key at save time.
	Unique bool `yaml:"unique" json:"unique"`
}

// LoadDocument reads a schema document from r. YAML and JSON are both
// accepted since YAML is a superset of JSON.
func LoadDocument(r io.Reader) (Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read schema document: %w", err)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse schema document: %w", err)
	}
	return doc, nil
}

// LoadDocumentFile reads a schema document from a file path.
func LoadDocumentFile(path string) (Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open schema document: %w", err)
	}
	defer f.Close()
	return LoadDocument(f)
}

// clone returns a deep copy of the definition. Compilation mutates its own
// copy so the shared document stays pristine.
func (d *Definition) clone() *Definition {
	out := &Definition{
		TableName:  d.TableName,
		Timestamps: d.Timestamps,
	}
	if d.Properties != nil {
		out.Properties = make(map[string]*Property, len(d.Properties))
		for name, p := range d.Properties {
			cp := *p
			if p.Relation != nil {
				rel := Relation{Ref: p.Relation.Ref}
				if p.Relation.Join != nil {
					rel.Join = make(map[string]string, len(p.Relation.Join))
					for k, v := range p.Relation.Join {
						rel.Join[k] = v
					}
				}
				cp.Relation = &rel
			}
			out.Properties[name] = &cp
		}
	}
	if d.Indexes != nil {
		out.Indexes = make(map[string]*Index, len(d.Indexes))
		for name, idx := range d.Indexes {
			ci := *idx
			out.Indexes[name] = &ci
		}
	}
	return out
}
