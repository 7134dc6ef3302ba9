package schema

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/go-openapi/strfmt"
)

// isoDatePattern matches ISO-8601 timestamps of the shape
// YYYY-MM-DDTHH:mm:ss[.ffff][Z|±HH:mm], the shapes ParseJSON revives.
var isoDatePattern = regexp.MustCompile(
	`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})?$`)

// ToRecord projects entity attributes onto a flat store record.
//
// Date-valued attributes become numeric epoch milliseconds. Relation values
// (attribute maps of the referenced entity) are flattened through the join:
// for every local→foreign pair the record stores the referenced entity's
// foreign attribute under the local name. Unresolved scalar relation values
// are stored directly under the single local join attribute.
func (s *Schema) ToRecord(attrs map[string]any) map[string]any {
	record := make(map[string]any, len(attrs))
	for name, prop := range s.def.Properties {
		v, ok := attrs[name]
		if !ok || v == nil {
			continue
		}
		switch {
		case prop.Relation != nil:
			flattenRelation(record, prop.Relation, v)
		case isDateProp(prop):
			if ms, ok := encodeDate(v); ok {
				record[name] = ms
			} else {
				record[name] = v
			}
		default:
			record[name] = v
		}
	}
	return record
}

// FromRecord is the inverse of ToRecord. Relation attributes keep a nested
// value already present under the property name; otherwise a stub
// {foreign: value} map is synthesized from the flattened join attributes for
// lazy resolution. Date attributes are parsed from epoch or ISO-8601 values.
func (s *Schema) FromRecord(record map[string]any) map[string]any {
	attrs := make(map[string]any, len(record))
	claimed := make(map[string]bool)

	for name, prop := range s.def.Properties {
		if prop.Relation == nil {
			continue
		}
		if nested, ok := record[name].(map[string]any); ok {
			attrs[name] = nested
			claimed[name] = true
			continue
		}
		stub := make(map[string]any)
		for local, foreign := range prop.Relation.Join {
			if v, ok := record[local]; ok && v != nil {
				stub[foreign] = v
				claimed[local] = true
			}
		}
		if len(stub) > 0 {
			attrs[name] = stub
		}
	}

	for name, v := range record {
		if claimed[name] {
			continue
		}
		prop := s.def.Properties[name]
		if prop != nil && isDateProp(prop) {
			if t, ok := decodeDate(v); ok {
				attrs[name] = t
				continue
			}
		}
		attrs[name] = v
	}
	return attrs
}

// ParseJSON parses JSON text, reviving ISO-8601-looking strings into
// time.Time values anywhere in the resulting structure.
func ParseJSON(text string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	return reviveDates(v), nil
}

func reviveDates(v any) any {
	switch tv := v.(type) {
	case string:
		if isoDatePattern.MatchString(tv) {
			if dt, err := strfmt.ParseDateTime(tv); err == nil {
				return time.Time(dt)
			}
		}
		return tv
	case map[string]any:
		for k, e := range tv {
			tv[k] = reviveDates(e)
		}
		return tv
	case []any:
		for i, e := range tv {
			tv[i] = reviveDates(e)
		}
		return tv
	default:
		return v
	}
}

func isDateProp(p *Property) bool {
	return p.Format == "date" || p.Format == "date-time"
}

// flattenRelation writes a relation value's join attributes into record.
func flattenRelation(record map[string]any, rel *Relation, v any) {
	nested, ok := v.(map[string]any)
	if !ok {
		// Unresolved scalar: store under the local join attribute. Only
		// meaningful for single-pair joins.
		for local := range rel.Join {
			record[local] = v
			return
		}
		return
	}
	for local, foreign := range rel.Join {
		if fv, ok := nested[foreign]; ok && fv != nil {
			record[local] = fv
		}
	}
}

// encodeDate converts a date-like value into epoch milliseconds.
func encodeDate(v any) (int64, bool) {
	switch tv := v.(type) {
	case time.Time:
		return tv.UnixMilli(), true
	case *time.Time:
		return tv.UnixMilli(), true
	case strfmt.DateTime:
		return time.Time(tv).UnixMilli(), true
	case string:
		if dt, err := strfmt.ParseDateTime(tv); err == nil {
			return time.Time(dt).UnixMilli(), true
		}
	}
	return 0, false
}

// decodeDate parses an epoch-millisecond or ISO-8601 value into a time.Time.
func decodeDate(v any) (time.Time, bool) {
	switch tv := v.(type) {
	case time.Time:
		return tv, true
	case int64:
		return time.UnixMilli(tv).UTC(), true
	case int:
		return time.UnixMilli(int64(tv)).UTC(), true
	case float64:
		return time.UnixMilli(int64(tv)).UTC(), true
	case string:
		if dt, err := strfmt.ParseDateTime(tv); err == nil {
			return time.Time(dt), true
		}
	}
	return time.Time{}, false
}
