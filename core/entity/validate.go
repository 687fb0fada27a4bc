package entity

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/stratakit/strata/core/schema"
	"github.com/stratakit/strata/core/storage"
)

// matchesDerived reports whether v carries the derived value type.
// Numbers accept every numeric representation JSON decoding and SQL
// drivers produce.
func matchesDerived(v any, d schema.DerivedType) bool {
	switch d {
	case schema.DerivedNumber:
		switch v.(type) {
		case int, int32, int64, float32, float64:
			return true
		case json.Number:
			return true
		}
		return false
	case schema.DerivedString:
		_, ok := v.(string)
		return ok
	case schema.DerivedBoolean:
		_, ok := v.(bool)
		return ok
	default:
		return false
	}
}

// validateFull checks that fields carries every declared column with a
// matching derived type and nothing else.
func (d *Definition) validateFull(fields map[string]any) error {
	var problems []string

	for _, name := range d.columnNames {
		col := d.columns[name]
		v, ok := fields[name]
		if !ok {
			problems = append(problems, fmt.Sprintf("field %q missing", name))
			continue
		}
		if !matchesDerived(v, col.Derived) {
			problems = append(problems, fmt.Sprintf("field %q is not a %s", name, col.Derived))
		}
	}

	problems = append(problems, d.unknownFields(fields)...)

	if len(problems) > 0 {
		return &ValidationError{Entity: d.Name(), Problems: problems}
	}
	return nil
}

// validatePartial checks a subset of declared columns, ignoring omitted
// fields. Unknown fields are still rejected.
func (d *Definition) validatePartial(fields map[string]any) error {
	var problems []string

	if len(fields) == 0 {
		problems = append(problems, "no fields supplied")
	}

	for name, v := range fields {
		col, ok := d.columns[name]
		if !ok {
			continue // reported by unknownFields
		}
		if !matchesDerived(v, col.Derived) {
			problems = append(problems, fmt.Sprintf("field %q is not a %s", name, col.Derived))
		}
	}

	problems = append(problems, d.unknownFields(fields)...)

	if len(problems) > 0 {
		return &ValidationError{Entity: d.Name(), Problems: problems}
	}
	return nil
}

// ValidateFields checks a full field payload against the schema. It
// reports the same errors NewRecord would, without touching the store.
func (d *Definition) ValidateFields(fields map[string]any) error {
	return d.validateFull(fields)
}

// ValidatePartial checks a partial field payload against the schema.
func (d *Definition) ValidatePartial(partial map[string]any) error {
	return d.validatePartial(partial)
}

// unknownFields lists supplied field names outside the declared schema.
func (d *Definition) unknownFields(fields map[string]any) []string {
	var problems []string
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := d.columns[name]; !ok {
			problems = append(problems, fmt.Sprintf("field %q is not declared", name))
		}
	}
	return problems
}

// normalizeFields converts a stored row's declared fields back to their
// derived value types. SQLite hands back int64 for booleans and
// integers; Postgres hands back native types. A value that cannot be
// normalized fails as corruption.
func (d *Definition) normalizeFields(table, id string, row storage.Row) (map[string]any, error) {
	fields := make(map[string]any, len(d.columns))

	for _, name := range d.columnNames {
		col := d.columns[name]
		v, ok := row[name]
		if !ok {
			return nil, &CorruptRowError{Table: table, ID: id, Reason: fmt.Sprintf("column %q missing", name)}
		}

		normalized, ok := normalizeValue(v, col.Derived)
		if !ok {
			return nil, &CorruptRowError{Table: table, ID: id, Reason: fmt.Sprintf("column %q is not a %s", name, col.Derived)}
		}
		fields[name] = normalized
	}

	return fields, nil
}

// canonicalFields maps validated input values onto their derived
// types, so the stored row and the in-memory mirror share one
// representation regardless of how the caller spelled a number.
func (d *Definition) canonicalFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for name, v := range fields {
		col, ok := d.columns[name]
		if !ok {
			out[name] = v
			continue
		}
		if n, ok := normalizeValue(v, col.Derived); ok {
			out[name] = n
			continue
		}
		out[name] = v
	}
	return out
}

// normalizeValue coerces one driver value to its derived type.
func normalizeValue(v any, d schema.DerivedType) (any, bool) {
	if v == nil {
		return nil, false
	}

	switch d {
	case schema.DerivedNumber:
		switch n := v.(type) {
		case int:
			return float64(n), true
		case int32:
			return float64(n), true
		case int64:
			return float64(n), true
		case float32:
			return float64(n), true
		case float64:
			return n, true
		case json.Number:
			f, err := n.Float64()
			if err != nil {
				return nil, false
			}
			return f, true
		}
		return nil, false
	case schema.DerivedString:
		s, ok := v.(string)
		return s, ok
	case schema.DerivedBoolean:
		switch b := v.(type) {
		case bool:
			return b, true
		case int64:
			return b != 0, true
		}
		return nil, false
	default:
		return nil, false
	}
}

// normalizeBool reads a stored boolean global column.
func normalizeBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case int64:
		return b != 0, true
	}
	return false, false
}

// encodeTags serializes a tag list to its JSON array column value.
func encodeTags(tags []string) string {
	if tags == nil {
		tags = []string{}
	}
	encoded, _ := json.Marshal(tags)
	return string(encoded)
}

// decodeTags parses a JSON array column value. Anything but an array
// of strings is corruption.
func decodeTags(table, id, column string, v any) ([]string, error) {
	s, ok := v.(string)
	if !ok {
		return nil, &CorruptRowError{Table: table, ID: id, Reason: fmt.Sprintf("column %q is not stored text", column)}
	}

	var tags []string
	if err := json.Unmarshal([]byte(s), &tags); err != nil {
		return nil, &CorruptRowError{Table: table, ID: id, Reason: fmt.Sprintf("column %q is not a JSON string array", column)}
	}
	if tags == nil {
		tags = []string{}
	}
	return tags, nil
}
