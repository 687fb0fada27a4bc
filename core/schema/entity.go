package schema

import (
	"fmt"
	"sort"
	"strings"
)

// Reserved global column names. Every entity table carries these; a
// definition declaring one of them is rejected at construction.
const (
	ColID         = "id"
	ColCreated    = "created"
	ColUpdated    = "updated"
	ColArchived   = "archived"
	ColAttributes = "attributes"
	ColUniverses  = "universes"
)

// History table columns added next to the entity's own.
const (
	ColVersionID = "version_id"
	ColVersioned = "versioned"
)

// DefaultUniverseLimit bounds how many universe labels a record may
// carry when the entity does not configure its own limit.
const DefaultUniverseLimit = 1

// RetentionKind selects the version-retention policy.
type RetentionKind string

const (
	// RetainVersions keeps the N most recent versions.
	RetainVersions RetentionKind = "versions"
	// RetainDays keeps versions created within the last N days.
	RetainDays RetentionKind = "days"
)

// RetentionPolicy bounds an entity's version history.
type RetentionPolicy struct {
	Kind   RetentionKind `yaml:"kind"`
	Amount int           `yaml:"amount"`
}

// Validate checks the policy is one of the two supported forms.
func (p RetentionPolicy) Validate() error {
	if p.Kind != RetainVersions && p.Kind != RetainDays {
		return fmt.Errorf("unknown retention kind %q", p.Kind)
	}
	if p.Amount <= 0 {
		return fmt.Errorf("retention amount must be positive, got %d", p.Amount)
	}
	return nil
}

// DefaultRow is a row installed once at build time. The id is fixed and
// caller-supplied so repeated builds stay idempotent; a generated id
// would reinstall the row on every start.
type DefaultRow struct {
	ID     string         `yaml:"id"`
	Fields map[string]any `yaml:"fields"`
}

// Entity is the declarative definition of one persisted entity type.
type Entity struct {
	// Name is the process-unique entity name, used as the table name
	// and the HTTP path namespace.
	Name string `yaml:"entity"`

	// Columns maps declared field names to their storage types.
	Columns map[string]ColumnType `yaml:"columns"`

	// Versioning enables bounded version history when non-nil.
	Versioning *RetentionPolicy `yaml:"versioning,omitempty"`

	// UniverseLimit bounds universe labels per record. Zero means
	// DefaultUniverseLimit.
	UniverseLimit int `yaml:"universe_limit,omitempty"`

	// Sample marks a definition that exists for illustration only and
	// must never be built.
	Sample bool `yaml:"sample,omitempty"`

	// Defaults are rows installed at build time, keyed by fixed ids.
	Defaults []DefaultRow `yaml:"defaults,omitempty"`
}

// reservedColumns indexes the global column names.
var reservedColumns = map[string]bool{
	ColID:         true,
	ColCreated:    true,
	ColUpdated:    true,
	ColArchived:   true,
	ColAttributes: true,
	ColUniverses:  true,
}

// Reserved reports whether name is a global column name.
func Reserved(name string) bool {
	return reservedColumns[name]
}

// Validate checks an entity definition for structural problems:
// missing name, empty schema, reserved or invalid column names,
// unsupported column types, malformed retention policy, and default
// rows without a fixed id.
func (e Entity) Validate() error {
	var errs []string

	if e.Name == "" {
		errs = append(errs, "entity name is required")
	} else if !isValidIdentifier(e.Name) {
		errs = append(errs, fmt.Sprintf("entity name %q is not a valid identifier", e.Name))
	}

	if len(e.Columns) == 0 {
		errs = append(errs, "entity must declare at least one column")
	}

	for _, name := range sortedNames(e.Columns) {
		t := e.Columns[name]
		if Reserved(name) {
			errs = append(errs, fmt.Sprintf("column %q collides with a reserved global column", name))
		}
		if !isValidIdentifier(name) {
			errs = append(errs, fmt.Sprintf("column name %q is not a valid identifier", name))
		}
		if !t.Valid() {
			errs = append(errs, fmt.Sprintf("column %q has unsupported type %q", name, t))
		}
	}

	if e.Versioning != nil {
		if err := e.Versioning.Validate(); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if e.UniverseLimit < 0 {
		errs = append(errs, "universe_limit must not be negative")
	}

	for i, d := range e.Defaults {
		if d.ID == "" {
			errs = append(errs, fmt.Sprintf("default row %d has no id", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid entity %q: %s", e.Name, strings.Join(errs, "; "))
	}
	return nil
}

// EffectiveUniverseLimit returns the configured limit or the default.
func (e Entity) EffectiveUniverseLimit() int {
	if e.UniverseLimit > 0 {
		return e.UniverseLimit
	}
	return DefaultUniverseLimit
}

// ColumnSet builds the Column map for the declared fields.
func (e Entity) ColumnSet() map[string]Column {
	cols := make(map[string]Column, len(e.Columns))
	for name, t := range e.Columns {
		cols[name] = NewColumn(name, t)
	}
	return cols
}

// sortedNames returns map keys in deterministic order.
func sortedNames(m map[string]ColumnType) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// isValidIdentifier reports whether s is a safe lower_snake identifier
// usable as a table or column name.
func isValidIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c == '_':
		case c >= '0' && c <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
