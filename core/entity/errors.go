package entity

import (
	"errors"
	"fmt"
	"strings"
)

// ErrFatal marks conditions that indicate the running program's
// invariants are already violated: double builds, use of an unbuilt
// definition, corrupted stored data. These are programmer errors, not
// user errors; callers can separate them with errors.Is(err, ErrFatal).
var ErrFatal = errors.New("fatal entity error")

var (
	// ErrNotFound reports that no record exists for the given id.
	ErrNotFound = errors.New("record not found")

	// ErrHistoryDisabled reports a version-history operation on an
	// entity with no retention policy.
	ErrHistoryDisabled = errors.New("version history not enabled")

	// ErrDuplicateID reports an id collision on create.
	ErrDuplicateID = errors.New("duplicate record id")

	// ErrNotBuilt reports a CRUD call against an unbuilt definition.
	ErrNotBuilt = fmt.Errorf("%w: definition not built", ErrFatal)

	// ErrAlreadyBuilt reports a second Build call.
	ErrAlreadyBuilt = fmt.Errorf("%w: definition already built", ErrFatal)

	// ErrSampleBuild reports a Build call on a sample definition.
	ErrSampleBuild = fmt.Errorf("%w: sample definition must not be built", ErrFatal)
)

// SchemaDriftError reports a mismatch between a definition's declared
// columns and the column set recorded in the catalog. Drift is a guard,
// not a migration mechanism: the build fails and names the offenders.
type SchemaDriftError struct {
	Entity  string
	Missing []string // recorded in the catalog but no longer declared
	Extra   []string // declared but not recorded in the catalog
	Changed []string // declared with a different type than recorded
}

func (e *SchemaDriftError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing columns: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Extra) > 0 {
		parts = append(parts, "undeclared columns: "+strings.Join(e.Extra, ", "))
	}
	if len(e.Changed) > 0 {
		parts = append(parts, "retyped columns: "+strings.Join(e.Changed, ", "))
	}
	return fmt.Sprintf("entity %q drifted from its cataloged schema (%s)", e.Entity, strings.Join(parts, "; "))
}

// UniverseLimitError reports a universe mutation exceeding the
// per-entity limit. Nothing is written when this is returned.
type UniverseLimitError struct {
	Entity    string
	Limit     int
	Requested int
}

func (e *UniverseLimitError) Error() string {
	return fmt.Sprintf("entity %q allows %d universe label(s), got %d", e.Entity, e.Limit, e.Requested)
}

// ValidationError reports fields that do not match the declared schema.
type ValidationError struct {
	Entity   string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid data for entity %q: %s", e.Entity, strings.Join(e.Problems, "; "))
}

// CorruptRowError reports a stored row that no longer validates against
// its schema, or stored tags that are not a JSON string array. This is
// data corruption, not user error.
type CorruptRowError struct {
	Table  string
	ID     string
	Reason string
}

func (e *CorruptRowError) Error() string {
	return fmt.Sprintf("corrupt row %q in table %s: %s", e.ID, e.Table, e.Reason)
}

// Unwrap classifies corruption as fatal.
func (e *CorruptRowError) Unwrap() error {
	return ErrFatal
}
