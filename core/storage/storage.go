// Package storage provides the relational store consumed by the entity
// core. Table and column names are trusted, schema-derived identifiers
// interpolated into statements; all values are parameterized.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Row is one stored record, keyed by column name.
type Row = map[string]any

// Sentinel errors shared by every Store implementation.
var (
	// ErrNotFound reports that no row matched the given id.
	ErrNotFound = errors.New("row not found")

	// ErrDuplicate reports a primary-key collision on insert.
	ErrDuplicate = errors.New("duplicate id")
)

// ColumnDef defines one column of a table to create.
type ColumnDef struct {
	Name       string
	SQLType    string
	PrimaryKey bool
	NotNull    bool
}

// ListOptions configures list queries.
type ListOptions struct {
	// IncludeArchived includes archived rows alongside live ones.
	IncludeArchived bool

	// ArchivedOnly returns archived rows exclusively.
	ArchivedOnly bool
}

// Store is the persistence contract of the entity core. Every
// multi-statement sequence (snapshot-then-update, snapshot-then-delete)
// runs inside a single transaction so a crash cannot leave a version
// row without its matching live-row change.
type Store interface {
	// EnsureCatalog creates the schema catalog table.
	EnsureCatalog(ctx context.Context) error

	// CatalogGet returns the recorded column set for an entity.
	CatalogGet(ctx context.Context, entity string) (columns map[string]string, found bool, err error)

	// CatalogPut records an entity's column set.
	CatalogPut(ctx context.Context, entity string, columns map[string]string, created string) error

	// CreateTable issues CREATE TABLE IF NOT EXISTS.
	CreateTable(ctx context.Context, table string, cols []ColumnDef) error

	// Insert adds a row. A primary-key collision returns ErrDuplicate.
	Insert(ctx context.Context, table string, row Row) error

	// Get returns the row with the given id, or nil when absent.
	Get(ctx context.Context, table, id string) (Row, error)

	// List returns rows ordered oldest-first by created timestamp.
	List(ctx context.Context, table string, opts ListOptions) ([]Row, error)

	// Update sets the given fields on one row. ErrNotFound when the id
	// does not exist.
	Update(ctx context.Context, table, id string, fields Row) error

	// Delete removes one row. ErrNotFound when the id does not exist.
	Delete(ctx context.Context, table, id string) error

	// ListVersions returns all history rows for a record id, ordered
	// oldest-first by version timestamp.
	ListVersions(ctx context.Context, historyTable, recordID string) ([]Row, error)

	// DeleteVersion removes one history row by version id.
	DeleteVersion(ctx context.Context, historyTable, versionID string) error

	// SnapshotUpdate inserts a history snapshot and updates the live
	// row in one transaction.
	SnapshotUpdate(ctx context.Context, table, historyTable, id string, snapshot Row, fields Row) error

	// SnapshotDelete inserts a history snapshot and deletes the live
	// row in one transaction.
	SnapshotDelete(ctx context.Context, table, historyTable, id string, snapshot Row) error

	// Close releases the underlying connection or pool.
	Close() error
}

// CatalogTable is the name of the schema catalog table.
const CatalogTable = "strata_catalog"

// BuildCreateTableSQL generates portable CREATE TABLE SQL.
func BuildCreateTableSQL(table string, cols []ColumnDef) string {
	parts := make([]string, 0, len(cols))
	for _, c := range cols {
		p := c.Name + " " + c.SQLType
		if c.PrimaryKey {
			p += " PRIMARY KEY"
		}
		if c.NotNull && !c.PrimaryKey {
			p += " NOT NULL"
		}
		parts = append(parts, p)
	}

	return fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (\n  %s\n)",
		table,
		strings.Join(parts, ",\n  "),
	)
}

// encodeCatalogColumns serializes a column set for the catalog.
func encodeCatalogColumns(columns map[string]string) (string, error) {
	encoded, err := json.Marshal(columns)
	if err != nil {
		return "", fmt.Errorf("encode catalog columns: %w", err)
	}
	return string(encoded), nil
}

// decodeCatalogColumns parses a catalog column set.
func decodeCatalogColumns(encoded string) (map[string]string, error) {
	var columns map[string]string
	if err := json.Unmarshal([]byte(encoded), &columns); err != nil {
		return nil, fmt.Errorf("decode catalog columns: %w", err)
	}
	return columns, nil
}

// sortedColumns returns a row's column names in deterministic order so
// generated statements are stable.
func sortedColumns(row Row) []string {
	cols := make([]string, 0, len(row))
	for c := range row {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}
