package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// SQLite implements Store on a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at path. Use ":memory:" for an
// in-memory store.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	// The store is shared process-wide; a single connection keeps
	// in-memory databases coherent across goroutines.
	db.SetMaxOpenConns(1)

	return &SQLite{db: db}, nil
}

// NewSQLiteFromDB wraps an existing connection.
func NewSQLiteFromDB(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

// DB returns the underlying database connection.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// EnsureCatalog creates the schema catalog table.
func (s *SQLite) EnsureCatalog(ctx context.Context) error {
	ddl := BuildCreateTableSQL(CatalogTable, []ColumnDef{
		{Name: "entity", SQLType: "TEXT", PrimaryKey: true},
		{Name: "columns", SQLType: "TEXT", NotNull: true},
		{Name: "created", SQLType: "TEXT", NotNull: true},
	})
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create catalog: %w", err)
	}
	return nil
}

// CatalogGet returns the recorded column set for an entity.
func (s *SQLite) CatalogGet(ctx context.Context, entity string) (map[string]string, bool, error) {
	var encoded string
	err := s.db.QueryRowContext(ctx,
		"SELECT columns FROM "+CatalogTable+" WHERE entity = ?", entity,
	).Scan(&encoded)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("catalog lookup %q: %w", entity, err)
	}

	columns, err := decodeCatalogColumns(encoded)
	if err != nil {
		return nil, false, fmt.Errorf("catalog entry %q: %w", entity, err)
	}
	return columns, true, nil
}

// CatalogPut records an entity's column set.
func (s *SQLite) CatalogPut(ctx context.Context, entity string, columns map[string]string, created string) error {
	encoded, err := encodeCatalogColumns(columns)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO "+CatalogTable+" (entity, columns, created) VALUES (?, ?, ?)",
		entity, encoded, created,
	)
	if err != nil {
		return fmt.Errorf("catalog insert %q: %w", entity, err)
	}
	return nil
}

// CreateTable issues CREATE TABLE IF NOT EXISTS.
func (s *SQLite) CreateTable(ctx context.Context, table string, cols []ColumnDef) error {
	if _, err := s.db.ExecContext(ctx, BuildCreateTableSQL(table, cols)); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	return nil
}

// Insert adds a row.
func (s *SQLite) Insert(ctx context.Context, table string, row Row) error {
	cols := sortedColumns(row)
	placeholders := make([]string, len(cols))
	values := make([]any, len(cols))
	for i, c := range cols {
		placeholders[i] = "?"
		values[i] = row[c]
	}

	insertSQL := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "),
	)

	if _, err := s.db.ExecContext(ctx, insertSQL, values...); err != nil {
		if isSQLiteConstraint(err) {
			return fmt.Errorf("insert into %s: %w", table, ErrDuplicate)
		}
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	return nil
}

// Get returns the row with the given id, or nil when absent.
func (s *SQLite) Get(ctx context.Context, table, id string) (Row, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT * FROM "+table+" WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("get from %s: %w", table, err)
	}
	defer rows.Close()

	results, err := scanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("get from %s: %w", table, err)
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results[0], nil
}

// List returns rows ordered oldest-first by created timestamp.
func (s *SQLite) List(ctx context.Context, table string, opts ListOptions) ([]Row, error) {
	query := "SELECT * FROM " + table
	switch {
	case opts.ArchivedOnly:
		query += " WHERE archived = 1"
	case !opts.IncludeArchived:
		query += " WHERE archived = 0"
	}
	query += " ORDER BY created ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer rows.Close()

	results, err := scanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	return results, nil
}

// Update sets the given fields on one row.
func (s *SQLite) Update(ctx context.Context, table, id string, fields Row) error {
	updateSQL, values := buildUpdateSQLite(table, id, fields)

	result, err := s.db.ExecContext(ctx, updateSQL, values...)
	if err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("update %s id %q: %w", table, id, ErrNotFound)
	}
	return nil
}

// Delete removes one row.
func (s *SQLite) Delete(ctx context.Context, table, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("delete from %s id %q: %w", table, id, ErrNotFound)
	}
	return nil
}

// ListVersions returns all history rows for a record id.
func (s *SQLite) ListVersions(ctx context.Context, historyTable, recordID string) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT * FROM "+historyTable+" WHERE id = ? ORDER BY versioned ASC, version_id ASC",
		recordID,
	)
	if err != nil {
		return nil, fmt.Errorf("list versions %s: %w", historyTable, err)
	}
	defer rows.Close()

	results, err := scanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("list versions %s: %w", historyTable, err)
	}
	return results, nil
}

// DeleteVersion removes one history row by version id.
func (s *SQLite) DeleteVersion(ctx context.Context, historyTable, versionID string) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM "+historyTable+" WHERE version_id = ?", versionID,
	)
	if err != nil {
		return fmt.Errorf("delete version from %s: %w", historyTable, err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("delete version %q: %w", versionID, ErrNotFound)
	}
	return nil
}

// SnapshotUpdate inserts a history snapshot and updates the live row
// in one transaction.
func (s *SQLite) SnapshotUpdate(ctx context.Context, table, historyTable, id string, snapshot Row, fields Row) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := insertTx(ctx, tx, historyTable, snapshot); err != nil {
			return err
		}

		updateSQL, values := buildUpdateSQLite(table, id, fields)
		result, err := tx.ExecContext(ctx, updateSQL, values...)
		if err != nil {
			return fmt.Errorf("update %s: %w", table, err)
		}
		affected, _ := result.RowsAffected()
		if affected == 0 {
			return fmt.Errorf("update %s id %q: %w", table, id, ErrNotFound)
		}
		return nil
	})
}

// SnapshotDelete inserts a history snapshot and deletes the live row
// in one transaction.
func (s *SQLite) SnapshotDelete(ctx context.Context, table, historyTable, id string, snapshot Row) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := insertTx(ctx, tx, historyTable, snapshot); err != nil {
			return err
		}

		result, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("delete from %s: %w", table, err)
		}
		affected, _ := result.RowsAffected()
		if affected == 0 {
			return fmt.Errorf("delete from %s id %q: %w", table, id, ErrNotFound)
		}
		return nil
	})
}

// inTx runs fn inside a transaction, rolling back on error.
func (s *SQLite) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// insertTx inserts a row inside a transaction.
func insertTx(ctx context.Context, tx *sql.Tx, table string, row Row) error {
	cols := sortedColumns(row)
	placeholders := make([]string, len(cols))
	values := make([]any, len(cols))
	for i, c := range cols {
		placeholders[i] = "?"
		values[i] = row[c]
	}

	insertSQL := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "),
	)

	if _, err := tx.ExecContext(ctx, insertSQL, values...); err != nil {
		if isSQLiteConstraint(err) {
			return fmt.Errorf("insert into %s: %w", table, ErrDuplicate)
		}
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	return nil
}

// buildUpdateSQLite builds an UPDATE statement with ? placeholders.
func buildUpdateSQLite(table, id string, fields Row) (string, []any) {
	cols := sortedColumns(fields)
	sets := make([]string, len(cols))
	values := make([]any, 0, len(cols)+1)
	for i, c := range cols {
		sets[i] = c + " = ?"
		values = append(values, fields[c])
	}
	values = append(values, id)

	return fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", table, strings.Join(sets, ", ")), values
}

// scanRows reads all rows into maps keyed by column name.
func scanRows(rows *sql.Rows) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []Row
	for rows.Next() {
		values := make([]any, len(cols))
		dest := make([]any, len(cols))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}

		row := make(Row, len(cols))
		for i, c := range cols {
			// TEXT columns come back as []byte from some drivers.
			if b, ok := values[i].([]byte); ok {
				row[c] = string(b)
				continue
			}
			row[c] = values[i]
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

// isSQLiteConstraint reports a primary-key or unique violation.
func isSQLiteConstraint(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrConstraint
	}
	return false
}
