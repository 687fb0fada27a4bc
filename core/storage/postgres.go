package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements Store on a PostgreSQL pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres opens a connection pool for the given DSN.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool.
func NewPostgresFromPool(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Close releases the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// EnsureCatalog creates the schema catalog table.
func (p *Postgres) EnsureCatalog(ctx context.Context) error {
	ddl := BuildCreateTableSQL(CatalogTable, []ColumnDef{
		{Name: "entity", SQLType: "TEXT", PrimaryKey: true},
		{Name: "columns", SQLType: "TEXT", NotNull: true},
		{Name: "created", SQLType: "TEXT", NotNull: true},
	})
	if _, err := p.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create catalog: %w", err)
	}
	return nil
}

// CatalogGet returns the recorded column set for an entity.
func (p *Postgres) CatalogGet(ctx context.Context, entity string) (map[string]string, bool, error) {
	var encoded string
	err := p.pool.QueryRow(ctx,
		"SELECT columns FROM "+CatalogTable+" WHERE entity = $1", entity,
	).Scan(&encoded)
	if errors.Is(err, pgx.ErrNoRows) {
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
func (p *Postgres) CatalogPut(ctx context.Context, entity string, columns map[string]string, created string) error {
	encoded, err := encodeCatalogColumns(columns)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx,
		"INSERT INTO "+CatalogTable+" (entity, columns, created) VALUES ($1, $2, $3)",
		entity, encoded, created,
	)
	if err != nil {
		return fmt.Errorf("catalog insert %q: %w", entity, err)
	}
	return nil
}

// CreateTable issues CREATE TABLE IF NOT EXISTS.
func (p *Postgres) CreateTable(ctx context.Context, table string, cols []ColumnDef) error {
	if _, err := p.pool.Exec(ctx, BuildCreateTableSQL(table, cols)); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	return nil
}

// Insert adds a row.
func (p *Postgres) Insert(ctx context.Context, table string, row Row) error {
	insertSQL, values := buildInsertPostgres(table, row)
	if _, err := p.pool.Exec(ctx, insertSQL, values...); err != nil {
		if isPgDuplicate(err) {
			return fmt.Errorf("insert into %s: %w", table, ErrDuplicate)
		}
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	return nil
}

// Get returns the row with the given id, or nil when absent.
func (p *Postgres) Get(ctx context.Context, table, id string) (Row, error) {
	rows, err := p.pool.Query(ctx, "SELECT * FROM "+table+" WHERE id = $1", id)
	if err != nil {
		return nil, fmt.Errorf("get from %s: %w", table, err)
	}

	results, err := collectPgRows(rows)
	if err != nil {
		return nil, fmt.Errorf("get from %s: %w", table, err)
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results[0], nil
}

// List returns rows ordered oldest-first by created timestamp.
func (p *Postgres) List(ctx context.Context, table string, opts ListOptions) ([]Row, error) {
	query := "SELECT * FROM " + table
	switch {
	case opts.ArchivedOnly:
		query += " WHERE archived = TRUE"
	case !opts.IncludeArchived:
		query += " WHERE archived = FALSE"
	}
	query += " ORDER BY created ASC, id ASC"

	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}

	results, err := collectPgRows(rows)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	return results, nil
}

// Update sets the given fields on one row.
func (p *Postgres) Update(ctx context.Context, table, id string, fields Row) error {
	updateSQL, values := buildUpdatePostgres(table, id, fields)

	tag, err := p.pool.Exec(ctx, updateSQL, values...)
	if err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update %s id %q: %w", table, id, ErrNotFound)
	}
	return nil
}

// Delete removes one row.
func (p *Postgres) Delete(ctx context.Context, table, id string) error {
	tag, err := p.pool.Exec(ctx, "DELETE FROM "+table+" WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete from %s id %q: %w", table, id, ErrNotFound)
	}
	return nil
}

// ListVersions returns all history rows for a record id.
func (p *Postgres) ListVersions(ctx context.Context, historyTable, recordID string) ([]Row, error) {
	rows, err := p.pool.Query(ctx,
		"SELECT * FROM "+historyTable+" WHERE id = $1 ORDER BY versioned ASC, version_id ASC",
		recordID,
	)
	if err != nil {
		return nil, fmt.Errorf("list versions %s: %w", historyTable, err)
	}

	results, err := collectPgRows(rows)
	if err != nil {
		return nil, fmt.Errorf("list versions %s: %w", historyTable, err)
	}
	return results, nil
}

// DeleteVersion removes one history row by version id.
func (p *Postgres) DeleteVersion(ctx context.Context, historyTable, versionID string) error {
	tag, err := p.pool.Exec(ctx,
		"DELETE FROM "+historyTable+" WHERE version_id = $1", versionID,
	)
	if err != nil {
		return fmt.Errorf("delete version from %s: %w", historyTable, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete version %q: %w", versionID, ErrNotFound)
	}
	return nil
}

// SnapshotUpdate inserts a history snapshot and updates the live row
// in one transaction.
func (p *Postgres) SnapshotUpdate(ctx context.Context, table, historyTable, id string, snapshot Row, fields Row) error {
	return p.inTx(ctx, func(tx pgx.Tx) error {
		insertSQL, values := buildInsertPostgres(historyTable, snapshot)
		if _, err := tx.Exec(ctx, insertSQL, values...); err != nil {
			if isPgDuplicate(err) {
				return fmt.Errorf("insert into %s: %w", historyTable, ErrDuplicate)
			}
			return fmt.Errorf("insert into %s: %w", historyTable, err)
		}

		updateSQL, values := buildUpdatePostgres(table, id, fields)
		tag, err := tx.Exec(ctx, updateSQL, values...)
		if err != nil {
			return fmt.Errorf("update %s: %w", table, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("update %s id %q: %w", table, id, ErrNotFound)
		}
		return nil
	})
}

// SnapshotDelete inserts a history snapshot and deletes the live row
// in one transaction.
func (p *Postgres) SnapshotDelete(ctx context.Context, table, historyTable, id string, snapshot Row) error {
	return p.inTx(ctx, func(tx pgx.Tx) error {
		insertSQL, values := buildInsertPostgres(historyTable, snapshot)
		if _, err := tx.Exec(ctx, insertSQL, values...); err != nil {
			if isPgDuplicate(err) {
				return fmt.Errorf("insert into %s: %w", historyTable, ErrDuplicate)
			}
			return fmt.Errorf("insert into %s: %w", historyTable, err)
		}

		tag, err := tx.Exec(ctx, "DELETE FROM "+table+" WHERE id = $1", id)
		if err != nil {
			return fmt.Errorf("delete from %s: %w", table, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("delete from %s id %q: %w", table, id, ErrNotFound)
		}
		return nil
	})
}

// inTx runs fn inside a transaction, rolling back on error.
func (p *Postgres) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// buildInsertPostgres builds an INSERT statement with $n placeholders.
func buildInsertPostgres(table string, row Row) (string, []any) {
	cols := sortedColumns(row)
	placeholders := make([]string, len(cols))
	values := make([]any, len(cols))
	for i, c := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		values[i] = row[c]
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "),
	), values
}

// buildUpdatePostgres builds an UPDATE statement with $n placeholders.
func buildUpdatePostgres(table, id string, fields Row) (string, []any) {
	cols := sortedColumns(fields)
	sets := make([]string, len(cols))
	values := make([]any, 0, len(cols)+1)
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = $%d", c, i+1)
		values = append(values, fields[c])
	}
	values = append(values, id)

	return fmt.Sprintf(
		"UPDATE %s SET %s WHERE id = $%d",
		table, strings.Join(sets, ", "), len(cols)+1,
	), values
}

// isPgDuplicate reports a unique violation (SQLSTATE 23505).
func isPgDuplicate(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// collectPgRows reads all rows into maps keyed by column name.
func collectPgRows(rows pgx.Rows) ([]Row, error) {
	defer rows.Close()

	var results []Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}

		row := make(Row, len(values))
		for i, desc := range rows.FieldDescriptions() {
			row[string(desc.Name)] = values[i]
		}
		results = append(results, row)
	}
	return results, rows.Err()
}
