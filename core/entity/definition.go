// Package entity implements the persistent-entity core: schema-typed
// definitions over a relational store, live record handles, bounded
// version history, and lifecycle events.
package entity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stratakit/strata/core/events"
	"github.com/stratakit/strata/core/schema"
	"github.com/stratakit/strata/core/storage"
	"github.com/stratakit/strata/ports"
)

// TimeLayout is the timestamp format for the created, updated and
// versioned columns. Fixed-width UTC so lexicographic order matches
// chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Registrar accepts a definition into a process-wide registry.
// Implemented by registry.Registry; an interface here keeps the
// dependency pointing outward.
type Registrar interface {
	Register(d *Definition) error
}

// Deps carries a definition's collaborators.
type Deps struct {
	// Store is the relational store. Required.
	Store storage.Store

	// Registrar receives the definition at construction. Required;
	// a duplicate name is a construction error.
	Registrar Registrar

	// Clock supplies timestamps. Defaults to the system clock.
	Clock ports.Clock

	// IDs generates record and version ids. Defaults to random UUIDs.
	IDs ports.IDGenerator

	// Logger for build and retention logging.
	Logger zerolog.Logger

	// Pruned is called with the number of version rows retention
	// removed during a history read. Optional.
	Pruned func(entity string, count int)
}

// Definition is the schema registry, CRUD engine, version-retention
// engine and endpoint source for one entity type. Process-lifetime
// singleton keyed by its globally unique name.
type Definition struct {
	spec        schema.Entity
	columns     map[string]schema.Column
	columnNames []string // sorted

	store  storage.Store
	clock  ports.Clock
	idgen  ports.IDGenerator
	pruned func(entity string, count int)
	logger zerolog.Logger
	bus    *events.Bus

	mu       sync.Mutex
	built    bool
	building bool
	routes   map[string]http.Handler
}

// systemClock is the fallback clock.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// uuidGen is the fallback id generator.
type uuidGen struct{}

func (uuidGen) New() string { return uuid.NewString() }

// New validates the entity definition, builds its column map and
// registers it. The name must be process-unique and no declared column
// may collide with a reserved global column.
func New(spec schema.Entity, deps Deps) (*Definition, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("entity %q: store is required", spec.Name)
	}
	if deps.Registrar == nil {
		return nil, fmt.Errorf("entity %q: registrar is required", spec.Name)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	if deps.Clock == nil {
		deps.Clock = systemClock{}
	}
	if deps.IDs == nil {
		deps.IDs = uuidGen{}
	}

	columns := spec.ColumnSet()
	names := make([]string, 0, len(columns))
	for name := range columns {
		names = append(names, name)
	}
	sort.Strings(names)

	d := &Definition{
		spec:        spec,
		columns:     columns,
		columnNames: names,
		store:       deps.Store,
		clock:       deps.Clock,
		idgen:       deps.IDs,
		pruned:      deps.Pruned,
		logger:      deps.Logger.With().Str("entity", spec.Name).Logger(),
		bus:         events.NewBus(deps.Logger),
		routes:      make(map[string]http.Handler),
	}

	if err := deps.Registrar.Register(d); err != nil {
		return nil, err
	}

	return d, nil
}

// Name returns the entity name.
func (d *Definition) Name() string { return d.spec.Name }

// Table returns the primary table name.
func (d *Definition) Table() string { return d.spec.Name }

// HistoryTable returns the version-history table name.
func (d *Definition) HistoryTable() string { return d.spec.Name + "_history" }

// Columns returns the declared column map.
func (d *Definition) Columns() map[string]schema.Column {
	cols := make(map[string]schema.Column, len(d.columns))
	for name, col := range d.columns {
		cols[name] = col
	}
	return cols
}

// Versioned reports whether version history is enabled.
func (d *Definition) Versioned() bool { return d.spec.Versioning != nil }

// Retention returns the retention policy, nil when unversioned.
func (d *Definition) Retention() *schema.RetentionPolicy { return d.spec.Versioning }

// UniverseLimit returns the effective universe label limit.
func (d *Definition) UniverseLimit() int { return d.spec.EffectiveUniverseLimit() }

// Events returns the definition's event bus.
func (d *Definition) Events() *events.Bus { return d.bus }

// Built reports whether Build has completed.
func (d *Definition) Built() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.built
}

// AddRoute registers an extra endpoint under the entity's path
// namespace. Routes may only be added before the definition is built.
func (d *Definition) AddRoute(action string, handler http.Handler) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.built {
		return fmt.Errorf("%w: routes must be added before build", ErrAlreadyBuilt)
	}
	if _, exists := d.routes[action]; exists {
		return fmt.Errorf("route %q already added for entity %q", action, d.spec.Name)
	}
	d.routes[action] = handler
	return nil
}

// ExtraRoutes returns the caller-registered endpoints.
func (d *Definition) ExtraRoutes() map[string]http.Handler {
	d.mu.Lock()
	defer d.mu.Unlock()
	routes := make(map[string]http.Handler, len(d.routes))
	for action, h := range d.routes {
		routes[action] = h
	}
	return routes
}

// Build provisions the definition: it verifies the cataloged schema,
// creates the primary (and history) tables, installs default rows and
// marks the definition built. Single use; a second call fails.
func (d *Definition) Build(ctx context.Context) error {
	d.mu.Lock()
	if d.built || d.building {
		d.mu.Unlock()
		return ErrAlreadyBuilt
	}
	d.building = true
	d.mu.Unlock()

	if err := d.provision(ctx); err != nil {
		d.mu.Lock()
		d.building = false
		d.mu.Unlock()
		return err
	}

	d.mu.Lock()
	d.built = true
	d.building = false
	d.mu.Unlock()

	d.logger.Info().
		Int("columns", len(d.columns)).
		Bool("versioned", d.Versioned()).
		Msg("entity built")

	d.bus.Publish(ctx, events.Event{Name: events.Build, Entity: d.spec.Name})
	return nil
}

// provision creates the catalog entry, tables and default rows.
func (d *Definition) provision(ctx context.Context) error {
	if d.spec.Sample {
		return ErrSampleBuild
	}

	if err := d.store.EnsureCatalog(ctx); err != nil {
		return err
	}
	if err := d.checkCatalog(ctx); err != nil {
		return err
	}

	if err := d.store.CreateTable(ctx, d.Table(), d.tableColumns()); err != nil {
		return err
	}
	if d.Versioned() {
		if err := d.store.CreateTable(ctx, d.HistoryTable(), d.historyColumns()); err != nil {
			return err
		}
	}

	return d.installDefaults(ctx)
}

// checkCatalog verifies the declared column set against the catalog,
// inserting a catalog entry on first build. Any mismatch with an
// existing entry is schema drift and fails the build.
func (d *Definition) checkCatalog(ctx context.Context) error {
	declared := make(map[string]string, len(d.columns))
	for name, col := range d.columns {
		declared[name] = string(col.SQLType)
	}

	recorded, found, err := d.store.CatalogGet(ctx, d.spec.Name)
	if err != nil {
		return err
	}
	if !found {
		return d.store.CatalogPut(ctx, d.spec.Name, declared, d.now())
	}

	drift := &SchemaDriftError{Entity: d.spec.Name}
	for name := range recorded {
		if _, ok := declared[name]; !ok {
			drift.Missing = append(drift.Missing, name)
		}
	}
	for name, t := range declared {
		rec, ok := recorded[name]
		if !ok {
			drift.Extra = append(drift.Extra, name)
			continue
		}
		if rec != t {
			drift.Changed = append(drift.Changed, fmt.Sprintf("%s (%s -> %s)", name, rec, t))
		}
	}

	if len(drift.Missing) > 0 || len(drift.Extra) > 0 || len(drift.Changed) > 0 {
		sort.Strings(drift.Missing)
		sort.Strings(drift.Extra)
		sort.Strings(drift.Changed)
		return drift
	}
	return nil
}

// tableColumns returns the primary table's column definitions: the
// global columns followed by the declared ones.
func (d *Definition) tableColumns() []storage.ColumnDef {
	cols := []storage.ColumnDef{
		{Name: schema.ColID, SQLType: "TEXT", PrimaryKey: true},
		{Name: schema.ColCreated, SQLType: "TEXT", NotNull: true},
		{Name: schema.ColUpdated, SQLType: "TEXT", NotNull: true},
		{Name: schema.ColArchived, SQLType: "BOOLEAN", NotNull: true},
		{Name: schema.ColAttributes, SQLType: "TEXT", NotNull: true},
		{Name: schema.ColUniverses, SQLType: "TEXT", NotNull: true},
	}
	for _, name := range d.columnNames {
		cols = append(cols, storage.ColumnDef{Name: name, SQLType: d.columns[name].SQLType.SQL()})
	}
	return cols
}

// historyColumns returns the history table's column definitions: a
// version id and timestamp ahead of the full primary column set.
func (d *Definition) historyColumns() []storage.ColumnDef {
	cols := []storage.ColumnDef{
		{Name: schema.ColVersionID, SQLType: "TEXT", PrimaryKey: true},
		{Name: schema.ColVersioned, SQLType: "TEXT", NotNull: true},
	}
	for _, c := range d.tableColumns() {
		c.PrimaryKey = false
		c.NotNull = c.Name == schema.ColID
		cols = append(cols, c)
	}
	return cols
}

// installDefaults inserts the registered default rows. A default whose
// fixed id already exists is skipped, keeping repeated builds
// idempotent.
func (d *Definition) installDefaults(ctx context.Context) error {
	for _, def := range d.spec.Defaults {
		existing, err := d.store.Get(ctx, d.Table(), def.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}

		if err := d.validateFull(def.Fields); err != nil {
			return fmt.Errorf("default row %q: %w", def.ID, err)
		}

		now := d.now()
		row := d.assembleRow(def.ID, now, d.canonicalFields(def.Fields))
		if err := d.store.Insert(ctx, d.Table(), row); err != nil {
			return fmt.Errorf("default row %q: %w", def.ID, err)
		}

		d.logger.Debug().Str("id", def.ID).Msg("default row installed")
	}
	return nil
}

// ensureBuilt guards CRUD calls against unbuilt definitions.
func (d *Definition) ensureBuilt() error {
	if !d.Built() {
		return fmt.Errorf("entity %q: %w", d.spec.Name, ErrNotBuilt)
	}
	return nil
}

// now returns the current timestamp in storage format.
func (d *Definition) now() string {
	return d.clock.Now().UTC().Format(TimeLayout)
}

// assembleRow builds a full storage row for a fresh record.
func (d *Definition) assembleRow(id, now string, fields map[string]any) storage.Row {
	row := storage.Row{
		schema.ColID:         id,
		schema.ColCreated:    now,
		schema.ColUpdated:    now,
		schema.ColArchived:   false,
		schema.ColAttributes: encodeTags(nil),
		schema.ColUniverses:  encodeTags(nil),
	}
	for name, v := range fields {
		row[name] = v
	}
	return row
}

// NewRecord validates fields against the full schema, assigns the
// global columns, inserts the row and emits a create event. No record
// exists only in memory; the returned handle mirrors the durable row.
func (d *Definition) NewRecord(ctx context.Context, fields map[string]any) (*Record, error) {
	if err := d.ensureBuilt(); err != nil {
		return nil, err
	}
	if err := d.validateFull(fields); err != nil {
		return nil, err
	}
	fields = d.canonicalFields(fields)

	id := d.idgen.New()
	now := d.now()
	row := d.assembleRow(id, now, fields)

	if err := d.store.Insert(ctx, d.Table(), row); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, fmt.Errorf("entity %q id %q: %w", d.spec.Name, id, ErrDuplicateID)
		}
		return nil, err
	}

	rec, err := d.recordFromRow(row)
	if err != nil {
		return nil, err
	}

	d.bus.Publish(ctx, events.Event{Name: events.Create, Entity: d.spec.Name, Record: rec.Data()})
	return rec, nil
}

// FromID loads the record with the given id. Archived records remain
// addressable here; only listings exclude them.
func (d *Definition) FromID(ctx context.Context, id string) (*Record, error) {
	if err := d.ensureBuilt(); err != nil {
		return nil, err
	}

	row, err := d.store.Get(ctx, d.Table(), id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("entity %q id %q: %w", d.spec.Name, id, ErrNotFound)
	}

	return d.recordFromRow(row)
}

// All lists records oldest-first. Archived records are excluded unless
// includeArchived is set.
func (d *Definition) All(ctx context.Context, includeArchived bool) ([]*Record, error) {
	return d.list(ctx, storage.ListOptions{IncludeArchived: includeArchived})
}

// Archived lists archived records only, oldest-first.
func (d *Definition) Archived(ctx context.Context) ([]*Record, error) {
	return d.list(ctx, storage.ListOptions{ArchivedOnly: true})
}

func (d *Definition) list(ctx context.Context, opts storage.ListOptions) ([]*Record, error) {
	if err := d.ensureBuilt(); err != nil {
		return nil, err
	}

	rows, err := d.store.List(ctx, d.Table(), opts)
	if err != nil {
		return nil, err
	}

	records := make([]*Record, 0, len(rows))
	for _, row := range rows {
		rec, err := d.recordFromRow(row)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// recordFromRow validates and normalizes a stored row into a live
// handle. A row failing validation is corruption, never coerced.
func (d *Definition) recordFromRow(row storage.Row) (*Record, error) {
	table := d.Table()

	id, ok := row[schema.ColID].(string)
	if !ok || id == "" {
		return nil, &CorruptRowError{Table: table, ID: "", Reason: "missing id"}
	}

	created, ok := row[schema.ColCreated].(string)
	if !ok {
		return nil, &CorruptRowError{Table: table, ID: id, Reason: "missing created timestamp"}
	}
	updated, ok := row[schema.ColUpdated].(string)
	if !ok {
		return nil, &CorruptRowError{Table: table, ID: id, Reason: "missing updated timestamp"}
	}
	archived, ok := normalizeBool(row[schema.ColArchived])
	if !ok {
		return nil, &CorruptRowError{Table: table, ID: id, Reason: "archived flag is not boolean"}
	}

	attributes, err := decodeTags(table, id, schema.ColAttributes, row[schema.ColAttributes])
	if err != nil {
		return nil, err
	}
	universes, err := decodeTags(table, id, schema.ColUniverses, row[schema.ColUniverses])
	if err != nil {
		return nil, err
	}

	fields, err := d.normalizeFields(table, id, row)
	if err != nil {
		return nil, err
	}

	return &Record{
		def:        d,
		id:         id,
		created:    created,
		updated:    updated,
		archived:   archived,
		attributes: attributes,
		universes:  universes,
		fields:     fields,
	}, nil
}
