package entity

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/stratakit/strata/core/events"
	"github.com/stratakit/strata/core/schema"
	"github.com/stratakit/strata/core/storage"
)

// Record is a live handle over one persisted row. The in-memory state
// is a cache: every mutation writes through to storage first and the
// mirror changes only after the write succeeds. Concurrent updates to
// the same id are not serialized by this layer; the last write wins.
type Record struct {
	def *Definition

	id         string
	created    string
	updated    string
	archived   bool
	attributes []string
	universes  []string
	fields     map[string]any
}

// ID returns the record id.
func (r *Record) ID() string { return r.id }

// Created returns the creation timestamp.
func (r *Record) Created() string { return r.created }

// Updated returns the last-update timestamp.
func (r *Record) Updated() string { return r.updated }

// Archived reports the soft-delete flag.
func (r *Record) Archived() bool { return r.archived }

// Field returns one declared field's value.
func (r *Record) Field(name string) (any, bool) {
	v, ok := r.fields[name]
	return v, ok
}

// Fields returns a copy of the declared fields.
func (r *Record) Fields() map[string]any {
	fields := make(map[string]any, len(r.fields))
	for k, v := range r.fields {
		fields[k] = v
	}
	return fields
}

// Data returns the full record, global columns included. This is the
// payload for events and broadcasts.
func (r *Record) Data() map[string]any {
	data := r.Fields()
	data[schema.ColID] = r.id
	data[schema.ColCreated] = r.created
	data[schema.ColUpdated] = r.updated
	data[schema.ColArchived] = r.archived
	data[schema.ColAttributes] = append([]string{}, r.attributes...)
	data[schema.ColUniverses] = append([]string{}, r.universes...)
	return data
}

// storageRow rebuilds the record's current state in storage form.
func (r *Record) storageRow() storage.Row {
	row := storage.Row{
		schema.ColID:         r.id,
		schema.ColCreated:    r.created,
		schema.ColUpdated:    r.updated,
		schema.ColArchived:   r.archived,
		schema.ColAttributes: encodeTags(r.attributes),
		schema.ColUniverses:  encodeTags(r.universes),
	}
	for k, v := range r.fields {
		row[k] = v
	}
	return row
}

// snapshotRow builds a history row capturing the record's current
// state under a fresh version id.
func (r *Record) snapshotRow(now string) storage.Row {
	snap := r.storageRow()
	snap[schema.ColVersionID] = r.def.idgen.New()
	snap[schema.ColVersioned] = now
	return snap
}

// writeThrough persists fields on the live row, snapshotting first
// when version history is enabled. The snapshot and the mutation share
// one transaction.
func (r *Record) writeThrough(ctx context.Context, fields storage.Row, now string) error {
	if r.def.Versioned() {
		if err := r.def.store.SnapshotUpdate(ctx, r.def.Table(), r.def.HistoryTable(), r.id, r.snapshotRow(now), fields); err != nil {
			return err
		}
		r.def.bus.Publish(ctx, events.Event{Name: events.Version, Entity: r.def.Name(), Record: r.Data()})
		return nil
	}
	return r.def.store.Update(ctx, r.def.Table(), r.id, fields)
}

// Update persists a subset of declared fields. A partial that fails
// validation leaves the stored row and the mirror untouched. On
// success the updated timestamp is refreshed and an update event is
// emitted.
func (r *Record) Update(ctx context.Context, partial map[string]any) error {
	if err := r.def.ensureBuilt(); err != nil {
		return err
	}
	if err := r.def.validatePartial(partial); err != nil {
		return err
	}
	partial = r.def.canonicalFields(partial)

	now := r.def.now()
	fields := storage.Row{schema.ColUpdated: now}
	for k, v := range partial {
		fields[k] = v
	}

	if err := r.writeThrough(ctx, fields, now); err != nil {
		return err
	}

	for k, v := range partial {
		r.fields[k] = v
	}
	r.updated = now

	r.def.bus.Publish(ctx, events.Event{Name: events.Update, Entity: r.def.Name(), Record: r.Data()})
	return nil
}

// Delete snapshots the record when version history is enabled, removes
// the row and emits a delete event after the removal durably succeeds.
// The handle must not be used afterwards.
func (r *Record) Delete(ctx context.Context) error {
	if err := r.def.ensureBuilt(); err != nil {
		return err
	}

	if r.def.Versioned() {
		now := r.def.now()
		if err := r.def.store.SnapshotDelete(ctx, r.def.Table(), r.def.HistoryTable(), r.id, r.snapshotRow(now)); err != nil {
			return err
		}
		r.def.bus.Publish(ctx, events.Event{Name: events.Version, Entity: r.def.Name(), Record: r.Data()})
	} else {
		if err := r.def.store.Delete(ctx, r.def.Table(), r.id); err != nil {
			return err
		}
	}

	r.def.bus.Publish(ctx, events.Event{Name: events.Delete, Entity: r.def.Name(), Record: r.Data()})
	return nil
}

// SetArchived flips the soft-delete flag and emits archive or
// unarchive. Archived records drop out of default listings but remain
// addressable by id.
func (r *Record) SetArchived(ctx context.Context, archived bool) error {
	if err := r.def.ensureBuilt(); err != nil {
		return err
	}

	now := r.def.now()
	err := r.def.store.Update(ctx, r.def.Table(), r.id, storage.Row{
		schema.ColArchived: archived,
		schema.ColUpdated:  now,
	})
	if err != nil {
		return err
	}

	r.archived = archived
	r.updated = now

	name := events.Archive
	if !archived {
		name = events.Unarchive
	}
	r.def.bus.Publish(ctx, events.Event{Name: name, Entity: r.def.Name(), Record: r.Data()})
	return nil
}

// Attributes returns the record's tag list.
func (r *Record) Attributes() []string {
	return append([]string{}, r.attributes...)
}

// SetAttributes replaces the record's tag list.
func (r *Record) SetAttributes(ctx context.Context, attributes []string) error {
	if err := r.def.ensureBuilt(); err != nil {
		return err
	}

	if attributes == nil {
		attributes = []string{}
	}

	now := r.def.now()
	err := r.def.store.Update(ctx, r.def.Table(), r.id, storage.Row{
		schema.ColAttributes: encodeTags(attributes),
		schema.ColUpdated:    now,
	})
	if err != nil {
		return err
	}

	r.attributes = append([]string{}, attributes...)
	r.updated = now

	r.def.bus.Publish(ctx, events.Event{Name: events.Update, Entity: r.def.Name(), Record: r.Data()})
	return nil
}

// AddAttributes appends tags the record does not already carry.
func (r *Record) AddAttributes(ctx context.Context, attributes ...string) error {
	existing := make(map[string]bool, len(r.attributes))
	for _, a := range r.attributes {
		existing[a] = true
	}

	merged := append([]string{}, r.attributes...)
	for _, a := range attributes {
		if !existing[a] {
			merged = append(merged, a)
			existing[a] = true
		}
	}

	return r.SetAttributes(ctx, merged)
}

// RemoveAttribute drops one tag. Removing a tag the record does not
// carry is a no-op write.
func (r *Record) RemoveAttribute(ctx context.Context, attribute string) error {
	remaining := make([]string, 0, len(r.attributes))
	for _, a := range r.attributes {
		if a != attribute {
			remaining = append(remaining, a)
		}
	}
	return r.SetAttributes(ctx, remaining)
}

// Universes returns the record's universe labels.
func (r *Record) Universes() []string {
	return append([]string{}, r.universes...)
}

// SetUniverses replaces the record's universe labels. Exceeding the
// entity's universe limit fails before anything is written.
func (r *Record) SetUniverses(ctx context.Context, universes []string) error {
	if err := r.def.ensureBuilt(); err != nil {
		return err
	}

	if universes == nil {
		universes = []string{}
	}
	if limit := r.def.UniverseLimit(); len(universes) > limit {
		return &UniverseLimitError{Entity: r.def.Name(), Limit: limit, Requested: len(universes)}
	}

	now := r.def.now()
	err := r.def.store.Update(ctx, r.def.Table(), r.id, storage.Row{
		schema.ColUniverses: encodeTags(universes),
		schema.ColUpdated:   now,
	})
	if err != nil {
		return err
	}

	r.universes = append([]string{}, universes...)
	r.updated = now

	r.def.bus.Publish(ctx, events.Event{Name: events.Update, Entity: r.def.Name(), Record: r.Data()})
	return nil
}

// VersionHistory loads this record's surviving versions, oldest-first.
// Schema-invalid history rows are dropped; versions outside the
// retention policy are deleted as a side effect of the read, so
// retention needs no background sweep.
func (r *Record) VersionHistory(ctx context.Context) ([]*Version, error) {
	if err := r.def.ensureBuilt(); err != nil {
		return nil, err
	}
	if !r.def.Versioned() {
		return nil, fmt.Errorf("entity %q: %w", r.def.Name(), ErrHistoryDisabled)
	}

	rows, err := r.def.store.ListVersions(ctx, r.def.HistoryTable(), r.id)
	if err != nil {
		return nil, err
	}

	versions := make([]*Version, 0, len(rows))
	for _, row := range rows {
		v, err := r.def.versionFromRow(row)
		if err != nil {
			var corrupt *CorruptRowError
			if errors.As(err, &corrupt) {
				r.def.logger.Warn().
					Str("id", r.id).
					Str("reason", corrupt.Reason).
					Msg("skipping invalid version row")
				continue
			}
			return nil, err
		}
		versions = append(versions, v)
	}

	sort.Slice(versions, func(i, j int) bool {
		if versions[i].versionedAt != versions[j].versionedAt {
			return versions[i].versionedAt < versions[j].versionedAt
		}
		return versions[i].versionID < versions[j].versionID
	})

	keep, prune := applyRetention(*r.def.Retention(), r.def.clock.Now(), versions)
	pruned := 0
	for _, v := range prune {
		if err := r.def.store.DeleteVersion(ctx, r.def.HistoryTable(), v.versionID); err != nil {
			r.def.logger.Warn().
				Err(err).
				Str("version_id", v.versionID).
				Msg("pruning version failed")
			continue
		}
		pruned++
	}
	if pruned > 0 && r.def.pruned != nil {
		r.def.pruned(r.def.Name(), pruned)
	}

	return keep, nil
}
