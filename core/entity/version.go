package entity

import (
	"context"
	"fmt"

	"github.com/stratakit/strata/core/events"
	"github.com/stratakit/strata/core/schema"
	"github.com/stratakit/strata/core/storage"
)

// Version is an immutable point-in-time snapshot of a record, stored
// in the entity's history table. Immutable except for deletion.
type Version struct {
	def *Definition

	versionID   string
	versionedAt string
	recordID    string

	created    string
	updated    string
	archived   bool
	attributes []string
	universes  []string
	fields     map[string]any
}

// VersionID returns the snapshot's own id.
func (v *Version) VersionID() string { return v.versionID }

// VersionedAt returns the snapshot timestamp.
func (v *Version) VersionedAt() string { return v.versionedAt }

// RecordID returns the id of the record this snapshot belongs to.
func (v *Version) RecordID() string { return v.recordID }

// Fields returns a copy of the snapshot's declared fields.
func (v *Version) Fields() map[string]any {
	fields := make(map[string]any, len(v.fields))
	for k, f := range v.fields {
		fields[k] = f
	}
	return fields
}

// Data returns the full snapshot, global and version columns included.
func (v *Version) Data() map[string]any {
	data := v.Fields()
	data[schema.ColVersionID] = v.versionID
	data[schema.ColVersioned] = v.versionedAt
	data[schema.ColID] = v.recordID
	data[schema.ColCreated] = v.created
	data[schema.ColUpdated] = v.updated
	data[schema.ColArchived] = v.archived
	data[schema.ColAttributes] = append([]string{}, v.attributes...)
	data[schema.ColUniverses] = append([]string{}, v.universes...)
	return data
}

// Restore writes the snapshot's state back onto the live record. The
// live row's current state is snapshotted first, in the same
// transaction, so a restore is itself undoable. The record must still
// exist.
func (v *Version) Restore(ctx context.Context) error {
	if err := v.def.ensureBuilt(); err != nil {
		return err
	}

	liveRow, err := v.def.store.Get(ctx, v.def.Table(), v.recordID)
	if err != nil {
		return err
	}
	if liveRow == nil {
		return fmt.Errorf("entity %q id %q: %w", v.def.Name(), v.recordID, ErrNotFound)
	}
	live, err := v.def.recordFromRow(liveRow)
	if err != nil {
		return err
	}

	now := v.def.now()
	fields := storage.Row{
		schema.ColUpdated:    now,
		schema.ColArchived:   v.archived,
		schema.ColAttributes: encodeTags(v.attributes),
		schema.ColUniverses:  encodeTags(v.universes),
	}
	for k, f := range v.fields {
		fields[k] = f
	}

	err = v.def.store.SnapshotUpdate(ctx, v.def.Table(), v.def.HistoryTable(), v.recordID, live.snapshotRow(now), fields)
	if err != nil {
		return err
	}

	restored, err := v.def.FromID(ctx, v.recordID)
	if err != nil {
		return err
	}

	v.def.bus.Publish(ctx, events.Event{Name: events.RestoreVersion, Entity: v.def.Name(), Record: restored.Data()})
	return nil
}

// Delete removes this snapshot from the history table.
func (v *Version) Delete(ctx context.Context) error {
	if err := v.def.ensureBuilt(); err != nil {
		return err
	}

	if err := v.def.store.DeleteVersion(ctx, v.def.HistoryTable(), v.versionID); err != nil {
		return err
	}

	v.def.bus.Publish(ctx, events.Event{Name: events.DeleteVersion, Entity: v.def.Name(), Record: v.Data()})
	return nil
}

// versionFromRow validates and normalizes a stored history row.
func (d *Definition) versionFromRow(row storage.Row) (*Version, error) {
	table := d.HistoryTable()

	versionID, ok := row[schema.ColVersionID].(string)
	if !ok || versionID == "" {
		return nil, &CorruptRowError{Table: table, ID: "", Reason: "missing version id"}
	}
	versionedAt, ok := row[schema.ColVersioned].(string)
	if !ok {
		return nil, &CorruptRowError{Table: table, ID: versionID, Reason: "missing version timestamp"}
	}
	recordID, ok := row[schema.ColID].(string)
	if !ok || recordID == "" {
		return nil, &CorruptRowError{Table: table, ID: versionID, Reason: "missing record id"}
	}

	created, _ := row[schema.ColCreated].(string)
	updated, _ := row[schema.ColUpdated].(string)
	archived, ok := normalizeBool(row[schema.ColArchived])
	if !ok {
		return nil, &CorruptRowError{Table: table, ID: versionID, Reason: "archived flag is not boolean"}
	}

	attributes, err := decodeTags(table, versionID, schema.ColAttributes, row[schema.ColAttributes])
	if err != nil {
		return nil, err
	}
	universes, err := decodeTags(table, versionID, schema.ColUniverses, row[schema.ColUniverses])
	if err != nil {
		return nil, err
	}

	fields, err := d.normalizeFields(table, versionID, row)
	if err != nil {
		return nil, err
	}

	return &Version{
		def:         d,
		versionID:   versionID,
		versionedAt: versionedAt,
		recordID:    recordID,
		created:     created,
		updated:     updated,
		archived:    archived,
		attributes:  attributes,
		universes:   universes,
		fields:      fields,
	}, nil
}
