package entity_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratakit/strata/core/entity"
	"github.com/stratakit/strata/core/events"
	"github.com/stratakit/strata/core/schema"
)

func newBuiltVersionedTodos(t *testing.T, f *fixture, policy schema.RetentionPolicy) *entity.Definition {
	t.Helper()
	def, err := entity.New(versionedTodoSpec(policy), f.deps())
	require.NoError(t, err)
	require.NoError(t, def.Build(context.Background()))
	return def
}

func TestVersionHistoryDisabled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	def := newBuiltTodos(t, f)

	rec, err := def.NewRecord(ctx, todoFields("plain"))
	require.NoError(t, err)

	_, err = rec.VersionHistory(ctx)
	assert.ErrorIs(t, err, entity.ErrHistoryDisabled)
}

func TestUpdateSnapshotsPriorState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	def := newBuiltVersionedTodos(t, f, schema.RetentionPolicy{Kind: schema.RetainVersions, Amount: 10})

	rec, err := def.NewRecord(ctx, todoFields("v1"))
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	require.NoError(t, rec.Update(ctx, map[string]any{"title": "v2"}))
	f.clock.Advance(time.Minute)
	require.NoError(t, rec.Update(ctx, map[string]any{"title": "v3"}))

	versions, err := rec.VersionHistory(ctx)
	require.NoError(t, err)
	require.Len(t, versions, 2)

	// Oldest first: each snapshot holds the state before its update.
	first, _ := versions[0].Fields()["title"].(string)
	second, _ := versions[1].Fields()["title"].(string)
	assert.Equal(t, "v1", first)
	assert.Equal(t, "v2", second)
	assert.Equal(t, rec.ID(), versions[0].RecordID())
	assert.Less(t, versions[0].VersionedAt(), versions[1].VersionedAt())
}

func TestCountRetentionPrunesOnRead(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	def := newBuiltVersionedTodos(t, f, schema.RetentionPolicy{Kind: schema.RetainVersions, Amount: 2})

	rec, err := def.NewRecord(ctx, todoFields("v1"))
	require.NoError(t, err)
	for i := 2; i <= 6; i++ {
		f.clock.Advance(time.Minute)
		require.NoError(t, rec.Update(ctx, map[string]any{"title": fmt.Sprintf("v%d", i)}))
	}

	versions, err := rec.VersionHistory(ctx)
	require.NoError(t, err)
	require.Len(t, versions, 2)

	// The two newest snapshots survive.
	assert.Equal(t, "v4", versions[0].Fields()["title"])
	assert.Equal(t, "v5", versions[1].Fields()["title"])

	// Pruning removed the rest from storage, not just the result.
	rows, err := f.store.ListVersions(ctx, def.HistoryTable(), rec.ID())
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestRetentionReportsPrunedCount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	type pruned struct {
		entity string
		count  int
	}
	var reported []pruned

	deps := f.deps()
	deps.Pruned = func(entity string, count int) {
		reported = append(reported, pruned{entity, count})
	}
	def, err := entity.New(versionedTodoSpec(schema.RetentionPolicy{Kind: schema.RetainVersions, Amount: 2}), deps)
	require.NoError(t, err)
	require.NoError(t, def.Build(ctx))

	rec, err := def.NewRecord(ctx, todoFields("v1"))
	require.NoError(t, err)
	for i := 2; i <= 6; i++ {
		f.clock.Advance(time.Minute)
		require.NoError(t, rec.Update(ctx, map[string]any{"title": fmt.Sprintf("v%d", i)}))
	}

	_, err = rec.VersionHistory(ctx)
	require.NoError(t, err)
	require.Len(t, reported, 1)
	assert.Equal(t, pruned{"todos", 3}, reported[0])

	// Nothing left to prune on the next read.
	_, err = rec.VersionHistory(ctx)
	require.NoError(t, err)
	assert.Len(t, reported, 1)
}

func TestAgeRetentionPrunesOnRead(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	def := newBuiltVersionedTodos(t, f, schema.RetentionPolicy{Kind: schema.RetainDays, Amount: 7})

	rec, err := def.NewRecord(ctx, todoFields("old"))
	require.NoError(t, err)
	require.NoError(t, rec.Update(ctx, map[string]any{"title": "older snapshot"}))

	f.clock.Advance(5 * 24 * time.Hour)
	require.NoError(t, rec.Update(ctx, map[string]any{"title": "young snapshot"}))

	// Ten days after creation: the first snapshot has aged out, the
	// second is five days old and survives.
	f.clock.Advance(5 * 24 * time.Hour)

	versions, err := rec.VersionHistory(ctx)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, "older snapshot", versions[0].Fields()["title"])

	rows, err := f.store.ListVersions(ctx, def.HistoryTable(), rec.ID())
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestDeleteSnapshotsFinalState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	def := newBuiltVersionedTodos(t, f, schema.RetentionPolicy{Kind: schema.RetainVersions, Amount: 10})

	rec, err := def.NewRecord(ctx, todoFields("last words"))
	require.NoError(t, err)
	id := rec.ID()

	require.NoError(t, rec.Delete(ctx))

	_, err = def.FromID(ctx, id)
	assert.ErrorIs(t, err, entity.ErrNotFound)

	rows, err := f.store.ListVersions(ctx, def.HistoryTable(), id)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "last words", rows[0]["title"])
}

func TestRestoreBringsBackVersion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	def := newBuiltVersionedTodos(t, f, schema.RetentionPolicy{Kind: schema.RetainVersions, Amount: 10})

	var restored []events.Name
	require.NoError(t, def.Events().Subscribe(events.RestoreVersion, func(ctx context.Context, e events.Event) error {
		restored = append(restored, e.Name)
		return nil
	}))

	rec, err := def.NewRecord(ctx, map[string]any{"title": "v1", "done": false, "priority": 1})
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	require.NoError(t, rec.Update(ctx, map[string]any{"title": "v2", "priority": 9}))

	versions, err := rec.VersionHistory(ctx)
	require.NoError(t, err)
	require.Len(t, versions, 1)

	f.clock.Advance(time.Minute)
	require.NoError(t, versions[0].Restore(ctx))

	loaded, err := def.FromID(ctx, rec.ID())
	require.NoError(t, err)
	title, _ := loaded.Field("title")
	priority, _ := loaded.Field("priority")
	assert.Equal(t, "v1", title)
	assert.Equal(t, float64(1), priority)
	assert.Equal(t, rec.Created(), loaded.Created())
	assert.Len(t, restored, 1)

	// The restore itself snapshotted the pre-restore state.
	versions, err = loaded.VersionHistory(ctx)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, "v2", versions[1].Fields()["title"])
}

func TestRestoreRequiresLiveRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	def := newBuiltVersionedTodos(t, f, schema.RetentionPolicy{Kind: schema.RetainVersions, Amount: 10})

	rec, err := def.NewRecord(ctx, todoFields("gone"))
	require.NoError(t, err)
	id := rec.ID()
	require.NoError(t, rec.Delete(ctx))

	rows, err := f.store.ListVersions(ctx, def.HistoryTable(), id)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	// Rebuild a version handle via a fresh record's history machinery
	// is not possible once the record is gone, so restoring the
	// orphaned snapshot must fail at the live-row check.
	surviving, err := def.NewRecord(ctx, todoFields("alive"))
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	require.NoError(t, surviving.Update(ctx, map[string]any{"title": "changed"}))

	versions, err := surviving.VersionHistory(ctx)
	require.NoError(t, err)
	require.Len(t, versions, 1)

	require.NoError(t, surviving.Delete(ctx))
	err = versions[0].Restore(ctx)
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestVersionDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	def := newBuiltVersionedTodos(t, f, schema.RetentionPolicy{Kind: schema.RetainVersions, Amount: 10})

	var deleted int
	require.NoError(t, def.Events().Subscribe(events.DeleteVersion, func(ctx context.Context, e events.Event) error {
		deleted++
		return nil
	}))

	rec, err := def.NewRecord(ctx, todoFields("v1"))
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	require.NoError(t, rec.Update(ctx, map[string]any{"title": "v2"}))

	versions, err := rec.VersionHistory(ctx)
	require.NoError(t, err)
	require.Len(t, versions, 1)

	require.NoError(t, versions[0].Delete(ctx))
	assert.Equal(t, 1, deleted)

	versions, err = rec.VersionHistory(ctx)
	require.NoError(t, err)
	assert.Empty(t, versions)
}
