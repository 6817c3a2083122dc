// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build cgo

package diffengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/cartograph/pkg/classify"
	"github.com/kraklabs/cartograph/pkg/graphstore"
	"github.com/kraklabs/cartograph/pkg/keyid"
)

func openTestStore(t *testing.T) *graphstore.Store {
	t.Helper()
	s, err := graphstore.Open(graphstore.Config{DataDir: t.TempDir(), Engine: "mem"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func entity(t *testing.T, name, entityType, filePath string, start, end int) graphstore.Entity {
	t.Helper()
	return graphstore.Entity{
		Key:         keyid.Build("go", entityType, name, keyid.PathHash(filePath), start, end),
		Language:    "go",
		EntityType:  entityType,
		EntityClass: classify.Code,
		FilePath:    filePath,
		StartLine:   start,
		EndLine:     end,
	}
}

func TestDiffClassifiesUnchangedAddedRemoved(t *testing.T) {
	base, live := openTestStore(t), openTestStore(t)

	stable := entity(t, "Stable", "function", "main.go", 1, 3)
	removed := entity(t, "Gone", "function", "main.go", 5, 7)
	added := entity(t, "New", "function", "main.go", 9, 11)

	require.NoError(t, base.PutEntities([]graphstore.Entity{stable, removed}))
	require.NoError(t, live.PutEntities([]graphstore.Entity{stable, added}))

	result, err := Diff(base, live, Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Counts[Unchanged])
	assert.Equal(t, 1, result.Counts[Removed])
	assert.Equal(t, 1, result.Counts[Added])
	assert.Empty(t, result.Counts[Moved])
	assert.Empty(t, result.Counts[Relocated])
}

func TestDiffClassifiesMovedWithLinesShifted(t *testing.T) {
	base, live := openTestStore(t), openTestStore(t)

	baseEntity := entity(t, "Main", "function", "main.go", 10, 12)
	liveEntity := entity(t, "Main", "function", "main.go", 15, 17)

	require.NoError(t, base.PutEntities([]graphstore.Entity{baseEntity}))
	require.NoError(t, live.PutEntities([]graphstore.Entity{liveEntity}))

	result, err := Diff(base, live, Options{})
	require.NoError(t, err)

	require.Len(t, result.Entities, 1)
	assert.Equal(t, Moved, result.Entities[0].ChangeType)
	assert.Equal(t, 5, result.Entities[0].LinesShifted)
	assert.Equal(t, 0, result.Counts[Added])
	assert.Equal(t, 0, result.Counts[Removed])
}

func TestDiffClassifiesRelocatedAcrossFileRename(t *testing.T) {
	base, live := openTestStore(t), openTestStore(t)

	baseEntity := entity(t, "Helper", "function", "old_name.go", 1, 3)
	liveEntity := entity(t, "Helper", "function", "new_name.go", 1, 3)

	require.NoError(t, base.PutEntities([]graphstore.Entity{baseEntity}))
	require.NoError(t, live.PutEntities([]graphstore.Entity{liveEntity}))

	result, err := Diff(base, live, Options{})
	require.NoError(t, err)

	require.Len(t, result.Entities, 1)
	assert.Equal(t, Relocated, result.Entities[0].ChangeType)
	assert.Equal(t, baseEntity.Key, result.Entities[0].BaseKey)
	assert.Equal(t, liveEntity.Key, result.Entities[0].LiveKey)
	assert.Equal(t, 1, result.Counts[Relocated])
	assert.Equal(t, 0, result.Counts[Added])
	assert.Equal(t, 0, result.Counts[Removed])
}

func TestDiffComputesEdgeDiff(t *testing.T) {
	base, live := openTestStore(t), openTestStore(t)

	a := entity(t, "A", "function", "main.go", 1, 2)
	b := entity(t, "B", "function", "main.go", 4, 5)
	c := entity(t, "C", "function", "main.go", 7, 8)

	require.NoError(t, base.PutEntities([]graphstore.Entity{a, b}))
	require.NoError(t, base.PutEdges([]graphstore.Edge{{FromKey: a.Key, ToKey: b.Key, EdgeType: graphstore.Calls}}))

	require.NoError(t, live.PutEntities([]graphstore.Entity{a, b, c}))
	require.NoError(t, live.PutEdges([]graphstore.Edge{{FromKey: a.Key, ToKey: c.Key, EdgeType: graphstore.Calls}}))

	result, err := Diff(base, live, Options{})
	require.NoError(t, err)

	require.Len(t, result.AddedEdges, 1)
	assert.Equal(t, c.Key, result.AddedEdges[0].ToKey)
	require.Len(t, result.RemovedEdges, 1)
	assert.Equal(t, b.Key, result.RemovedEdges[0].ToKey)
}

func TestDiffAffectedNeighborsExcludesChangedEntities(t *testing.T) {
	base, live := openTestStore(t), openTestStore(t)

	caller := entity(t, "Caller", "function", "main.go", 1, 2)
	changed := entity(t, "Changed", "function", "main.go", 4, 5)
	callee := entity(t, "Callee", "function", "main.go", 7, 8)

	require.NoError(t, base.PutEntities([]graphstore.Entity{caller, callee}))
	require.NoError(t, live.PutEntities([]graphstore.Entity{caller, changed, callee}))
	require.NoError(t, live.PutEdges([]graphstore.Edge{
		{FromKey: caller.Key, ToKey: changed.Key, EdgeType: graphstore.Calls},
		{FromKey: changed.Key, ToKey: callee.Key, EdgeType: graphstore.Calls},
	}))

	result, err := Diff(base, live, Options{MaxHops: 1})
	require.NoError(t, err)

	assert.Contains(t, result.AffectedNeighbors, caller.Key)
	assert.Contains(t, result.AffectedNeighbors, callee.Key)
	assert.NotContains(t, result.AffectedNeighbors, changed.Key)
}
