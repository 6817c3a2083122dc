// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build cgo

package graphstore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kraklabs/cartograph/pkg/classify"
	"github.com/kraklabs/cartograph/pkg/keyid"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{DataDir: t.TempDir(), Engine: "mem"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func fixtureEntity(t *testing.T, name, entityType, filePath string, start, end int) Entity {
	t.Helper()
	key := keyid.Build("go", entityType, name, keyid.PathHash(filePath), start, end)
	return Entity{
		Key:         key,
		Language:    "go",
		EntityType:  entityType,
		EntityClass: classify.Code,
		FilePath:    filePath,
		StartLine:   start,
		EndLine:     end,
	}
}

func TestOpenEnsuresSchemaIdempotently(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.ensureSchema())
}

func TestPutAndGetEntity(t *testing.T) {
	s := openTestStore(t)
	e := fixtureEntity(t, "Divide", "function", "/repo/calc.go", 10, 20)
	e.SourceSnippet = "func Divide(a, b int) int { return a / b }"

	require.NoError(t, s.PutEntities([]Entity{e}))

	got, ok, err := s.GetEntity(e.Key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, e.Key, got.Key)
	require.Equal(t, "function", got.EntityType)
	require.Equal(t, classify.Code, got.EntityClass)

	snippet, ok, err := s.Snippet(e.Key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, e.SourceSnippet, snippet)
}

func TestGetEntityMissing(t *testing.T) {
	s := openTestStore(t)
	_, ok, err := s.GetEntity("go:function:Nope:__missing:0-0")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestListEntitiesFiltersAreConjunctive(t *testing.T) {
	s := openTestStore(t)
	fn := fixtureEntity(t, "Divide", "function", "/repo/calc.go", 10, 20)
	typ := fixtureEntity(t, "Calculator", "type", "/repo/calc.go", 1, 5)
	require.NoError(t, s.PutEntities([]Entity{fn, typ}))

	all, err := s.ListEntities(EntityFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)

	funcsOnly, err := s.ListEntities(EntityFilter{EntityType: "function"})
	require.NoError(t, err)
	require.Len(t, funcsOnly, 1)
	require.Equal(t, fn.Key, funcsOnly[0].Key)
}

func TestSearchEntitiesIsCaseInsensitive(t *testing.T) {
	s := openTestStore(t)
	e := fixtureEntity(t, "DivideByZero", "function", "/repo/calc.go", 10, 20)
	require.NoError(t, s.PutEntities([]Entity{e}))

	found, err := s.SearchEntities("dividebyzero", EntityFilter{})
	require.NoError(t, err)
	require.Len(t, found, 1)

	notFound, err := s.SearchEntities("nonexistent", EntityFilter{})
	require.NoError(t, err)
	require.Empty(t, notFound)
}

func TestPutEdgesAndAdjacency(t *testing.T) {
	s := openTestStore(t)
	caller := fixtureEntity(t, "Main", "function", "/repo/main.go", 1, 10)
	callee := fixtureEntity(t, "Divide", "function", "/repo/calc.go", 10, 20)
	require.NoError(t, s.PutEntities([]Entity{caller, callee}))

	edge := Edge{FromKey: caller.Key, ToKey: callee.Key, EdgeType: Calls, SourceLocation: "/repo/main.go:5"}
	require.NoError(t, s.PutEdges([]Edge{edge}))

	callees, err := s.Callees(caller.Key)
	require.NoError(t, err)
	require.Len(t, callees, 1)
	require.Equal(t, callee.Key, callees[0].ToKey)

	callers, err := s.Callers(callee.Key)
	require.NoError(t, err)
	require.Len(t, callers, 1)
	require.Equal(t, caller.Key, callers[0].FromKey)
}

func TestDeleteEntitiesForFileRewritesInboundEdgesToExternal(t *testing.T) {
	s := openTestStore(t)
	caller := fixtureEntity(t, "Main", "function", "/repo/main.go", 1, 10)
	callee := fixtureEntity(t, "Divide", "function", "/repo/calc.go", 10, 20)
	require.NoError(t, s.PutEntities([]Entity{caller, callee}))
	require.NoError(t, s.PutEdges([]Edge{{FromKey: caller.Key, ToKey: callee.Key, EdgeType: Calls, SourceLocation: "/repo/main.go:5"}}))

	result, err := s.DeleteEntitiesForFile("/repo/calc.go")
	require.NoError(t, err)
	require.Equal(t, 1, result.EntitiesRemoved)

	_, ok, err := s.GetEntity(callee.Key)
	require.NoError(t, err)
	require.False(t, ok)

	callees, err := s.Callees(caller.Key)
	require.NoError(t, err)
	require.Len(t, callees, 1)
	require.True(t, keyid.IsExternal(callees[0].ToKey))

	target, err := keyid.Parse(callees[0].ToKey)
	require.NoError(t, err)
	require.Equal(t, "Divide", target.Name)
}

func TestDeleteEntitiesForFileRemovesOutboundEdgesEntirely(t *testing.T) {
	s := openTestStore(t)
	caller := fixtureEntity(t, "Main", "function", "/repo/main.go", 1, 10)
	callee := fixtureEntity(t, "Divide", "function", "/repo/calc.go", 10, 20)
	require.NoError(t, s.PutEntities([]Entity{caller, callee}))
	require.NoError(t, s.PutEdges([]Edge{{FromKey: caller.Key, ToKey: callee.Key, EdgeType: Calls}}))

	result, err := s.DeleteEntitiesForFile("/repo/main.go")
	require.NoError(t, err)
	require.Equal(t, 1, result.EntitiesRemoved)
	require.Equal(t, 1, result.EdgesRemoved)

	callers, err := s.Callers(callee.Key)
	require.NoError(t, err)
	require.Empty(t, callers)
}

func TestHashCacheRoundTrip(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.SetHash(FileHash{AbsolutePath: "/repo/calc.go", SHA256Hex: "abc123", LastSeenUTC: "2026-07-30T00:00:00Z"}))

	hash, ok, err := s.GetHash("/repo/calc.go")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "abc123", hash)

	require.NoError(t, s.DeleteHash("/repo/calc.go"))
	_, ok, err = s.GetHash("/repo/calc.go")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestListEdgesPaginates(t *testing.T) {
	s := openTestStore(t)
	caller := fixtureEntity(t, "Main", "function", "/repo/main.go", 1, 10)
	calleeA := fixtureEntity(t, "A", "function", "/repo/a.go", 1, 2)
	calleeB := fixtureEntity(t, "B", "function", "/repo/b.go", 1, 2)
	require.NoError(t, s.PutEntities([]Entity{caller, calleeA, calleeB}))
	require.NoError(t, s.PutEdges([]Edge{
		{FromKey: caller.Key, ToKey: calleeA.Key, EdgeType: Calls},
		{FromKey: caller.Key, ToKey: calleeB.Key, EdgeType: Calls},
	}))

	page, err := s.ListEdges(Calls, 0, 1)
	require.NoError(t, err)
	require.Equal(t, 2, page.TotalCount)
	require.Equal(t, 1, page.ReturnedCount)
	require.Len(t, page.Edges, 1)
}

func TestStatsAggregatesByLanguageTypeAndClass(t *testing.T) {
	s := openTestStore(t)
	fn := fixtureEntity(t, "Divide", "function", "/repo/calc.go", 10, 20)
	test := fixtureEntity(t, "TestDivide", "function", "/repo/calc_test.go", 1, 5)
	test.EntityClass = classify.Test
	require.NoError(t, s.PutEntities([]Entity{fn, test}))
	require.NoError(t, s.PutEdges([]Edge{{FromKey: test.Key, ToKey: fn.Key, EdgeType: Calls}}))

	stats, err := s.Stats()
	require.NoError(t, err)
	require.Equal(t, 2, stats.TotalEntities)
	require.Equal(t, 1, stats.TotalEdges)
	require.Equal(t, 2, stats.ByLanguage["go"])
	require.Equal(t, 2, stats.ByEntityType["function"])
	require.Equal(t, 1, stats.ByClass[string(classify.Code)])
	require.Equal(t, 1, stats.ByClass[string(classify.Test)])
}

func TestLanguagesSortedDistinct(t *testing.T) {
	s := openTestStore(t)
	goFn := fixtureEntity(t, "Divide", "function", "/repo/calc.go", 10, 20)
	pyFn := fixtureEntity(t, "divide", "function", "/repo/calc.py", 1, 5)
	pyFn.Language = "python"
	require.NoError(t, s.PutEntities([]Entity{goFn, pyFn}))

	langs, err := s.Languages()
	require.NoError(t, err)
	require.Equal(t, []string{"go", "python"}, langs)
}

func TestReplaceFileDeletesInsertsAndRehashesInOneCall(t *testing.T) {
	s := openTestStore(t)
	old := fixtureEntity(t, "Divide", "function", "/repo/calc.go", 10, 20)
	require.NoError(t, s.PutEntities([]Entity{old}))
	require.NoError(t, s.SetHash(FileHash{AbsolutePath: "/repo/calc.go", SHA256Hex: "old-hash", LastSeenUTC: "2026-07-30T00:00:00Z"}))

	replacement := fixtureEntity(t, "Multiply", "function", "/repo/calc.go", 10, 22)
	result, resolved, err := s.ReplaceFile("/repo/calc.go", []Entity{replacement}, nil, &FileHash{
		AbsolutePath: "/repo/calc.go", SHA256Hex: "new-hash", LastSeenUTC: "2026-07-30T00:05:00Z",
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.EntitiesRemoved)
	require.Equal(t, 0, resolved)

	_, ok, err := s.GetEntity(old.Key)
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = s.GetEntity(replacement.Key)
	require.NoError(t, err)
	require.True(t, ok)

	hash, ok, err := s.GetHash("/repo/calc.go")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "new-hash", hash)
}

func TestReplaceFileNilHashDeletesHashRow(t *testing.T) {
	s := openTestStore(t)
	e := fixtureEntity(t, "Divide", "function", "/repo/calc.go", 10, 20)
	require.NoError(t, s.PutEntities([]Entity{e}))
	require.NoError(t, s.SetHash(FileHash{AbsolutePath: "/repo/calc.go", SHA256Hex: "abc123", LastSeenUTC: "2026-07-30T00:00:00Z"}))

	result, _, err := s.ReplaceFile("/repo/calc.go", nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 1, result.EntitiesRemoved)

	_, ok, err := s.GetHash("/repo/calc.go")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReplaceFileResolvesExternalEdgeOntoNewEntity(t *testing.T) {
	s := openTestStore(t)
	caller := fixtureEntity(t, "Main", "function", "/repo/main.go", 1, 10)
	require.NoError(t, s.PutEntities([]Entity{caller}))
	placeholder := keyid.BuildExternal("go", "function", "Callee")
	require.NoError(t, s.PutEdges([]Edge{{FromKey: caller.Key, ToKey: placeholder, EdgeType: Calls}}))

	callee := fixtureEntity(t, "Callee", "function", "/repo/callee.go", 1, 3)
	_, resolved, err := s.ReplaceFile("/repo/callee.go", []Entity{callee}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 1, resolved)

	callers, err := s.Callers(callee.Key)
	require.NoError(t, err)
	require.Len(t, callers, 1)
	require.Equal(t, caller.Key, callers[0].FromKey)
}

func TestWithFileTransactionSerializesSameFile(t *testing.T) {
	s := openTestStore(t)
	done := make(chan struct{})
	go func() {
		_ = s.WithFileTransaction("/repo/calc.go", func() error { return nil })
		close(done)
	}()
	require.NoError(t, s.WithFileTransaction("/repo/calc.go", func() error { return nil }))
	<-done
}
