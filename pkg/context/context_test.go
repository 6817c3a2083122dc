// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build cgo

package context

import (
	"strings"
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

func entityWithSnippet(t *testing.T, store *graphstore.Store, name, entityType, filePath string, start, end int, snippet string) graphstore.Entity {
	t.Helper()
	e := graphstore.Entity{
		Key:         keyid.Build("go", entityType, name, keyid.PathHash(filePath), start, end),
		Language:    "go",
		EntityType:  entityType,
		EntityClass: classify.Code,
		FilePath:    filePath,
		StartLine:   start,
		EndLine:     end,
		SourceSnippet: snippet,
	}
	require.NoError(t, store.PutEntities([]graphstore.Entity{e}))
	return e
}

func TestSelectScoresFocusAndDirectNeighbors(t *testing.T) {
	store := openTestStore(t)

	focus := entityWithSnippet(t, store, "Focus", "function", "main.go", 1, 2, strings.Repeat("x", 40))
	caller := entityWithSnippet(t, store, "Caller", "function", "main.go", 4, 5, strings.Repeat("x", 40))
	callee := entityWithSnippet(t, store, "Callee", "function", "main.go", 7, 8, strings.Repeat("x", 40))

	require.NoError(t, store.PutEdges([]graphstore.Edge{
		{FromKey: caller.Key, ToKey: focus.Key, EdgeType: graphstore.Calls},
		{FromKey: focus.Key, ToKey: callee.Key, EdgeType: graphstore.Calls},
	}))

	selection, err := Select(store, nil, focus.Key, 1000, Options{})
	require.NoError(t, err)

	byKey := map[string]Candidate{}
	for _, c := range selection.Entities {
		byKey[c.Key] = c
	}

	require.Contains(t, byKey, focus.Key)
	assert.Equal(t, 1.0, byKey[focus.Key].Relevance)
	assert.Equal(t, ReasonFocus, byKey[focus.Key].Reason)

	require.Contains(t, byKey, caller.Key)
	assert.Equal(t, 1.0, byKey[caller.Key].Relevance)
	assert.Equal(t, ReasonDirectCaller, byKey[caller.Key].Reason)

	require.Contains(t, byKey, callee.Key)
	assert.Equal(t, 0.95, byKey[callee.Key].Relevance)
	assert.Equal(t, ReasonDirectCallee, byKey[callee.Key].Reason)
}

func TestSelectScoresTransitiveNeighborsDecayingByHop(t *testing.T) {
	store := openTestStore(t)

	focus := entityWithSnippet(t, store, "Focus", "function", "main.go", 1, 2, "x")
	mid := entityWithSnippet(t, store, "Mid", "function", "main.go", 4, 5, "x")
	far := entityWithSnippet(t, store, "Far", "function", "main.go", 7, 8, "x")

	require.NoError(t, store.PutEdges([]graphstore.Edge{
		{FromKey: focus.Key, ToKey: mid.Key, EdgeType: graphstore.Calls},
		{FromKey: mid.Key, ToKey: far.Key, EdgeType: graphstore.Calls},
	}))

	selection, err := Select(store, nil, focus.Key, 1000, Options{MaxHops: 3})
	require.NoError(t, err)

	byKey := map[string]Candidate{}
	for _, c := range selection.Entities {
		byKey[c.Key] = c
	}

	require.Contains(t, byKey, far.Key)
	assert.InDelta(t, 0.6, byKey[far.Key].Relevance, 0.001)
	assert.Equal(t, Reason("transitive@2"), byKey[far.Key].Reason)
}

func TestSelectGreedilyFillsBudgetByRelevanceThenCost(t *testing.T) {
	store := openTestStore(t)

	focus := entityWithSnippet(t, store, "Focus", "function", "main.go", 1, 2, "x")
	caller := entityWithSnippet(t, store, "Caller", "function", "main.go", 4, 5, strings.Repeat("x", 400))

	require.NoError(t, store.PutEdges([]graphstore.Edge{
		{FromKey: caller.Key, ToKey: focus.Key, EdgeType: graphstore.Calls},
	}))

	selection, err := Select(store, nil, focus.Key, 5, Options{})
	require.NoError(t, err)

	require.Len(t, selection.Entities, 1)
	assert.Equal(t, focus.Key, selection.Entities[0].Key)
	assert.LessOrEqual(t, selection.UsedTokens, 5)
}

func TestSelectChargesExternalPlaceholderFixedCost(t *testing.T) {
	store := openTestStore(t)

	focus := entityWithSnippet(t, store, "Focus", "function", "main.go", 1, 2, "x")
	external := keyid.BuildExternal("go", "function", "Unresolved")

	require.NoError(t, store.PutEdges([]graphstore.Edge{
		{FromKey: focus.Key, ToKey: external, EdgeType: graphstore.Calls},
	}))

	selection, err := Select(store, nil, focus.Key, 1000, Options{})
	require.NoError(t, err)

	byKey := map[string]Candidate{}
	for _, c := range selection.Entities {
		byKey[c.Key] = c
	}
	require.Contains(t, byKey, external)
	assert.True(t, byKey[external].IsExternal)
	assert.Equal(t, externalPlaceholderTokens, byKey[external].TokenCost)
}
