// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build cgo

package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cgerrors "github.com/kraklabs/cartograph/internal/errors"
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

func entity(t *testing.T, name, entityType, filePath string, start, end int, class classify.Class) graphstore.Entity {
	t.Helper()
	return graphstore.Entity{
		Key:         keyid.Build("go", entityType, name, keyid.PathHash(filePath), start, end),
		Language:    "go",
		EntityType:  entityType,
		EntityClass: class,
		FilePath:    filePath,
		StartLine:   start,
		EndLine:     end,
	}
}

func TestListEntitiesReturnsSuccessEnvelope(t *testing.T) {
	store := openTestStore(t)
	e := entity(t, "Foo", "function", "main.go", 1, 2, classify.Code)
	require.NoError(t, store.PutEntities([]graphstore.Entity{e}))

	f := New(store, nil)
	env := f.ListEntities(graphstore.EntityFilter{})

	assert.True(t, env.Success)
	assert.Equal(t, "list_entities", env.Endpoint)
	assert.Greater(t, env.Tokens, 0)
	assert.Empty(t, env.Error)
}

func TestGetEntityNotFoundReturnsEntityNotFoundKind(t *testing.T) {
	store := openTestStore(t)
	f := New(store, nil)

	missing := keyid.Build("go", "function", "Ghost", keyid.PathHash("main.go"), 1, 2)
	env := f.GetEntity(missing, false)

	assert.False(t, env.Success)
	assert.Equal(t, cgerrors.EntityNotFound, env.Kind)
	assert.NotEmpty(t, env.Error)
}

func TestGetEntityMalformedKeyReturnsInvalidKeyFormat(t *testing.T) {
	store := openTestStore(t)
	f := New(store, nil)

	env := f.GetEntity("not-a-valid-key", false)

	assert.False(t, env.Success)
	assert.Equal(t, cgerrors.InvalidKeyFormat, env.Kind)
}

func TestSearchEntitiesEmptySubstringReturnsEmptyQuery(t *testing.T) {
	store := openTestStore(t)
	f := New(store, nil)

	env := f.SearchEntities("", graphstore.EntityFilter{})

	assert.False(t, env.Success)
	assert.Equal(t, cgerrors.EmptyQuery, env.Kind)
}

func TestStatsCountsByClass(t *testing.T) {
	store := openTestStore(t)
	code := entity(t, "Foo", "function", "main.go", 1, 2, classify.Code)
	test := entity(t, "TestFoo", "function", "main_test.go", 1, 2, classify.Test)
	require.NoError(t, store.PutEntities([]graphstore.Entity{code, test}))

	f := New(store, nil)
	env := f.Stats("/tmp/db")

	assert.True(t, env.Success)
	payload, ok := env.Data.(StatsPayload)
	require.True(t, ok)
	assert.Equal(t, 1, payload.CodeEntityCount)
	assert.Equal(t, 1, payload.TestEntityCount)
	assert.Equal(t, "/tmp/db", payload.DatabasePath)
}

func TestBlastRadiusMalformedKeyReturnsInvalidKeyFormat(t *testing.T) {
	store := openTestStore(t)
	f := New(store, nil)

	env := f.BlastRadius("bad-key", 3, "")

	assert.False(t, env.Success)
	assert.Equal(t, cgerrors.InvalidKeyFormat, env.Kind)
}
