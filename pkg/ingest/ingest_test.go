// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build cgo

package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/cartograph/pkg/extract"
	"github.com/kraklabs/cartograph/pkg/graphstore"
)

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	full := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func openTestStore(t *testing.T) *graphstore.Store {
	t.Helper()
	s, err := graphstore.Open(graphstore.Config{DataDir: t.TempDir(), Engine: "mem"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRunIndexesEligibleFilesAndSkipsExcluded(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", `package main

func Add(a, b int) int {
	return a + b
}
`)
	writeFile(t, root, "vendor/thirdparty.go", `package thirdparty

func Ignored() {}
`)
	writeFile(t, root, "README.md", "not source\n")

	store := openTestStore(t)
	cfg := Config{
		Root:         root,
		ExcludeGlobs: []string{"vendor/**"},
	}
	result, err := Run(context.Background(), store, extract.NewExtractor(nil), cfg, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, result.FilesProcessed)
	assert.Greater(t, result.EntitiesCreated, 0)
	assert.Empty(t, result.Errors)

	entities, err := store.ListEntities(graphstore.EntityFilter{})
	require.NoError(t, err)
	var sawAdd bool
	for _, e := range entities {
		if e.EntityType == "function" {
			sawAdd = true
		}
	}
	assert.True(t, sawAdd, "expected the Add function to be indexed")

	_, ok, err := store.GetHash(filepath.ToSlash("main.go"))
	require.NoError(t, err)
	assert.True(t, ok, "expected a hash cache row for the ingested file")
}

func TestRunSkipsFilesOverMaxSize(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "big.go", "package main\n\nfunc Big() {}\n")

	store := openTestStore(t)
	cfg := Config{Root: root, MaxFileSizeBytes: 5}
	result, err := Run(context.Background(), store, extract.NewExtractor(nil), cfg, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.FilesProcessed)
}

func TestMatchesGlobDoubleStarAndBaseName(t *testing.T) {
	assert.True(t, matchesGlob("vendor/pkg/a.go", "vendor/**"))
	assert.True(t, matchesGlob("a/b/c_test.go", "*_test.go"))
	assert.False(t, matchesGlob("a/b/c.go", "vendor/**"))
}
