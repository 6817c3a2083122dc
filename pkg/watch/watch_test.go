// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build cgo

package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/cartograph/pkg/extract"
	"github.com/kraklabs/cartograph/pkg/graphstore"
)

func openTestStore(t *testing.T) *graphstore.Store {
	t.Helper()
	s, err := graphstore.Open(graphstore.Config{DataDir: t.TempDir(), Engine: "mem"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestWatcherReindexesChangedFileAfterDebounce(t *testing.T) {
	root := t.TempDir()
	mainPath := filepath.Join(root, "main.go")
	require.NoError(t, os.WriteFile(mainPath, []byte("package main\n\nfunc Add(a, b int) int { return a + b }\n"), 0o644))

	store := openTestStore(t)
	w, err := New(Config{Roots: []string{root}, Debounce: 50 * time.Millisecond}, store, extract.NewExtractor(nil), nil)
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(mainPath, []byte("package main\n\nfunc Add(a, b int) int { return a + b + 1 }\n\nfunc Sub(a, b int) int { return a - b }\n"), 0o644))

	select {
	case n := <-w.Subscribe():
		assert.Contains(t, n.ChangedPaths, mainPath)
		assert.Empty(t, n.Errors)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for watch notification")
	}

	entities, err := store.ListEntities(graphstore.EntityFilter{})
	require.NoError(t, err)
	var names []string
	for _, e := range entities {
		names = append(names, e.EntityType)
	}
	assert.NotEmpty(t, names)
}

func TestWatcherPauseDropsEvents(t *testing.T) {
	root := t.TempDir()
	mainPath := filepath.Join(root, "main.go")
	require.NoError(t, os.WriteFile(mainPath, []byte("package main\n\nfunc Add(a, b int) int { return a + b }\n"), 0o644))

	store := openTestStore(t)
	w, err := New(Config{Roots: []string{root}, Debounce: 50 * time.Millisecond}, store, extract.NewExtractor(nil), nil)
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	w.Pause()
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(mainPath, []byte("package main\n\nfunc Add(a, b int) int { return a + b + 2 }\n"), 0o644))

	select {
	case <-w.Subscribe():
		t.Fatal("expected no notification while paused")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherExcludesGlobMatchedPaths(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "vendor"), 0o755))
	vendorPath := filepath.Join(root, "vendor", "thirdparty.go")
	require.NoError(t, os.WriteFile(vendorPath, []byte("package thirdparty\n"), 0o644))

	store := openTestStore(t)
	w, err := New(Config{Roots: []string{root}, ExcludeGlobs: []string{"vendor/**"}, Debounce: 50 * time.Millisecond}, store, extract.NewExtractor(nil), nil)
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(vendorPath, []byte("package thirdparty\n\nfunc Ignored() {}\n"), 0o644))

	select {
	case <-w.Subscribe():
		t.Fatal("expected excluded path not to trigger a notification")
	case <-time.After(300 * time.Millisecond):
	}
}
