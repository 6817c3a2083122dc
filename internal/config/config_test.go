// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cgerrors "github.com/kraklabs/cartograph/internal/errors"
)

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := Path(dir)

	cfg := Default("myproject")
	require.NoError(t, Save(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.ProjectID, loaded.ProjectID)
	assert.Equal(t, cfg.Indexing.MaxFileSizeBytes, loaded.Indexing.MaxFileSizeBytes)
	assert.ElementsMatch(t, cfg.Indexing.ExcludeGlobs, loaded.Indexing.ExcludeGlobs)
}

func TestLoadMissingFileReturnsPathNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, cgerrors.PathNotFound, cgerrors.KindOf(err))
}

func TestLoadRejectsUnsupportedVersion(t *testing.T) {
	dir := t.TempDir()
	path := Path(dir)
	cfg := Default("proj")
	cfg.Version = "999"
	require.NoError(t, Save(cfg, path))

	_, err := Load(path)
	require.Error(t, err)
}

func TestDirAndPathNest(t *testing.T) {
	assert.Equal(t, filepath.Join("/repo", ".cartograph"), Dir("/repo"))
	assert.Equal(t, filepath.Join("/repo", ".cartograph", "project.yaml"), Path("/repo"))
}
