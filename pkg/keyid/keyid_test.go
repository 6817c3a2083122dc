// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package keyid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildAndParseRoundTrip(t *testing.T) {
	ph := PathHash("/repo/internal/calc.rs")
	full := Build("rust", "function", "divide", ph, 10, 20)

	k, err := Parse(full)
	require.NoError(t, err)
	assert.Equal(t, "rust", k.Language)
	assert.Equal(t, "function", k.EntityType)
	assert.Equal(t, "divide", k.Name)
	assert.Equal(t, ph, k.PathHash)
	assert.Equal(t, 10, k.StartLine)
	assert.Equal(t, 20, k.EndLine)
	assert.False(t, k.IsExternal)
	assert.Equal(t, full, k.String())
}

func TestParseRejectsMalformedKeys(t *testing.T) {
	cases := []string{
		"",
		"rust:function:divide",
		"rust:function:divide:__repo_calc_rs:abc",
		"rust:function:divide:__repo_calc_rs:10",
		"rust:function:divide:__repo_calc_rs:-10",
	}
	for _, c := range cases {
		_, err := Parse(c)
		var ive *InvalidKeyFormatError
		assert.ErrorAs(t, err, &ive, "expected InvalidKeyFormatError for %q", c)
	}
}

func TestStableIdentityIgnoresLineRange(t *testing.T) {
	ph := PathHash("/repo/lib.rs")
	k1 := Build("rust", "function", "main", ph, 10, 12)
	k2 := Build("rust", "function", "main", ph, 15, 17)

	assert.True(t, SameEntity(k1, k2))

	id1, err := StableIdentity(k1)
	require.NoError(t, err)
	id2, err := StableIdentity(k2)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestStableIdentityDiffersAcrossPath(t *testing.T) {
	k1 := Build("rust", "function", "main", PathHash("/a.rs"), 1, 2)
	k2 := Build("rust", "function", "main", PathHash("/b.rs"), 1, 2)
	assert.False(t, SameEntity(k1, k2))
}

func TestExternalPlaceholder(t *testing.T) {
	ext := BuildExternal("go", "function", "fmt.Println")
	assert.True(t, IsExternal(ext))

	k, err := Parse(ext)
	require.NoError(t, err)
	assert.True(t, k.IsExternal)
	assert.Equal(t, ExternalSentinel, k.PathHash)
	assert.Equal(t, 0, k.StartLine)
	assert.Equal(t, 0, k.EndLine)
}

func TestIsExternalFalseForRealEntity(t *testing.T) {
	k := Build("python", "function", "main", PathHash("/a.py"), 1, 5)
	assert.False(t, IsExternal(k))
}
