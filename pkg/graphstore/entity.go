// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package graphstore is the Graph Store (spec §4.5): persistent storage
// of the entities and edges relations plus the hash cache, backed by an
// embedded CozoDB instance (github.com/kraklabs/cartograph/pkg/cozodb).
//
// The schema follows the teacher's vertically-partitioned design
// (pkg/storage/embedded.go, pkg/ingestion/schema.go): lightweight
// metadata rows separate from lazily-loaded source snippets, so list and
// aggregate queries never pay for source text they don't need.
package graphstore

import "github.com/kraklabs/cartograph/pkg/classify"

// Entity is a syntactic unit extracted from source (spec §3).
type Entity struct {
	Key           string
	Language      string
	EntityType    string
	EntityClass   classify.Class
	FilePath      string
	StartLine     int
	EndLine       int
	SourceSnippet string // populated lazily; empty unless explicitly requested
}

// IsExternalPlaceholder reports whether this entity represents an
// unresolved reference target rather than a real indexed definition.
// External placeholders are never written to the entity relation; this
// helper exists for callers constructing an Entity value in memory
// before deciding whether to persist it.
func (e Entity) IsExternalPlaceholder() bool {
	return e.StartLine == 0 && e.EndLine == 0
}

// EdgeType is one of the five relationship kinds spec §3 defines.
type EdgeType string

const (
	Calls      EdgeType = "Calls"
	Uses       EdgeType = "Uses"
	Implements EdgeType = "Implements"
	Extends    EdgeType = "Extends"
	Contains   EdgeType = "Contains"
)

// Edge is a directed relationship between two entity keys.
type Edge struct {
	FromKey        string
	ToKey          string
	EdgeType       EdgeType
	SourceLocation string // "path:line" at the callsite, for provenance
}

// FileHash is the hash cache record for one file (spec §3).
type FileHash struct {
	AbsolutePath string
	SHA256Hex    string
	LastSeenUTC  string // RFC3339
}
