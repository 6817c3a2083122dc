// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package graphstore

// schemaTables lists the CozoDB relations the store creates on open.
// Mirrors the teacher's vertical partitioning (pkg/ingestion/schema.go):
// lightweight metadata separated from the lazily-loaded snippet text, so
// that list/aggregate queries never pay for source bytes they don't need.
var schemaTables = []string{
	`:create cg_entity {
		key: String
		=>
		language: String,
		entity_type: String,
		entity_class: String,
		file_path: String,
		start_line: Int,
		end_line: Int
	}`,
	`:create cg_entity_snippet {
		key: String
		=>
		source_snippet: String
	}`,
	`:create cg_edge {
		from_key: String,
		to_key: String,
		edge_type: String
		=>
		source_location: String default ''
	}`,
	`:create cg_file_hash {
		path: String
		=>
		sha256_hex: String,
		last_seen_utc: String
	}`,
	`:create cg_project_meta {
		key: String
		=>
		value: String
	}`,
}

// indexStatements creates the access-path indices the Query Façade and
// Graph Analyzer rely on: lookups by file_path (for delete-by-file and
// the File Streamer's per-file queries) and reverse-edge lookups by
// to_key (for caller/blast-radius scans without a full table scan).
var indexStatements = []string{
	`::index create cg_entity:by_file {file_path}`,
	`::index create cg_edge:by_to {to_key}`,
}
