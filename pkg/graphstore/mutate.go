// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package graphstore

import (
	"fmt"
	"strings"

	"github.com/kraklabs/cartograph/pkg/keyid"
)

// PutEntities upserts a batch of entities (and their snippets, when
// present) by primary key. Idempotent: re-running ingest overwrites
// cleanly, matching the teacher's :put-based upsert strategy
// (pkg/ingestion/datalog.go BuildMutations).
func (s *Store) PutEntities(entities []Entity) error {
	if len(entities) == 0 {
		return nil
	}
	var buf strings.Builder
	for _, e := range entities {
		fmt.Fprintf(&buf, "{ ?[key, language, entity_type, entity_class, file_path, start_line, end_line] <- [[%s, %s, %s, %s, %s, %d, %d]] :put cg_entity { key, language, entity_type, entity_class, file_path, start_line, end_line } }\n",
			quote(e.Key), quote(e.Language), quote(e.EntityType), quote(string(e.EntityClass)), quote(e.FilePath), e.StartLine, e.EndLine)
		if e.SourceSnippet != "" {
			fmt.Fprintf(&buf, "{ ?[key, source_snippet] <- [[%s, %s]] :put cg_entity_snippet { key, source_snippet } }\n",
				quote(e.Key), quote(e.SourceSnippet))
		}
	}
	_, err := s.db.Run(buf.String(), nil)
	return err
}

// PutEdges upserts a batch of edges by their compound primary key
// (from_key, to_key, edge_type).
func (s *Store) PutEdges(edges []Edge) error {
	if len(edges) == 0 {
		return nil
	}
	var buf strings.Builder
	for _, e := range edges {
		fmt.Fprintf(&buf, "{ ?[from_key, to_key, edge_type, source_location] <- [[%s, %s, %s, %s]] :put cg_edge { from_key, to_key, edge_type, source_location } }\n",
			quote(e.FromKey), quote(e.ToKey), quote(string(e.EdgeType)), quote(e.SourceLocation))
	}
	_, err := s.db.Run(buf.String(), nil)
	return err
}

// DeleteResult summarizes a delete-by-file-path mutation (spec §4.7
// incremental reindex counts).
type DeleteResult struct {
	EntitiesRemoved int
	EdgesRemoved    int
}

// DeleteEntitiesForFile removes every entity whose file_path equals
// path, every edge sourced from that file, and the file's snippet rows.
// Per the Open Questions decision in SPEC_FULL.md §5.2, surviving edges
// that pointed *into* the deleted file (inbound edges) are rewritten to
// external placeholders rather than left dangling, keeping edge
// invariant 3 (spec §3) true across the mutation.
func (s *Store) DeleteEntitiesForFile(path string) (DeleteResult, error) {
	var result DeleteResult

	entities, err := s.entitiesForFile(path)
	if err != nil {
		return result, err
	}
	if len(entities) == 0 {
		return result, nil
	}

	removedKeys := make(map[string]bool, len(entities))
	for _, e := range entities {
		removedKeys[e.Key] = true
	}

	// Rewrite inbound edges (to_key in the deleted set, from_key
	// surviving) to external placeholders before the entities disappear,
	// so we can still recover each target's (language, entity_type, name).
	inbound, err := s.inboundEdges(entities)
	if err != nil {
		return result, err
	}
	for _, edge := range inbound {
		if removedKeys[edge.FromKey] {
			continue // both endpoints removed; nothing to preserve
		}
		target, err := keyid.Parse(edge.ToKey)
		if err != nil {
			continue
		}
		placeholder := keyid.BuildExternal(target.Language, target.EntityType, target.Name)
		if err := s.retargetEdge(edge, placeholder); err != nil {
			return result, err
		}
	}

	edgesDeleted, err := s.deleteEdgesFromKeys(keysOf(entities))
	if err != nil {
		return result, err
	}

	if _, err := s.db.Run(fmt.Sprintf("?[key] := *cg_entity_snippet{key}, key in %s\n:rm cg_entity_snippet {key}", keyListLiteral(entities)), nil); err != nil {
		return result, fmt.Errorf("delete entity snippets: %w", err)
	}
	if _, err := s.db.Run("?[key] := *cg_entity{key, file_path}, file_path = $path\n:rm cg_entity {key}", map[string]any{"path": path}); err != nil {
		return result, fmt.Errorf("delete entities: %w", err)
	}

	result.EntitiesRemoved = len(entities)
	result.EdgesRemoved = edgesDeleted
	return result, nil
}

func keysOf(entities []Entity) []string {
	out := make([]string, len(entities))
	for i, e := range entities {
		out[i] = e.Key
	}
	return out
}

func keyListLiteral(entities []Entity) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, e := range entities {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quote(e.Key))
	}
	b.WriteByte(']')
	return b.String()
}

// deleteEdgesFromKeys removes all edges whose from_key is in keys and
// returns how many rows were removed.
func (s *Store) deleteEdgesFromKeys(keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	before, err := s.countEdgesFrom(keys)
	if err != nil {
		return 0, err
	}
	var buf strings.Builder
	fmt.Fprintf(&buf, "?[from_key, to_key, edge_type] := *cg_edge{from_key, to_key, edge_type}, from_key in %s\n:rm cg_edge {from_key, to_key, edge_type}", keyListLiteralStrings(keys))
	if _, err := s.db.Run(buf.String(), nil); err != nil {
		return 0, fmt.Errorf("delete edges from keys: %w", err)
	}
	return before, nil
}

func (s *Store) countEdgesFrom(keys []string) (int, error) {
	q := fmt.Sprintf("?[count(from_key)] := *cg_edge{from_key, to_key: _}, from_key in %s", keyListLiteralStrings(keys))
	rows, err := s.db.Run(q, nil)
	if err != nil {
		return 0, err
	}
	if len(rows.Rows) == 0 {
		return 0, nil
	}
	return toInt(rows.Rows[0][0]), nil
}

func keyListLiteralStrings(keys []string) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quote(k))
	}
	b.WriteByte(']')
	return b.String()
}

func (s *Store) entitiesForFile(path string) ([]Entity, error) {
	q := "?[key, language, entity_type, entity_class, file_path, start_line, end_line] := *cg_entity{key, language, entity_type, entity_class, file_path, start_line, end_line}, file_path = $path"
	rows, err := s.db.Run(q, map[string]any{"path": path})
	if err != nil {
		return nil, fmt.Errorf("query entities for file: %w", err)
	}
	return rowsToEntities(rows.Rows), nil
}

func (s *Store) inboundEdges(entities []Entity) ([]Edge, error) {
	q := fmt.Sprintf("?[from_key, to_key, edge_type, source_location] := *cg_edge{from_key, to_key, edge_type, source_location}, to_key in %s", keyListLiteral(entities))
	rows, err := s.db.Run(q, nil)
	if err != nil {
		return nil, fmt.Errorf("query inbound edges: %w", err)
	}
	out := make([]Edge, 0, len(rows.Rows))
	for _, row := range rows.Rows {
		out = append(out, Edge{
			FromKey:        toStr(row[0]),
			ToKey:          toStr(row[1]),
			EdgeType:       EdgeType(toStr(row[2])),
			SourceLocation: toStr(row[3]),
		})
	}
	return out, nil
}

func (s *Store) retargetEdge(edge Edge, newTarget string) error {
	var buf strings.Builder
	writeRetarget(&buf, edge, newTarget)
	_, err := s.db.Run(buf.String(), nil)
	return err
}

// writeRetarget appends the delete-then-reinsert pair that moves edge's
// to_key to newTarget, so callers composing a larger combined script can
// fold a retarget into it instead of issuing a separate Run call.
func writeRetarget(buf *strings.Builder, edge Edge, newTarget string) {
	fmt.Fprintf(buf, "{ ?[from_key, to_key, edge_type] <- [[%s, %s, %s]] :rm cg_edge {from_key, to_key, edge_type} }\n",
		quote(edge.FromKey), quote(edge.ToKey), quote(string(edge.EdgeType)))
	fmt.Fprintf(buf, "{ ?[from_key, to_key, edge_type, source_location] <- [[%s, %s, %s, %s]] :put cg_edge { from_key, to_key, edge_type, source_location } }\n",
		quote(edge.FromKey), quote(newTarget), quote(string(edge.EdgeType)), quote(edge.SourceLocation))
}

// ReplaceFile is the Incremental Reindexer's sole mutation primitive
// (spec §4.7 steps 4-8): it deletes every entity/edge/snippet for path,
// rewrites surviving inbound edges to external placeholders, inserts
// newEntities/newEdges, resolves any external edge that newEntities can
// now satisfy, and upserts (or, if hash is nil, removes) the file's hash
// cache row — all composed into one CozoScript and issued as a single
// Run call, so a mid-sequence failure leaves the store exactly as it
// was before the call rather than partially deleted (spec §4.5/§4.7's
// "all under one transaction per call").
//
// A single-file reindex can only newly resolve external placeholders
// that match one of newEntities' (language, entity_type, name), since
// nothing else in the graph changed; ResolveExternalEdges' whole-graph
// scan remains the resolution pass for full ingest (spec §4.6 step 4),
// where many files land at once.
func (s *Store) ReplaceFile(path string, newEntities []Entity, newEdges []Edge, hash *FileHash) (DeleteResult, int, error) {
	var result DeleteResult

	entities, err := s.entitiesForFile(path)
	if err != nil {
		return result, 0, err
	}
	removedKeys := make(map[string]bool, len(entities))
	for _, e := range entities {
		removedKeys[e.Key] = true
	}

	var inbound []Edge
	if len(entities) > 0 {
		inbound, err = s.inboundEdges(entities)
		if err != nil {
			return result, 0, err
		}
	}

	edgesRemoved := 0
	if len(entities) > 0 {
		edgesRemoved, err = s.countEdgesFrom(keysOf(entities))
		if err != nil {
			return result, 0, err
		}
	}

	placeholderEdges, err := s.edgesToPlaceholdersFor(newEntities)
	if err != nil {
		return result, 0, err
	}

	var buf strings.Builder

	for _, edge := range inbound {
		if removedKeys[edge.FromKey] {
			continue // both endpoints removed; nothing to preserve
		}
		target, err := keyid.Parse(edge.ToKey)
		if err != nil {
			continue
		}
		placeholder := keyid.BuildExternal(target.Language, target.EntityType, target.Name)
		writeRetarget(&buf, edge, placeholder)
	}

	if len(entities) > 0 {
		fmt.Fprintf(&buf, "{ ?[from_key, to_key, edge_type] := *cg_edge{from_key, to_key, edge_type}, from_key in %s\n:rm cg_edge {from_key, to_key, edge_type} }\n",
			keyListLiteralStrings(keysOf(entities)))
		fmt.Fprintf(&buf, "{ ?[key] := *cg_entity_snippet{key}, key in %s\n:rm cg_entity_snippet {key} }\n", keyListLiteral(entities))
		fmt.Fprintf(&buf, "{ ?[key] := *cg_entity{key, file_path}, file_path = %s\n:rm cg_entity {key} }\n", quote(path))
	}

	for _, e := range newEntities {
		fmt.Fprintf(&buf, "{ ?[key, language, entity_type, entity_class, file_path, start_line, end_line] <- [[%s, %s, %s, %s, %s, %d, %d]] :put cg_entity { key, language, entity_type, entity_class, file_path, start_line, end_line } }\n",
			quote(e.Key), quote(e.Language), quote(e.EntityType), quote(string(e.EntityClass)), quote(e.FilePath), e.StartLine, e.EndLine)
		if e.SourceSnippet != "" {
			fmt.Fprintf(&buf, "{ ?[key, source_snippet] <- [[%s, %s]] :put cg_entity_snippet { key, source_snippet } }\n",
				quote(e.Key), quote(e.SourceSnippet))
		}
	}
	for _, e := range newEdges {
		fmt.Fprintf(&buf, "{ ?[from_key, to_key, edge_type, source_location] <- [[%s, %s, %s, %s]] :put cg_edge { from_key, to_key, edge_type, source_location } }\n",
			quote(e.FromKey), quote(e.ToKey), quote(string(e.EdgeType)), quote(e.SourceLocation))
	}

	resolved := 0
	for _, edge := range placeholderEdges {
		target, err := keyid.Parse(edge.ToKey)
		if err != nil {
			continue
		}
		for _, ne := range newEntities {
			k, err := keyid.Parse(ne.Key)
			if err != nil {
				continue
			}
			if k.Language == target.Language && k.EntityType == target.EntityType && k.Name == target.Name {
				writeRetarget(&buf, edge, ne.Key)
				resolved++
				break
			}
		}
	}

	if hash != nil {
		fmt.Fprintf(&buf, "{ ?[path, sha256_hex, last_seen_utc] <- [[%s, %s, %s]] :put cg_file_hash { path, sha256_hex, last_seen_utc } }\n",
			quote(hash.AbsolutePath), quote(hash.SHA256Hex), quote(hash.LastSeenUTC))
	} else {
		fmt.Fprintf(&buf, "{ ?[path] <- [[%s]] :rm cg_file_hash {path} }\n", quote(path))
	}

	if buf.Len() > 0 {
		if _, err := s.db.Run(buf.String(), nil); err != nil {
			return result, 0, fmt.Errorf("replace file %s: %w", path, err)
		}
	}

	result.EntitiesRemoved = len(entities)
	result.EdgesRemoved = edgesRemoved
	return result, resolved, nil
}

// edgesToPlaceholdersFor returns every edge currently pointing at an
// external placeholder that one of entities could satisfy, keyed by
// entities' (language, entity_type, name) triples.
func (s *Store) edgesToPlaceholdersFor(entities []Entity) ([]Edge, error) {
	if len(entities) == 0 {
		return nil, nil
	}
	seen := make(map[string]bool, len(entities))
	var placeholders []string
	for _, e := range entities {
		k, err := keyid.Parse(e.Key)
		if err != nil {
			continue
		}
		ph := keyid.BuildExternal(k.Language, k.EntityType, k.Name)
		if !seen[ph] {
			seen[ph] = true
			placeholders = append(placeholders, ph)
		}
	}
	if len(placeholders) == 0 {
		return nil, nil
	}
	q := fmt.Sprintf("?[from_key, to_key, edge_type, source_location] := *cg_edge{from_key, to_key, edge_type, source_location}, to_key in %s",
		keyListLiteralStrings(placeholders))
	rows, err := s.db.Run(q, nil)
	if err != nil {
		return nil, fmt.Errorf("query placeholder edges: %w", err)
	}
	out := make([]Edge, 0, len(rows.Rows))
	for _, row := range rows.Rows {
		out = append(out, Edge{
			FromKey:        toStr(row[0]),
			ToKey:          toStr(row[1]),
			EdgeType:       EdgeType(toStr(row[2])),
			SourceLocation: toStr(row[3]),
		})
	}
	return out, nil
}

// SetHash upserts a file's content hash in the hash cache.
func (s *Store) SetHash(h FileHash) error {
	q := "?[path, sha256_hex, last_seen_utc] <- [[$path, $hash, $seen]] :put cg_file_hash { path, sha256_hex, last_seen_utc }"
	_, err := s.db.Run(q, map[string]any{"path": h.AbsolutePath, "hash": h.SHA256Hex, "seen": h.LastSeenUTC})
	return err
}

// GetHash returns the cached hash for path, or ("", false) if absent.
func (s *Store) GetHash(path string) (string, bool, error) {
	q := "?[sha256_hex] := *cg_file_hash{path, sha256_hex}, path = $path"
	rows, err := s.db.Run(q, map[string]any{"path": path})
	if err != nil {
		return "", false, err
	}
	if len(rows.Rows) == 0 {
		return "", false, nil
	}
	return toStr(rows.Rows[0][0]), true, nil
}

// DeleteHash removes the hash cache row for path.
func (s *Store) DeleteHash(path string) error {
	q := "?[path] <- [[$path]] :rm cg_file_hash {path}"
	_, err := s.db.Run(q, map[string]any{"path": path})
	return err
}
