// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package graphstore

import (
	"fmt"

	"github.com/kraklabs/cartograph/pkg/keyid"
)

// ResolveExternalEdges is the cross-file resolution pass the File
// Streamer runs after a full ingest (spec §4.6 step 4); the Incremental
// Reindexer resolves placeholders inside ReplaceFile instead. For every
// edge whose target is still an external
// placeholder, look for a now-indexed entity of the same language,
// entity_type and name, and rewrite the edge's to_key to point at it.
//
// Name collisions across files resolve to whichever matching entity the
// store returns first; this is a known, documented limitation rather
// than an attempt at full scope resolution (pkg/extract's in-batch
// Resolver already handles the precise cases — same-package, qualified,
// dot-import, interface dispatch — during extraction; this pass only
// catches references that were left external because the target file
// hadn't been indexed yet).
func (s *Store) ResolveExternalEdges() (int, error) {
	q := "?[from_key, to_key, edge_type, source_location] := *cg_edge{from_key, to_key, edge_type, source_location}"
	rows, err := s.db.Run(q, nil)
	if err != nil {
		return 0, fmt.Errorf("list edges for resolution: %w", err)
	}

	byTarget := map[string][]Edge{}
	for _, row := range rows.Rows {
		edge := Edge{
			FromKey:        toStr(row[0]),
			ToKey:          toStr(row[1]),
			EdgeType:       EdgeType(toStr(row[2])),
			SourceLocation: toStr(row[3]),
		}
		if !keyid.IsExternal(edge.ToKey) {
			continue
		}
		byTarget[edge.ToKey] = append(byTarget[edge.ToKey], edge)
	}
	if len(byTarget) == 0 {
		return 0, nil
	}

	resolved := 0
	for placeholder, edges := range byTarget {
		target, err := keyid.Parse(placeholder)
		if err != nil {
			continue
		}
		candidate, ok, err := s.findEntityByName(target.Language, target.EntityType, target.Name)
		if err != nil {
			return resolved, err
		}
		if !ok {
			continue
		}
		for _, edge := range edges {
			if err := s.retargetEdge(edge, candidate.Key); err != nil {
				return resolved, err
			}
			resolved++
		}
	}
	return resolved, nil
}

// findEntityByName looks for an indexed entity of the given language and
// entity_type whose key's name segment equals name. Entity names aren't
// a stored column (they live inside the key), so this filters by the
// indexed columns first and then matches the name in Go.
func (s *Store) findEntityByName(language, entityType, name string) (Entity, bool, error) {
	entities, err := s.ListEntities(EntityFilter{Language: language, EntityType: entityType})
	if err != nil {
		return Entity{}, false, err
	}
	for _, e := range entities {
		k, err := keyid.Parse(e.Key)
		if err != nil {
			continue
		}
		if k.Name == name {
			return e, true, nil
		}
	}
	return Entity{}, false, nil
}
