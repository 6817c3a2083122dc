// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package graphstore

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kraklabs/cartograph/pkg/classify"
)

func toStr(v any) string {
	s, _ := v.(string)
	return s
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func rowsToEntities(rows [][]any) []Entity {
	out := make([]Entity, 0, len(rows))
	for _, row := range rows {
		out = append(out, Entity{
			Key:         toStr(row[0]),
			Language:    toStr(row[1]),
			EntityType:  toStr(row[2]),
			EntityClass: classOf(row[3]),
			FilePath:    toStr(row[4]),
			StartLine:   toInt(row[5]),
			EndLine:     toInt(row[6]),
		})
	}
	return out
}

// GetEntity fetches a single entity by its full key, without its
// snippet (use Snippet to fetch source text lazily).
func (s *Store) GetEntity(key string) (Entity, bool, error) {
	q := "?[key, language, entity_type, entity_class, file_path, start_line, end_line] := " +
		"*cg_entity{key, language, entity_type, entity_class, file_path, start_line, end_line}, key = $key"
	rows, err := s.db.Run(q, map[string]any{"key": key})
	if err != nil {
		return Entity{}, false, fmt.Errorf("get entity: %w", err)
	}
	if len(rows.Rows) == 0 {
		return Entity{}, false, nil
	}
	return rowsToEntities(rows.Rows)[0], true, nil
}

// Snippet fetches the source snippet for an entity key, if one was
// stored. Kept separate from GetEntity per the vertical-partitioning
// design: listing and searching entities never pay for snippet text.
func (s *Store) Snippet(key string) (string, bool, error) {
	q := "?[source_snippet] := *cg_entity_snippet{key, source_snippet}, key = $key"
	rows, err := s.db.Run(q, map[string]any{"key": key})
	if err != nil {
		return "", false, fmt.Errorf("get snippet: %w", err)
	}
	if len(rows.Rows) == 0 {
		return "", false, nil
	}
	return toStr(rows.Rows[0][0]), true, nil
}

// EntityFilter narrows ListEntities to entities matching every
// non-empty field. All filters are conjunctive (AND).
type EntityFilter struct {
	Language    string
	EntityType  string
	EntityClass classify.Class
	FilePath    string
}

// ListEntities returns every entity matching filter. An empty filter
// lists the whole relation, so callers handling large repos should
// prefer a narrower filter or paginate client-side.
func (s *Store) ListEntities(filter EntityFilter) ([]Entity, error) {
	q := "?[key, language, entity_type, entity_class, file_path, start_line, end_line] := " +
		"*cg_entity{key, language, entity_type, entity_class, file_path, start_line, end_line}"
	conds, params := filterConditions(filter)
	if len(conds) > 0 {
		q += ", " + strings.Join(conds, ", ")
	}
	rows, err := s.db.Run(q, params)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	return rowsToEntities(rows.Rows), nil
}

func filterConditions(f EntityFilter) ([]string, map[string]any) {
	var conds []string
	params := map[string]any{}
	if f.Language != "" {
		conds = append(conds, "language = $language")
		params["language"] = f.Language
	}
	if f.EntityType != "" {
		conds = append(conds, "entity_type = $entity_type")
		params["entity_type"] = f.EntityType
	}
	if f.EntityClass != "" {
		conds = append(conds, "entity_class = $entity_class")
		params["entity_class"] = string(f.EntityClass)
	}
	if f.FilePath != "" {
		conds = append(conds, "file_path = $file_path")
		params["file_path"] = f.FilePath
	}
	return conds, params
}

// SearchEntities returns entities whose name segment of the key, or the
// full key, contains substr, case-insensitively. Cozo has no native
// case-insensitive LIKE, so the match is done in Go over the entity
// list; acceptable at the repo scale this tool targets (spec §7).
func (s *Store) SearchEntities(substr string, filter EntityFilter) ([]Entity, error) {
	all, err := s.ListEntities(filter)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(substr)
	out := all[:0:0]
	for _, e := range all {
		if strings.Contains(strings.ToLower(entityName(e.Key)), needle) || strings.Contains(strings.ToLower(e.Key), needle) {
			out = append(out, e)
		}
	}
	return out, nil
}

func entityName(key string) string {
	parts := strings.SplitN(key, ":", 5)
	if len(parts) < 3 {
		return key
	}
	return parts[2]
}

// EdgePage is one page of a ListEdges call.
type EdgePage struct {
	Edges        []Edge
	TotalCount   int
	ReturnedCount int
	Offset       int
	Limit        int
}

// ListEdges returns a page of edges, optionally filtered by edge type.
func (s *Store) ListEdges(edgeType EdgeType, offset, limit int) (EdgePage, error) {
	if limit <= 0 {
		limit = 100
	}
	base := "*cg_edge{from_key, to_key, edge_type, source_location}"
	cond := ""
	params := map[string]any{}
	if edgeType != "" {
		cond = ", edge_type = $edge_type"
		params["edge_type"] = string(edgeType)
	}

	countQ := fmt.Sprintf("?[count(from_key)] := %s%s", base, cond)
	countRows, err := s.db.Run(countQ, params)
	if err != nil {
		return EdgePage{}, fmt.Errorf("count edges: %w", err)
	}
	total := 0
	if len(countRows.Rows) > 0 {
		total = toInt(countRows.Rows[0][0])
	}

	q := fmt.Sprintf("?[from_key, to_key, edge_type, source_location] := %s%s :sort from_key, to_key :offset %d :limit %d",
		base, cond, offset, limit)
	rows, err := s.db.Run(q, params)
	if err != nil {
		return EdgePage{}, fmt.Errorf("list edges: %w", err)
	}
	edges := make([]Edge, 0, len(rows.Rows))
	for _, row := range rows.Rows {
		edges = append(edges, Edge{
			FromKey:        toStr(row[0]),
			ToKey:          toStr(row[1]),
			EdgeType:       EdgeType(toStr(row[2])),
			SourceLocation: toStr(row[3]),
		})
	}
	return EdgePage{
		Edges:         edges,
		TotalCount:    total,
		ReturnedCount: len(edges),
		Offset:        offset,
		Limit:         limit,
	}, nil
}

// AllEdges returns every edge in the store, paginating internally
// through ListEdges so callers (the Diff Engine, the Graph Analyzer)
// don't each reimplement the paging loop.
func (s *Store) AllEdges() ([]Edge, error) {
	const pageSize = 1000
	var out []Edge
	offset := 0
	for {
		page, err := s.ListEdges("", offset, pageSize)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Edges...)
		if len(page.Edges) < pageSize || offset+len(page.Edges) >= page.TotalCount {
			break
		}
		offset += len(page.Edges)
	}
	return out, nil
}

// Callees returns the outbound edges from key (what key depends on).
func (s *Store) Callees(key string) ([]Edge, error) {
	return s.adjacency("from_key", "to_key", key)
}

// Callers returns the inbound edges to key (what depends on key).
// Filtering on to_key lets Cozo's query planner use an index over
// that column when one is available, keeping reverse lookups cheap on
// large graphs (spec §4.9 blast-radius relies on this path).
func (s *Store) Callers(key string) ([]Edge, error) {
	return s.adjacency("to_key", "from_key", key)
}

func (s *Store) adjacency(fixed, other, key string) ([]Edge, error) {
	q := fmt.Sprintf("?[from_key, to_key, edge_type, source_location] := *cg_edge{from_key, to_key, edge_type, source_location}, %s = $key", fixed)
	rows, err := s.db.Run(q, map[string]any{"key": key})
	if err != nil {
		return nil, fmt.Errorf("adjacency query (%s): %w", other, err)
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

// Stats summarizes graph composition for the Query Façade's stats
// operation (spec §4.12).
type Stats struct {
	TotalEntities int
	TotalEdges    int
	ByLanguage    map[string]int
	ByEntityType  map[string]int
	ByClass       map[string]int
}

// Stats computes aggregate counts over the current graph.
func (s *Store) Stats() (Stats, error) {
	stats := Stats{
		ByLanguage:   map[string]int{},
		ByEntityType: map[string]int{},
		ByClass:      map[string]int{},
	}

	entities, err := s.ListEntities(EntityFilter{})
	if err != nil {
		return stats, err
	}
	stats.TotalEntities = len(entities)
	for _, e := range entities {
		stats.ByLanguage[e.Language]++
		stats.ByEntityType[e.EntityType]++
		stats.ByClass[string(e.EntityClass)]++
	}

	edgeCount, err := s.db.Run("?[count(from_key)] := *cg_edge{from_key, to_key: _}", nil)
	if err != nil {
		return stats, fmt.Errorf("count edges: %w", err)
	}
	if len(edgeCount.Rows) > 0 {
		stats.TotalEdges = toInt(edgeCount.Rows[0][0])
	}

	return stats, nil
}

// Languages returns the distinct languages present in the graph,
// sorted for deterministic output.
func (s *Store) Languages() ([]string, error) {
	entities, err := s.ListEntities(EntityFilter{})
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	for _, e := range entities {
		seen[e.Language] = true
	}
	out := make([]string, 0, len(seen))
	for lang := range seen {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out, nil
}
