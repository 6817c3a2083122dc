// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package query is the Query Façade (spec §4.12): the read-only
// operation set an HTTP layer or CLI exposes to callers, each wrapped
// in the standard response envelope (success, endpoint, data/error,
// tokens).
package query

import (
	"encoding/json"
	"math"
	"time"

	cgerrors "github.com/kraklabs/cartograph/internal/errors"
	"github.com/kraklabs/cartograph/internal/metrics"
	"github.com/kraklabs/cartograph/pkg/analyze"
	cgcontext "github.com/kraklabs/cartograph/pkg/context"
	"github.com/kraklabs/cartograph/pkg/diffengine"
	"github.com/kraklabs/cartograph/pkg/graphstore"
	"github.com/kraklabs/cartograph/pkg/keyid"
)

// Envelope is the standard response shape every façade operation
// returns (spec §6's envelope contract).
type Envelope struct {
	Success  bool          `json:"success"`
	Endpoint string        `json:"endpoint"`
	Data     any           `json:"data,omitempty"`
	Error    string        `json:"error,omitempty"`
	Tokens   int           `json:"tokens"`
	Kind     cgerrors.Kind `json:"-"` // error kind, for HTTP status mapping; never serialized
}

// Facade is the Query Façade over a single Graph Store.
type Facade struct {
	store   *graphstore.Store
	metrics *metrics.Metrics
}

// New creates a Facade over store. m may be nil.
func New(store *graphstore.Store, m *metrics.Metrics) *Facade {
	return &Facade{store: store, metrics: m}
}

func ok(endpoint string, data any) Envelope {
	return Envelope{Success: true, Endpoint: endpoint, Data: data, Tokens: estimateTokens(data)}
}

func fail(endpoint string, err *cgerrors.Error) Envelope {
	return Envelope{Success: false, Endpoint: endpoint, Error: err.Error(), Tokens: estimateTokens(err.Error()), Kind: err.Kind}
}

// estimateTokens serializes v and estimates its token cost as
// ceil(serialized_length/4) (spec §4.12 / §6).
func estimateTokens(v any) int {
	b, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return int(math.Ceil(float64(len(b)) / 4.0))
}

func (f *Facade) observe(endpoint string, start time.Time) {
	f.metrics.ObserveQuery(endpoint, time.Since(start))
}

// ListEntities lists every entity matching filter.
func (f *Facade) ListEntities(filter graphstore.EntityFilter) Envelope {
	defer f.observe("list_entities", time.Now())
	entities, err := f.store.ListEntities(filter)
	if err != nil {
		return fail("list_entities", cgerrors.Wrap(cgerrors.StoreTransactionFailed, "list entities failed", err))
	}
	return ok("list_entities", map[string]any{"entities": entities, "total_count": len(entities)})
}

// GetEntity fetches one entity by key, optionally populating its
// source snippet.
func (f *Facade) GetEntity(key string, includeSnippet bool) Envelope {
	defer f.observe("get_entity", time.Now())
	if _, err := keyid.Parse(key); err != nil {
		return fail("get_entity", cgerrors.Wrap(cgerrors.InvalidKeyFormat, "malformed entity key", err))
	}
	entity, found, err := f.store.GetEntity(key)
	if err != nil {
		return fail("get_entity", cgerrors.Wrap(cgerrors.StoreTransactionFailed, "get entity failed", err))
	}
	if !found {
		return fail("get_entity", cgerrors.New(cgerrors.EntityNotFound, "no entity with key "+key))
	}
	if includeSnippet {
		snippet, ok, err := f.store.Snippet(key)
		if err != nil {
			return fail("get_entity", cgerrors.Wrap(cgerrors.StoreTransactionFailed, "fetch snippet failed", err))
		}
		if ok {
			entity.SourceSnippet = snippet
		}
	}
	return ok("get_entity", entity)
}

// SearchEntities fuzzy-searches entities by substring of name or key.
func (f *Facade) SearchEntities(substr string, filter graphstore.EntityFilter) Envelope {
	defer f.observe("search_entities", time.Now())
	if substr == "" {
		return fail("search_entities", cgerrors.New(cgerrors.EmptyQuery, "search substring must not be empty"))
	}
	entities, err := f.store.SearchEntities(substr, filter)
	if err != nil {
		return fail("search_entities", cgerrors.Wrap(cgerrors.StoreTransactionFailed, "search entities failed", err))
	}
	return ok("search_entities", map[string]any{"entities": entities, "total_count": len(entities)})
}

// ListEdges lists a page of edges, optionally filtered by edge type.
func (f *Facade) ListEdges(edgeType graphstore.EdgeType, offset, limit int) Envelope {
	defer f.observe("list_edges", time.Now())
	page, err := f.store.ListEdges(edgeType, offset, limit)
	if err != nil {
		return fail("list_edges", cgerrors.Wrap(cgerrors.StoreTransactionFailed, "list edges failed", err))
	}
	return ok("list_edges", map[string]any{
		"edges":          page.Edges,
		"total_count":    page.TotalCount,
		"returned_count": page.ReturnedCount,
		"offset":         page.Offset,
		"limit":          page.Limit,
	})
}

// Callees returns an entity's direct outgoing edges.
func (f *Facade) Callees(key string) Envelope {
	defer f.observe("callees", time.Now())
	if _, err := keyid.Parse(key); err != nil {
		return fail("callees", cgerrors.Wrap(cgerrors.InvalidKeyFormat, "malformed entity key", err))
	}
	edges, err := f.store.Callees(key)
	if err != nil {
		return fail("callees", cgerrors.Wrap(cgerrors.StoreTransactionFailed, "callees query failed", err))
	}
	return ok("callees", map[string]any{"edges": edges, "total_count": len(edges)})
}

// Callers returns an entity's direct incoming edges.
func (f *Facade) Callers(key string) Envelope {
	defer f.observe("callers", time.Now())
	if _, err := keyid.Parse(key); err != nil {
		return fail("callers", cgerrors.Wrap(cgerrors.InvalidKeyFormat, "malformed entity key", err))
	}
	edges, err := f.store.Callers(key)
	if err != nil {
		return fail("callers", cgerrors.Wrap(cgerrors.StoreTransactionFailed, "callers query failed", err))
	}
	return ok("callers", map[string]any{"edges": edges, "total_count": len(edges)})
}

// BlastRadius computes the bounded-hop blast radius from key.
func (f *Facade) BlastRadius(key string, maxHops int, direction analyze.Direction) Envelope {
	defer f.observe("blast_radius", time.Now())
	if _, err := keyid.Parse(key); err != nil {
		return fail("blast_radius", cgerrors.Wrap(cgerrors.InvalidKeyFormat, "malformed entity key", err))
	}
	result, err := analyze.BlastRadius(f.store, f.metrics, key, maxHops, direction)
	if err != nil {
		return fail("blast_radius", cgerrors.Wrap(cgerrors.StoreTransactionFailed, "blast radius failed", err))
	}
	return ok("blast_radius", result)
}

// CycleScan scans the whole graph for cycles.
func (f *Facade) CycleScan() Envelope {
	defer f.observe("cycle_scan", time.Now())
	cycles, err := analyze.FindCycles(f.store, f.metrics)
	if err != nil {
		return fail("cycle_scan", cgerrors.Wrap(cgerrors.StoreTransactionFailed, "cycle scan failed", err))
	}
	return ok("cycle_scan", map[string]any{"cycles": cycles, "total_count": len(cycles)})
}

// Hotspots ranks entities by afferent+efferent coupling.
func (f *Facade) Hotspots(topN int) Envelope {
	defer f.observe("hotspots", time.Now())
	hotspots, err := analyze.Hotspots(f.store, f.metrics, topN)
	if err != nil {
		return fail("hotspots", cgerrors.Wrap(cgerrors.StoreTransactionFailed, "hotspot ranking failed", err))
	}
	return ok("hotspots", map[string]any{"hotspots": hotspots, "total_count": len(hotspots)})
}

// Clusters runs label-propagation clustering over the whole graph.
func (f *Facade) Clusters(maxIterations int) Envelope {
	defer f.observe("clusters", time.Now())
	clusters, err := analyze.Cluster(f.store, f.metrics, maxIterations)
	if err != nil {
		return fail("clusters", cgerrors.Wrap(cgerrors.StoreTransactionFailed, "clustering failed", err))
	}
	return ok("clusters", map[string]any{"clusters": clusters, "total_count": len(clusters)})
}

// Diff compares this façade's store (as live) against base.
func (f *Facade) Diff(base *graphstore.Store, opts diffengine.Options) Envelope {
	defer f.observe("diff", time.Now())
	result, err := diffengine.Diff(base, f.store, opts)
	if err != nil {
		return fail("diff", cgerrors.Wrap(cgerrors.StoreTransactionFailed, "diff failed", err))
	}
	return ok("diff", result)
}

// SmartContext runs the Context Selector for focusKey under
// budgetTokens.
func (f *Facade) SmartContext(focusKey string, budgetTokens int, opts cgcontext.Options) Envelope {
	defer f.observe("smart_context", time.Now())
	if _, err := keyid.Parse(focusKey); err != nil {
		return fail("smart_context", cgerrors.Wrap(cgerrors.InvalidKeyFormat, "malformed entity key", err))
	}
	selection, err := cgcontext.Select(f.store, f.metrics, focusKey, budgetTokens, opts)
	if err != nil {
		return fail("smart_context", cgerrors.Wrap(cgerrors.StoreTransactionFailed, "context selection failed", err))
	}
	return ok("smart_context", selection)
}

// StatsPayload is the Stats endpoint's data shape (spec §4.12:
// "counts of CODE entities, TEST entities, edges, distinct languages,
// database path").
type StatsPayload struct {
	CodeEntityCount int      `json:"code_entity_count"`
	TestEntityCount int      `json:"test_entity_count"`
	EdgeCount       int      `json:"edge_count"`
	Languages       []string `json:"languages"`
	DatabasePath    string   `json:"database_path"`
}

// Stats reports aggregate graph composition.
func (f *Facade) Stats(databasePath string) Envelope {
	defer f.observe("stats", time.Now())
	stats, err := f.store.Stats()
	if err != nil {
		return fail("stats", cgerrors.Wrap(cgerrors.StoreTransactionFailed, "stats query failed", err))
	}
	languages, err := f.store.Languages()
	if err != nil {
		return fail("stats", cgerrors.Wrap(cgerrors.StoreTransactionFailed, "languages query failed", err))
	}
	return ok("stats", StatsPayload{
		CodeEntityCount: stats.ByClass["CODE"],
		TestEntityCount: stats.ByClass["TEST"],
		EdgeCount:       stats.TotalEdges,
		Languages:       languages,
		DatabasePath:    databasePath,
	})
}
