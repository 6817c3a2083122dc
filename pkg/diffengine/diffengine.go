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

// Package diffengine is the Diff Engine (spec §4.8): it compares two
// graph-store snapshots by stable identity and classifies every entity
// as Added, Removed, Relocated, Moved, Modified or Unchanged.
package diffengine

import (
	"fmt"
	"sort"

	"github.com/kraklabs/cartograph/pkg/graphstore"
	"github.com/kraklabs/cartograph/pkg/keyid"
)

// ChangeType is one of the six classifications spec §4.8 names.
type ChangeType string

const (
	Added     ChangeType = "Added"
	Removed   ChangeType = "Removed"
	Relocated ChangeType = "Relocated"
	Moved     ChangeType = "Moved"
	Modified  ChangeType = "Modified" // reserved; never emitted (no content hashing in this pass)
	Unchanged ChangeType = "Unchanged"
)

// EntityDiff is one entity's classification between base and live.
type EntityDiff struct {
	StableIdentity string
	ChangeType     ChangeType
	BaseKey        string // empty for Added
	LiveKey        string // empty for Removed
	LinesShifted   int    // only meaningful for Moved
}

// Options controls a Diff run.
type Options struct {
	// MaxHops bounds the affected-neighbors BFS (spec §4.8 step 5 defines
	// the 1-hop case; §4.12's façade exposes it as a configurable depth).
	// 0 defaults to 1.
	MaxHops int
	// IncludeUnchanged includes Unchanged entities in Result.Entities.
	// Spec §4.8 step 3 omits them "unless explicitly requested".
	IncludeUnchanged bool
}

// Result is the `DiffResult` payload (spec §4.8 step 6).
type Result struct {
	Entities          []EntityDiff
	AddedEdges        []graphstore.Edge
	RemovedEdges      []graphstore.Edge
	AffectedNeighbors []string
	Counts            map[ChangeType]int
}

// Diff compares base against live and classifies every stable identity
// appearing in either snapshot.
func Diff(base, live *graphstore.Store, opts Options) (*Result, error) {
	maxHops := opts.MaxHops
	if maxHops <= 0 {
		maxHops = 1
	}

	baseEntities, err := base.ListEntities(graphstore.EntityFilter{})
	if err != nil {
		return nil, fmt.Errorf("list base entities: %w", err)
	}
	liveEntities, err := live.ListEntities(graphstore.EntityFilter{})
	if err != nil {
		return nil, fmt.Errorf("list live entities: %w", err)
	}

	baseByIdentity, err := groupByStableIdentity(baseEntities)
	if err != nil {
		return nil, fmt.Errorf("group base entities: %w", err)
	}
	liveByIdentity, err := groupByStableIdentity(liveEntities)
	if err != nil {
		return nil, fmt.Errorf("group live entities: %w", err)
	}

	result := &Result{Counts: map[ChangeType]int{}}
	changedKeys := map[string]bool{}

	unmatchedBase := map[string]graphstore.Entity{}
	unmatchedLive := map[string]graphstore.Entity{}

	for identity, baseEntity := range baseByIdentity {
		liveEntity, ok := liveByIdentity[identity]
		if !ok {
			unmatchedBase[identity] = baseEntity
			continue
		}
		diff := EntityDiff{StableIdentity: identity, BaseKey: baseEntity.Key, LiveKey: liveEntity.Key}
		if baseEntity.Key == liveEntity.Key {
			diff.ChangeType = Unchanged
		} else {
			diff.ChangeType = Moved
			diff.LinesShifted = liveEntity.StartLine - baseEntity.StartLine
			changedKeys[baseEntity.Key] = true
			changedKeys[liveEntity.Key] = true
		}
		result.Counts[diff.ChangeType]++
		if diff.ChangeType != Unchanged || opts.IncludeUnchanged {
			result.Entities = append(result.Entities, diff)
		}
	}
	for identity, liveEntity := range liveByIdentity {
		if _, ok := baseByIdentity[identity]; !ok {
			unmatchedLive[identity] = liveEntity
		}
	}

	// Second pass: among stable identities unmatched in the first pass
	// (different path_hash), pair a base-only and a live-only entity
	// sharing (language, entity_type, name) as Relocated rather than
	// classifying both as an unrelated Removed+Added. See the Relocated
	// vs. Moved Open Question decision in DESIGN.md.
	relocateRelocated(unmatchedBase, unmatchedLive, result, changedKeys)

	for identity, baseEntity := range unmatchedBase {
		result.Entities = append(result.Entities, EntityDiff{
			StableIdentity: identity,
			ChangeType:     Removed,
			BaseKey:        baseEntity.Key,
		})
		result.Counts[Removed]++
		changedKeys[baseEntity.Key] = true
	}
	for identity, liveEntity := range unmatchedLive {
		result.Entities = append(result.Entities, EntityDiff{
			StableIdentity: identity,
			ChangeType:     Added,
			LiveKey:        liveEntity.Key,
		})
		result.Counts[Added]++
		changedKeys[liveEntity.Key] = true
	}

	sort.Slice(result.Entities, func(i, j int) bool {
		return result.Entities[i].StableIdentity < result.Entities[j].StableIdentity
	})

	addedEdges, removedEdges, err := diffEdges(base, live)
	if err != nil {
		return nil, err
	}
	result.AddedEdges = addedEdges
	result.RemovedEdges = removedEdges

	neighbors, err := affectedNeighbors(live, changedKeys, maxHops)
	if err != nil {
		return nil, fmt.Errorf("compute affected neighbors: %w", err)
	}
	result.AffectedNeighbors = neighbors

	return result, nil
}

func groupByStableIdentity(entities []graphstore.Entity) (map[string]graphstore.Entity, error) {
	out := make(map[string]graphstore.Entity, len(entities))
	for _, e := range entities {
		identity, err := keyid.StableIdentity(e.Key)
		if err != nil {
			return nil, err
		}
		out[identity] = e
	}
	return out, nil
}

// relocateRelocated pairs base-only and live-only entities that share
// (language, entity_type, name) but differ in path_hash, classifying
// each pair as Relocated and removing them from the unmatched maps so
// they are not subsequently emitted as Removed/Added.
func relocateRelocated(unmatchedBase, unmatchedLive map[string]graphstore.Entity, result *Result, changedKeys map[string]bool) {
	type candidate struct {
		identity string
		entity   graphstore.Entity
		name     string
	}
	liveByName := map[string][]candidate{}
	for identity, e := range unmatchedLive {
		k, err := keyid.Parse(e.Key)
		if err != nil {
			continue
		}
		nameKey := k.Language + ":" + k.EntityType + ":" + k.Name
		liveByName[nameKey] = append(liveByName[nameKey], candidate{identity: identity, entity: e, name: nameKey})
	}

	var baseIdentities []string
	for identity := range unmatchedBase {
		baseIdentities = append(baseIdentities, identity)
	}
	sort.Strings(baseIdentities)

	for _, baseIdentity := range baseIdentities {
		baseEntity := unmatchedBase[baseIdentity]
		k, err := keyid.Parse(baseEntity.Key)
		if err != nil {
			continue
		}
		nameKey := k.Language + ":" + k.EntityType + ":" + k.Name
		candidates := liveByName[nameKey]
		if len(candidates) == 0 {
			continue
		}
		match := candidates[0]
		liveByName[nameKey] = candidates[1:]

		result.Entities = append(result.Entities, EntityDiff{
			StableIdentity: baseIdentity,
			ChangeType:     Relocated,
			BaseKey:        baseEntity.Key,
			LiveKey:        match.entity.Key,
		})
		result.Counts[Relocated]++
		changedKeys[baseEntity.Key] = true
		changedKeys[match.entity.Key] = true

		delete(unmatchedBase, baseIdentity)
		delete(unmatchedLive, match.identity)
	}
}

func diffEdges(base, live *graphstore.Store) (added, removed []graphstore.Edge, err error) {
	baseEdges, err := base.AllEdges()
	if err != nil {
		return nil, nil, fmt.Errorf("list base edges: %w", err)
	}
	liveEdges, err := live.AllEdges()
	if err != nil {
		return nil, nil, fmt.Errorf("list live edges: %w", err)
	}

	baseSet := map[string]bool{}
	for _, e := range baseEdges {
		baseSet[edgeIdentity(e)] = true
	}
	liveSet := map[string]bool{}
	for _, e := range liveEdges {
		liveSet[edgeIdentity(e)] = true
	}

	for _, e := range liveEdges {
		if !baseSet[edgeIdentity(e)] {
			added = append(added, e)
		}
	}
	for _, e := range baseEdges {
		if !liveSet[edgeIdentity(e)] {
			removed = append(removed, e)
		}
	}
	return added, removed, nil
}

func edgeIdentity(e graphstore.Edge) string {
	return e.FromKey + "\x00" + e.ToKey + "\x00" + string(e.EdgeType)
}

// affectedNeighbors BFS-expands from every changed key over both
// forward and reverse adjacency in live, up to maxHops, excluding the
// changed entities themselves (spec §4.8 step 5 / invariant 3).
func affectedNeighbors(live *graphstore.Store, changedKeys map[string]bool, maxHops int) ([]string, error) {
	frontier := make([]string, 0, len(changedKeys))
	for k := range changedKeys {
		frontier = append(frontier, k)
	}
	sort.Strings(frontier)

	visited := map[string]bool{}
	neighbors := map[string]bool{}

	for hop := 0; hop < maxHops && len(frontier) > 0; hop++ {
		var next []string
		for _, key := range frontier {
			callees, err := live.Callees(key)
			if err != nil {
				return nil, err
			}
			callers, err := live.Callers(key)
			if err != nil {
				return nil, err
			}
			for _, e := range callees {
				if !visited[e.ToKey] {
					visited[e.ToKey] = true
					next = append(next, e.ToKey)
				}
				if !changedKeys[e.ToKey] {
					neighbors[e.ToKey] = true
				}
			}
			for _, e := range callers {
				if !visited[e.FromKey] {
					visited[e.FromKey] = true
					next = append(next, e.FromKey)
				}
				if !changedKeys[e.FromKey] {
					neighbors[e.FromKey] = true
				}
			}
		}
		frontier = next
	}

	out := make([]string, 0, len(neighbors))
	for k := range neighbors {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}
