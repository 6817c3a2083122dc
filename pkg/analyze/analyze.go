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

// Package analyze is the Graph Analyzer (spec §4.9): blast radius (BFS),
// cycle detection (iterative tri-color DFS), clustering (label
// propagation), and complexity hotspot ranking, all over the edge set
// held in the Graph Store.
package analyze

import (
	"fmt"
	"sort"
	"time"

	"github.com/kraklabs/cartograph/internal/metrics"
	"github.com/kraklabs/cartograph/pkg/graphstore"
)

// Direction picks which adjacency blast radius expands over.
type Direction string

const (
	// Callers expands over reverse-adjacency: "what breaks if this
	// entity changes" (the traditional blast-radius question).
	Callers Direction = "callers"
	// Callees expands over forward-adjacency: "what this entity
	// transitively depends on".
	Callees Direction = "callees"
)

const defaultMaxHops = 5

// HopLevel is the set of entities first reached at a given hop depth.
type HopLevel struct {
	Hop      int
	Count    int
	Entities []string
}

// BlastRadiusResult is the blast-radius payload (spec §4.9 / §6).
type BlastRadiusResult struct {
	SourceEntity  string
	HopsRequested int
	TotalAffected int
	ByHop         []HopLevel
}

// BlastRadius performs a bounded-depth BFS from source over direction's
// adjacency, capped at maxHops (default 5). A visited set prevents
// revisits, so cycles terminate naturally.
func BlastRadius(store *graphstore.Store, m *metrics.Metrics, source string, maxHops int, direction Direction) (*BlastRadiusResult, error) {
	defer observe(m, "blast_radius", time.Now())

	if maxHops <= 0 {
		maxHops = defaultMaxHops
	}
	if direction == "" {
		direction = Callers
	}

	result := &BlastRadiusResult{SourceEntity: source, HopsRequested: maxHops}
	visited := map[string]bool{source: true}
	frontier := []string{source}

	for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
		var next []string
		for _, key := range frontier {
			neighbors, err := adjacency(store, key, direction)
			if err != nil {
				return nil, err
			}
			for _, n := range neighbors {
				if visited[n] {
					continue
				}
				visited[n] = true
				next = append(next, n)
			}
		}
		if len(next) == 0 {
			break
		}
		sort.Strings(next)
		result.ByHop = append(result.ByHop, HopLevel{Hop: hop, Count: len(next), Entities: next})
		result.TotalAffected += len(next)
		frontier = next
	}
	return result, nil
}

func adjacency(store *graphstore.Store, key string, direction Direction) ([]string, error) {
	if direction == Callees {
		edges, err := store.Callees(key)
		if err != nil {
			return nil, err
		}
		out := make([]string, len(edges))
		for i, e := range edges {
			out[i] = e.ToKey
		}
		return out, nil
	}
	edges, err := store.Callers(key)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(edges))
	for i, e := range edges {
		out[i] = e.FromKey
	}
	return out, nil
}

// Cycle is one cycle found in the graph, as the ordered sequence of
// entity keys from the point of first revisit back to itself.
type Cycle struct {
	Entities []string
}

// color marks a node's DFS traversal state for cycle detection.
type color int

const (
	white color = iota // unvisited
	gray               // on the current DFS path
	black              // finished
)

// FindCycles runs an iterative (explicit-stack) tri-color DFS over the
// whole edge set and reports every cycle, including self-loops. An
// explicit stack is used instead of function recursion so deep call
// graphs can't overflow the goroutine stack (spec §4.9).
func FindCycles(store *graphstore.Store, m *metrics.Metrics) ([]Cycle, error) {
	defer observe(m, "cycle_detection", time.Now())

	edges, err := store.AllEdges()
	if err != nil {
		return nil, fmt.Errorf("list edges: %w", err)
	}
	adj := map[string][]string{}
	nodes := map[string]bool{}
	for _, e := range edges {
		adj[e.FromKey] = append(adj[e.FromKey], e.ToKey)
		nodes[e.FromKey] = true
		nodes[e.ToKey] = true
	}

	colors := make(map[string]color, len(nodes))
	var sortedNodes []string
	for n := range nodes {
		sortedNodes = append(sortedNodes, n)
	}
	sort.Strings(sortedNodes)
	for _, n := range adj {
		sort.Strings(n)
	}

	var cycles []Cycle

	type frame struct {
		node     string
		path     []string
		edgeIdx  int
		children []string
	}

	for _, start := range sortedNodes {
		if colors[start] != white {
			continue
		}
		stack := []*frame{{node: start, path: []string{start}, children: adj[start]}}
		colors[start] = gray

		for len(stack) > 0 {
			top := stack[len(stack)-1]
			if top.edgeIdx >= len(top.children) {
				colors[top.node] = black
				stack = stack[:len(stack)-1]
				continue
			}
			next := top.children[top.edgeIdx]
			top.edgeIdx++

			switch colors[next] {
			case white:
				colors[next] = gray
				path := append(append([]string{}, top.path...), next)
				stack = append(stack, &frame{node: next, path: path, children: adj[next]})
			case gray:
				cyclePath := cyclePathFrom(top.path, next)
				cycles = append(cycles, Cycle{Entities: cyclePath})
			case black:
				// already fully explored, no cycle through it from here
			}
		}
	}
	return cycles, nil
}

// cyclePathFrom extracts the suffix of path starting at the first
// occurrence of target, closing the loop back to target.
func cyclePathFrom(path []string, target string) []string {
	for i, n := range path {
		if n == target {
			cycle := append([]string{}, path[i:]...)
			return append(cycle, target)
		}
	}
	return []string{target, target} // self-loop fallback
}

// Cluster is one label-propagation community (spec §4.9).
type Cluster struct {
	ClusterID     int
	EntityCount   int
	Entities      []string
	InternalEdges int
	ExternalEdges int
}

const defaultClusterIterationCap = 100

// Cluster runs label propagation over the undirected projection of the
// edge set: every entity starts labeled by its own key, and in each
// iteration adopts the most frequent label among its neighbors (ties
// broken lexicographically). Iterates until no label changes or
// maxIterations is reached (default 100).
func Cluster(store *graphstore.Store, m *metrics.Metrics, maxIterations int) ([]Cluster, error) {
	defer observe(m, "clustering", time.Now())

	if maxIterations <= 0 {
		maxIterations = defaultClusterIterationCap
	}

	edges, err := store.AllEdges()
	if err != nil {
		return nil, fmt.Errorf("list edges: %w", err)
	}

	neighbors := map[string]map[string]bool{}
	addNeighbor := func(a, b string) {
		if neighbors[a] == nil {
			neighbors[a] = map[string]bool{}
		}
		neighbors[a][b] = true
	}
	labels := map[string]string{}
	for _, e := range edges {
		addNeighbor(e.FromKey, e.ToKey)
		addNeighbor(e.ToKey, e.FromKey)
		labels[e.FromKey] = e.FromKey
		labels[e.ToKey] = e.ToKey
	}

	var nodes []string
	for n := range labels {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)

	for iter := 0; iter < maxIterations; iter++ {
		changed := false
		for _, n := range nodes {
			if len(neighbors[n]) == 0 {
				continue
			}
			counts := map[string]int{}
			for nb := range neighbors[n] {
				counts[labels[nb]]++
			}
			best := labels[n]
			bestCount := -1
			var labelsSeen []string
			for l := range counts {
				labelsSeen = append(labelsSeen, l)
			}
			sort.Strings(labelsSeen)
			for _, l := range labelsSeen {
				if counts[l] > bestCount {
					bestCount = counts[l]
					best = l
				}
			}
			if best != labels[n] {
				labels[n] = best
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	return clustersFromLabels(nodes, labels, neighbors), nil
}

func clustersFromLabels(nodes []string, labels map[string]string, neighbors map[string]map[string]bool) []Cluster {
	byLabel := map[string][]string{}
	for _, n := range nodes {
		byLabel[labels[n]] = append(byLabel[labels[n]], n)
	}

	var labelOrder []string
	for l := range byLabel {
		labelOrder = append(labelOrder, l)
	}
	sort.Strings(labelOrder)

	clusters := make([]Cluster, 0, len(labelOrder))
	for i, label := range labelOrder {
		members := byLabel[label]
		sort.Strings(members)
		memberSet := make(map[string]bool, len(members))
		for _, mem := range members {
			memberSet[mem] = true
		}

		internal, external := 0, 0
		for _, n := range members {
			for nb := range neighbors[n] {
				if memberSet[nb] {
					internal++
				} else {
					external++
				}
			}
		}
		clusters = append(clusters, Cluster{
			ClusterID:     i,
			EntityCount:   len(members),
			Entities:      members,
			InternalEdges: internal / 2, // each internal edge counted from both ends
			ExternalEdges: external,
		})
	}
	return clusters
}

// Hotspot ranks one entity by its total edge coupling.
type Hotspot struct {
	Key           string
	AfferentCount int // incoming edges (callers)
	EfferentCount int // outgoing edges (callees)
	TotalCoupling int
}

// Hotspots ranks entities by afferent+efferent coupling (incoming plus
// outgoing edge counts) and returns the top N.
func Hotspots(store *graphstore.Store, m *metrics.Metrics, topN int) ([]Hotspot, error) {
	defer observe(m, "hotspots", time.Now())

	edges, err := store.AllEdges()
	if err != nil {
		return nil, fmt.Errorf("list edges: %w", err)
	}

	afferent := map[string]int{}
	efferent := map[string]int{}
	for _, e := range edges {
		efferent[e.FromKey]++
		afferent[e.ToKey]++
	}

	keys := map[string]bool{}
	for k := range afferent {
		keys[k] = true
	}
	for k := range efferent {
		keys[k] = true
	}

	hotspots := make([]Hotspot, 0, len(keys))
	for k := range keys {
		hotspots = append(hotspots, Hotspot{
			Key:           k,
			AfferentCount: afferent[k],
			EfferentCount: efferent[k],
			TotalCoupling: afferent[k] + efferent[k],
		})
	}
	sort.Slice(hotspots, func(i, j int) bool {
		if hotspots[i].TotalCoupling != hotspots[j].TotalCoupling {
			return hotspots[i].TotalCoupling > hotspots[j].TotalCoupling
		}
		return hotspots[i].Key < hotspots[j].Key
	})
	if topN > 0 && len(hotspots) > topN {
		hotspots = hotspots[:topN]
	}
	return hotspots, nil
}

func observe(m *metrics.Metrics, algorithm string, start time.Time) {
	m.ObserveAnalyzer(algorithm, time.Since(start))
}
