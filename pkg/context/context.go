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

// Package context is the Context Selector (spec §4.10): given a focus
// entity and a token budget, it scores the surrounding graph by
// relevance and greedily admits the most relevant candidates that fit
// the budget.
package context

import (
	"math"
	"sort"
	"strconv"

	"github.com/kraklabs/cartograph/internal/metrics"
	"github.com/kraklabs/cartograph/pkg/graphstore"
	"github.com/kraklabs/cartograph/pkg/keyid"
)

// Reason tags why a candidate was included, for the caller's display.
type Reason string

const (
	ReasonFocus        Reason = "focus"
	ReasonDirectCaller Reason = "direct_caller"
	ReasonDirectCallee Reason = "direct_callee"
)

// transitiveReason formats the hop-n transitive-neighbor reason tag.
func transitiveReason(hop int) Reason {
	return Reason("transitive@" + strconv.Itoa(hop))
}

// externalPlaceholderTokens is the fixed token cost charged for an
// external placeholder entity, which has no source body to estimate
// from (spec §4.10).
const externalPlaceholderTokens = 4

// Candidate is one entity considered for inclusion in a selection.
type Candidate struct {
	Key        string
	Relevance  float64
	TokenCost  int
	Reason     Reason
	Hop        int
	IsExternal bool
}

// Selection is the Context Selector's output: the admitted entities,
// in admission order, plus the budget accounting.
type Selection struct {
	FocusKey       string
	BudgetTokens   int
	UsedTokens     int
	Entities       []Candidate
	CandidateCount int
}

// Options configures a Select call.
type Options struct {
	// MaxHops bounds candidate enumeration. 0 defaults to 3.
	MaxHops int
}

const defaultMaxHops = 3

// Select scores every entity reachable from focus within opts.MaxHops,
// orders the candidates by relevance (highest first, ties broken by
// lower token cost, then by key) and greedily admits each one that still
// fits in budgetTokens; a candidate that does not fit is skipped and the
// later ones are still considered (spec §4.10).
func Select(store *graphstore.Store, m *metrics.Metrics, focusKey string, budgetTokens int, opts Options) (*Selection, error) {
	maxHops := opts.MaxHops
	if maxHops <= 0 {
		maxHops = defaultMaxHops
	}

	candidates, err := enumerate(store, focusKey, maxHops)
	if err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Relevance != candidates[j].Relevance {
			return candidates[i].Relevance > candidates[j].Relevance
		}
		if candidates[i].TokenCost != candidates[j].TokenCost {
			return candidates[i].TokenCost < candidates[j].TokenCost
		}
		return candidates[i].Key < candidates[j].Key
	})

	selection := &Selection{
		FocusKey:       focusKey,
		BudgetTokens:   budgetTokens,
		CandidateCount: len(candidates),
	}
	for _, c := range candidates {
		if selection.UsedTokens+c.TokenCost > budgetTokens {
			continue
		}
		selection.UsedTokens += c.TokenCost
		selection.Entities = append(selection.Entities, c)
	}

	m.ObserveContextTokens(selection.UsedTokens)
	return selection, nil
}

// enumerate computes the candidate set for focus: focus itself, direct
// callers/callees (1 hop), and transitive neighbors out to maxHops,
// each scored per spec §4.10's relevance table.
func enumerate(store *graphstore.Store, focusKey string, maxHops int) ([]Candidate, error) {
	seen := map[string]Candidate{}

	focusCost, focusExternal, err := tokenCost(store, focusKey)
	if err != nil {
		return nil, err
	}
	seen[focusKey] = Candidate{Key: focusKey, Relevance: 1.00, TokenCost: focusCost, Reason: ReasonFocus, Hop: 0, IsExternal: focusExternal}

	callerEdges, err := store.Callers(focusKey)
	if err != nil {
		return nil, err
	}
	calleeEdges, err := store.Callees(focusKey)
	if err != nil {
		return nil, err
	}

	frontier := map[string]int{} // key -> hop at first discovery
	for _, e := range callerEdges {
		if err := addCandidate(store, seen, e.FromKey, 1.00, ReasonDirectCaller, 1); err != nil {
			return nil, err
		}
		frontier[e.FromKey] = 1
	}
	for _, e := range calleeEdges {
		if err := addCandidate(store, seen, e.ToKey, 0.95, ReasonDirectCallee, 1); err != nil {
			return nil, err
		}
		frontier[e.ToKey] = 1
	}

	currentHop := frontier
	for hop := 2; hop <= maxHops && len(currentHop) > 0; hop++ {
		nextHop := map[string]int{}
		var keys []string
		for k := range currentHop {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		relevance := math.Max(0.7-0.1*float64(hop-1), 0)
		for _, key := range keys {
			callers, err := store.Callers(key)
			if err != nil {
				return nil, err
			}
			callees, err := store.Callees(key)
			if err != nil {
				return nil, err
			}
			for _, e := range callers {
				if _, ok := seen[e.FromKey]; ok {
					continue
				}
				if err := addCandidate(store, seen, e.FromKey, relevance, transitiveReason(hop), hop); err != nil {
					return nil, err
				}
				nextHop[e.FromKey] = hop
			}
			for _, e := range callees {
				if _, ok := seen[e.ToKey]; ok {
					continue
				}
				if err := addCandidate(store, seen, e.ToKey, relevance, transitiveReason(hop), hop); err != nil {
					return nil, err
				}
				nextHop[e.ToKey] = hop
			}
		}
		currentHop = nextHop
	}

	out := make([]Candidate, 0, len(seen))
	for _, c := range seen {
		out = append(out, c)
	}
	return out, nil
}

func addCandidate(store *graphstore.Store, seen map[string]Candidate, key string, relevance float64, reason Reason, hop int) error {
	if _, ok := seen[key]; ok {
		return nil
	}
	cost, external, err := tokenCost(store, key)
	if err != nil {
		return err
	}
	seen[key] = Candidate{Key: key, Relevance: relevance, TokenCost: cost, Reason: reason, Hop: hop, IsExternal: external}
	return nil
}

// tokenCost estimates an entity's token cost: ceil(len(snippet)/4) for
// a resolved entity, or a fixed small cost for an external placeholder
// (which has no body) per spec §4.10.
func tokenCost(store *graphstore.Store, key string) (cost int, isExternal bool, err error) {
	if keyid.IsExternal(key) {
		return externalPlaceholderTokens, true, nil
	}
	snippet, ok, err := store.Snippet(key)
	if err != nil {
		return 0, false, err
	}
	if !ok || len(snippet) == 0 {
		return 1, false, nil
	}
	return int(math.Ceil(float64(len(snippet)) / 4.0)), false, nil
}
