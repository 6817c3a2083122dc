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
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"encoding/json"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/cartograph/internal/ui"
	"github.com/kraklabs/cartograph/pkg/diffengine"
	"github.com/kraklabs/cartograph/pkg/graphstore"
)

// runDiff executes the 'diff' CLI command: compares two graph stores
// and reports structural change (spec §4.8 / §6).
//
// Usage: cartograph diff --base <store-path> --live <store-path> [--max-hops N] [--json]
func runDiff(args []string, globals GlobalFlags) int {
	fs := flag.NewFlagSet("diff", flag.ContinueOnError)
	basePath := fs.String("base", "", "Base graph store data directory")
	livePath := fs.String("live", "", "Live graph store data directory")
	maxHops := fs.Int("max-hops", 1, "Hops to expand for affected-neighbors")
	includeUnchanged := fs.Bool("include-unchanged", false, "Include Unchanged entities in the report")
	jsonOutput := fs.Bool("json", false, "Output as JSON")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: cartograph diff --base <store-path> --live <store-path> [options]

Compares two graph-store snapshots by stable identity and reports every
Added, Removed, Relocated, and Moved entity, plus changed edges and the
neighbors affected by the change.

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *basePath == "" || *livePath == "" {
		fs.Usage()
		return 1
	}
	if globals.JSON {
		*jsonOutput = true
	}

	base, err := graphstore.Open(graphstore.Config{DataDir: *basePath, Engine: "rocksdb"})
	if err != nil {
		ui.ErrorLine(fmt.Sprintf("open base store: %v", err))
		return 1
	}
	defer base.Close()

	live, err := graphstore.Open(graphstore.Config{DataDir: *livePath, Engine: "rocksdb"})
	if err != nil {
		ui.ErrorLine(fmt.Sprintf("open live store: %v", err))
		return 1
	}
	defer live.Close()

	result, err := diffengine.Diff(base, live, diffengine.Options{
		MaxHops:          *maxHops,
		IncludeUnchanged: *includeUnchanged,
	})
	if err != nil {
		ui.ErrorLine(fmt.Sprintf("diff failed: %v", err))
		return 1
	}

	if *jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			ui.ErrorLine(fmt.Sprintf("encode result: %v", err))
			return 1
		}
		return 0
	}

	ui.Header("Diff summary")
	for changeType, count := range result.Counts {
		fmt.Printf("%s: %s\n", changeType, ui.CountText(count))
	}
	fmt.Printf("added edges: %s\n", ui.CountText(len(result.AddedEdges)))
	fmt.Printf("removed edges: %s\n", ui.CountText(len(result.RemovedEdges)))
	fmt.Printf("affected neighbors: %s\n", ui.CountText(len(result.AffectedNeighbors)))
	return 0
}
