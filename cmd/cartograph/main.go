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

// Package main implements the cartograph CLI: a code dependency-graph
// indexer and query server.
//
// Usage:
//
//	cartograph ingest <dir> [--include glob] [--exclude glob] [--max-size N]
//	cartograph serve [--db path] [--port N] [--watch] [--watch-dir path]
//	cartograph diff --base <store-path> --live <store-path> [--max-hops N] [--json]
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/cartograph/internal/ui"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// GlobalFlags holds flags that apply across every subcommand.
type GlobalFlags struct {
	JSON    bool
	NoColor bool
	Verbose int
	Quiet   bool
}

func main() {
	var (
		showVersion = flag.BoolP("version", "V", false, "Show version and exit")
		jsonOutput  = flag.Bool("json", false, "Output in JSON format (for applicable commands)")
		noColor     = flag.Bool("no-color", false, "Disable color output")
		verbose     = flag.CountP("verbose", "v", "Increase verbosity (-v for info, -vv for debug)")
		quiet       = flag.BoolP("quiet", "q", false, "Suppress non-essential output")
	)

	// Stop parsing at the first non-flag argument so subcommand flags
	// (e.g. "ingest --max-size 100") reach the subcommand, not us.
	flag.SetInterspersed(false)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `cartograph - code dependency-graph indexer and query server

Usage:
  cartograph <command> [options]

Commands:
  ingest   Full-ingest a repository into a new graph store
  serve    Start the read-only query server (optionally with a file watcher)
  diff     Compare two graph stores and report structural change

Global Options:
  --json          Output in JSON format
  --no-color      Disable color output (respects NO_COLOR env var)
  -v, --verbose   Increase verbosity (-v for info, -vv for debug)
  -q, --quiet     Suppress non-essential output
  -V, --version   Show version and exit

Examples:
  cartograph ingest .
  cartograph serve --db .cartograph/db --port 8080 --watch
  cartograph diff --base ./old-db --live ./new-db --json

For detailed command help: cartograph <command> --help
`)
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("cartograph version %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", date)
		os.Exit(0)
	}

	if os.Getenv("NO_COLOR") != "" {
		*noColor = true
	}
	if *quiet && *verbose > 0 {
		fmt.Fprintln(os.Stderr, "Error: cannot use --quiet and --verbose together")
		os.Exit(1)
	}
	if *jsonOutput {
		*quiet = true
	}

	globals := GlobalFlags{JSON: *jsonOutput, NoColor: *noColor, Verbose: *verbose, Quiet: *quiet}
	ui.InitColors(globals.NoColor)

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	command := args[0]
	cmdArgs := args[1:]

	var code int
	switch command {
	case "ingest":
		code = runIngest(cmdArgs, globals)
	case "serve":
		code = runServe(cmdArgs, globals)
	case "diff":
		code = runDiff(cmdArgs, globals)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		flag.Usage()
		code = 1
	}
	os.Exit(code)
}
