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
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/schollz/progressbar/v3"

	"github.com/kraklabs/cartograph/internal/metrics"
	"github.com/kraklabs/cartograph/internal/ui"
	"github.com/kraklabs/cartograph/pkg/extract"
	"github.com/kraklabs/cartograph/pkg/graphstore"
	"github.com/kraklabs/cartograph/pkg/ingest"
)

// runIngest executes the 'ingest' CLI command: a full ingest of a
// directory into a fresh graph store.
//
// Usage: cartograph ingest <dir> [--include glob] [--exclude glob] [--max-size N]
func runIngest(args []string, globals GlobalFlags) int {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	include := fs.StringArray("include", nil, "Include glob (repeatable); default includes everything not excluded")
	exclude := fs.StringArray("exclude", nil, "Exclude glob (repeatable)")
	maxSize := fs.Int64("max-size", 1048576, "Maximum file size in bytes (0 disables the cap)")
	dbPath := fs.String("db", ".cartograph/db", "Graph store data directory")
	workers := fs.Int("workers", 0, "Parallel workers (0 picks a default)")
	debug := fs.Bool("debug", false, "Enable debug logging")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: cartograph ingest <dir> [options]

Walks <dir>, parses every supported source file, and writes the
resulting entities and edges into a fresh graph store. Prints entity
and edge counts on completion.

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 1
	}
	root := fs.Arg(0)

	logLevel := slog.LevelInfo
	if *debug || globals.Verbose >= 2 {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown.signal")
		cancel()
	}()

	store, err := graphstore.Open(graphstore.Config{DataDir: *dbPath, Engine: "rocksdb"})
	if err != nil {
		ui.ErrorLine(fmt.Sprintf("open graph store: %v", err))
		return 1
	}
	defer store.Close()

	extractor := extract.NewExtractor(logger)
	m := metrics.New()

	var bar *progressbar.ProgressBar
	if !globals.Quiet {
		bar = progressbar.NewOptions(-1,
			progressbar.OptionSetDescription("ingesting"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionThrottle(100*time.Millisecond),
		)
	}

	cfg := ingest.Config{
		Root:             root,
		IncludeGlobs:     *include,
		ExcludeGlobs:     *exclude,
		MaxFileSizeBytes: *maxSize,
		Workers:          *workers,
	}

	result, err := ingest.Run(ctx, store, extractor, cfg, logger, func(current, total int64, phase string) {
		if bar == nil {
			return
		}
		if total > 0 {
			bar.ChangeMax64(total)
		}
		bar.Describe(phase)
		_ = bar.Set64(current)
	})
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		ui.ErrorLine(fmt.Sprintf("ingest failed: %v", err))
		return 1
	}
	m.AddFilesIndexed(result.FilesProcessed)

	if globals.JSON {
		fmt.Printf(`{"files_processed":%d,"entities_created":%d,"edges_created":%d,"errors":%d}`+"\n",
			result.FilesProcessed, result.EntitiesCreated, result.EdgesCreated, len(result.Errors))
		return 0
	}

	ui.Header("Ingest complete")
	fmt.Printf("%s files processed\n", ui.CountText(result.FilesProcessed))
	fmt.Printf("%s entities created\n", ui.CountText(result.EntitiesCreated))
	fmt.Printf("%s edges created\n", ui.CountText(result.EdgesCreated))
	if len(result.Errors) > 0 {
		ui.Warning(fmt.Sprintf("%d file(s) failed to parse", len(result.Errors)))
		for _, fe := range result.Errors {
			fmt.Printf("  %s: %v\n", fe.Path, fe.Err)
		}
	}
	return 0
}
