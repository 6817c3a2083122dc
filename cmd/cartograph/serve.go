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
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	cgerrors "github.com/kraklabs/cartograph/internal/errors"
	"github.com/kraklabs/cartograph/internal/metrics"
	"github.com/kraklabs/cartograph/internal/ui"
	"github.com/kraklabs/cartograph/pkg/analyze"
	cgcontext "github.com/kraklabs/cartograph/pkg/context"
	"github.com/kraklabs/cartograph/pkg/extract"
	"github.com/kraklabs/cartograph/pkg/graphstore"
	"github.com/kraklabs/cartograph/pkg/query"
	"github.com/kraklabs/cartograph/pkg/watch"
)

// runServe executes the 'serve' CLI command: a read-only HTTP query
// server over a graph store, with an optional file watcher keeping it
// current (spec §6's CLI and HTTP surfaces).
//
// Usage: cartograph serve [--db path] [--port N] [--watch] [--watch-dir path]
func runServe(args []string, globals GlobalFlags) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	dbPath := fs.String("db", ".cartograph/db", "Graph store data directory")
	port := fs.Int("port", 8080, "HTTP listen port")
	watchEnabled := fs.Bool("watch", false, "Watch --watch-dir and reindex changed files")
	watchDir := fs.String("watch-dir", ".", "Directory tree to watch when --watch is set")
	debug := fs.Bool("debug", false, "Enable debug logging")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: cartograph serve [options]

Starts a local HTTP server exposing the query façade's read-only
operations over a graph store. With --watch, changed files under
--watch-dir are incrementally reindexed as they're saved.

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return 1
	}

	logLevel := slog.LevelInfo
	if *debug || globals.Verbose >= 2 {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	store, err := graphstore.Open(graphstore.Config{DataDir: *dbPath, Engine: "rocksdb"})
	if err != nil {
		ui.ErrorLine(fmt.Sprintf("open graph store: %v", err))
		return 1
	}
	defer store.Close()

	m := metrics.New()
	facade := query.New(store, m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *watchEnabled {
		extractor := extract.NewExtractor(logger)
		w, err := watch.New(watch.Config{
			Roots: []string{*watchDir},
		}, store, extractor, logger)
		if err != nil {
			ui.ErrorLine(fmt.Sprintf("start watcher: %v", err))
			return 1
		}
		defer w.Close()

		notifications := w.Subscribe()
		go func() {
			for n := range notifications {
				if len(n.Errors) > 0 {
					logger.Warn("watch.reindex.errors", "count", len(n.Errors))
				}
				logger.Info("watch.reindex", "files", len(n.ChangedPaths))
			}
		}()
		go func() {
			if err := w.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("watch.run", "err", err)
			}
		}()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("/entities", writeEnvelope(func(r *http.Request) query.Envelope {
		return facade.ListEntities(graphstore.EntityFilter{
			Language:   r.URL.Query().Get("language"),
			EntityType: r.URL.Query().Get("entity_type"),
			FilePath:   r.URL.Query().Get("file_path"),
		})
	}))
	mux.HandleFunc("/entity", writeEnvelope(func(r *http.Request) query.Envelope {
		includeSnippet, _ := strconv.ParseBool(r.URL.Query().Get("snippet"))
		return facade.GetEntity(r.URL.Query().Get("entity"), includeSnippet)
	}))
	mux.HandleFunc("/search", writeEnvelope(func(r *http.Request) query.Envelope {
		return facade.SearchEntities(r.URL.Query().Get("q"), graphstore.EntityFilter{
			Language:   r.URL.Query().Get("language"),
			EntityType: r.URL.Query().Get("entity_type"),
		})
	}))
	mux.HandleFunc("/edges", writeEnvelope(func(r *http.Request) query.Envelope {
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit <= 0 {
			limit = 100
		}
		return facade.ListEdges(graphstore.EdgeType(r.URL.Query().Get("edge_type")), offset, limit)
	}))
	mux.HandleFunc("/callees", writeEnvelope(func(r *http.Request) query.Envelope {
		return facade.Callees(r.URL.Query().Get("entity"))
	}))
	mux.HandleFunc("/callers", writeEnvelope(func(r *http.Request) query.Envelope {
		return facade.Callers(r.URL.Query().Get("entity"))
	}))
	mux.HandleFunc("/blast-radius", writeEnvelope(func(r *http.Request) query.Envelope {
		hops, _ := strconv.Atoi(r.URL.Query().Get("hops"))
		direction := analyze.Callers
		if r.URL.Query().Get("direction") == "callees" {
			direction = analyze.Callees
		}
		return facade.BlastRadius(r.URL.Query().Get("entity"), hops, direction)
	}))
	mux.HandleFunc("/cycles", writeEnvelope(func(r *http.Request) query.Envelope {
		return facade.CycleScan()
	}))
	mux.HandleFunc("/hotspots", writeEnvelope(func(r *http.Request) query.Envelope {
		topN, _ := strconv.Atoi(r.URL.Query().Get("top"))
		if topN <= 0 {
			topN = 20
		}
		return facade.Hotspots(topN)
	}))
	mux.HandleFunc("/clusters", writeEnvelope(func(r *http.Request) query.Envelope {
		maxIter, _ := strconv.Atoi(r.URL.Query().Get("max_iterations"))
		return facade.Clusters(maxIter)
	}))
	mux.HandleFunc("/context", writeEnvelope(func(r *http.Request) query.Envelope {
		budget, _ := strconv.Atoi(r.URL.Query().Get("budget"))
		maxHops, _ := strconv.Atoi(r.URL.Query().Get("hops"))
		return facade.SmartContext(r.URL.Query().Get("entity"), budget, cgcontext.Options{MaxHops: maxHops})
	}))
	mux.HandleFunc("/stats", writeEnvelope(func(r *http.Request) query.Envelope {
		return facade.Stats(*dbPath)
	}))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", *port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutdown.signal")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	ui.Header("cartograph serve")
	fmt.Printf("listening on http://0.0.0.0:%d\n", *port)
	fmt.Printf("database: %s\n", *dbPath)
	if *watchEnabled {
		fmt.Printf("watching: %s\n", *watchDir)
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		ui.ErrorLine(fmt.Sprintf("server error: %v", err))
		return 1
	}
	return 0
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
}

// writeEnvelope adapts a façade call into an http.HandlerFunc, mapping
// the envelope's error kind to an HTTP status per spec §6.
func writeEnvelope(fn func(*http.Request) query.Envelope) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		env := fn(r)
		status := http.StatusOK
		if !env.Success {
			status = cgerrors.HTTPStatus(env.Kind)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(env)
	}
}
