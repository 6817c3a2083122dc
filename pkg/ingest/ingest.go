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

// Package ingest is the File Streamer (spec §4.6): it walks a directory,
// filters files by include/exclude globs and size, drives the Parser
// Adapter and Entity Classifier over everything it finds, and writes the
// resulting entities and edges into the Graph Store in one full-ingest
// pass.
package ingest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kraklabs/cartograph/pkg/extract"
	"github.com/kraklabs/cartograph/pkg/graphstore"
)

// ProgressCallback reports streaming progress; phase is one of "read",
// "extract" or "write".
type ProgressCallback func(current, total int64, phase string)

// Config controls a full-ingest run.
type Config struct {
	Root             string
	IncludeGlobs     []string // empty means "include everything not excluded"
	ExcludeGlobs     []string
	MaxFileSizeBytes int64 // 0 means no cap
	Workers          int   // 0 picks a default
}

// FileError records a per-file failure that did not abort the run.
type FileError struct {
	Path string
	Err  error
}

// Result is the File Streamer's summary (spec §4.6): `StreamerResult`.
type Result struct {
	FilesProcessed  int
	EntitiesCreated int
	EdgesCreated    int
	Errors          []FileError
}

type discoveredFile struct {
	path     string // relative to Root, slash-normalized
	fullPath string
	language extract.Language
}

// Run performs a full ingest of every supported, eligible file under
// cfg.Root into store. It walks the tree, filters, reads and hashes
// files in parallel, runs the Parser Adapter's project-wide extraction
// (which performs the cross-file resolution pass as its second phase),
// and batch-writes the resulting entities and edges.
func Run(ctx context.Context, store *graphstore.Store, extractor *extract.Extractor, cfg Config, logger *slog.Logger, progress ProgressCallback) (*Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if progress == nil {
		progress = func(int64, int64, string) {}
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 8
	}

	result := &Result{}

	discovered, skipped := discoverFiles(cfg)
	for _, path := range skipped {
		logger.Debug("ingest.skip", "path", path)
	}
	logger.Info("ingest.discover", "root", cfg.Root, "eligible", len(discovered), "skipped", len(skipped))

	files, readErrors := readFilesParallel(ctx, discovered, workers, progress)
	result.Errors = append(result.Errors, readErrors...)
	if len(files) == 0 {
		return result, nil
	}

	project, err := extract.ExtractProject(ctx, extractor, files)
	if err != nil {
		return result, fmt.Errorf("extract project: %w", err)
	}
	progress(int64(len(files)), int64(len(files)), "extract")

	if err := store.PutEntities(project.Entities); err != nil {
		return result, fmt.Errorf("write entities: %w", err)
	}
	if err := store.PutEdges(project.Edges); err != nil {
		return result, fmt.Errorf("write edges: %w", err)
	}
	if _, err := store.ResolveExternalEdges(); err != nil {
		return result, fmt.Errorf("resolve external edges: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for _, f := range files {
		if err := store.SetHash(graphstore.FileHash{
			AbsolutePath: f.Path,
			SHA256Hex:    sha256Hex(f.Content),
			LastSeenUTC:  now,
		}); err != nil {
			result.Errors = append(result.Errors, FileError{Path: f.Path, Err: err})
		}
	}
	progress(int64(len(files)), int64(len(files)), "write")

	result.FilesProcessed = len(files)
	result.EntitiesCreated = len(project.Entities)
	result.EdgesCreated = len(project.Edges)

	logger.Info("ingest.complete",
		"files_processed", result.FilesProcessed,
		"entities_created", result.EntitiesCreated,
		"edges_created", result.EdgesCreated,
		"errors", len(result.Errors),
	)
	return result, nil
}

// discoverFiles walks cfg.Root, applying the include/exclude globs and
// size cap. Eligible files carry their slash-normalized path relative to
// cfg.Root plus the walked path; skipped paths are relative to cfg.Root.
func discoverFiles(cfg Config) (eligible []discoveredFile, skipped []string) {
	_ = filepath.WalkDir(cfg.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint: the walk continues past unreadable entries
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(cfg.Root, path)
		if relErr != nil {
			rel = path
		}
		rel = filepath.ToSlash(rel)

		if len(cfg.IncludeGlobs) > 0 && !MatchesAny(rel, cfg.IncludeGlobs) {
			return nil
		}
		if MatchesAny(rel, cfg.ExcludeGlobs) {
			return nil
		}

		lang, ok := LanguageForPath(path)
		if !ok {
			skipped = append(skipped, rel)
			return nil
		}

		info, err := d.Info()
		if err != nil {
			skipped = append(skipped, rel)
			return nil
		}
		if cfg.MaxFileSizeBytes > 0 && info.Size() > cfg.MaxFileSizeBytes {
			skipped = append(skipped, rel)
			return nil
		}
		if looksBinary(path) {
			skipped = append(skipped, rel)
			return nil
		}

		eligible = append(eligible, discoveredFile{path: rel, fullPath: path, language: lang})
		return nil
	})
	return eligible, skipped
}

// readFilesParallel reads every discovered file's content with a worker
// pool, mirroring the teacher's parseFilesParallel worker/jobs/results
// channel shape (pkg/ingestion/local_pipeline.go).
func readFilesParallel(ctx context.Context, discovered []discoveredFile, workers int, progress ProgressCallback) ([]extract.SourceFile, []FileError) {
	if len(discovered) == 0 {
		return nil, nil
	}
	if len(discovered) < 10 || workers <= 1 {
		return readFilesSequential(ctx, discovered, progress)
	}

	jobs := make(chan int, len(discovered))
	type readResult struct {
		index int
		file  extract.SourceFile
		err   error
	}
	results := make(chan readResult, len(discovered))

	var progressCount int64
	total := int64(len(discovered))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				select {
				case <-ctx.Done():
					return
				default:
				}
				d := discovered[i]
				content, err := os.ReadFile(d.fullPath)
				current := atomic.AddInt64(&progressCount, 1)
				progress(current, total, "read")
				if err != nil {
					results <- readResult{index: i, err: err}
					continue
				}
				results <- readResult{index: i, file: extract.SourceFile{Path: d.path, Language: d.language, Content: content}}
			}
		}()
	}
	for i := range discovered {
		jobs <- i
	}
	close(jobs)
	go func() {
		wg.Wait()
		close(results)
	}()

	files := make([]extract.SourceFile, 0, len(discovered))
	var errs []FileError
	ordered := make([]*readResult, len(discovered))
	for r := range results {
		rc := r
		ordered[rc.index] = &rc
	}
	for i, r := range ordered {
		if r == nil {
			continue
		}
		if r.err != nil {
			errs = append(errs, FileError{Path: discovered[i].path, Err: r.err})
			continue
		}
		files = append(files, r.file)
	}
	return files, errs
}

func readFilesSequential(ctx context.Context, discovered []discoveredFile, progress ProgressCallback) ([]extract.SourceFile, []FileError) {
	var files []extract.SourceFile
	var errs []FileError
	total := int64(len(discovered))
	for i, d := range discovered {
		select {
		case <-ctx.Done():
			return files, errs
		default:
		}
		content, err := os.ReadFile(d.fullPath)
		progress(int64(i+1), total, "read")
		if err != nil {
			errs = append(errs, FileError{Path: d.path, Err: err})
			continue
		}
		files = append(files, extract.SourceFile{Path: d.path, Language: d.language, Content: content})
	}
	return files, errs
}

func LanguageForPath(path string) (extract.Language, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".go":
		return extract.Go, true
	case ".py":
		return extract.Python, true
	case ".js", ".jsx", ".mjs", ".cjs":
		return extract.JavaScript, true
	case ".ts", ".tsx":
		return extract.TypeScript, true
	default:
		return "", false
	}
}

// looksBinary sniffs the first 8KB for a NUL byte, the same heuristic
// the teacher's isBinaryFile uses (pkg/ingestion/delta.go).
func looksBinary(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	const sniff = 8192
	buf := make([]byte, sniff)
	n, _ := io.ReadFull(f, buf)
	if n <= 0 {
		return false
	}
	return bytes.IndexByte(buf[:n], 0x00) >= 0
}

func sha256Hex(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// MatchesAny reports whether path matches any of globs. Exported so
// other packages sharing the File Streamer's include/exclude filtering
// (the File Watcher) don't reimplement glob matching.
func MatchesAny(path string, globs []string) bool {
	for _, g := range globs {
		if matchesGlob(path, g) {
			return true
		}
	}
	return false
}

// matchesGlob matches a slash-normalized relative path against a glob
// pattern that may contain "**" (match any number of path segments,
// including none) in addition to filepath.Match's single-segment
// wildcards. Patterns without "/" match against the path's base name
// too, so "*_test.go" excludes test files anywhere in the tree.
func matchesGlob(path, pattern string) bool {
	if !strings.Contains(pattern, "/") {
		if ok, _ := filepath.Match(pattern, filepath.Base(path)); ok {
			return true
		}
	}
	return matchSegments(strings.Split(path, "/"), strings.Split(pattern, "/"))
}

func matchSegments(path, pattern []string) bool {
	if len(pattern) == 0 {
		return len(path) == 0
	}
	if pattern[0] == "**" {
		if matchSegments(path, pattern[1:]) {
			return true
		}
		if len(path) == 0 {
			return false
		}
		return matchSegments(path[1:], pattern)
	}
	if len(path) == 0 {
		return false
	}
	ok, err := filepath.Match(pattern[0], path[0])
	if err != nil || !ok {
		return false
	}
	return matchSegments(path[1:], pattern[1:])
}
