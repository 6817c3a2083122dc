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

// Package reindex is the Incremental Reindexer (spec §4.7): a
// single-file, hash-gated delete-and-replace of one file's entities and
// edges. Unlike the File Streamer, it never needs to preserve stable
// identity across the boundary it reindexes — only that the final edge
// set exactly equals extracted-from-the-current-file, with no leftover
// orphans.
package reindex

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/kraklabs/cartograph/pkg/extract"
	"github.com/kraklabs/cartograph/pkg/graphstore"
)

// Result is the per-file outcome (spec §4.7).
type Result struct {
	HashChanged     bool
	EntitiesBefore  int
	EntitiesAdded   int
	EntitiesRemoved int
	EdgesAdded      int
	EdgesRemoved    int
}

// ReindexFile runs the full §4.7 procedure for one file: cache-hit fast
// path on an unchanged hash, delete-then-extract-then-insert on a
// changed or new file, and delete-only when the file no longer exists.
// Language is the caller's best detection of the file's source
// language (see ingest.LanguageForPath); it is only consulted when the
// file's content must be re-parsed.
func ReindexFile(ctx context.Context, store *graphstore.Store, extractor *extract.Extractor, logger *slog.Logger, absolutePath string, language extract.Language) (*Result, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var result *Result
	err := store.WithFileTransaction(absolutePath, func() error {
		content, err := os.ReadFile(absolutePath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				r, err := reindexDeletedFile(store, logger, absolutePath)
				result = r
				return err
			}
			return fmt.Errorf("read %s: %w", absolutePath, err)
		}

		newHash := sha256Hex(content)
		if cached, ok, err := store.GetHash(absolutePath); err != nil {
			return fmt.Errorf("get cached hash: %w", err)
		} else if ok && cached == newHash {
			logger.Debug("reindex.unchanged", "path", absolutePath)
			result = &Result{HashChanged: false}
			return nil
		}

		before, err := store.ListEntities(graphstore.EntityFilter{FilePath: absolutePath})
		if err != nil {
			return fmt.Errorf("count entities before reindex: %w", err)
		}
		entitiesBefore := len(before)

		project, err := extract.ExtractProject(ctx, extractor, []extract.SourceFile{
			{Path: absolutePath, Language: language, Content: content},
		})
		if err != nil {
			return fmt.Errorf("extract %s: %w", absolutePath, err)
		}

		// Delete-then-insert-then-resolve-then-rehash, all under one
		// transaction per call (spec §4.7).
		del, _, err := store.ReplaceFile(absolutePath, project.Entities, project.Edges, &graphstore.FileHash{
			AbsolutePath: absolutePath,
			SHA256Hex:    newHash,
			LastSeenUTC:  time.Now().UTC().Format(time.RFC3339),
		})
		if err != nil {
			return fmt.Errorf("replace file: %w", err)
		}

		result = &Result{
			HashChanged:     true,
			EntitiesBefore:  entitiesBefore,
			EntitiesAdded:   len(project.Entities),
			EntitiesRemoved: del.EntitiesRemoved,
			EdgesAdded:      len(project.Edges),
			EdgesRemoved:    del.EdgesRemoved,
		}
		logger.Info("reindex.file",
			"path", absolutePath,
			"entities_before", result.EntitiesBefore,
			"entities_added", result.EntitiesAdded,
			"entities_removed", result.EntitiesRemoved,
			"edges_added", result.EdgesAdded,
			"edges_removed", result.EdgesRemoved,
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func reindexDeletedFile(store *graphstore.Store, logger *slog.Logger, absolutePath string) (*Result, error) {
	del, _, err := store.ReplaceFile(absolutePath, nil, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("delete entities for removed file: %w", err)
	}
	logger.Info("reindex.deleted",
		"path", absolutePath,
		"entities_removed", del.EntitiesRemoved,
		"edges_removed", del.EdgesRemoved,
	)
	return &Result{
		HashChanged:     true,
		EntitiesBefore:  del.EntitiesRemoved,
		EntitiesRemoved: del.EntitiesRemoved,
		EdgesRemoved:    del.EdgesRemoved,
	}, nil
}

func sha256Hex(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
