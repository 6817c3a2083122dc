// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package graphstore

import (
	"fmt"
	"strings"
	"sync"

	cozo "github.com/kraklabs/cartograph/pkg/cozodb"
	"github.com/kraklabs/cartograph/pkg/classify"
)

// Store is the Graph Store (spec §4.5): the sole owner of persisted
// entities, edges and the hash cache. All other components hold
// shared, read-only-by-convention handles to it and mutate only through
// the methods below.
//
// Concurrency: readers see a consistent snapshot for the duration of a
// single query; writers serialize per file path via fileLocks so that
// concurrent reindexes of distinct files may proceed in parallel while
// two reindexes of the same file never interleave (spec §5).
type Store struct {
	db *cozo.CozoDB

	fileLocksMu sync.Mutex
	fileLocks   map[string]*sync.Mutex
}

// Config configures where and how the embedded database is opened.
type Config struct {
	// DataDir is the directory CozoDB stores its data in.
	DataDir string
	// Engine is the CozoDB storage engine: "rocksdb", "sqlite", or "mem".
	// Defaults to "rocksdb" for a persisted on-disk store.
	Engine string
}

// Open creates (or reopens) the embedded store and ensures its schema.
func Open(cfg Config) (*Store, error) {
	engine := cfg.Engine
	if engine == "" {
		engine = "rocksdb"
	}
	db, err := cozo.New(engine, cfg.DataDir, nil)
	if err != nil {
		return nil, fmt.Errorf("open graph store: %w", err)
	}
	s := &Store{db: &db, fileLocks: make(map[string]*sync.Mutex)}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.db.Close()
	return nil
}

func (s *Store) ensureSchema() error {
	for _, stmt := range schemaTables {
		if _, err := s.db.Run(stmt, nil); err != nil {
			if !isAlreadyExists(err) {
				return fmt.Errorf("create table: %w", err)
			}
		}
	}
	for _, stmt := range indexStatements {
		if _, err := s.db.Run(stmt, nil); err != nil {
			if !isAlreadyExists(err) {
				return fmt.Errorf("create index: %w", err)
			}
		}
	}
	return nil
}

func isAlreadyExists(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "conflicts with an existing one")
}

// lockFile returns (creating if needed) the per-path mutex that
// serializes reindex transactions for one file.
func (s *Store) lockFile(path string) *sync.Mutex {
	s.fileLocksMu.Lock()
	defer s.fileLocksMu.Unlock()
	m, ok := s.fileLocks[path]
	if !ok {
		m = &sync.Mutex{}
		s.fileLocks[path] = m
	}
	return m
}

// WithFileTransaction serializes fn against any other in-flight
// transaction for the same file path, per spec §4.5/§5 ("the engine
// holds at most one reindex transaction per file path in flight").
func (s *Store) WithFileTransaction(path string, fn func() error) error {
	mu := s.lockFile(path)
	mu.Lock()
	defer mu.Unlock()
	return fn()
}

// quote formats a Go string as a CozoDB single-quoted Datalog literal.
// Mirrors the teacher's quoteString (pkg/ingestion/datalog.go): escape
// backslash and single quote, drop NUL bytes, everything else literal.
func quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('\'')
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\'':
			b.WriteString(`\'`)
		case 0:
			continue
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('\'')
	return b.String()
}

func classOf(row any) classify.Class {
	s, _ := row.(string)
	return classify.Class(s)
}
