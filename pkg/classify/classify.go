// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package classify assigns an entity_class (CODE or TEST) to extracted
// entities by path and name heuristics. It mirrors the single-predicate
// shape the teacher uses for its own heuristics (e.g. isExportedName in
// pkg/ingestion/resolver.go): stateless, deterministic, no lookahead into
// the graph store.
package classify

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Class is one of CODE or TEST.
type Class string

const (
	Code Class = "CODE"
	Test Class = "TEST"
)

// testDirMarkers are path segments that mark an entity as test-owned
// regardless of its name.
var testDirMarkers = map[string]bool{
	"tests": true, "test": true, "__tests__": true, "spec": true, "specs": true,
}

// testNamePatterns matches test-function naming conventions per language
// family. Evaluated in order; the first match wins.
var testNamePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^Test[A-Z_]`),     // Go: TestFoo
	regexp.MustCompile(`^Benchmark[A-Z_]`), // Go: BenchmarkFoo
	regexp.MustCompile(`^test_`),           // Python/pytest: test_foo
	regexp.MustCompile(`^test[A-Z_]`),      // JS/Jest-style: testFoo
	regexp.MustCompile(`^it_should_`),      // BDD-flavored naming
}

// Classify decides CODE vs TEST for a single entity.
//
// Rules, evaluated in order:
//  1. A path segment matching a test-directory marker → TEST.
//  2. The entity name matches a language's test-function convention → TEST.
//  3. Otherwise → CODE.
func Classify(absolutePath, entityName, entityType string) Class {
	if pathHasTestMarker(absolutePath) {
		return Test
	}
	if nameLooksLikeTest(entityName) {
		return Test
	}
	return Code
}

func pathHasTestMarker(absolutePath string) bool {
	normalized := filepath.ToSlash(absolutePath)
	for _, segment := range strings.Split(normalized, "/") {
		base := segment
		// Treat "foo_test.go" / "test_foo.py" style filenames as markers too,
		// without requiring a dedicated test directory.
		if strings.HasSuffix(base, "_test.go") || strings.HasSuffix(base, "_test.py") ||
			strings.HasSuffix(base, ".test.js") || strings.HasSuffix(base, ".test.ts") ||
			strings.HasSuffix(base, ".spec.js") || strings.HasSuffix(base, ".spec.ts") {
			return true
		}
		if testDirMarkers[segment] {
			return true
		}
	}
	return false
}

func nameLooksLikeTest(name string) bool {
	// Strip a "Type.Method" receiver qualifier before matching, so
	// "Suite.TestFoo" still matches the Go convention on "TestFoo".
	simple := name
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		simple = name[idx+1:]
	}
	for _, pattern := range testNamePatterns {
		if pattern.MatchString(simple) {
			return true
		}
	}
	return false
}
