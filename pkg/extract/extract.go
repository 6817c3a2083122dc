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

// Package extract is the Parser Adapter (spec §4.2): it turns source
// bytes into entities and dependency edges using Tree-sitter, driven by
// two structural query documents per language (an entities query and a
// dependency query) loaded from pkg/extract/queries at startup, rather
// than a hand-written AST walk per language.
package extract

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

//go:embed queries
var queryFS embed.FS

// Language is a Tree-sitter grammar this package knows how to drive.
type Language string

const (
	Go         Language = "go"
	Python     Language = "python"
	JavaScript Language = "javascript"
	TypeScript Language = "typescript"
)

// Entity is one structural unit an entities.scm query captured.
type Entity struct {
	Name      string
	Kind      string // "function", "method", "struct", "interface", "class"
	Receiver  string // Go method receiver type, empty otherwise
	StartLine int
	EndLine   int
	Snippet   string // full source text of the entity's node
}

// Call is one call expression a dependencies.scm query captured.
type Call struct {
	Qualifier string // e.g. the "pkg" in "pkg.Foo()", a receiver variable, or the "field" in "recv.field.Foo()"
	Callee    string
	Line      int
}

// Import is one import statement a dependencies.scm query captured.
type Import struct {
	Path string
	Dot  bool // Go dot-import
	Line int
}

// Field is one struct field a dependencies.scm query captured, used by
// the cross-file resolver to follow interface-typed struct fields.
type Field struct {
	StructName string
	Name       string
	Type       string
	Line       int
}

// Embedded is a Go embedded struct field, the source of an Extends edge.
type Embedded struct {
	StructName string
	TypeName   string
	Line       int
}

// FileResult is everything extracted from a single source file.
type FileResult struct {
	Path     string
	Language Language
	Entities []Entity
	Calls    []Call
	Imports  []Import
	Fields   []Field
	Embedded []Embedded
}

type langSupport struct {
	grammar         *sitter.Language
	entitiesQuery   *sitter.Query
	dependencyQuery *sitter.Query
	pool            sync.Pool
}

// Extractor parses source files with Tree-sitter, one parser-pool and
// compiled query pair per supported language.
type Extractor struct {
	logger *slog.Logger

	initOnce sync.Once
	initErr  error
	langs    map[Language]*langSupport
}

// NewExtractor creates an Extractor. The parser pools and compiled
// queries are built lazily on first use (mirrors the teacher's
// TreeSitterParser.initParsers, which defers sitter.NewParser calls to
// first ParseFile rather than construction time).
func NewExtractor(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{logger: logger}
}

func (e *Extractor) init() error {
	e.initOnce.Do(func() {
		grammars := map[Language]*sitter.Language{
			Go:         golang.GetLanguage(),
			Python:     python.GetLanguage(),
			JavaScript: javascript.GetLanguage(),
			TypeScript: typescript.GetLanguage(),
		}
		e.langs = make(map[Language]*langSupport, len(grammars))
		for lang, grammar := range grammars {
			support := &langSupport{grammar: grammar}
			support.pool.New = func() any {
				p := sitter.NewParser()
				p.SetLanguage(grammar)
				return p
			}

			entitiesSrc, err := queryFS.ReadFile(fmt.Sprintf("queries/%s/entities.scm", lang))
			if err != nil {
				e.initErr = fmt.Errorf("load entities query for %s: %w", lang, err)
				return
			}
			support.entitiesQuery, err = sitter.NewQuery(entitiesSrc, grammar)
			if err != nil {
				e.initErr = fmt.Errorf("compile entities query for %s: %w", lang, err)
				return
			}

			depSrc, err := queryFS.ReadFile(fmt.Sprintf("queries/%s/dependencies.scm", lang))
			if err != nil {
				e.initErr = fmt.Errorf("load dependencies query for %s: %w", lang, err)
				return
			}
			support.dependencyQuery, err = sitter.NewQuery(depSrc, grammar)
			if err != nil {
				e.initErr = fmt.Errorf("compile dependencies query for %s: %w", lang, err)
				return
			}

			e.langs[lang] = support
		}
	})
	return e.initErr
}

// Supports reports whether lang has compiled queries.
func (e *Extractor) Supports(lang Language) bool {
	if err := e.init(); err != nil {
		return false
	}
	_, ok := e.langs[lang]
	return ok
}

// ExtractFile parses content and runs both structural queries over the
// resulting tree.
func (e *Extractor) ExtractFile(ctx context.Context, path string, lang Language, content []byte) (*FileResult, error) {
	if err := e.init(); err != nil {
		return nil, err
	}
	support, ok := e.langs[lang]
	if !ok {
		return nil, fmt.Errorf("unsupported language: %s", lang)
	}

	parserObj := support.pool.Get()
	parser := parserObj.(*sitter.Parser)
	defer support.pool.Put(parser)

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	root := tree.RootNode()

	result := &FileResult{Path: path, Language: lang}
	result.Entities = runEntitiesQuery(support.entitiesQuery, root, content)
	result.Calls, result.Imports, result.Fields = runDependencyQuery(support.dependencyQuery, root, content)
	if lang == Go {
		result.Embedded = findEmbeddedFields(root, content)
	}

	e.logger.Debug("extract.file",
		"path", path,
		"language", lang,
		"entities", len(result.Entities),
		"calls", len(result.Calls),
		"imports", len(result.Imports),
	)
	return result, nil
}

func runEntitiesQuery(query *sitter.Query, root *sitter.Node, content []byte) []Entity {
	cursor := sitter.NewQueryCursor()
	defer cursor.Close()
	cursor.Exec(query, root)

	var entities []Entity
	for {
		match, ok := cursor.NextMatch()
		if !ok {
			break
		}
		match = cursor.FilterPredicates(match, content)

		var e Entity
		var sawNode bool
		for _, capture := range match.Captures {
			name := query.CaptureNameForId(capture.Index)
			text := capture.Node.Content(content)
			switch name {
			case "entity.name":
				e.Name = text
			case "entity.receiver":
				e.Receiver = stripPointer(text)
			case "entity.function", "entity.method", "entity.struct", "entity.interface", "entity.class":
				e.Kind = name[len("entity."):]
				e.StartLine = int(capture.Node.StartPoint().Row) + 1
				e.EndLine = int(capture.Node.EndPoint().Row) + 1
				e.Snippet = text
				sawNode = true
			}
		}
		if sawNode && e.Name != "" {
			entities = append(entities, e)
		}
	}
	return entities
}

func runDependencyQuery(query *sitter.Query, root *sitter.Node, content []byte) ([]Call, []Import, []Field) {
	cursor := sitter.NewQueryCursor()
	defer cursor.Close()
	cursor.Exec(query, root)

	var calls []Call
	var imports []Import
	var fields []Field

	for {
		match, ok := cursor.NextMatch()
		if !ok {
			break
		}
		match = cursor.FilterPredicates(match, content)

		var call Call
		var imp Import
		var field Field
		var isCall, isImport, isField bool

		for _, capture := range match.Captures {
			name := query.CaptureNameForId(capture.Index)
			text := capture.Node.Content(content)
			line := int(capture.Node.StartPoint().Row) + 1
			switch name {
			case "dep.call":
				isCall = true
				call.Line = line
			case "dep.qualifier":
				call.Qualifier = text
			case "dep.callee":
				call.Callee = text
			case "dep.import":
				isImport = true
				imp.Line = line
			case "dep.import_path":
				imp.Path = unquote(text)
			case "dep.dot_import":
				imp.Dot = true
			case "dep.field":
				isField = true
				field.Line = line
				field.StructName = enclosingTypeName(capture.Node, content)
			case "dep.field_name":
				field.Name = text
			case "dep.field_type":
				field.Type = stripPointer(text)
			}
		}
		if isCall && call.Callee != "" {
			calls = append(calls, call)
		}
		if isImport && imp.Path != "" {
			imports = append(imports, imp)
		}
		if isField && field.Name != "" {
			fields = append(fields, field)
		}
	}
	return calls, imports, fields
}

// findEmbeddedFields walks the tree for Go struct field_declaration
// nodes with no "name" field: that shape is Go's embedded-field
// syntax (anonymous struct composition), the source of an Extends
// edge. Done as a direct AST walk rather than a query pattern because
// tree-sitter query field predicates can't cleanly assert a field's
// absence across grammar versions.
func findEmbeddedFields(node *sitter.Node, content []byte) []Embedded {
	var out []Embedded
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n.Type() == "field_declaration" && n.ChildByFieldName("name") == nil {
			if typeNode := n.ChildByFieldName("type"); typeNode != nil {
				typeName := typeNode.Content(content)
				if typeNode.Type() == "pointer_type" {
					typeName = stripPointer(typeName)
				}
				out = append(out, Embedded{
					StructName: enclosingTypeName(n, content),
					TypeName:   typeName,
					Line:       int(n.StartPoint().Row) + 1,
				})
			}
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(node)
	return out
}

// enclosingTypeName walks up from a field_declaration node to the
// nearest type_spec ancestor and returns its declared type name, so a
// field capture (which has no direct link to its struct) can still be
// attributed to the struct it belongs to.
func enclosingTypeName(node *sitter.Node, content []byte) string {
	for n := node; n != nil; n = n.Parent() {
		if n.Type() != "type_spec" {
			continue
		}
		if nameNode := n.ChildByFieldName("name"); nameNode != nil {
			return nameNode.Content(content)
		}
	}
	return ""
}

func stripPointer(s string) string {
	for len(s) > 0 && s[0] == '*' {
		s = s[1:]
	}
	return s
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'' || s[0] == '`') {
		return s[1 : len(s)-1]
	}
	return s
}
