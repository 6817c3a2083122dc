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

package extract

import (
	"context"
	"fmt"

	"github.com/kraklabs/cartograph/pkg/graphstore"
	"github.com/kraklabs/cartograph/pkg/keyid"
)

// SourceFile is one file to extract: its project-relative path, the
// detected language, and its content.
type SourceFile struct {
	Path     string
	Language Language
	Content  []byte
}

// ProjectResult is the extraction output for an entire batch of files:
// entities and edges ready to hand to the Graph Store, plus the raw
// per-file results in case a caller needs them (e.g. the Diff Engine
// comparing two snapshots).
type ProjectResult struct {
	Entities []graphstore.Entity
	Edges    []graphstore.Edge
	Files    map[string]*FileResult
}

// ExtractProject parses every file, builds the cross-file resolver
// index, and resolves every call/field/embedding into graph edges.
// This is the Parser Adapter's top-level entry point (spec §4.2): the
// two-pass shape (extract everything, then resolve) is required
// because cross-package and interface-dispatch resolution needs every
// file's entities indexed before any one file's calls can be resolved.
func ExtractProject(ctx context.Context, extractor *Extractor, files []SourceFile) (*ProjectResult, error) {
	result := &ProjectResult{Files: make(map[string]*FileResult, len(files))}
	resolver := NewResolver()

	for _, f := range files {
		if !extractor.Supports(f.Language) {
			continue
		}
		fr, err := extractor.ExtractFile(ctx, f.Path, f.Language, f.Content)
		if err != nil {
			return nil, fmt.Errorf("extract %s: %w", f.Path, err)
		}
		result.Files[f.Path] = fr
		resolver.AddFile(fr)
	}
	resolver.BuildImplementsIndex()

	for path, fr := range result.Files {
		for _, e := range fr.Entities {
			result.Entities = append(result.Entities, entityToGraphstore(fr, e))
		}
		for _, call := range fr.Calls {
			callerKey, callerName := enclosingEntityKey(fr, call.Line)
			if callerKey == "" {
				continue
			}
			if fr.Language == Go && call.Qualifier != "" {
				if impls := resolver.ResolveCallAll(callerName, call); len(impls) > 1 {
					for _, targetKey := range impls {
						result.Edges = append(result.Edges, graphstore.Edge{
							FromKey:        callerKey,
							ToKey:          targetKey,
							EdgeType:       graphstore.Calls,
							SourceLocation: fmt.Sprintf("%s:%d", path, call.Line),
						})
					}
					continue
				}
			}
			targetKey := resolver.ResolveCall(callerKey, path, callerName, call)
			result.Edges = append(result.Edges, graphstore.Edge{
				FromKey:        callerKey,
				ToKey:          targetKey,
				EdgeType:       graphstore.Calls,
				SourceLocation: fmt.Sprintf("%s:%d", path, call.Line),
			})
		}
		for _, field := range fr.Fields {
			structKey := resolver.typeKey(field.StructName)
			if structKey == "" {
				continue
			}
			result.Edges = append(result.Edges, graphstore.Edge{
				FromKey:        structKey,
				ToKey:          resolveTypeKey(resolver, field.Type),
				EdgeType:       graphstore.Uses,
				SourceLocation: fmt.Sprintf("%s:%d", path, field.Line),
			})
		}
		for _, emb := range fr.Embedded {
			structKey := resolver.typeKey(emb.StructName)
			if structKey == "" {
				continue
			}
			result.Edges = append(result.Edges, graphstore.Edge{
				FromKey:        structKey,
				ToKey:          resolveTypeKey(resolver, emb.TypeName),
				EdgeType:       graphstore.Extends,
				SourceLocation: fmt.Sprintf("%s:%d", path, emb.Line),
			})
		}
		for _, e := range fr.Entities {
			if e.Kind != "method" {
				continue
			}
			containerKey := resolver.typeKey(e.Receiver)
			if containerKey == "" {
				continue
			}
			methodKey := keyid.Build(string(fr.Language), "method", e.Receiver+"."+e.Name, keyid.PathHash(path), e.StartLine, e.EndLine)
			result.Edges = append(result.Edges, graphstore.Edge{
				FromKey:  containerKey,
				ToKey:    methodKey,
				EdgeType: graphstore.Contains,
			})
		}
	}

	result.Edges = append(result.Edges, resolver.ImplementsEdges()...)
	return result, nil
}

func resolveTypeKey(r *Resolver, typeName string) string {
	if key := r.typeKey(typeName); key != "" {
		return key
	}
	return keyid.BuildExternal(string(Go), "type", typeName)
}

func entityToGraphstore(fr *FileResult, e Entity) graphstore.Entity {
	name := e.Name
	if e.Receiver != "" {
		name = e.Receiver + "." + e.Name
	}
	return graphstore.Entity{
		Key:           keyid.Build(string(fr.Language), e.Kind, name, keyid.PathHash(fr.Path), e.StartLine, e.EndLine),
		Language:      string(fr.Language),
		EntityType:    e.Kind,
		EntityClass:   entityClassOf(fr.Path, name),
		FilePath:      fr.Path,
		StartLine:     e.StartLine,
		EndLine:       e.EndLine,
		SourceSnippet: e.Snippet,
	}
}

// enclosingEntityKey finds the function/method entity in fr that
// contains line, returning its key and its (possibly
// receiver-qualified) name for call resolution.
func enclosingEntityKey(fr *FileResult, line int) (key, name string) {
	var best Entity
	bestSpan := -1
	for _, e := range fr.Entities {
		if e.Kind != "function" && e.Kind != "method" {
			continue
		}
		if line < e.StartLine || line > e.EndLine {
			continue
		}
		span := e.EndLine - e.StartLine
		if bestSpan == -1 || span < bestSpan {
			best, bestSpan = e, span
		}
	}
	if bestSpan == -1 {
		return "", ""
	}
	n := best.Name
	if best.Receiver != "" {
		n = best.Receiver + "." + best.Name
	}
	return keyid.Build(string(fr.Language), best.Kind, n, keyid.PathHash(fr.Path), best.StartLine, best.EndLine), n
}
