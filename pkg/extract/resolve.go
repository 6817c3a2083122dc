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
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/kraklabs/cartograph/pkg/classify"
	"github.com/kraklabs/cartograph/pkg/graphstore"
	"github.com/kraklabs/cartograph/pkg/keyid"
)

// qualifiedEntity is what the Resolver knows about one extracted
// entity before it has a stable key: enough to build one once the
// whole project has been indexed (needed for the interface-dispatch
// pass, which must see every file before it can match method sets).
type qualifiedEntity struct {
	key        string
	name       string // simple name, or "Receiver.Method" for Go methods
	filePath   string
	language   Language
	entityType string
}

// Resolver builds a cross-file index over every FileResult in a
// project and turns raw Call/Field captures into graphstore Edges,
// resolving same-package, cross-package, dot-import and
// interface-dispatch calls. Grounded on the teacher's CallResolver
// (pkg/ingestion/resolver.go) and BuildImplementsIndex
// (pkg/ingestion/implements.go), generalized from content-addressed
// function IDs to stable entity keys.
type Resolver struct {
	mu sync.RWMutex

	// packagePath (directory) -> simple name -> key, Go only.
	globalFunctions map[string]map[string]string
	// filePath -> import alias -> import path
	fileImports map[string]map[string]string
	// import path -> local package directory
	importPathToPackage map[string]string
	// packagePath -> package name (best-effort, from directory base name)
	packageNames map[string]string

	// structName -> fieldName -> fieldType
	fieldIndex map[string]map[string]string
	// interfaceName -> []concreteTypeName
	implementsIndex map[string][]string
	// "TypeName.MethodName" -> key
	qualifiedFunctions map[string]string

	entities []qualifiedEntity
	interfaceMethods map[string][]string // interfaceName -> method names
	typeMethods      map[string]map[string]bool
}

var interfaceMethodPattern = regexp.MustCompile(`(?m)^\s*([A-Z][a-zA-Z0-9_]*)\s*\(`)

// NewResolver creates an empty Resolver.
func NewResolver() *Resolver {
	return &Resolver{
		globalFunctions:      make(map[string]map[string]string),
		fileImports:          make(map[string]map[string]string),
		importPathToPackage:  make(map[string]string),
		packageNames:         make(map[string]string),
		fieldIndex:           make(map[string]map[string]string),
		implementsIndex:      make(map[string][]string),
		qualifiedFunctions:   make(map[string]string),
		interfaceMethods:     make(map[string][]string),
		typeMethods:          make(map[string]map[string]bool),
	}
}

// AddFile folds one extracted file into the resolver's index. Call it
// for every file before calling ResolveCall.
func (r *Resolver) AddFile(result *FileResult) {
	pkgPath := filepath.Dir(result.Path)

	for _, e := range result.Entities {
		name := e.Name
		if e.Receiver != "" {
			name = e.Receiver + "." + e.Name
		}
		key := keyid.Build(string(result.Language), e.Kind, name, keyid.PathHash(result.Path), e.StartLine, e.EndLine)

		r.entities = append(r.entities, qualifiedEntity{
			key: key, name: name, filePath: result.Path,
			language: result.Language, entityType: e.Kind,
		})

		if result.Language == Go {
			if e.Kind == "function" || e.Kind == "method" {
				if r.globalFunctions[pkgPath] == nil {
					r.globalFunctions[pkgPath] = make(map[string]string)
				}
				r.globalFunctions[pkgPath][name] = key
				if e.Receiver != "" {
					r.qualifiedFunctions[name] = key
					if r.typeMethods[e.Receiver] == nil {
						r.typeMethods[e.Receiver] = make(map[string]bool)
					}
					r.typeMethods[e.Receiver][e.Name] = true
				}
			}
			if e.Kind == "interface" {
				methods := interfaceMethodPattern.FindAllStringSubmatch(e.Snippet, -1)
				names := make([]string, 0, len(methods))
				for _, m := range methods {
					if len(m) > 1 {
						names = append(names, m[1])
					}
				}
				r.interfaceMethods[e.Name] = names
			}
		}
	}

	for _, f := range result.Fields {
		if r.fieldIndex[f.StructName] == nil {
			r.fieldIndex[f.StructName] = make(map[string]string)
		}
		r.fieldIndex[f.StructName][f.Name] = f.Type
	}

	if result.Language != Go {
		return
	}
	r.packageNames[pkgPath] = filepath.Base(pkgPath)
	for _, imp := range result.Imports {
		if r.fileImports[result.Path] == nil {
			r.fileImports[result.Path] = make(map[string]string)
		}
		alias := filepath.Base(imp.Path)
		if imp.Dot {
			alias = "."
		}
		r.fileImports[result.Path][alias] = imp.Path
	}
}

// BuildImplementsIndex derives the interface implementation index from
// every interface's required method set against every concrete type's
// observed method set, after all files have been added.
func (r *Resolver) BuildImplementsIndex() {
	interfaceNames := make(map[string]bool, len(r.interfaceMethods))
	for name := range r.interfaceMethods {
		interfaceNames[name] = true
	}
	for ifaceName, required := range r.interfaceMethods {
		if len(required) == 0 {
			continue
		}
		for typeName, methods := range r.typeMethods {
			if interfaceNames[typeName] {
				continue
			}
			if hasAllMethods(methods, required) {
				r.implementsIndex[ifaceName] = append(r.implementsIndex[ifaceName], typeName)
			}
		}
	}
}

func hasAllMethods(have map[string]bool, required []string) bool {
	for _, m := range required {
		if !have[m] {
			return false
		}
	}
	return true
}

func (r *Resolver) findPackageByImportPath(importPath string) string {
	if pkgPath, ok := r.importPathToPackage[importPath]; ok {
		return pkgPath
	}
	for pkgPath := range r.globalFunctions {
		if strings.HasSuffix(importPath, pkgPath) {
			r.importPathToPackage[importPath] = pkgPath
			return pkgPath
		}
	}
	base := filepath.Base(importPath)
	for pkgPath, name := range r.packageNames {
		if name == base {
			r.importPathToPackage[importPath] = pkgPath
			return pkgPath
		}
	}
	return ""
}

// ResolveCall resolves one call site (from callerKey, in callerFile,
// for the Go language) to a target entity key. An unqualified call is
// tried against the caller's own package, then against a dot-imported
// package; a qualified call is tried as a cross-package call through the
// file's imports, then as interface dispatch through the caller's struct
// fields. The final fallback is an external
// placeholder key, so every call always yields some edge target.
func (r *Resolver) ResolveCall(callerKey, callerFilePath, callerName string, call Call) string {
	// Write lock, not read lock: findPackageByImportPath caches suffix
	// matches into importPathToPackage on first lookup.
	r.mu.Lock()
	defer r.mu.Unlock()

	pkgPath := filepath.Dir(callerFilePath)

	if call.Qualifier == "" {
		if funcs, ok := r.globalFunctions[pkgPath]; ok {
			if key, ok := funcs[call.Callee]; ok {
				return key
			}
		}
	} else {
		if imports, ok := r.fileImports[callerFilePath]; ok {
			if importPath, ok := imports[call.Qualifier]; ok {
				if targetPkg := r.findPackageByImportPath(importPath); targetPkg != "" {
					if funcs, ok := r.globalFunctions[targetPkg]; ok {
						if key, ok := funcs[call.Callee]; ok {
							return key
						}
					}
				}
			}
		}
		if iface := r.resolveInterfaceDispatch(callerName, call); iface != "" {
			return iface
		}
	}
	if call.Qualifier == "" {
		if imports, ok := r.fileImports[callerFilePath]; ok {
			if importPath, ok := imports["."]; ok {
				if targetPkg := r.findPackageByImportPath(importPath); targetPkg != "" {
					if funcs, ok := r.globalFunctions[targetPkg]; ok {
						if key, ok := funcs[call.Callee]; ok {
							return key
						}
					}
				}
			}
		}
	}

	return keyid.BuildExternal(string(Go), "function", qualifiedCalleeName(call))
}

func qualifiedCalleeName(call Call) string {
	if call.Qualifier == "" {
		return call.Callee
	}
	return call.Qualifier + "." + call.Callee
}

// resolveInterfaceDispatch resolves "receiver.field.Method()" through
// the caller's struct field types to every concrete implementation,
// returning the first implementation found (callers needing every
// implementation should use ResolveCallAll).
func (r *Resolver) resolveInterfaceDispatch(callerName string, call Call) string {
	edges := r.ResolveCallAll(callerName, call)
	if len(edges) == 0 {
		return ""
	}
	return edges[0]
}

// ResolveCallAll resolves an interface-typed call to every concrete
// implementation's key, grounded on the teacher's
// resolveInterfaceCallViaFields: "Struct.Method" callers look up the
// field named after the call's qualifier, then resolve the field's
// declared type (an interface) to each struct implementing it.
func (r *Resolver) ResolveCallAll(callerName string, call Call) []string {
	if !strings.Contains(callerName, ".") {
		return nil
	}
	structName := strings.SplitN(callerName, ".", 2)[0]
	fieldTypes, ok := r.fieldIndex[structName]
	if !ok {
		return nil
	}
	fieldType, ok := fieldTypes[call.Qualifier]
	if !ok {
		return nil
	}

	var keys []string
	if impls, ok := r.implementsIndex[fieldType]; ok {
		for _, implType := range impls {
			if key, ok := r.qualifiedFunctions[implType+"."+call.Callee]; ok {
				keys = append(keys, key)
			}
		}
		if len(keys) > 0 {
			return keys
		}
	}
	if key, ok := r.qualifiedFunctions[fieldType+"."+call.Callee]; ok {
		return []string{key}
	}
	return nil
}

// ImplementsEdges returns one Implements edge per (concrete type,
// interface) pair discovered by BuildImplementsIndex.
func (r *Resolver) ImplementsEdges() []graphstore.Edge {
	var edges []graphstore.Edge
	for ifaceName, impls := range r.implementsIndex {
		ifaceKey := r.qualifiedFunctions[ifaceName]
		if ifaceKey == "" {
			ifaceKey = keyid.BuildExternal(string(Go), "interface", ifaceName)
		}
		for _, typeName := range impls {
			typeKey := r.typeKey(typeName)
			if typeKey == "" {
				continue
			}
			edges = append(edges, graphstore.Edge{
				FromKey:  typeKey,
				ToKey:    ifaceKey,
				EdgeType: graphstore.Implements,
			})
		}
	}
	return edges
}

func (r *Resolver) typeKey(typeName string) string {
	for _, e := range r.entities {
		if e.entityType == "struct" && e.name == typeName {
			return e.key
		}
	}
	return ""
}

// entityClassOf classifies an extracted entity's file and name using
// the project-wide test/code heuristic.
func entityClassOf(filePath, name string) classify.Class {
	return classify.Classify(filePath, name, "function")
}
