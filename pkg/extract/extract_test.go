// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const goFixture = `package sample

import (
	"fmt"
)

type Greeter interface {
	Greet(name string) string
}

type EnglishGreeter struct {
	prefix string
}

func (g EnglishGreeter) Greet(name string) string {
	return g.prefix + name
}

type App struct {
	greeter Greeter
}

func (a App) Run(name string) {
	fmt.Println(a.greeter.Greet(name))
}

func Add(a, b int) int {
	return a + b
}
`

func TestExtractFileFindsGoEntities(t *testing.T) {
	e := NewExtractor(nil)
	result, err := e.ExtractFile(context.Background(), "sample.go", Go, []byte(goFixture))
	require.NoError(t, err)

	var names []string
	for _, ent := range result.Entities {
		names = append(names, ent.Name)
	}
	assert.Contains(t, names, "Greeter")
	assert.Contains(t, names, "EnglishGreeter")
	assert.Contains(t, names, "App")
	assert.Contains(t, names, "Greet")
	assert.Contains(t, names, "Run")
	assert.Contains(t, names, "Add")
}

func TestExtractFileFindsGoCallsAndFields(t *testing.T) {
	e := NewExtractor(nil)
	result, err := e.ExtractFile(context.Background(), "sample.go", Go, []byte(goFixture))
	require.NoError(t, err)

	var sawPrintln, sawGreet bool
	for _, c := range result.Calls {
		if c.Qualifier == "fmt" && c.Callee == "Println" {
			sawPrintln = true
		}
		if c.Callee == "Greet" {
			sawGreet = true
		}
	}
	assert.True(t, sawPrintln, "expected fmt.Println call")
	assert.True(t, sawGreet, "expected a.greeter.Greet call")

	var sawField bool
	for _, f := range result.Fields {
		if f.StructName == "App" && f.Name == "greeter" && f.Type == "Greeter" {
			sawField = true
		}
	}
	assert.True(t, sawField, "expected App.greeter field typed Greeter")
}

func TestExtractProjectResolvesSamePackageCall(t *testing.T) {
	files := []SourceFile{
		{Path: "/repo/sample.go", Language: Go, Content: []byte(goFixture)},
	}
	result, err := ExtractProject(context.Background(), NewExtractor(nil), files)
	require.NoError(t, err)
	assert.NotEmpty(t, result.Entities)

	var callsEdges []string
	for _, edge := range result.Edges {
		if edge.EdgeType == "Calls" {
			callsEdges = append(callsEdges, edge.ToKey)
		}
	}
	assert.NotEmpty(t, callsEdges)
}

func TestExtractProjectBuildsImplementsEdge(t *testing.T) {
	files := []SourceFile{
		{Path: "/repo/sample.go", Language: Go, Content: []byte(goFixture)},
	}
	result, err := ExtractProject(context.Background(), NewExtractor(nil), files)
	require.NoError(t, err)

	var sawImplements bool
	for _, edge := range result.Edges {
		if edge.EdgeType == "Implements" {
			sawImplements = true
		}
	}
	assert.True(t, sawImplements, "EnglishGreeter should implement Greeter")
}

func TestSupportsKnownLanguages(t *testing.T) {
	e := NewExtractor(nil)
	assert.True(t, e.Supports(Go))
	assert.True(t, e.Supports(Python))
	assert.True(t, e.Supports(JavaScript))
	assert.True(t, e.Supports(TypeScript))
}
