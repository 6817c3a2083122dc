// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ui is cartograph's colored CLI output helpers: headers,
// status lines, and count formatting, all routed through fatih/color
// so color degrades to plain text on non-TTY output (piped, redirected,
// or NO_COLOR set).
package ui

import (
	"fmt"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

var (
	Cyan   = color.New(color.FgCyan)
	Green  = color.New(color.FgGreen)
	Yellow = color.New(color.FgYellow)
	Red    = color.New(color.FgRed)
	Bold   = color.New(color.Bold)
	Dim    = color.New(color.Faint)
)

// InitColors decides whether color output is enabled: disabled
// outright by noColor, or when stdout is not a terminal.
func InitColors(noColor bool) {
	if noColor || !isatty.IsTerminal(os.Stdout.Fd()) {
		color.NoColor = true
	}
}

// Header prints a bold section title.
func Header(title string) {
	fmt.Println()
	Bold.Println(title)
}

// SubHeader prints a secondary section title, in bold like Header.
func SubHeader(title string) {
	fmt.Println()
	Bold.Println(title)
}

// Label formats a bold field label, e.g. for "Label: value" lines.
func Label(text string) string {
	return Bold.Sprint(text)
}

// Success prints a green success line prefixed with a checkmark.
func Success(msg string) {
	Green.Printf("✓ %s\n", msg)
}

// Successf formats and prints a Success line.
func Successf(format string, args ...any) {
	Success(fmt.Sprintf(format, args...))
}

// Info prints a plain informational line.
func Info(msg string) {
	fmt.Println(msg)
}

// Infof formats and prints an Info line.
func Infof(format string, args ...any) {
	Info(fmt.Sprintf(format, args...))
}

// Warning prints a yellow warning line prefixed with a marker.
func Warning(msg string) {
	Yellow.Printf("⚠ %s\n", msg)
}

// Warningf formats and prints a Warning line.
func Warningf(format string, args ...any) {
	Warning(fmt.Sprintf(format, args...))
}

// ErrorLine prints a red error line prefixed with a marker, to stderr.
func ErrorLine(msg string) {
	Red.Fprintf(os.Stderr, "✗ %s\n", msg)
}

// CountText formats a count, coloring it green when non-zero and dim
// when zero, so "0 errors" visually recedes and "3 errors" stands out.
func CountText(n int) string {
	s := strconv.Itoa(n)
	if n == 0 {
		return Dim.Sprint(s)
	}
	return Green.Sprint(s)
}

// DimText renders text in faint styling, for secondary detail lines
// (timings, byte counts) that shouldn't compete with the main output.
func DimText(text string) string {
	return Dim.Sprint(text)
}
