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

// Package keyid builds and parses the stable entity keys the rest of
// cartograph uses to identify code entities across reindexes.
//
// A full key has the grammar:
//
//	{language}:{entity_type}:{name}:{path_hash}:{start_line}-{end_line}
//
// The key's "stable identity" is the same string with the trailing
// ":start-end" segment removed; two entities sharing a stable identity
// refer to the same logical definition even if its line range shifted.
package keyid

import (
	"fmt"
	"strconv"
	"strings"
)

// ExternalSentinel is the path_hash used for unresolved reference targets.
const ExternalSentinel = "unknown"

// Key is the parsed form of a full entity key.
type Key struct {
	Language   string
	EntityType string
	Name       string
	PathHash   string
	StartLine  int
	EndLine    int
	IsExternal bool
}

// InvalidKeyFormatError reports a key string that does not match the
// five-colon grammar, or whose line-range suffix is malformed.
type InvalidKeyFormatError struct {
	Key    string
	Reason string
}

func (e *InvalidKeyFormatError) Error() string {
	return fmt.Sprintf("invalid key format %q: %s", e.Key, e.Reason)
}

// PathHash sanitizes an absolute file path into the deterministic
// path_hash component used inside entity keys: a leading "__", then the
// path with directory separators replaced by "_". Hyphens are preserved.
func PathHash(absolutePath string) string {
	if absolutePath == "" {
		return ExternalSentinel
	}
	replaced := strings.ReplaceAll(absolutePath, "/", "_")
	replaced = strings.ReplaceAll(replaced, "\\", "_")
	return "__" + replaced
}

// Build constructs a full key from its components.
func Build(language, entityType, name, pathHash string, startLine, endLine int) string {
	return fmt.Sprintf("%s:%s:%s:%s:%d-%d", language, entityType, name, pathHash, startLine, endLine)
}

// BuildExternal constructs the key for an external placeholder: a
// reference target that could not be resolved to an indexed entity.
func BuildExternal(language, entityType, name string) string {
	return Build(language, entityType, name, ExternalSentinel, 0, 0)
}

// Parse decodes a full key string into its components. It fails with
// *InvalidKeyFormatError when the string does not match the five-colon
// grammar or the trailing segment is not "<int>-<int>".
func Parse(fullKey string) (Key, error) {
	parts := strings.SplitN(fullKey, ":", 5)
	if len(parts) != 5 {
		return Key{}, &InvalidKeyFormatError{Key: fullKey, Reason: fmt.Sprintf("expected 5 colon-separated segments, got %d", len(parts))}
	}

	language, entityType, name, pathHash, rangeStr := parts[0], parts[1], parts[2], parts[3], parts[4]
	if language == "" || entityType == "" || pathHash == "" {
		return Key{}, &InvalidKeyFormatError{Key: fullKey, Reason: "language, entity_type and path_hash must be non-empty"}
	}

	start, end, err := parseLineRange(rangeStr)
	if err != nil {
		return Key{}, &InvalidKeyFormatError{Key: fullKey, Reason: err.Error()}
	}

	return Key{
		Language:   language,
		EntityType: entityType,
		Name:       name,
		PathHash:   pathHash,
		StartLine:  start,
		EndLine:    end,
		IsExternal: pathHash == ExternalSentinel && start == 0 && end == 0,
	}, nil
}

func parseLineRange(s string) (start, end int, err error) {
	dash := strings.LastIndex(s, "-")
	if dash <= 0 || dash == len(s)-1 {
		return 0, 0, fmt.Errorf("line range %q must be \"<start>-<end>\"", s)
	}
	start, err = strconv.Atoi(s[:dash])
	if err != nil {
		return 0, 0, fmt.Errorf("line range %q: start is not an integer", s)
	}
	end, err = strconv.Atoi(s[dash+1:])
	if err != nil {
		return 0, 0, fmt.Errorf("line range %q: end is not an integer", s)
	}
	return start, end, nil
}

// String reassembles a Key back into its full key form. Parse(k.String())
// round-trips to an equal Key for any Key produced by Parse or Build.
func (k Key) String() string {
	return Build(k.Language, k.EntityType, k.Name, k.PathHash, k.StartLine, k.EndLine)
}

// StableIdentity returns the key with its trailing line-range segment
// removed: "{language}:{entity_type}:{name}:{path_hash}". Two entities
// share a stable identity iff they share language, type, name and
// path_hash, regardless of line-range drift.
func StableIdentity(fullKey string) (string, error) {
	parts := strings.SplitN(fullKey, ":", 5)
	if len(parts) != 5 {
		return "", &InvalidKeyFormatError{Key: fullKey, Reason: fmt.Sprintf("expected 5 colon-separated segments, got %d", len(parts))}
	}
	return strings.Join(parts[:4], ":"), nil
}

// MustStableIdentity is StableIdentity but panics on malformed input; for
// use only where the key is already known to be well-formed (e.g. a key
// this package just built).
func MustStableIdentity(fullKey string) string {
	id, err := StableIdentity(fullKey)
	if err != nil {
		panic(err)
	}
	return id
}

// SameEntity reports whether two full keys share a stable identity.
func SameEntity(a, b string) bool {
	idA, errA := StableIdentity(a)
	idB, errB := StableIdentity(b)
	if errA != nil || errB != nil {
		return false
	}
	return idA == idB
}

// IsExternal reports whether a full key identifies an external
// placeholder: its line range is "0-0" and its path_hash is the
// reserved external sentinel.
func IsExternal(fullKey string) bool {
	k, err := Parse(fullKey)
	if err != nil {
		return false
	}
	return k.IsExternal
}
