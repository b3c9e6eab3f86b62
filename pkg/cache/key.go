// Copyright 2022 Chainguard, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cache implements the content-addressed build cache: a SHA-1
// based key derivation over a build unit's inputs (pkg/cache/key.go) and a
// pack/unpack store backed by xz-compressed tarballs (pkg/cache/store.go).
package cache

import (
	"crypto/sha1" //nolint:gosec // content-addressing, not a security boundary
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Tarball is one tarball slot for a build unit's key: its local filename,
// used both for naming and, resolved against KeyInputs.SourcesDir, for
// hashing its content when that file exists.
type Tarball struct {
	Filename string
}

// KeyInputs is everything the cache keyer needs for one build unit. Field
// order within each slice is source order and is significant: it is
// absorbed into the digest in that order.
type KeyInputs struct {
	Seed       string   // target section name
	Argv       [][]string
	PatchPaths []string
	Tarballs   []Tarball
	SourcesDir string
	Env        map[string]string
	// CacheVars is the sorted union of global and per-target cache_vars.
	CacheVars []string
}

const sep = "--"

// Key computes the SHA-1 digest for in, per spec.md §4.E, and returns its
// lowercase hex encoding.
func Key(in KeyInputs) (string, error) {
	h := sha1.New() //nolint:gosec

	h.Write([]byte(in.Seed))
	h.Write([]byte(sep))

	for _, argv := range in.Argv {
		for _, arg := range argv {
			h.Write([]byte(arg))
		}
	}
	h.Write([]byte(sep))

	for _, patch := range in.PatchPaths {
		digest, err := sha1File(patch)
		if err != nil {
			return "", fmt.Errorf("hashing patch %s: %w", patch, err)
		}
		h.Write([]byte(digest))
	}
	h.Write([]byte(sep))

	for _, t := range in.Tarballs {
		h.Write([]byte(t.Filename))
		candidate := filepath.Join(in.SourcesDir, t.Filename)
		if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
			digest, err := sha1File(candidate)
			if err != nil {
				return "", fmt.Errorf("hashing tarball %s: %w", candidate, err)
			}
			h.Write([]byte(digest))
		} else {
			h.Write([]byte(candidate))
		}
	}
	h.Write([]byte(sep))

	vars := slices.Clone(in.CacheVars)
	slices.Sort(vars)
	for _, name := range vars {
		h.Write([]byte(fmt.Sprintf("%s=%s\n", name, in.Env[name])))
	}

	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

func sha1File(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha1.Sum(data) //nolint:gosec
	return fmt.Sprintf("%x", sum), nil
}

// Filename returns the cache entry name for in: the tarball filenames
// joined by underscore, an underscore, the hex key, and ".tar.xz".
func Filename(in KeyInputs) (string, error) {
	key, err := Key(in)
	if err != nil {
		return "", err
	}
	names := make([]string, len(in.Tarballs))
	for i, t := range in.Tarballs {
		names[i] = t.Filename
	}
	return fmt.Sprintf("%s_%s.tar.xz", strings.Join(names, "_"), key), nil
}
