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

package cache

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/chainguard-dev/clog"
	"github.com/ulikunitz/xz"

	"github.com/lxnay/ubuild/pkg/cache/remote"
)

// Store packs and unpacks cache entries under Dir, optionally mirrored to
// a remote Mirror.
type Store struct {
	Dir    string
	Mirror remote.Mirror
}

// New constructs a Store rooted at dir. mirror may be nil, in which case
// the store behaves exactly like the spec.md §4.F local-only cache.
func New(dir string, mirror remote.Mirror) *Store {
	return &Store{Dir: dir, Mirror: mirror}
}

// Lookup returns the path to the cache entry for in if it exists (locally,
// or after a successful remote-mirror download), or "" if it is a miss.
func (s *Store) Lookup(ctx context.Context, in KeyInputs) (string, error) {
	log := clog.FromContext(ctx)

	name, err := Filename(in)
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.Dir, name)

	if s.localHit(ctx, path) {
		return path, nil
	}

	if s.Mirror != nil {
		ok, err := s.Mirror.Download(ctx, name, path)
		if err != nil {
			log.Warn("remote cache mirror lookup failed", "name", name, "err", err)
		} else if ok {
			return path, nil
		}
	}

	return "", nil
}

// localHit reports whether path names an existing, well-formed cache
// entry: a regular file beginning with a valid xz stream header. A
// corrupt entry is treated as a miss and removed.
func (s *Store) localHit(ctx context.Context, path string) bool {
	log := clog.FromContext(ctx)

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}

	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	if _, err := xz.NewReader(f); err != nil {
		log.Warn("cache entry has a malformed xz header, treating as a miss", "path", path, "err", err)
		if rmErr := os.Remove(path); rmErr != nil {
			log.Warn("removing corrupt cache entry", "path", path, "err", rmErr)
		}
		return false
	}
	return true
}

// Pack spawns `tar -c -J -p -f <entry>.tmp ./` in imageDir and, on
// success, atomically renames the result into place. Pack failures are
// logged by the caller and are never fatal to the enclosing build (per
// spec.md §7); Pack itself simply reports the error so the caller can
// decide how to log it.
func (s *Store) Pack(ctx context.Context, imageDir string, in KeyInputs) error {
	name, err := Filename(in)
	if err != nil {
		return err
	}
	finalPath := filepath.Join(s.Dir, name)
	tmpPath := finalPath + ".tmp"

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	cmd := exec.CommandContext(ctx, "tar", "-c", "-J", "-p", "-f", tmpPath, "./")
	cmd.Dir = imageDir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("tar pack: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("publishing cache entry: %w", err)
	}

	if s.Mirror != nil {
		log := clog.FromContext(ctx)
		if err := s.Mirror.Upload(ctx, name, finalPath); err != nil {
			log.Warn("remote cache mirror upload failed", "name", name, "err", err)
		}
	}

	return nil
}

// Unpack spawns `tar -x -J -f entryPath` in dir. Unpack failures are fatal
// to the enclosing build unit (per spec.md §7); Unpack just reports the
// error.
func (s *Store) Unpack(ctx context.Context, dir, entryPath string) error {
	cmd := exec.CommandContext(ctx, "tar", "-x", "-J", "-f", entryPath)
	cmd.Dir = dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("tar unpack %s: %w", entryPath, err)
	}
	return nil
}
