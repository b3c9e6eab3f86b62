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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func baseInputs(t *testing.T, sourcesDir string) KeyInputs {
	t.Helper()
	return KeyInputs{
		Seed:       "pkg=foo",
		Argv:       [][]string{{"/bin/build.sh", "--flag"}},
		PatchPaths: nil,
		Tarballs:   []Tarball{{Filename: "foo.tar.gz"}},
		SourcesDir: sourcesDir,
		Env:        map[string]string{"WHITELISTED": "1"},
		CacheVars:  []string{"WHITELISTED"},
	}
}

// Property 6: cache key stability.
func TestKeyStability(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "foo.tar.gz"), []byte("tarball-bytes"), 0o644))

	in := baseInputs(t, dir)
	k1, err := Key(in)
	require.NoError(t, err)
	k2, err := Key(in)
	require.NoError(t, err)
	require.Equal(t, k1, k2)
}

// Property 7: cache key sensitivity.
func TestKeySensitivity(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "foo.tar.gz"), []byte("tarball-bytes"), 0o644))

	base := baseInputs(t, dir)
	baseKey, err := Key(base)
	require.NoError(t, err)

	// Flip a bit in the tarball.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "foo.tar.gz"), []byte("Tarball-bytes"), 0o644))
	changedTarball := baseInputs(t, dir)
	k, err := Key(changedTarball)
	require.NoError(t, err)
	require.NotEqual(t, baseKey, k)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "foo.tar.gz"), []byte("tarball-bytes"), 0o644))

	// Flip an argv token.
	changedArgv := baseInputs(t, dir)
	changedArgv.Argv = [][]string{{"/bin/build.sh", "--other-flag"}}
	k, err = Key(changedArgv)
	require.NoError(t, err)
	require.NotEqual(t, baseKey, k)

	// Flip a whitelisted env value.
	changedEnv := baseInputs(t, dir)
	changedEnv.Env = map[string]string{"WHITELISTED": "2"}
	k, err = Key(changedEnv)
	require.NoError(t, err)
	require.NotEqual(t, baseKey, k)

	// Flip a patch file.
	patch := filepath.Join(dir, "a.patch")
	require.NoError(t, os.WriteFile(patch, []byte("patch-v1"), 0o644))
	withPatch := baseInputs(t, dir)
	withPatch.PatchPaths = []string{patch}
	k1, err := Key(withPatch)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(patch, []byte("patch-v2"), 0o644))
	k2, err := Key(withPatch)
	require.NoError(t, err)
	require.NotEqual(t, k1, k2)
}

// Property 8: cache key insensitivity to non-whitelisted env changes.
func TestKeyInsensitivityToNonWhitelistedEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "foo.tar.gz"), []byte("tarball-bytes"), 0o644))

	in := baseInputs(t, dir)
	k1, err := Key(in)
	require.NoError(t, err)

	in.Env["NOT_WHITELISTED"] = "anything"
	k2, err := Key(in)
	require.NoError(t, err)
	require.Equal(t, k1, k2)
}

func TestFilenameJoinsTarballNames(t *testing.T) {
	dir := t.TempDir()
	in := KeyInputs{
		Seed:       "cross=toolchain",
		Tarballs:   []Tarball{{Filename: "a.tar.gz"}, {Filename: "b.tar.gz"}},
		SourcesDir: dir,
	}
	name, err := Filename(in)
	require.NoError(t, err)
	require.Contains(t, name, "a.tar.gz_b.tar.gz_")
	require.Contains(t, name, ".tar.xz")
}

// Missing tarballs are still absorbed (as a placeholder), preserving the
// slot and still yielding a stable, deterministic key.
func TestKeyWithMissingTarballIsStillDeterministic(t *testing.T) {
	dir := t.TempDir()
	in := baseInputs(t, dir) // foo.tar.gz does not exist under dir
	k1, err := Key(in)
	require.NoError(t, err)
	k2, err := Key(in)
	require.NoError(t, err)
	require.Equal(t, k1, k2)
}
