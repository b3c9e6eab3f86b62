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

package specfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMangleCacheVars(t *testing.T) {
	v, err := mangleCacheVars("", "FOO BAR  BAZ")
	require.NoError(t, err)
	require.Equal(t, []string{"FOO", "BAR", "BAZ"}, v.Tokens)

	_, err = mangleCacheVars("", "   ")
	require.Error(t, err)
}

func TestMangleCreateDirectoryCreatesMissing(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "nested", "child")

	_, err := mangleDirectory(dir, "nested/child")
	require.Error(t, err, "must not exist yet")

	v, err := mangleCreateDirectory(dir, "nested/child")
	require.NoError(t, err)
	require.Equal(t, target, v.String)

	info, err := os.Stat(target)
	require.NoError(t, err)
	require.True(t, info.IsDir())

	// Re-running tolerates already-exists.
	_, err = mangleCreateDirectory(dir, "nested/child")
	require.NoError(t, err)
}

func TestMangleCreateDirectoryRejectsFileInPlace(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "taken", "x")

	_, err := mangleCreateDirectory(dir, "taken")
	require.Error(t, err)
}

func TestShellSplit(t *testing.T) {
	words, err := shellSplit(`/bin/sh -c "echo hi there"`)
	require.NoError(t, err)
	require.Equal(t, []string{"/bin/sh", "-c", "echo hi there"}, words)

	words, err = shellSplit(`one 'two three' four`)
	require.NoError(t, err)
	require.Equal(t, []string{"one", "two three", "four"}, words)

	_, err = shellSplit(`unterminated "quote`)
	require.Error(t, err)
}

func TestMangleArgv0ExecutableResolvesRelativeToSpecDir(t *testing.T) {
	dir := t.TempDir()
	script := writeExecutable(t, dir, "run.sh")

	v, err := mangleArgv0Executable(dir, "run.sh --flag value")
	require.NoError(t, err)
	require.Equal(t, []string{script, "--flag", "value"}, v.Argv)
}

// TestUbuildDirectoryKeysBoundManglerBehavior exercises the [ubuild]
// manglerTable entries for every directory-valued key against a missing
// directory: build_dir/cache_dir/compile_dir/destination_dir must
// auto-create it (mangleCreateDirectory), while rootfs_dir/
// initramfs_rootfs_dir/sources_dir must fail instead of masking a
// configuration error (mangleDirectory). A regression that rebinds one of
// these keys to the wrong mangler, as happened once before, is caught here
// even though validate_test.go's arity tests pass a pre-existing directory
// for every key and so cannot observe which mangler is actually bound.
func TestUbuildDirectoryKeysBoundManglerBehavior(t *testing.T) {
	cases := []struct {
		key           string
		createsOnMiss bool
	}{
		{"build_dir", true},
		{"cache_dir", true},
		{"compile_dir", true},
		{"destination_dir", true},
		{"rootfs_dir", false},
		{"initramfs_rootfs_dir", false},
		{"sources_dir", false},
	}

	for _, tc := range cases {
		t.Run(tc.key, func(t *testing.T) {
			dir := t.TempDir()

			fn, ok := lookupMangler(KindUbuild, tc.key)
			require.True(t, ok, "key %s must be recognized for [ubuild]", tc.key)

			v, err := fn(dir, "missing")
			target := filepath.Join(dir, "missing")

			if tc.createsOnMiss {
				require.NoError(t, err, "%s must auto-create a missing directory", tc.key)
				require.Equal(t, target, v.String)
				info, statErr := os.Stat(target)
				require.NoError(t, statErr)
				require.True(t, info.IsDir())
			} else {
				require.Error(t, err, "%s must fail on a missing directory instead of creating it", tc.key)
				_, statErr := os.Stat(target)
				require.True(t, os.IsNotExist(statErr), "%s must not have created the directory", tc.key)
			}
		})
	}
}
