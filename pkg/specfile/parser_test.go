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
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeExecutable(t *testing.T, dir, name string) string {
	t.Helper()
	path := writeFile(t, dir, name, "#!/bin/sh\nexit 0\n")
	require.NoError(t, os.Chmod(path, 0o755))
	return path
}

// Property 1: parse determinism.
func TestParseDeterminism(t *testing.T) {
	dir := t.TempDir()
	build := writeExecutable(t, dir, "build.sh")
	spec := writeFile(t, dir, "a.spec", `[ubuild]
image_name = img
`+"build_image = "+build+`

[cross=toolchain]
build = `+build+`
url = http://host/x.tar.gz
sources = x.tar.gz
`)

	r1, err := Parse(context.Background(), spec)
	require.NoError(t, err)
	r2, err := Parse(context.Background(), spec)
	require.NoError(t, err)

	require.Equal(t, len(r1.Spec.Targets(KindCross)), len(r2.Spec.Targets(KindCross)))
	require.Equal(t, r1.Spec.Targets(KindCross)[0].Name, r2.Spec.Targets(KindCross)[0].Name)
}

// Property 2: section-order preservation.
func TestSectionOrderPreservation(t *testing.T) {
	dir := t.TempDir()
	build := writeExecutable(t, dir, "build.sh")
	spec := writeFile(t, dir, "a.spec", `
[cross=zeta]
build = `+build+`
url = http://host/z.tar.gz
sources = z.tar.gz

[cross=alpha]
build = `+build+`
url = http://host/a.tar.gz
sources = a.tar.gz

[cross=zeta]
url = http://host/z2.tar.gz
sources = z2.tar.gz
`)
	r, err := Parse(context.Background(), spec)
	require.NoError(t, err)

	names := make([]string, 0)
	for _, sec := range r.Spec.Targets(KindCross) {
		names = append(names, sec.Name)
	}
	require.Equal(t, []string{"cross=zeta", "cross=alpha"}, names, "duplicates fused at first occurrence")
}

// Property 3: multi-value order preservation.
func TestMultiValueOrderPreservation(t *testing.T) {
	dir := t.TempDir()
	build1 := writeExecutable(t, dir, "build1.sh")
	build2 := writeExecutable(t, dir, "build2.sh")
	build3 := writeExecutable(t, dir, "build3.sh")
	spec := writeFile(t, dir, "a.spec", `
[pkg=foo]
build = `+build1+`
build = `+build2+`
build = `+build3+`
url = http://host/foo.tar.gz
sources = foo.tar.gz
`)
	r, err := Parse(context.Background(), spec)
	require.NoError(t, err)

	foo := r.Spec.Section("pkg=foo")
	require.NotNil(t, foo)
	vals := foo.Values("build")
	require.Len(t, vals, 3)
	require.Equal(t, build1, vals[0].Argv[0])
	require.Equal(t, build2, vals[1].Argv[0])
	require.Equal(t, build3, vals[2].Argv[0])
}

// Property 4: unknown is silent.
func TestUnknownIsSilent(t *testing.T) {
	dir := t.TempDir()
	build := writeExecutable(t, dir, "build.sh")
	base := `[ubuild]
image_name = img
`

	r1, err := Parse(context.Background(), writeFile(t, dir, "base.spec", base))
	require.NoError(t, err)

	withUnknown := base + "unknown_key = x\n\n[unknown=x]\nanything = 1\n"
	r2, err := Parse(context.Background(), writeFile(t, dir, "unk.spec", withUnknown))
	require.NoError(t, err)

	ub1 := r1.Spec.Ubuild()
	ub2 := r2.Spec.Ubuild()
	require.NotNil(t, ub1)
	require.NotNil(t, ub2)
	v1, _ := ub1.First("image_name")
	v2, _ := ub2.First("image_name")
	require.Equal(t, v1, v2)
	require.NotEmpty(t, r2.Diagnostics)

	_ = build
}

// Property 5: mangler rejection (non-executable build argv0 is dropped).
func TestManglerRejectionNonExecutable(t *testing.T) {
	dir := t.TempDir()
	notExec := writeFile(t, dir, "notexec.sh", "echo hi\n")
	build := writeExecutable(t, dir, "build.sh")
	spec := writeFile(t, dir, "a.spec", `
[pkg=foo]
build = `+notExec+`
build = `+build+`
url = http://host/foo.tar.gz
sources = foo.tar.gz
`)
	r, err := Parse(context.Background(), spec)
	require.NoError(t, err)

	foo := r.Spec.Section("pkg=foo")
	require.NotNil(t, foo)
	vals := foo.Values("build")
	require.Len(t, vals, 1)
	require.Equal(t, build, vals[0].Argv[0])
}

// S2 URL split.
func TestURLSplit(t *testing.T) {
	dir := t.TempDir()
	build := writeExecutable(t, dir, "build.sh")
	spec := writeFile(t, dir, "a.spec", `
[pkg=foo]
build = `+build+`
url = http://host/path/foo.tar.gz
sources = foo.tar.gz

[pkg=bar]
build = `+build+`
url = http://host/x.tar bar.tar
sources = bar.tar
`)
	r, err := Parse(context.Background(), spec)
	require.NoError(t, err)

	foo := r.Spec.Section("pkg=foo")
	fv, ok := foo.First("url")
	require.True(t, ok)
	require.Equal(t, URLRecord{URL: "http://host/path/foo.tar.gz", Filename: "foo.tar.gz"}, fv.URL)

	bar := r.Spec.Section("pkg=bar")
	bv, ok := bar.First("url")
	require.True(t, ok)
	require.Equal(t, URLRecord{URL: "http://host/x.tar", Filename: "bar.tar"}, bv.URL)
}

// S3 build_pkg rejection: only entries whose argv0 exists & is executable
// survive.
func TestBuildPkgRejectionScenario(t *testing.T) {
	dir := t.TempDir()
	good1 := writeExecutable(t, dir, "good1.sh")
	good2 := writeExecutable(t, dir, "good2.sh")
	missing := filepath.Join(dir, "missing.sh")
	notExec := writeFile(t, dir, "notexec.sh", "echo hi\n")

	spec := writeFile(t, dir, "a.spec", `
[pkg=foo]
build = `+good1+`
build = `+missing+`
build = `+notExec+`
build = `+good2+`
build = `+missing+`
url = http://host/foo.tar.gz
sources = foo.tar.gz
`)
	r, err := Parse(context.Background(), spec)
	require.NoError(t, err)

	foo := r.Spec.Section("pkg=foo")
	vals := foo.Values("build")
	require.Len(t, vals, 2)
	require.Equal(t, good1, vals[0].Argv[0])
	require.Equal(t, good2, vals[1].Argv[0])
}
