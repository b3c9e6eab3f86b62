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

package build

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"

	"github.com/lxnay/ubuild/pkg/cache"
	"github.com/lxnay/ubuild/pkg/specfile"
)

// buildUnit runs one build unit (a single cross=* or pkg=* target) against
// the incoming environment, per spec.md §4.G's "Build unit" contract.
func (o *Orchestrator) buildUnit(ctx context.Context, sec *specfile.Section, incoming map[string]string) error {
	log := clog.FromContext(ctx)
	ctx, span := o.tracer.Start(ctx, "build-unit:"+sec.Name)
	defer span.End()

	started := time.Now()

	env := cloneEnv(incoming)
	for _, v := range sec.Values("env") {
		sourced, err := o.sourcer.Source(ctx, v.String, childEnv(o))
		if err != nil {
			return fmt.Errorf("sourcing env %s: %w", v.String, err)
		}
		mergeInto(env, sourced)
	}

	patches := sec.Values("patch")
	patchPaths := make([]string, len(patches))
	for i, p := range patches {
		patchPaths[i] = p.String
	}
	if len(patchPaths) > 0 {
		env["UBUILD_PATCHES"] = strings.Join(patchPaths, " ")
	}

	urls := sec.Values("url")
	srcURIParts := make([]string, len(urls))
	tarballs := make([]cache.Tarball, len(urls))
	for i, u := range urls {
		srcURIParts[i] = fmt.Sprintf("%s %s", u.URL.URL, u.URL.Filename)
		tarballs[i] = cache.Tarball{Filename: u.URL.Filename}
	}
	if len(srcURIParts) > 0 {
		env["UBUILD_SRC_URI"] = strings.Join(srcURIParts, ";")
	}

	env["UBUILD_TARGET_NAME"] = sec.Name
	if v, ok := sec.First("sources"); ok {
		env["UBUILD_SOURCES"] = v.String
	}

	if err := runArgvs(ctx, sec.Values("pre"), env); err != nil {
		return fmt.Errorf("pre hook: %w", err)
	}

	argv := sec.Values("build")
	buildArgv := make([][]string, len(argv))
	for i, a := range argv {
		buildArgv[i] = a.Argv
	}

	sourcesDir := o.globalEnv["UBUILD_SOURCES_DIR"]
	cacheVars := o.cacheVars(sec)

	keyInputs := cache.KeyInputs{
		Seed:       sec.Name,
		Argv:       buildArgv,
		PatchPaths: patchPaths,
		Tarballs:   tarballs,
		SourcesDir: sourcesDir,
		Env:        env,
		CacheVars:  cacheVars,
	}

	buildDir := o.globalEnv["UBUILD_BUILD_DIR"]

	entryPath, err := o.cache.Lookup(ctx, keyInputs)
	if err != nil {
		return fmt.Errorf("cache lookup: %w", err)
	}

	result := UnitResult{Target: sec.Name, StartedAt: started}
	if key, kerr := cache.Key(keyInputs); kerr == nil {
		result.CacheKey = key
	}

	if entryPath != "" {
		log.Info("cache hit", "target", sec.Name, "entry", entryPath)
		if err := o.cache.Unpack(ctx, buildDir, entryPath); err != nil {
			return fmt.Errorf("cache unpack: %w", err)
		}
		result.CacheHit = true
	} else {
		log.Info("cache miss", "target", sec.Name)
		if err := o.runBuildScripts(ctx, sec, env, buildArgv, buildDir, keyInputs); err != nil {
			return err
		}
	}
	result.EndedAt = time.Now()
	o.unitResults = append(o.unitResults, result)

	if err := runArgvs(ctx, sec.Values("post"), env); err != nil {
		return fmt.Errorf("post hook: %w", err)
	}

	return nil
}

// runBuildScripts handles the cache-miss path of a build unit: a scratch
// image directory, the build argv loop, the empty-image-dir check (S6),
// packing, and scratch cleanup.
func (o *Orchestrator) runBuildScripts(ctx context.Context, sec *specfile.Section, env map[string]string, buildArgv [][]string, buildDir string, keyInputs cache.KeyInputs) error {
	log := clog.FromContext(ctx)

	imageDir, err := os.MkdirTemp(buildDir, "image-"+sanitizeForDirName(sec.Name)+"-")
	if err != nil {
		return fmt.Errorf("creating scratch image directory: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(imageDir); rmErr != nil {
			log.Warn("removing scratch image directory", "path", imageDir, "err", rmErr)
		}
	}()

	unitEnv := cloneEnv(env)
	unitEnv["UBUILD_IMAGE_DIR"] = imageDir

	for _, argv := range buildArgv {
		if err := runArgv(ctx, argv, unitEnv); err != nil {
			return fmt.Errorf("build script %v: %w", argv, err)
		}
	}

	empty, err := dirIsEmpty(imageDir)
	if err != nil {
		return fmt.Errorf("checking image directory: %w", err)
	}
	if empty {
		return fmt.Errorf("build scripts succeeded but left UBUILD_IMAGE_DIR (%s) empty", imageDir)
	}

	if err := o.cache.Pack(ctx, imageDir, keyInputs); err != nil {
		log.Warn("cache pack failed, continuing", "target", sec.Name, "err", err)
	}

	return nil
}

func dirIsEmpty(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}

func sanitizeForDirName(name string) string {
	return strings.NewReplacer("=", "-", "/", "-").Replace(name)
}

// cacheVars computes the sorted union of the global and per-target
// cache_vars whitelists.
func (o *Orchestrator) cacheVars(sec *specfile.Section) []string {
	set := make(map[string]struct{})
	if ub := o.spec.Ubuild(); ub != nil {
		for _, v := range ub.Values("cache_vars") {
			for _, tok := range v.Tokens {
				set[tok] = struct{}{}
			}
		}
	}
	for _, v := range sec.Values("cache_vars") {
		for _, tok := range v.Tokens {
			set[tok] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func runArgvs(ctx context.Context, values []specfile.Value, env map[string]string) error {
	for _, v := range values {
		if err := runArgv(ctx, v.Argv, env); err != nil {
			return err
		}
	}
	return nil
}

// runArgv executes argv with cwd set to the directory of argv[0] (the
// resolved, executable-checked path produced by the argv0_executable
// mangler), and env as its complete environment.
func runArgv(ctx context.Context, argv []string, env map[string]string) error {
	if len(argv) == 0 {
		return fmt.Errorf("empty argv")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = filepath.Dir(argv[0])
	cmd.Env = envMapToSlice(env)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
