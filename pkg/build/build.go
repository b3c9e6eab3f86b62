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

// Package build implements the ubuild staged pipeline: setup, cross
// hooks, the cross-target loop, target env, pre/post hooks, the
// package-target loop, and the final image build, each stage short-
// circuiting the whole run on its first failure (cache-pack excepted,
// which is best-effort per spec.md §7).
package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel/trace"
	noop "go.opentelemetry.io/otel/trace/noop"

	"github.com/lxnay/ubuild/internal/envsourcer"
	"github.com/lxnay/ubuild/pkg/cache"
	"github.com/lxnay/ubuild/pkg/cache/remote"
	"github.com/lxnay/ubuild/pkg/envsource"
	"github.com/lxnay/ubuild/pkg/specfile"
)

// Orchestrator drives one build of a parsed, validated Spec.
type Orchestrator struct {
	spec *specfile.Spec

	cache     *cache.Store
	mirror    remote.Mirror
	sourcer   *envsource.Sourcer
	tracer    trace.Tracer
	gitCommit string

	globalEnv map[string]string // the fixed UBUILD_* set, computed once

	startedAt time.Time
	endedAt   time.Time
	// unitResults records, per target section name, whether the build
	// served that unit from cache and which cache key it used; cmd/ubuild
	// turns these into the build manifest's unit records.
	unitResults []UnitResult
}

// UnitResult is a provenance record for one completed build unit.
type UnitResult struct {
	Target    string
	CacheKey  string
	CacheHit  bool
	StartedAt time.Time
	EndedAt   time.Time
}

// New constructs an Orchestrator for spec. Unless overridden via
// WithCacheStore, the cache store is rooted at the spec's cache_dir with
// no remote mirror. Unless overridden via WithEnvSourcer, the
// env_sourcer.sh helper is located next to the running binary, bootstrap-
// installing the embedded reference implementation there (or under
// build_dir/.ubuild-helpers) if it is missing.
func New(ctx context.Context, spec *specfile.Spec, opts ...Option) (*Orchestrator, error) {
	if err := specfile.Validate(spec); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		spec:      spec,
		tracer:    noop.NewTracerProvider().Tracer("ubuild"),
		globalEnv: globalUbuildEnv(spec),
	}

	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("applying build option: %w", err)
		}
	}

	if o.gitCommit != "" {
		o.globalEnv["UBUILD_SPEC_GIT_COMMIT"] = o.gitCommit
	}

	ub := spec.Ubuild()
	buildDirVal, _ := ub.First("build_dir")
	cacheDirVal, _ := ub.First("cache_dir")

	if o.cache == nil {
		o.cache = cache.New(cacheDirVal.String, o.mirror)
	} else if o.mirror != nil {
		o.cache.Mirror = o.mirror
	}

	if o.sourcer == nil {
		helperPath, err := envsourcer.EnsureInstalled(ctx, buildDirVal.String)
		if err != nil {
			return nil, fmt.Errorf("resolving env_sourcer.sh: %w", err)
		}
		o.sourcer = &envsource.Sourcer{HelperPath: helperPath, BuildDir: buildDirVal.String}
	}

	return o, nil
}

// Run drives the full ten-stage pipeline. It returns the first stage
// failure encountered, wrapped in a *StageError naming the stage.
func (o *Orchestrator) Run(ctx context.Context) error {
	log := clog.FromContext(ctx)
	o.startedAt = time.Now()
	o.unitResults = nil
	defer func() { o.endedAt = time.Now() }()

	ctx, span := o.tracer.Start(ctx, "Run")
	defer span.End()

	ub := o.spec.Ubuild()

	log.Info("stage: setup")
	if err := o.setup(ctx, ub); err != nil {
		return stageErr("setup", err)
	}

	log.Info("stage: cross env")
	crossEnv, err := o.crossEnv(ctx, ub)
	if err != nil {
		return stageErr("cross-env", err)
	}

	log.Info("stage: cross pre hooks")
	if err := o.runHooks(ctx, ub, "cross_pre", crossEnv); err != nil {
		return stageErr("cross-pre", err)
	}

	log.Info("stage: cross targets")
	for _, sec := range o.spec.Targets(specfile.KindCross) {
		if err := ctx.Err(); err != nil {
			return stageErr("cross-targets", err)
		}
		if err := o.buildUnit(ctx, sec, crossEnv); err != nil {
			return stageErr("cross-targets", fmt.Errorf("%s: %w", sec.Name, err))
		}
	}

	log.Info("stage: cross post hooks")
	if err := o.runHooks(ctx, ub, "cross_post", crossEnv); err != nil {
		return stageErr("cross-post", err)
	}

	log.Info("stage: target env")
	targetEnv, err := o.targetEnv(ctx, ub)
	if err != nil {
		return stageErr("target-env", err)
	}

	log.Info("stage: pre hooks")
	if err := o.runHooks(ctx, ub, "pre", targetEnv); err != nil {
		return stageErr("pre", err)
	}

	log.Info("stage: package targets")
	for _, sec := range o.spec.Targets(specfile.KindPkg) {
		if err := ctx.Err(); err != nil {
			return stageErr("package-targets", err)
		}
		if err := o.buildUnit(ctx, sec, targetEnv); err != nil {
			return stageErr("package-targets", fmt.Errorf("%s: %w", sec.Name, err))
		}
	}

	log.Info("stage: post hooks")
	if err := o.runHooks(ctx, ub, "post", targetEnv); err != nil {
		return stageErr("post", err)
	}

	log.Info("stage: image build")
	if err := o.imageBuild(ctx, ub, targetEnv); err != nil {
		return stageErr("image-build", err)
	}

	return nil
}

// setup removes every top-level entry within build_dir, without removing
// build_dir itself. A failure to enumerate its contents is fatal.
func (o *Orchestrator) setup(ctx context.Context, ub *specfile.Section) error {
	ctx, span := o.tracer.Start(ctx, "stage:setup")
	defer span.End()

	buildDirVal, ok := ub.First("build_dir")
	if !ok {
		return fmt.Errorf("build_dir not set")
	}
	entries, err := os.ReadDir(buildDirVal.String)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("enumerating %s: %w", buildDirVal.String, err)
	}
	log := clog.FromContext(ctx)
	for _, entry := range entries {
		path := filepath.Join(buildDirVal.String, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("removing %s: %w", path, err)
		}
		log.Debug("removed stale build_dir entry", "path", path)
	}
	return nil
}

// crossEnv sequentially sources every cross_env file, accumulating into a
// base environment that starts from the process environment.
func (o *Orchestrator) crossEnv(ctx context.Context, ub *specfile.Section) (map[string]string, error) {
	ctx, span := o.tracer.Start(ctx, "stage:cross-env")
	defer span.End()

	env := processEnvMap()
	mergeInto(env, o.globalEnv)
	for _, v := range ub.Values("cross_env") {
		sourced, err := o.sourcer.Source(ctx, v.String, childEnv(o))
		if err != nil {
			return nil, fmt.Errorf("sourcing cross_env %s: %w", v.String, err)
		}
		mergeInto(env, sourced)
	}
	return env, nil
}

// targetEnv sequentially sources every env file into a package-level
// environment that starts from the process environment.
func (o *Orchestrator) targetEnv(ctx context.Context, ub *specfile.Section) (map[string]string, error) {
	ctx, span := o.tracer.Start(ctx, "stage:target-env")
	defer span.End()

	env := processEnvMap()
	mergeInto(env, o.globalEnv)
	for _, v := range ub.Values("env") {
		sourced, err := o.sourcer.Source(ctx, v.String, childEnv(o))
		if err != nil {
			return nil, fmt.Errorf("sourcing env %s: %w", v.String, err)
		}
		mergeInto(env, sourced)
	}
	return env, nil
}

// runHooks executes every argv assigned to key in ub (cross_pre,
// cross_post, pre, or post), in source order, with cwd set to argv[0]'s
// directory — the same cwd policy as per-target hooks, chosen uniformly
// across all hook kinds (DESIGN.md records this as the resolution of
// spec.md's open question on cross/global hook cwd).
func (o *Orchestrator) runHooks(ctx context.Context, ub *specfile.Section, key string, env map[string]string) error {
	ctx, span := o.tracer.Start(ctx, "stage:hooks:"+key)
	defer span.End()

	for _, v := range ub.Values(key) {
		if err := runArgv(ctx, v.Argv, env); err != nil {
			return fmt.Errorf("%s hook %v: %w", key, v.Argv, err)
		}
	}
	return nil
}

// imageBuild executes the build_image argv with cwd set to argv[0]'s
// directory, like any other hook.
func (o *Orchestrator) imageBuild(ctx context.Context, ub *specfile.Section, env map[string]string) error {
	ctx, span := o.tracer.Start(ctx, "stage:image-build")
	defer span.End()

	v, ok := ub.First("build_image")
	if !ok {
		return fmt.Errorf("build_image not set")
	}
	return runArgv(ctx, v.Argv, env)
}
