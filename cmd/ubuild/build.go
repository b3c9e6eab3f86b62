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

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/chainguard-dev/clog"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/lxnay/ubuild/pkg/build"
	"github.com/lxnay/ubuild/pkg/cache/remote"
	"github.com/lxnay/ubuild/pkg/provenance"
	"github.com/lxnay/ubuild/pkg/specfile"
)

// BuildFlags holds the parsed flags for the "build" subcommand.
type BuildFlags struct {
	EnvFile     string
	CacheMirror string
	TraceFile   string
}

func addBuildFlags(fs *pflag.FlagSet, flags *BuildFlags) {
	fs.StringVar(&flags.EnvFile, "env-file", "", "dotenv file preloaded into ubuild's own process environment before parsing")
	fs.StringVar(&flags.CacheMirror, "cache-mirror", "", "gs://bucket/prefix remote cache mirror")
	fs.StringVar(&flags.TraceFile, "trace", "", "file to write OpenTelemetry trace spans to")
}

func buildCmd() *cobra.Command {
	flags := &BuildFlags{}

	cmd := &cobra.Command{
		Use:     "build <spec> [<spec>...]",
		Short:   "Build one or more spec files",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd.Context(), flags, args)
		},
	}
	addBuildFlags(cmd.Flags(), flags)
	return cmd
}

func runBuild(ctx context.Context, flags *BuildFlags, specPaths []string) error {
	log := clog.FromContext(ctx)

	if flags.EnvFile != "" {
		if err := godotenv.Load(flags.EnvFile); err != nil {
			return fmt.Errorf("loading --env-file %s: %w", flags.EnvFile, err)
		}
	}

	if flags.TraceFile != "" {
		w, err := os.Create(flags.TraceFile) // #nosec G304 - user-specified trace output path
		if err != nil {
			return fmt.Errorf("creating trace file: %w", err)
		}
		defer w.Close()
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return fmt.Errorf("creating stdout trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
		otel.SetTracerProvider(tp)
		defer func() {
			if err := tp.Shutdown(context.WithoutCancel(ctx)); err != nil {
				log.Error("shutting down trace provider", "err", err)
			}
		}()
	}

	var mirror remote.Mirror
	if flags.CacheMirror != "" {
		m, err := remote.NewGCSMirror(ctx, flags.CacheMirror)
		if err != nil {
			return fmt.Errorf("configuring --cache-mirror: %w", err)
		}
		mirror = m
	}

	for _, specPath := range specPaths {
		if err := buildOne(ctx, specPath, mirror); err != nil {
			return err
		}
	}
	return nil
}

func buildOne(ctx context.Context, specPath string, mirror remote.Mirror) error {
	log := clog.FromContext(ctx)
	log.Info("parsing spec", "path", specPath)

	result, err := specfile.Parse(ctx, specPath)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", specPath, err)
	}
	for _, d := range result.Diagnostics {
		log.Warn(d.String())
	}

	if err := specfile.Validate(result.Spec); err != nil {
		return fmt.Errorf("validating %s: %w", specPath, err)
	}

	gitCommit := provenance.ResolveGitCommit(ctx, result.Spec.Path)

	opts := []build.Option{build.WithTracer(otel.Tracer("ubuild"))}
	if mirror != nil {
		opts = append(opts, build.WithMirror(mirror))
	}
	if gitCommit != "" {
		opts = append(opts, build.WithGitCommit(gitCommit))
	}

	orch, err := build.New(ctx, result.Spec, opts...)
	if err != nil {
		return fmt.Errorf("constructing orchestrator for %s: %w", specPath, err)
	}

	if err := orch.Run(ctx); err != nil {
		return fmt.Errorf("building %s: %w", specPath, err)
	}

	writeManifest(ctx, orch)
	return nil
}

func writeManifest(ctx context.Context, orch *build.Orchestrator) {
	ub := orch.Spec().Ubuild()
	imageNameVal, _ := ub.First("image_name")
	destinationDirVal, _ := ub.First("destination_dir")

	units := make([]provenance.UnitRecord, 0, len(orch.UnitResults()))
	for _, r := range orch.UnitResults() {
		units = append(units, provenance.UnitRecord{
			Target:    r.Target,
			CacheKey:  r.CacheKey,
			CacheHit:  r.CacheHit,
			StartedAt: r.StartedAt,
			EndedAt:   r.EndedAt,
		})
	}

	m := provenance.Manifest{
		ImageName:     imageNameVal.String,
		ImagePURL:     provenance.ImagePURL(imageNameVal.String, orch.GitCommit()),
		SpecPath:      orch.Spec().Path,
		SpecGitCommit: orch.GitCommit(),
		StartedAt:     orch.StartedAt(),
		EndedAt:       orch.EndedAt(),
		Units:         units,
	}
	provenance.Write(ctx, destinationDirVal.String, m)
}
