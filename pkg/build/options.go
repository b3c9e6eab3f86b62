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
	"go.opentelemetry.io/otel/trace"

	"github.com/lxnay/ubuild/pkg/cache"
	"github.com/lxnay/ubuild/pkg/cache/remote"
	"github.com/lxnay/ubuild/pkg/envsource"
)

// Option configures an Orchestrator at construction time.
type Option func(*Orchestrator) error

// WithCacheStore overrides the default cache store (rooted at the spec's
// cache_dir, with no remote mirror).
func WithCacheStore(store *cache.Store) Option {
	return func(o *Orchestrator) error {
		o.cache = store
		return nil
	}
}

// WithMirror attaches a remote cache mirror to the (possibly
// default-constructed) cache store.
func WithMirror(mirror remote.Mirror) Option {
	return func(o *Orchestrator) error {
		o.mirror = mirror
		return nil
	}
}

// WithEnvSourcer overrides the default env_sourcer.sh resolution.
func WithEnvSourcer(s *envsource.Sourcer) Option {
	return func(o *Orchestrator) error {
		o.sourcer = s
		return nil
	}
}

// WithTracer overrides the default no-op tracer.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) error {
		o.tracer = t
		return nil
	}
}

// WithGitCommit records a best-effort git commit hash for the spec tree
// (see pkg/provenance), exposed to scripts as UBUILD_SPEC_GIT_COMMIT and
// recorded in the build manifest. Never part of the cache key.
func WithGitCommit(hash string) Option {
	return func(o *Orchestrator) error {
		o.gitCommit = hash
		return nil
	}
}
