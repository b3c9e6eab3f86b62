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
	"time"

	"github.com/lxnay/ubuild/pkg/specfile"
)

// UnitResults returns one UnitResult per build unit that completed during
// the last Run, in the order they ran. cmd/ubuild converts them into
// pkg/provenance unit records for the build manifest.
func (o *Orchestrator) UnitResults() []UnitResult {
	out := make([]UnitResult, len(o.unitResults))
	copy(out, o.unitResults)
	return out
}

// StartedAt and EndedAt report the wall-clock bounds of the last Run.
func (o *Orchestrator) StartedAt() time.Time { return o.startedAt }
func (o *Orchestrator) EndedAt() time.Time   { return o.endedAt }

// GitCommit returns the best-effort spec-tree git commit set via
// WithGitCommit, or "" if none was provided.
func (o *Orchestrator) GitCommit() string { return o.gitCommit }

// Spec returns the Orchestrator's underlying parsed, validated Spec.
func (o *Orchestrator) Spec() *specfile.Spec { return o.spec }
