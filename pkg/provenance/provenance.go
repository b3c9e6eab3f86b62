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

// Package provenance resolves a best-effort git commit for a spec tree
// and writes a small JSON build manifest (with a generated JSON Schema)
// after a successful build.
package provenance

import (
	"context"

	"github.com/chainguard-dev/clog"
	"github.com/go-git/go-git/v5"
)

// ResolveGitCommit returns the HEAD commit hash of the git work tree
// containing dir, or "" if dir is not inside one or the lookup otherwise
// fails. This is strictly informational (see SPEC_FULL.md §4.G): it is
// never part of a cache key and never required by a script.
func ResolveGitCommit(ctx context.Context, dir string) string {
	log := clog.FromContext(ctx)

	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		log.Debug("spec tree is not inside a git work tree", "dir", dir, "err", err)
		return ""
	}
	head, err := repo.Head()
	if err != nil {
		log.Debug("could not resolve HEAD for spec tree", "dir", dir, "err", err)
		return ""
	}
	return head.Hash().String()
}
