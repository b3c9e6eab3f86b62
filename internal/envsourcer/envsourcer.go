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

// Package envsourcer embeds a reference implementation of env_sourcer.sh
// and materializes it next to the running executable (or under a fallback
// directory) the first time it is needed, so that a fresh checkout of this
// module is runnable without a separate install step. A helper already
// present beside the binary is never overwritten: the embedding is a
// bootstrap convenience, not a source of truth.
package envsourcer

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/chainguard-dev/clog"

	"github.com/lxnay/ubuild/pkg/envsource"
)

//go:embed env_sourcer.sh
var script []byte

// EnsureInstalled makes sure env_sourcer.sh can be Located (see
// pkg/envsource.Locate): if Locate finds it neither next to the running
// executable nor on $PATH, the embedded reference copy is written next to
// the executable; if that write fails, it falls back to
// buildDir/.ubuild-helpers/env_sourcer.sh.
// Returns the path the helper now lives at.
func EnsureInstalled(ctx context.Context, buildDir string) (string, error) {
	if path, err := envsource.Locate(); err == nil {
		return path, nil
	}

	log := clog.FromContext(ctx)

	if exe, err := os.Executable(); err == nil {
		target := filepath.Join(filepath.Dir(exe), envsource.HelperName)
		if err := os.WriteFile(target, script, 0o755); err == nil {
			log.Info("materialized bundled env_sourcer.sh", "path", target)
			return target, nil
		}
	}

	fallbackDir := filepath.Join(buildDir, ".ubuild-helpers")
	if err := os.MkdirAll(fallbackDir, 0o755); err != nil {
		return "", fmt.Errorf("creating fallback helper directory: %w", err)
	}
	target := filepath.Join(fallbackDir, envsource.HelperName)
	if err := os.WriteFile(target, script, 0o755); err != nil {
		return "", fmt.Errorf("writing fallback env_sourcer.sh: %w", err)
	}
	log.Info("materialized bundled env_sourcer.sh in fallback directory", "path", target)
	return target, nil
}
