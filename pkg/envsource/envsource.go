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

// Package envsource executes the env_sourcer.sh helper shim that turns an
// environment-file script into a flat KEY=VALUE mapping.
package envsource

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/chainguard-dev/clog"
)

// HelperName is the executable ubuild shells out to in order to source an
// environment file. It is expected to be colocated with the installed
// core; internal/envsourcer can materialize a reference implementation
// next to the running binary on first use.
const HelperName = "env_sourcer.sh"

// Sourcer locates and invokes the env_sourcer.sh helper.
type Sourcer struct {
	// HelperPath is the resolved path to env_sourcer.sh. Build it once
	// with Locate and reuse it across Source calls.
	HelperPath string
	// BuildDir is the directory temporary stdout-capture files are
	// created in, matching the reference's "inside the current build
	// directory" contract.
	BuildDir string
}

// Locate resolves env_sourcer.sh by searching, in order: the directory
// containing the running executable, then $PATH.
func Locate() (string, error) {
	exe, err := os.Executable()
	if err == nil {
		candidate := filepath.Join(filepath.Dir(exe), HelperName)
		if info, statErr := os.Stat(candidate); statErr == nil && info.Mode().IsRegular() {
			return candidate, nil
		}
	}
	if path, err := exec.LookPath(HelperName); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("%s not found next to the executable or on PATH", HelperName)
}

// New constructs a Sourcer, resolving the helper path via Locate.
func New(buildDir string) (*Sourcer, error) {
	path, err := Locate()
	if err != nil {
		return nil, err
	}
	return &Sourcer{HelperPath: path, BuildDir: buildDir}, nil
}

// Source invokes env_sourcer.sh against envFile with the given base
// environment (typically just the UBUILD_* injection, per spec.md §4.D),
// and returns the resulting KEY=VALUE mapping. On a nonzero helper exit it
// returns an error and no environment.
func (s *Sourcer) Source(ctx context.Context, envFile string, baseEnv []string) (map[string]string, error) {
	log := clog.FromContext(ctx)

	tmp, err := os.CreateTemp(s.BuildDir, "ubuild-envsource-*")
	if err != nil {
		return nil, fmt.Errorf("creating env-sourcer capture file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if removeErr := os.Remove(tmpPath); removeErr != nil && !os.IsNotExist(removeErr) {
			log.Warn("removing env-sourcer capture file", "path", tmpPath, "err", removeErr)
		}
	}()

	cmd := exec.CommandContext(ctx, s.HelperPath, envFile)
	cmd.Dir = filepath.Dir(envFile)
	cmd.Env = baseEnv
	cmd.Stdout = tmp
	cmd.Stderr = os.Stderr

	runErr := cmd.Run()
	closeErr := tmp.Close()
	if runErr != nil {
		return nil, fmt.Errorf("%s %s: %w", HelperName, envFile, runErr)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("closing env-sourcer capture file: %w", closeErr)
	}

	return parseCaptureFile(tmpPath)
}

func parseCaptureFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading env-sourcer capture file: %w", err)
	}
	defer f.Close()

	out := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		out[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning env-sourcer capture file: %w", err)
	}
	return out, nil
}
