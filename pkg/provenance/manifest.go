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

package provenance

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chainguard-dev/clog"
	purl "github.com/package-url/packageurl-go"
)

// UnitRecord is one build unit's entry in the Manifest.
type UnitRecord struct {
	Target    string    `json:"target" jsonschema:"description=Section name of the build unit (e.g. pkg=busybox)."`
	CacheKey  string    `json:"cache_key" jsonschema:"description=Content-addressed cache key used for this unit."`
	CacheHit  bool      `json:"cache_hit"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

// Manifest is the best-effort provenance record written after a
// successful Image Build stage (SPEC_FULL.md §4.G "build manifest").
type Manifest struct {
	ImageName      string       `json:"image_name"`
	ImagePURL      string       `json:"image_purl" jsonschema:"description=A purl-shaped identifier for the produced image, generic type."`
	SpecPath       string       `json:"spec_path"`
	SpecGitCommit  string       `json:"spec_git_commit,omitempty"`
	StartedAt      time.Time    `json:"started_at"`
	EndedAt        time.Time    `json:"ended_at"`
	Units          []UnitRecord `json:"units"`
}

// ImagePURL builds a generic-type package URL identifying imageName, used
// purely as a stable, tool-agnostic identifier in the manifest (not a
// claim that the image is distributed through any package registry).
func ImagePURL(imageName, version string) string {
	u := &purl.PackageURL{
		Type:    purl.TypeGeneric,
		Name:    imageName,
		Version: version,
	}
	if err := u.Normalize(); err != nil {
		return ""
	}
	return u.String()
}

// Write renders m as indented JSON to
// <destinationDir>/<imageName>.ubuild-manifest.json. Per SPEC_FULL.md
// §4.G, manifest writing is best-effort: a failure is logged, never
// returned to the build's caller as a build failure.
func Write(ctx context.Context, destinationDir string, m Manifest) {
	log := clog.FromContext(ctx)

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		log.Warn("marshaling build manifest", "err", err)
		return
	}

	path := filepath.Join(destinationDir, fmt.Sprintf("%s.ubuild-manifest.json", m.ImageName))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Warn("writing build manifest", "path", path, "err", err)
		return
	}
	log.Info("wrote build manifest", "path", path)
}
