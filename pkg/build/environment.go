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
	"os"
	"sort"
	"strings"

	"github.com/lxnay/ubuild/pkg/specfile"
)

func envMapToSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out) // deterministic for tests; exec doesn't care about order
	return out
}

func processEnvMap() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			out[k] = v
		}
	}
	return out
}

func cloneEnv(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out
}

func mergeInto(dst, src map[string]string) {
	for k, v := range src {
		dst[k] = v
	}
}

// globalUbuildEnv computes the fixed set of UBUILD_* variables drawn from
// the [ubuild] section, per spec.md §6. UBUILD_SPEC_PATH is always set;
// each of the others is only set if its corresponding spec value is present.
func globalUbuildEnv(spec *specfile.Spec) map[string]string {
	out := make(map[string]string)
	ub := spec.Ubuild()
	if ub == nil {
		return out
	}

	set := func(envKey, specKey string) {
		if v, ok := ub.First(specKey); ok {
			out[envKey] = v.String
		}
	}
	out["UBUILD_SPEC_PATH"] = spec.Path
	set("UBUILD_BUILD_DIR", "build_dir")
	set("UBUILD_COMPILE_DIR", "compile_dir")
	set("UBUILD_INITRAMFS_ROOTFS_DIR", "initramfs_rootfs_dir")
	set("UBUILD_ROOTFS_DIR", "rootfs_dir")
	set("UBUILD_SOURCES_DIR", "sources_dir")
	set("UBUILD_CACHE_DIR", "cache_dir")
	set("UBUILD_DESTINATION_DIR", "destination_dir")
	set("UBUILD_IMAGE_NAME", "image_name")
	return out
}

// childEnv is the tightly controlled environment given to env_sourcer.sh:
// only the global UBUILD_* set (per spec.md §4.D). Hooks and build scripts
// get the fuller cross/target environment instead.
func childEnv(o *Orchestrator) []string {
	return envMapToSlice(o.globalEnv)
}
