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

package specfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const includeDirective = "#include"

// PreprocessorError is returned when an #include target is missing,
// unreadable, or part of a recursion cycle.
type PreprocessorError struct {
	File string
	Line string
	Err  error
}

func (e *PreprocessorError) Error() string {
	return fmt.Sprintf("%s: cannot expand %q: %v", e.File, e.Line, e.Err)
}

func (e *PreprocessorError) Unwrap() error {
	return e.Err
}

// Preprocess reads path and recursively expands #include directives into a
// flat line sequence. It is a pure function of the filesystem contents
// reachable from path.
//
// A second, inert scan over the assembled lines follows the recursive
// expansion: the reference implementation applies expansion both while
// concatenating and once more over the result, and this keeps that
// observable two-pass shape without performing double inclusion, since the
// first pass already consumes every #include token (open question 1, see
// SPEC_FULL.md/DESIGN.md).
func Preprocess(path string) ([]string, error) {
	visited := make(map[string]bool)
	lines, err := expand(path, visited)
	if err != nil {
		return nil, err
	}
	return inertRescan(lines), nil
}

func expand(path string, visited map[string]bool) ([]string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &PreprocessorError{File: path, Line: includeDirective, Err: err}
	}
	if visited[abs] {
		return nil, &PreprocessorError{File: path, Line: includeDirective, Err: fmt.Errorf("include cycle detected at %s", abs)}
	}
	visited[abs] = true
	defer delete(visited, abs)

	info, err := os.Stat(abs)
	if err != nil {
		return nil, &PreprocessorError{File: path, Line: includeDirective, Err: err}
	}
	if !info.Mode().IsRegular() {
		return nil, &PreprocessorError{File: path, Line: includeDirective, Err: fmt.Errorf("%s is not a regular file", abs)}
	}

	raw, err := os.ReadFile(abs)
	if err != nil {
		return nil, &PreprocessorError{File: path, Line: includeDirective, Err: err}
	}

	dir := filepath.Dir(abs)
	var out []string
	for _, line := range strings.Split(string(raw), "\n") {
		trimmed := strings.TrimSpace(line)
		fields := strings.Fields(trimmed)
		if len(fields) > 0 && fields[0] == includeDirective {
			target := strings.TrimSpace(strings.TrimPrefix(trimmed, includeDirective))
			if !filepath.IsAbs(target) {
				target = filepath.Join(dir, target)
			}
			included, err := expand(target, visited)
			if err != nil {
				return nil, &PreprocessorError{File: abs, Line: line, Err: err}
			}
			out = append(out, included...)
			out = append(out, "")
			continue
		}
		out = append(out, line)
	}
	return out, nil
}

// inertRescan mirrors the reference's second expansion pass. Every
// #include token was already consumed by expand, so no line in lines can
// begin with the directive; this is documented as intentionally a no-op.
func inertRescan(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) > 0 && fields[0] == includeDirective {
			// Unreachable in practice: expand() always consumes
			// #include lines before they reach here.
			continue
		}
		out = append(out, line)
	}
	return out
}
