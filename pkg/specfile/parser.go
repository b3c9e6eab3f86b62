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
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/chainguard-dev/clog"
)

// Diagnostic is a non-fatal parse-time warning: an unknown section, an
// unknown key, or a mangler rejection. Parsing never stops because of a
// Diagnostic; it is recorded and logged, and the offending line is
// discarded.
type Diagnostic struct {
	Kind    string // "unknown-section", "unknown-key", "mangler-rejection"
	Section string
	Key     string
	Value   string
	Reason  string
}

func (d Diagnostic) String() string {
	switch d.Kind {
	case "unknown-section":
		return fmt.Sprintf("unknown section [%s]", d.Section)
	case "unknown-key":
		return fmt.Sprintf("[%s].%s: unknown key", d.Section, d.Key)
	default:
		return fmt.Sprintf("[%s].%s = %q: %s", d.Section, d.Key, d.Value, d.Reason)
	}
}

// ParseResult is the outcome of a successful Parse: the sectioned Spec plus
// every non-fatal Diagnostic collected along the way.
type ParseResult struct {
	Spec        *Spec
	Diagnostics []Diagnostic
}

// Parse preprocesses path (see Preprocess) and parses the resulting flat
// line sequence into a sectioned, ordered, multi-valued Spec. It never
// fails because of unknown sections/keys or rejected values — those
// produce Diagnostics instead. It does fail with a *PreprocessorError if
// an #include cannot be expanded.
func Parse(ctx context.Context, path string) (*ParseResult, error) {
	lines, err := Preprocess(path)
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}
	specDir := filepath.Dir(abs)

	spec := newSpec(abs)
	var diags []Diagnostic

	log := clog.FromContext(ctx)

	var current *Section // nil => lines are dropped (no header yet, or unknown header)

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		if m := sectionHeaderRegex.FindStringSubmatch(line); m != nil {
			name := m[1]
			kind := classifySectionName(name)
			if kind == KindUnknown {
				current = nil
				d := Diagnostic{Kind: "unknown-section", Section: name}
				diags = append(diags, d)
				log.Warn(d.String())
				continue
			}
			current = spec.getOrCreate(name, kind)
			continue
		}

		if current == nil {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		fn, known := lookupMangler(current.Kind, key)
		if !known {
			d := Diagnostic{Kind: "unknown-key", Section: current.Name, Key: key}
			diags = append(diags, d)
			log.Warn(d.String())
			continue
		}

		v, err := fn(specDir, value)
		if err != nil {
			d := Diagnostic{Kind: "mangler-rejection", Section: current.Name, Key: key, Value: value, Reason: err.Error()}
			diags = append(diags, d)
			log.Warn(d.String())
			continue
		}
		current.append(key, v)
	}

	return &ParseResult{Spec: spec, Diagnostics: diags}, nil
}
