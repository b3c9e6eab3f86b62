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
	"errors"
	"fmt"
)

// MissingParametersError is returned by Validate when one or more arity
// rules fail. It carries every failure that was found, not just the
// first: validation batches diagnostics rather than short-circuiting.
type MissingParametersError struct {
	Problems []string
	err      error
}

func (e *MissingParametersError) Error() string {
	return e.err.Error()
}

func (e *MissingParametersError) Unwrap() error {
	return e.err
}

func newMissingParametersError(problems []string) *MissingParametersError {
	errs := make([]error, len(problems))
	for i, p := range problems {
		errs[i] = errors.New(p)
	}
	return &MissingParametersError{Problems: problems, err: errors.Join(errs...)}
}

type arityRule struct {
	Key      string
	Required *int // nil => any positive count is acceptable
}

func exactly(n int) *int { return &n }

var ubuildArity = []arityRule{
	{Key: "build_dir", Required: exactly(1)},
	{Key: "build_image", Required: exactly(1)},
	{Key: "cache_dir", Required: exactly(1)},
	{Key: "compile_dir", Required: exactly(1)},
	{Key: "destination_dir", Required: exactly(1)},
	{Key: "image_name", Required: exactly(1)},
	{Key: "initramfs_rootfs_dir", Required: exactly(1)},
	{Key: "rootfs_dir", Required: exactly(1)},
	{Key: "sources_dir", Required: exactly(1)},
}

var targetArity = []arityRule{
	{Key: "build", Required: nil},
	{Key: "url", Required: nil},
	{Key: "sources", Required: exactly(1)},
}

func checkArity(sectionName string, sec *Section, rules []arityRule, problems *[]string) {
	for _, rule := range rules {
		count := 0
		if sec != nil {
			count = sec.Count(rule.Key)
		}
		if count == 0 {
			*problems = append(*problems, fmt.Sprintf("[%s].%s not set", sectionName, rule.Key))
			continue
		}
		if rule.Required == nil {
			continue
		}
		if count != *rule.Required {
			*problems = append(*problems, fmt.Sprintf("[%s].%s maximum %d occurrences", sectionName, rule.Key, *rule.Required))
		}
	}
}

// Validate applies the arity table to every recognized section of spec,
// independent of their order in the source, and returns a
// *MissingParametersError carrying every failure found if any rule fails.
func Validate(spec *Spec) error {
	var problems []string

	ubuild := spec.Ubuild()
	if ubuild == nil {
		problems = append(problems, "[ubuild] section is missing")
	} else {
		checkArity("ubuild", ubuild, ubuildArity, &problems)
	}

	for _, sec := range spec.Targets(KindCross) {
		checkArity(sec.Name, sec, targetArity, &problems)
	}
	for _, sec := range spec.Targets(KindPkg) {
		checkArity(sec.Name, sec, targetArity, &problems)
	}

	if len(problems) == 0 {
		return nil
	}
	return newMissingParametersError(problems)
}
