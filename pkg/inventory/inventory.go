/*
Copyright 2025 David Arnold
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at
    http://www.apache.org/licenses/LICENSE-2.0
Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package inventory drives a cloud.Source scope by scope and turns its raw
// resources into normalized records.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"gitlab.com/davidxarnold/census/pkg/cloud"
	"gitlab.com/davidxarnold/census/pkg/core"
)

// FailureKind classifies a non-fatal collection failure.
type FailureKind int

const (
	// ResourceListing means the resource list of one scope could not be read.
	ResourceListing FailureKind = iota
	// DetailOS means the OS detail lookup of one resource failed.
	DetailOS
	// DetailPower means the power state lookup of one resource failed.
	DetailPower
)

func (k FailureKind) String() string {
	switch k {
	case ResourceListing:
		return "resource-listing"
	case DetailOS:
		return "detail-os"
	case DetailPower:
		return "detail-power"
	default:
		return "unknown"
	}
}

// Failure records one non-fatal failure.
type Failure struct {
	Kind     FailureKind
	Scope    core.Scope
	Resource string
	Err      error
}

func (f Failure) Error() string {
	if f.Resource == "" {
		return fmt.Sprintf("%s in %s: %v", f.Kind, f.Scope.Name, f.Err)
	}
	return fmt.Sprintf("%s for %s in %s: %v", f.Kind, f.Resource, f.Scope.Name, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// ScopeEnumerationError is returned by Collect when the scopes themselves
// cannot be listed. It is fatal to the run.
type ScopeEnumerationError struct {
	Source string
	Err    error
}

func (e *ScopeEnumerationError) Error() string {
	return fmt.Sprintf("%s: could not list accessible scopes: %v", e.Source, e.Err)
}

func (e *ScopeEnumerationError) Unwrap() error { return e.Err }

// Options controls a collection run.
type Options struct {
	// Detailed enables the per-resource OS and power lookups.
	Detailed bool
	// ScopeID restricts the run to the scope with this id.
	ScopeID string
	// Group restricts the run to resources in this group (case-insensitive).
	// It is applied before any detail lookup.
	Group string
	// TagMatcher selects the OS tag during inference.
	TagMatcher core.TagMatcher
}

// Result is the outcome of a collection run.
type Result struct {
	Records  []core.Record
	Summary  core.Summary
	Scopes   []core.Scope
	Failures []Failure
	// ScopeFilterUnmatched is set when Options.ScopeID matched no scope.
	ScopeFilterUnmatched bool
}

// FailureCount returns the number of failures of the given kinds, or of all
// kinds when none are given.
func (r Result) FailureCount(kinds ...FailureKind) int {
	if len(kinds) == 0 {
		return len(r.Failures)
	}
	n := 0
	for _, f := range r.Failures {
		for _, k := range kinds {
			if f.Kind == k {
				n++
				break
			}
		}
	}
	return n
}

// Collect lists every scope of src in order, then every resource of each
// scope in listing order, and normalizes them. Only a scope enumeration
// failure is returned as an error; listing and detail failures are logged,
// recorded in Result.Failures and degrade the affected output.
func Collect(ctx context.Context, src cloud.Source, opts Options) (Result, error) {
	var result Result
	provider := src.Name()
	logger := log.WithField("provider", provider)

	scopes, err := src.Scopes(ctx)
	if err != nil {
		return result, &ScopeEnumerationError{Source: provider, Err: err}
	}
	logger.Debugf("found %d scopes", len(scopes))

	if opts.ScopeID != "" {
		scopes = filterScopes(scopes, opts.ScopeID)
		if len(scopes) == 0 {
			result.ScopeFilterUnmatched = true
			result.Summary = core.Summarize(nil)
			return result, nil
		}
	}
	result.Scopes = scopes

	for _, scope := range scopes {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		records, failures := collectScope(ctx, src, scope, opts)
		result.Records = append(result.Records, records...)
		result.Failures = append(result.Failures, failures...)
	}

	if result.Records == nil {
		result.Records = []core.Record{}
	}
	result.Summary = core.Summarize(result.Records)
	return result, nil
}

func filterScopes(scopes []core.Scope, id string) []core.Scope {
	var out []core.Scope
	for _, s := range scopes {
		if strings.EqualFold(s.ID, id) {
			out = append(out, s)
		}
	}
	return out
}

func collectScope(ctx context.Context, src cloud.Source, scope core.Scope, opts Options) ([]core.Record, []Failure) {
	logger := log.WithFields(log.Fields{"provider": src.Name(), "scope": scope.Name})
	logger.Infof("processing scope %s (%s)", scope.Name, scope.ID)

	resources, err := src.List(ctx, scope)
	if err != nil {
		logger.Warnf("could not list resources: %v", err)
		return nil, []Failure{{Kind: ResourceListing, Scope: scope, Err: err}}
	}

	if opts.Group != "" {
		resources = filterGroup(resources, opts.Group)
	}
	logger.Infof("found %d resources", len(resources))

	var failures []Failure
	inputs := make([]core.Input, 0, len(resources))
	for i, res := range resources {
		in := core.Input{Resource: res}
		if opts.Detailed {
			name := core.StringOr(res.Identity().Name, core.Unknown)
			rlog := logger.WithField("resource", name)
			rlog.Debugf("fetching details %d/%d", i+1, len(resources))

			if power, err := src.PowerState(ctx, scope, res); err == nil {
				in.Power = &power
			} else if !errors.Is(err, cloud.ErrNotSupported) {
				rlog.Warnf("could not get power state: %v", err)
				failures = append(failures, Failure{Kind: DetailPower, Scope: scope, Resource: name, Err: err})
			}

			if hints, err := src.Details(ctx, scope, res); err == nil {
				info, ierr := core.InferOS(hints, core.InferOptions{TagMatcher: opts.TagMatcher})
				if ierr != nil {
					rlog.Warnf("error extracting OS info: %v", ierr)
				}
				in.OS = &info
			} else if !errors.Is(err, cloud.ErrNotSupported) {
				rlog.Warnf("could not get OS details: %v", err)
				failures = append(failures, Failure{Kind: DetailOS, Scope: scope, Resource: name, Err: err})
			}
		}
		inputs = append(inputs, in)
	}

	return core.NormalizeAll(src.Name(), scope, inputs), failures
}

func filterGroup(resources []core.Resource, group string) []core.Resource {
	out := resources[:0:0]
	for _, res := range resources {
		if g := res.Identity().Group; g != nil && strings.EqualFold(*g, group) {
			out = append(out, res)
		}
	}
	return out
}

// ExceedsFailureBudget reports whether the detail failures of r exceed
// limit. A negative limit disables the check.
func ExceedsFailureBudget(r Result, limit int) bool {
	if limit < 0 {
		return false
	}
	return r.FailureCount(DetailOS, DetailPower) > limit
}
