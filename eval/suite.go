// Package eval implements the evaluation harness: suites of test cases
// scored by pluggable evaluators, run through a bounded worker pool and
// aggregated into pass-rate/latency/cost statistics.
package eval

import (
	"fmt"
	"time"
)

// TestCase is one scored interaction with an agent, per spec.
type TestCase struct {
	ID          string
	Name        string
	Input       string
	Expected    interface{}
	EvalType    string
	EvalConfig  map[string]interface{}
	Tags        []string
	AgentConfig map[string]interface{}
	Tools       []string
	Timeout     time.Duration
}

// SetupFunc runs once before a suite's cases and returns dependencies
// threaded into every case.
type SetupFunc func() (map[string]interface{}, error)

// TeardownFunc runs once after a suite's cases complete.
type TeardownFunc func(deps map[string]interface{}) error

// Suite is a named collection of TestCases sharing defaults.
type Suite struct {
	Name                string
	Description         string
	DefaultModel        string
	DefaultInstructions string
	DefaultTimeout      time.Duration
	Parallelism         int
	RetryFailed         int
	TestCases           []TestCase
	Setup               SetupFunc
	Teardown            TeardownFunc
}

// Validate checks a non-empty name, at least one case, and every case
// carrying the fields a run can't proceed without.
func (s *Suite) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("eval: suite name must not be empty")
	}
	if len(s.TestCases) == 0 {
		return fmt.Errorf("eval: suite %q has no test cases", s.Name)
	}
	seen := make(map[string]bool, len(s.TestCases))
	for i, tc := range s.TestCases {
		if tc.ID == "" {
			return fmt.Errorf("eval: suite %q case %d missing id", s.Name, i)
		}
		if seen[tc.ID] {
			return fmt.Errorf("eval: suite %q has duplicate case id %q", s.Name, tc.ID)
		}
		seen[tc.ID] = true
		if tc.Input == "" {
			return fmt.Errorf("eval: suite %q case %q missing input", s.Name, tc.ID)
		}
		if tc.EvalType == "" {
			return fmt.Errorf("eval: suite %q case %q missing eval_type", s.Name, tc.ID)
		}
	}
	return nil
}

// FilterByTags returns the subset of cases that pass include/exclude tag
// filters. A case with no tags is dropped whenever include is non-empty;
// exclude alone never drops it.
func (s *Suite) FilterByTags(include, exclude []string) []TestCase {
	if len(include) == 0 && len(exclude) == 0 {
		return s.TestCases
	}
	inc := toSet(include)
	exc := toSet(exclude)

	out := make([]TestCase, 0, len(s.TestCases))
	for _, tc := range s.TestCases {
		if len(inc) > 0 && !anyTagIn(tc.Tags, inc) {
			continue
		}
		if len(exc) > 0 && anyTagIn(tc.Tags, exc) {
			continue
		}
		out = append(out, tc)
	}
	return out
}

func toSet(tags []string) map[string]bool {
	m := make(map[string]bool, len(tags))
	for _, t := range tags {
		m[t] = true
	}
	return m
}

func anyTagIn(tags []string, set map[string]bool) bool {
	for _, t := range tags {
		if set[t] {
			return true
		}
	}
	return false
}
