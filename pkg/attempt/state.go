// Copyright 2025 Kadir Pekel
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

// Package attempt carries cross-attempt learning: what a failed attempt
// found, what it tried, and what broke, serialized into a checkpoint at
// attempt-end and rendered as a prompt injection at the start of the next
// attempt so the agent doesn't repeat a dead end.
package attempt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kadirpekel/tracecore/pkg/phase"
)

// State is constructed from the final phase.State of a failed attempt plus
// failure diagnostics, and persists across attempts.
type State struct {
	AttemptNumber int `json:"attempt_number"`

	LocalizationFindings []string `json:"localization_findings"`
	Hypothesis           string   `json:"hypothesis"`
	SuspectFiles         []string `json:"suspect_files"`

	WhatFailed        string `json:"what_failed"`
	FailingTestOutput string `json:"failing_test_output"`

	NextApproach string `json:"next_approach"`

	ModifiedFiles  []string `json:"modified_files"`
	GitDiffSummary string   `json:"git_diff_summary"`

	FailToPassResults map[string]bool `json:"fail_to_pass_results"`
	PassToPassResults map[string]bool `json:"pass_to_pass_results"`

	BrokePassToPass             []string `json:"broke_pass_to_pass"`
	RegressionSummary           string   `json:"regression_summary"`
	ChangesThatCausedRegression string   `json:"changes_that_caused_regression"`
}

// FromPhaseStateParams bundles the failure diagnostics an orchestrator
// gathers at attempt-end, beyond what phase.State already tracked.
type FromPhaseStateParams struct {
	AttemptNumber               int
	WhatFailed                  string
	FailingTestOutput           string
	NextApproach                string
	ModifiedFiles               []string
	GitDiffSummary              string
	FailToPassResults           map[string]bool
	PassToPassResults           map[string]bool
	RegressionSummary           string
	ChangesThatCausedRegression string
}

// FromPhaseState builds the State to inject into attempt N+1 from attempt
// N's final phase.State plus its failure diagnostics. BrokePassToPass is
// derived from PassToPassResults, not passed explicitly, since it is always
// exactly the set of pass_to_pass tests that failed.
func FromPhaseState(ps *phase.State, p FromPhaseStateParams) *State {
	var findings []string
	if len(ps.SuspectFiles) > 0 {
		findings = []string{
			fmt.Sprintf("Suspect files: %s", strings.Join(ps.SuspectFiles, ", ")),
			fmt.Sprintf("Hypothesis: %s", ps.Hypothesis),
		}
	}

	var broke []string
	for test, passed := range p.PassToPassResults {
		if !passed {
			broke = append(broke, test)
		}
	}

	return &State{
		AttemptNumber:               p.AttemptNumber + 1,
		LocalizationFindings:        findings,
		Hypothesis:                  ps.Hypothesis,
		SuspectFiles:                ps.SuspectFiles,
		WhatFailed:                  p.WhatFailed,
		FailingTestOutput:           p.FailingTestOutput,
		NextApproach:                p.NextApproach,
		ModifiedFiles:               p.ModifiedFiles,
		GitDiffSummary:              p.GitDiffSummary,
		FailToPassResults:           p.FailToPassResults,
		PassToPassResults:           p.PassToPassResults,
		BrokePassToPass:             broke,
		RegressionSummary:           p.RegressionSummary,
		ChangesThatCausedRegression: p.ChangesThatCausedRegression,
	}
}

// Marshal serializes the state for storage as a checkpoint artifact.
func (s *State) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// Unmarshal restores a State from checkpoint bytes.
func Unmarshal(data []byte) (*State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("attempt: unmarshal state: %w", err)
	}
	return &s, nil
}

func testSummary(results map[string]bool) (passed, total int) {
	for _, ok := range results {
		total++
		if ok {
			passed++
		}
	}
	return passed, total
}

// ToPromptInjection formats the state as a compact, structured markdown
// summary for injection at the start of the next attempt. Section order
// and the capped regression list mirror the original diagnostic format
// this was ported from.
func (s *State) ToPromptInjection() string {
	var lines []string
	lines = append(lines, fmt.Sprintf("## Previous Attempt Summary (Attempt %d)", s.AttemptNumber-1), "")

	if len(s.LocalizationFindings) > 0 {
		lines = append(lines, "### Localization Findings")
		for _, f := range s.LocalizationFindings {
			lines = append(lines, "- "+f)
		}
		lines = append(lines, "")
	}

	if s.Hypothesis != "" {
		lines = append(lines, fmt.Sprintf("### Hypothesis: %s", s.Hypothesis), "")
	}

	if len(s.SuspectFiles) > 0 {
		lines = append(lines, fmt.Sprintf("### Suspect Files: %s", strings.Join(s.SuspectFiles, ", ")), "")
	}

	if s.WhatFailed != "" {
		lines = append(lines, fmt.Sprintf("### What Failed: %s", s.WhatFailed), "")
	}

	if len(s.FailToPassResults) > 0 || len(s.PassToPassResults) > 0 {
		lines = append(lines, "### Test Results from Previous Attempt")
		if len(s.FailToPassResults) > 0 {
			passed, total := testSummary(s.FailToPassResults)
			status := "FAILED"
			if passed == total {
				status = "PASSED"
			}
			lines = append(lines, fmt.Sprintf("- fail_to_pass: %d/%d %s", passed, total, status))
		}
		if len(s.PassToPassResults) > 0 {
			passed, total := testSummary(s.PassToPassResults)
			status := "REGRESSION"
			if passed == total {
				status = "PASSED"
			}
			lines = append(lines, fmt.Sprintf("- pass_to_pass: %d/%d %s", passed, total, status))
		}
		lines = append(lines, "")
	}

	if len(s.BrokePassToPass) > 0 {
		lines = append(lines, "### REGRESSIONS DETECTED - Tests That Broke")
		capped := s.BrokePassToPass
		overflow := 0
		if len(capped) > 10 {
			overflow = len(capped) - 10
			capped = capped[:10]
		}
		for _, test := range capped {
			lines = append(lines, "- "+test)
		}
		if overflow > 0 {
			lines = append(lines, fmt.Sprintf("- ... and %d more", overflow))
		}
		lines = append(lines, "")
	}

	if s.RegressionSummary != "" {
		lines = append(lines, fmt.Sprintf("### Regression Summary: %s", s.RegressionSummary), "")
	}

	if s.ChangesThatCausedRegression != "" {
		lines = append(lines, "### AVOID THESE CHANGES (caused regressions)", s.ChangesThatCausedRegression, "")
	}

	if s.NextApproach != "" {
		lines = append(lines, fmt.Sprintf("### Suggested Next Approach: %s", s.NextApproach), "")
	}

	if len(s.ModifiedFiles) > 0 {
		lines = append(lines, fmt.Sprintf("### Currently Modified Files: %s", strings.Join(s.ModifiedFiles, ", ")))
		lines = append(lines, "(These changes persist from previous attempt)", "")
	}

	lines = append(lines, "DO NOT repeat the same approach that failed. Try something different.")
	if len(s.BrokePassToPass) > 0 {
		lines = append(lines, "CRITICAL: Your fix must NOT break any pass_to_pass tests.")
	}

	return strings.Join(lines, "\n")
}
