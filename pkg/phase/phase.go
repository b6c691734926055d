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

// Package phase enforces a fixed phase order for bug-fix workflows, with
// per-phase tool-call budgets and allowlists so natural-language workflow
// instructions become hard constraints rather than suggestions an agent can
// wander past under load.
package phase

// Phase is a step in the fixed workflow order.
type Phase string

const (
	Localization          Phase = "localization"
	Understanding         Phase = "understanding"
	Fix                   Phase = "fix"
	RegressionCheck       Phase = "regression_check"
	TargetFixVerification Phase = "target_fix_verification"
	Complete              Phase = "complete"
)

// order is the fixed forward progression; RegressionCheck has the sole
// permitted back-edge, to Fix, handled separately by ReturnToFixPhase.
var order = []Phase{Localization, Understanding, Fix, RegressionCheck, TargetFixVerification, Complete}

// Budget describes one phase's tool-call ceiling, allowlist, and the
// outputs that gate advancing past it.
type Budget struct {
	MaxToolCalls    int
	RequiredOutputs []string
	AllowedTools    []string
	Description     string
}

// Budgets is the per-phase configuration table. REGRESSION_CHECK and
// TARGET_FIX_VERIFICATION each mandate a verification-status output so a
// target bug fix can never advance without the agent having checked for
// regressions.
var Budgets = map[Phase]Budget{
	Localization: {
		MaxToolCalls:    15,
		RequiredOutputs: []string{"suspect_files", "hypothesis"},
		AllowedTools:    []string{"grep", "glob", "web_search", "read_file", "lsp_tool"},
		Description:     "Find suspect files and form a hypothesis about the bug location",
	},
	Understanding: {
		MaxToolCalls:    20,
		RequiredOutputs: []string{"root_cause"},
		AllowedTools:    []string{"read_file", "lsp_tool", "web_get_contents", "grep", "glob"},
		Description:     "Read code to understand the root cause of the bug",
	},
	Fix: {
		MaxToolCalls:    15,
		RequiredOutputs: []string{"modified_files"},
		AllowedTools:    []string{"edit_file", "read_file"},
		Description:     "Edit files to implement the fix",
	},
	RegressionCheck: {
		MaxToolCalls:    10,
		RequiredOutputs: []string{"pass_to_pass_status"},
		AllowedTools:    []string{"bash", "read_file", "analyze_test_failure"},
		Description:     "Run pass_to_pass tests to verify no regressions; return to FIX if any fail",
	},
	TargetFixVerification: {
		MaxToolCalls:    5,
		RequiredOutputs: []string{"fail_to_pass_status"},
		AllowedTools:    []string{"bash"},
		Description:     "Run fail_to_pass tests to verify the bug is fixed",
	},
	Complete: {
		MaxToolCalls:    0,
		RequiredOutputs: nil,
		AllowedTools:    []string{"complete"},
		Description:     "Task finished",
	},
}

// BudgetNeutralTools never consume a phase's tool-call budget.
var BudgetNeutralTools = map[string]bool{
	"think":               true,
	"advance_phase":       true,
	"get_phase_status":    true,
	"return_to_fix_phase": true,
}

// PhaseNeutralTools bypass the current phase's allowlist entirely. This is
// a distinct axis from BudgetNeutralTools: "complete" must be callable from
// any phase to terminate the loop, but it still consumes budget if called
// repeatedly; "return_to_fix_phase" is budget-neutral but only legal from
// REGRESSION_CHECK, so it is not phase-neutral.
var PhaseNeutralTools = map[string]bool{
	"think":            true,
	"advance_phase":    true,
	"get_phase_status": true,
	"complete":         true,
}

func indexOf(p Phase) int {
	for i, ph := range order {
		if ph == p {
			return i
		}
	}
	return -1
}
