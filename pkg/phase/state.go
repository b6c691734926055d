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

package phase

import "fmt"

// State tracks the current phase, per-phase tool-call counters, and the
// outputs collected so far within one attempt. Not safe for concurrent use;
// callers serialize access the way they serialize TraceContext access.
type State struct {
	CurrentPhase   Phase         `json:"current_phase"`
	PhaseToolCalls map[Phase]int `json:"tool_call_count"`

	SuspectFiles  []string `json:"suspect_files"`
	Hypothesis    string   `json:"hypothesis"`
	RootCause     string   `json:"root_cause"`
	ModifiedFiles []string `json:"modified_files"`

	PassToPassStatus string   `json:"pass_to_pass_status"`
	FailToPassStatus string   `json:"fail_to_pass_status"`
	BrokePassToPass  []string `json:"broke_pass_to_pass"`
}

// New returns a State positioned at the first phase with zeroed counters.
func New() *State {
	counts := make(map[Phase]int, len(order))
	for _, p := range order {
		counts[p] = 0
	}
	return &State{CurrentPhase: Localization, PhaseToolCalls: counts}
}

// IncrementToolCall bumps the counter for CurrentPhase unless toolName is
// budget-neutral.
func (s *State) IncrementToolCall(toolName string) {
	if BudgetNeutralTools[toolName] {
		return
	}
	s.PhaseToolCalls[s.CurrentPhase]++
}

// RemainingBudget returns how many more tool calls CurrentPhase permits.
func (s *State) RemainingBudget() int {
	budget := Budgets[s.CurrentPhase].MaxToolCalls
	used := s.PhaseToolCalls[s.CurrentPhase]
	if remaining := budget - used; remaining > 0 {
		return remaining
	}
	return 0
}

// IsBudgetExhausted reports whether CurrentPhase has no budget left.
func (s *State) IsBudgetExhausted() bool {
	return s.RemainingBudget() <= 0
}

// IsToolAllowed reports whether toolName may be dispatched in CurrentPhase:
// true if it is phase-neutral, or present in the phase's allowlist.
func (s *State) IsToolAllowed(toolName string) bool {
	if PhaseNeutralTools[toolName] {
		return true
	}
	for _, t := range Budgets[s.CurrentPhase].AllowedTools {
		if t == toolName {
			return true
		}
	}
	return false
}

// RequiredOutputs returns CurrentPhase's required-output field names.
func (s *State) RequiredOutputs() []string {
	return Budgets[s.CurrentPhase].RequiredOutputs
}

// ValidatePhaseOutputs reports whether every output CurrentPhase requires
// is non-empty, and names the ones that are missing.
func (s *State) ValidatePhaseOutputs() (bool, []string) {
	var missing []string
	for _, output := range s.RequiredOutputs() {
		if s.outputEmpty(output) {
			missing = append(missing, output)
		}
	}
	return len(missing) == 0, missing
}

func (s *State) outputEmpty(output string) bool {
	switch output {
	case "suspect_files":
		return len(s.SuspectFiles) == 0
	case "hypothesis":
		return s.Hypothesis == ""
	case "root_cause":
		return s.RootCause == ""
	case "modified_files":
		return len(s.ModifiedFiles) == 0
	case "pass_to_pass_status":
		return s.PassToPassStatus == ""
	case "fail_to_pass_status":
		return s.FailToPassStatus == ""
	default:
		return false
	}
}

// AdvanceToNextPhase moves to the next phase in order if CurrentPhase's
// required outputs are all present. On failure it reports the missing
// outputs and leaves CurrentPhase unchanged.
func (s *State) AdvanceToNextPhase() (bool, string) {
	if ok, missing := s.ValidatePhaseOutputs(); !ok {
		return false, fmt.Sprintf("cannot advance: missing required outputs: %v", missing)
	}

	idx := indexOf(s.CurrentPhase)
	if idx < 0 || idx >= len(order)-1 {
		return false, "already at final phase (complete)"
	}

	next := order[idx+1]
	s.CurrentPhase = next
	return true, fmt.Sprintf("advanced to %s phase, budget %d tool calls", next, Budgets[next].MaxToolCalls)
}

// ReturnToFixPhase moves back to Fix and resets its counter. Legal only
// from RegressionCheck, the single permitted back-edge in the phase order.
func (s *State) ReturnToFixPhase(reason string) (bool, string) {
	if s.CurrentPhase != RegressionCheck {
		return false, "can only return to fix phase from regression_check"
	}
	s.CurrentPhase = Fix
	s.PhaseToolCalls[Fix] = 0
	return true, fmt.Sprintf("returned to fix phase to address regression: %s, budget %d tool calls", reason, Budgets[Fix].MaxToolCalls)
}
