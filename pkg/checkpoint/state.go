// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package checkpoint

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kadirpekel/tracecore/pkg/attempt"
	"github.com/kadirpekel/tracecore/pkg/phase"
)

// Snapshot is the state captured at a checkpoint: the phase machine's
// position and outputs, cross-attempt learning if this attempt failed, an
// opaque agent-memory blob from the caller's serializer, and the moment it
// was taken. This core treats AgentMemory as opaque per its agent memory
// serializer contract.
type Snapshot struct {
	PhaseState   *phase.State   `json:"phase_state,omitempty"`
	AttemptState *attempt.State `json:"attempt_state,omitempty"`
	AgentMemory  []byte         `json:"agent_memory,omitempty"`
	TakenAt      time.Time      `json:"taken_at"`
}

// NewSnapshot starts an empty Snapshot, timestamped now.
func NewSnapshot() *Snapshot {
	return &Snapshot{TakenAt: time.Now()}
}

// WithPhaseState attaches the phase machine's current state.
func (s *Snapshot) WithPhaseState(ps *phase.State) *Snapshot {
	s.PhaseState = ps
	return s
}

// WithAttemptState attaches cross-attempt learning from a prior failed
// attempt.
func (s *Snapshot) WithAttemptState(as *attempt.State) *Snapshot {
	s.AttemptState = as
	return s
}

// WithAgentMemory attaches the opaque agent-memory blob produced by the
// caller's memory serializer.
func (s *Snapshot) WithAgentMemory(mem []byte) *Snapshot {
	s.AgentMemory = mem
	return s
}

// Serialize converts the Snapshot to JSON bytes suitable for storage as a
// checkpoint's state artifact.
func (s *Snapshot) Serialize() ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("cannot serialize nil snapshot")
	}
	return json.Marshal(s)
}

// Deserialize reconstructs a Snapshot from a checkpoint's state bytes.
func Deserialize(data []byte) (*Snapshot, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot deserialize empty data")
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("checkpoint: unmarshal snapshot: %w", err)
	}
	return &snap, nil
}
