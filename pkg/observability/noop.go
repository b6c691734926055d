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

package observability

import (
	"net/http"
	"time"
)

// NoopMetrics is a Recorder implementation that does nothing. Use this when
// metrics are disabled so callers don't need nil checks at every call site.
type NoopMetrics struct{}

func (NoopMetrics) RecordEventWritten(_ string)                           {}
func (NoopMetrics) RecordSpanStarted(_ string)                            {}
func (NoopMetrics) RecordSpanEnded(_ string)                              {}
func (NoopMetrics) RecordArtifactStored(_ string, _ int)                  {}
func (NoopMetrics) RecordCheckpointCreated()                              {}
func (NoopMetrics) RecordCheckpointForked()                               {}
func (NoopMetrics) RecordParallelGroup(_ string, _ int)                   {}
func (NoopMetrics) RecordParallelCall(_ string)                           {}
func (NoopMetrics) RecordPhaseTransition(_, _ string, _ int)              {}
func (NoopMetrics) RecordHTTPRequest(_, _ string, _ int, _ time.Duration) {}

// Handler returns a handler that reports 503 Service Unavailable.
func (NoopMetrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("metrics not enabled"))
	})
}

// Recorder is the interface both Metrics and NoopMetrics satisfy, letting
// callers depend on an interface instead of a possibly-nil *Metrics.
type Recorder interface {
	RecordEventWritten(eventType string)
	RecordSpanStarted(spanType string)
	RecordSpanEnded(status string)
	RecordArtifactStored(kind string, sizeBytes int)
	RecordCheckpointCreated()
	RecordCheckpointForked()
	RecordParallelGroup(mode string, size int)
	RecordParallelCall(outcome string)
	RecordPhaseTransition(from, to string, toolCallsAtExit int)
	RecordHTTPRequest(method, path string, statusCode int, duration time.Duration)
	Handler() http.Handler
}

var (
	_ Recorder = (*Metrics)(nil)
	_ Recorder = NoopMetrics{}
)
