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

package tracestore

import "context"

// RecoverDanglingSpans finds spans with a SPAN_START but no SPAN_END and
// closes each with status CANCELLED and error_message "recovered".
// Idempotent: a span already closed (by a prior pass or normal completion)
// is left untouched. Returns the number of spans recovered.
func (s *Store) RecoverDanglingSpans(ctx context.Context, traceID string) (int, error) {
	spans, err := s.GetTraceSpans(ctx, traceID)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, sp := range spans {
		if sp.EndTS != nil {
			continue
		}
		if err := s.EndSpan(ctx, traceID, sp.SpanID, StatusCancelled, "", "", "recovered", nil); err != nil {
			return recovered, err
		}
		recovered++
	}
	return recovered, nil
}
