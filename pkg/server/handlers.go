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

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/tracecore/pkg/tracestore"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.recorder.Handler().ServeHTTP(w, r)
}

func (s *Server) handleTraceOverview(w http.ResponseWriter, r *http.Request) {
	traceID := chi.URLParam(r, "trace_id")
	overview, err := s.store.GetSessionOverview(r.Context(), traceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

func (s *Server) handleTraceSpans(w http.ResponseWriter, r *http.Request) {
	traceID := chi.URLParam(r, "trace_id")
	spans, err := s.store.GetTraceSpans(r.Context(), traceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if spans == nil {
		spans = []tracestore.Span{}
	}
	writeJSON(w, http.StatusOK, spans)
}

func (s *Server) handleTraceTimeline(w http.ResponseWriter, r *http.Request) {
	traceID := chi.URLParam(r, "trace_id")

	var since, until time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, errInvalidTimeParam("since", err))
			return
		}
		since = parsed
	}
	if v := r.URL.Query().Get("until"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, errInvalidTimeParam("until", err))
			return
		}
		until = parsed
	}

	events, err := s.store.GetSessionTimeline(r.Context(), traceID, since, until)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if events == nil {
		events = []tracestore.TraceEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleGetCheckpoint(w http.ResponseWriter, r *http.Request) {
	checkpointID := chi.URLParam(r, "checkpoint_id")
	cp, err := s.store.GetCheckpoint(r.Context(), checkpointID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if cp == nil {
		writeError(w, http.StatusNotFound, tracestore.ErrCheckpointNotFound)
		return
	}
	writeJSON(w, http.StatusOK, cp)
}

type forkRequest struct {
	NewTraceID string `json:"new_trace_id"`
}

type forkResponse struct {
	NewTraceID string               `json:"new_trace_id"`
	Checkpoint tracestore.Checkpoint `json:"checkpoint"`
}

func (s *Server) handleForkCheckpoint(w http.ResponseWriter, r *http.Request) {
	checkpointID := chi.URLParam(r, "checkpoint_id")

	var req forkRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	newTraceID, cp, err := s.store.ForkFromCheckpoint(r.Context(), checkpointID, req.NewTraceID)
	if err != nil {
		if errors.Is(err, tracestore.ErrCheckpointNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusCreated, forkResponse{NewTraceID: newTraceID, Checkpoint: cp})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func errInvalidTimeParam(name string, cause error) error {
	return &invalidTimeParamError{name: name, cause: cause}
}

type invalidTimeParamError struct {
	name  string
	cause error
}

func (e *invalidTimeParamError) Error() string {
	return "invalid " + e.name + " parameter: " + e.cause.Error()
}

func (e *invalidTimeParamError) Unwrap() error {
	return e.cause
}
