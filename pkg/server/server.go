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

// Package server exposes a read-only HTTP surface over a trace store: trace
// overviews, span listings, timelines, and checkpoint lookup/fork. It never
// writes to a trace except through the fork endpoint, which delegates to the
// same ForkFromCheckpoint the CLI's fork command uses.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kadirpekel/tracecore/pkg/observability"
	"github.com/kadirpekel/tracecore/pkg/tracestore"
)

// Options configures a Server.
type Options struct {
	// Store is the trace store the read surface queries and forks against.
	Store *tracestore.Store
	// Recorder receives HTTP request metrics. Nil selects a no-op recorder.
	Recorder observability.Recorder
	// Host/Port the HTTP listener binds to. Host defaults to "0.0.0.0",
	// Port to 8090.
	Host string
	Port int
	// Debug enables verbose startup logging.
	Debug bool
}

// Server wraps a chi router and an http.Server with the teacher's
// channel-driven start/stop lifecycle, pared down to a single listener.
type Server struct {
	opts     Options
	store    *tracestore.Store
	recorder observability.Recorder
	router   chi.Router
	httpSrv  *http.Server

	mu       sync.Mutex
	doneChan chan struct{}
}

// New builds a Server from opts. The store must be non-nil; New returns an
// error otherwise.
func New(opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("server: Options.Store is required")
	}
	if opts.Host == "" {
		opts.Host = "0.0.0.0"
	}
	if opts.Port == 0 {
		opts.Port = 8090
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = observability.NoopMetrics{}
	}

	s := &Server{
		opts:     opts,
		store:    opts.Store,
		recorder: recorder,
		doneChan: make(chan struct{}),
	}
	s.router = s.newRouter()
	return s, nil
}

func (s *Server) newRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(observability.HTTPMiddleware(s.recorder))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/metrics", s.handleMetrics)
	r.Route("/traces/{trace_id}", func(r chi.Router) {
		r.Get("/overview", s.handleTraceOverview)
		r.Get("/spans", s.handleTraceSpans)
		r.Get("/timeline", s.handleTraceTimeline)
	})
	r.Route("/checkpoints/{checkpoint_id}", func(r chi.Router) {
		r.Get("/", s.handleGetCheckpoint)
		r.Post("/fork", s.handleForkCheckpoint)
	})
	return r
}

// Router exposes the underlying chi.Router, primarily so tests can drive it
// directly with httptest without binding a real listener.
func (s *Server) Router() chi.Router {
	return s.router
}

// Addr returns the address the server listens on.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
}

// Start binds the listener and begins serving in the background, returning
// once the listener is up or an immediate startup error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	s.httpSrv = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Unlock()

	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.Addr(), err)
	}

	if s.opts.Debug {
		log.Printf("trace read surface listening on http://%s", s.Addr())
	}

	go func() {
		defer close(s.doneChan)
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("server: serve error: %v", err)
		}
	}()

	return nil
}

// Wait blocks until the server has fully stopped serving.
func (s *Server) Wait() {
	<-s.doneChan
}

// Stop gracefully shuts the HTTP listener down, waiting up to ctx's deadline
// for in-flight requests to finish.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
