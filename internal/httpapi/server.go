// Package httpapi exposes the runtime over HTTP: POST /run accepts the Run
// input schema and streams the pipeline's side-channel as Server-Sent
// Events, GET /wakeup/{channel_id} triggers the wake-up path, and
// POST /channels/{id}/tool-updates feeds confirmed/rejected tool results
// back in (spec.md §6, SPEC_FULL.md §6). Grounded on the teacher's
// stdlib-net/http handler style (internal/httpapi/server.go in the
// reference repo) — no new HTTP framework dependency.
package httpapi

import (
	"net/http"

	"weave/internal/pipeline"
	"weave/internal/stages"
	"weave/internal/telemetry"
)

// Server wires HTTP requests into pipeline runs against a single logical
// thread (one conversational runtime instance; multi-tenant deployments
// would key the checkpointer by a path segment instead of a fixed id).
type Server struct {
	orchestrator *stages.Orchestrator
	checkpointer pipeline.Checkpointer
	threadID     string
	telemetry    *telemetry.Sink
	mux          *http.ServeMux
}

// NewServer builds the HTTP surface wired to orchestrator/checkpointer.
func NewServer(orchestrator *stages.Orchestrator, checkpointer pipeline.Checkpointer, threadID string) *Server {
	s := &Server{orchestrator: orchestrator, checkpointer: checkpointer, threadID: threadID, mux: http.NewServeMux()}
	s.registerRoutes()
	return s
}

// WithTelemetry attaches a sink every emitted stage event is additionally
// recorded to (spec §4.6 "the side channel"); nil disables recording. Sink
// methods are nil-safe, so passing a nil *telemetry.Sink is also fine.
func (s *Server) WithTelemetry(sink *telemetry.Sink) *Server {
	s.telemetry = sink
	return s
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /run", s.handleRun)
	s.mux.HandleFunc("GET /wakeup/{channel_id}", s.handleWakeup)
	s.mux.HandleFunc("POST /channels/{id}/tool-updates", s.handleToolUpdates)
	s.mux.HandleFunc("GET /usage", s.handleUsage)
}
