package api

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/dmscode/dmsflow/internal/engine"
	"github.com/dmscode/dmsflow/internal/scheduler"
	"github.com/dmscode/dmsflow/internal/store"
	"github.com/dmscode/dmsflow/internal/streaming"
	"github.com/dmscode/dmsflow/internal/validation"
	"github.com/dmscode/dmsflow/pkg/schema"
)

// Dispatcher queues flow runs. Satisfied by *engine.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, kind schema.TriggerKind, ec *schema.ExecutionContext) (*engine.DispatchResult, error)
	Trigger(ctx context.Context, flowID string, ec *schema.ExecutionContext) error
}

// ScheduleLister previews scheduled flows. Satisfied by *scheduler.Scheduler.
type ScheduleLister interface {
	Schedules(ctx context.Context) ([]scheduler.Schedule, error)
}

// Deps holds the dependencies for the API server. Schedules, Hub and Pool
// are optional; their routes report 503 when unset.
type Deps struct {
	Flows      store.FlowStore
	Validator  validation.Validator
	Dispatcher Dispatcher
	History    *engine.History
	Schedules  ScheduleLister
	Hub        streaming.Hub
	Pool       *engine.WorkerPool
	Logger     *slog.Logger
}

// Server serves the flow management and execution API.
type Server struct {
	deps Deps
}

// NewServer creates a new Server.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Server{deps: deps}
}

// Handler returns the HTTP handler for all API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	// Flow definitions.
	mux.HandleFunc("POST /flows", s.handleCreateFlow)
	mux.HandleFunc("GET /flows", s.handleListFlows)
	mux.HandleFunc("GET /flows/{id}", s.handleGetFlow)
	mux.HandleFunc("PUT /flows/{id}", s.handleUpdateFlow)
	mux.HandleFunc("DELETE /flows/{id}", s.handleDeleteFlow)
	mux.HandleFunc("GET /flows/{id}/validate", s.handleValidateFlow)
	mux.HandleFunc("GET /flows/{id}/diagram", s.handleFlowDiagram)

	// Execution.
	mux.HandleFunc("POST /execute/{trigger}", s.handleExecute)
	mux.HandleFunc("POST /flows/{id}/trigger", s.handleTriggerFlow)
	mux.HandleFunc("GET /flows/history", s.handleHistory)
	mux.HandleFunc("GET /flows/cron", s.handleCron)

	// SSE streams.
	mux.HandleFunc("GET /sse/runs", s.handleSSERuns)
	mux.HandleFunc("GET /sse/flows/{id}", s.handleSSEFlow)

	return s.logRequests(mux)
}

// logRequests logs one line per request at debug level.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.deps.Logger.DebugContext(r.Context(), "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush lets SSE handlers stream through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "ok", "service": "automation"}
	if s.deps.Pool != nil {
		body["pool"] = s.deps.Pool.Metrics()
	}
	writeJSON(w, http.StatusOK, body)
}
