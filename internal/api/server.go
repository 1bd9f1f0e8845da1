// Package api is the HTTP and websocket surface: workflow CRUD, run and
// trigger endpoints, job queries, capability tokens, and the execution event
// socket. Identity comes from the X-User-ID header; authentication proper is
// a fronting concern.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/otel/trace"

	"github.com/calafate/loom/internal/bus"
	"github.com/calafate/loom/internal/cache"
	"github.com/calafate/loom/internal/engine"
	"github.com/calafate/loom/internal/realtime"
	"github.com/calafate/loom/internal/scheduler"
	"github.com/calafate/loom/internal/store"
	"github.com/calafate/loom/internal/tracing"
)

// Config carries the collaborators the server routes requests to.
type Config struct {
	Workflows  store.WorkflowStore
	Executions store.ExecutionStore
	Engine     *engine.Service
	Scheduler  *scheduler.Scheduler
	Bus        *bus.Bus
	Tokens     *realtime.TokenIssuer
	Cache      cache.Manager // optional, invalidated on workflow writes

	// Origins is the CORS allowlist; empty allows none.
	Origins []string

	// Tracer wraps requests in server spans when set.
	Tracer trace.Tracer
}

// Server is the HTTP API. It owns the router and the websocket fan-out.
type Server struct {
	cfg    Config
	router *chi.Mux
	ws     *socketManager
}

// New builds the server and mounts all routes.
func New(cfg Config) *Server {
	s := &Server{
		cfg: cfg,
		ws:  newSocketManager(cfg.Bus),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(tracing.Middleware(cfg.Tracer))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-User-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/workflows", func(r chi.Router) {
		r.Post("/", s.createWorkflow)
		r.Get("/", s.listWorkflows)
		r.Get("/samples", s.sampleWorkflows)
		r.Route("/{workflowID}", func(r chi.Router) {
			r.Get("/", s.getWorkflow)
			r.Put("/", s.updateWorkflow)
			r.Delete("/", s.deleteWorkflow)
			r.Get("/history", s.workflowHistory)
			r.Post("/run", s.runWorkflow)
			r.Post("/trigger", s.triggerWorkflow)
			r.Post("/test", s.testWorkflow)
		})
	})

	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", s.listJobs)
		r.Get("/active", s.listActiveJobs)
		r.Get("/token", s.realtimeToken)
		r.Get("/{jobID}", s.getJob)
		r.Delete("/{jobID}", s.cancelJob)
	})

	r.Get("/ws/executions/{workflowID}", s.executionSocket)

	s.router = r
	return s
}

// Handler returns the mounted router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close drops all websocket connections.
func (s *Server) Close() {
	s.ws.closeAll()
}

// userID extracts the caller identity from the X-User-ID header.
func userID(r *http.Request) (int64, error) {
	raw := r.Header.Get("X-User-ID")
	if raw == "" {
		return 0, errValidation("X-User-ID header required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errValidation("X-User-ID must be a positive integer")
	}
	return id, nil
}

// pathID parses a numeric path parameter.
func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errValidation("invalid " + name)
	}
	return id, nil
}

// ListenAndServe runs the server until ctx is cancelled, then shuts it down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		s.ws.closeAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
