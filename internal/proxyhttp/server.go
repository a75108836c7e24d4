// Package proxyhttp is the HTTP surface that normalizes requests, holds
// per-request trace context, dispatches to the router/engine/backend, and
// renders both streaming (SSE) and non-streaming responses in Anthropic's
// wire format: a chi mux, goa.design/clue/log as outer middleware, and a
// graceful shutdown that drains in-flight requests before the process
// exits.
package proxyhttp

import (
	"context"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"goa.design/clue/log"

	"github.com/colliery-io/muninn/internal/backend"
	"github.com/colliery-io/muninn/internal/budget"
	"github.com/colliery-io/muninn/internal/engine"
	"github.com/colliery-io/muninn/internal/router"
	"github.com/colliery-io/muninn/internal/telemetry"
	"github.com/colliery-io/muninn/internal/trace"
)

// DefaultConcurrencyLimit bounds the number of requests admitted at once
// when Config.ConcurrencyLimit is left at its zero value.
const DefaultConcurrencyLimit = 64

// DefaultShutdownGrace bounds how long Shutdown waits for in-flight
// requests to finish before the underlying listener is torn down.
const DefaultShutdownGrace = 5 * time.Second

// Deps wires the proxy front-end's handlers to the components that
// actually do the work. Backend is the single upstream every passthrough
// request and every RLM cycle is run against — backend selection across
// multiple configured providers is a process-startup concern (cmd/muninn),
// not something the proxy front-end itself arbitrates.
type Deps struct {
	Backend      backend.Backend
	Router       *router.Router
	Engine       *engine.Engine
	DefaultLimits budget.Limits
	TraceSink    trace.Sink
	Telemetry    telemetry.Bundle
}

// Config configures the server's admission control and shutdown behavior.
type Config struct {
	Addr             string
	ConcurrencyLimit int
	ShutdownGrace    time.Duration
	Debug            bool
}

// Server is the proxy front-end's HTTP listener.
type Server struct {
	cfg     Config
	deps    Deps
	limiter *ConcurrencyLimiter
	srv     *http.Server
}

// New constructs a Server. It does not start listening — call Run.
func New(cfg Config, deps Deps) *Server {
	if cfg.ConcurrencyLimit == 0 {
		cfg.ConcurrencyLimit = DefaultConcurrencyLimit
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = DefaultShutdownGrace
	}
	s := &Server{
		cfg:     cfg,
		deps:    deps,
		limiter: NewConcurrencyLimiter(cfg.ConcurrencyLimit),
	}
	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.buildHandler(),
		ReadHeaderTimeout: 60 * time.Second,
	}
	return s
}

// Handler returns the server's root http.Handler, for tests that want to
// drive it directly with httptest rather than binding a real listener.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) buildHandler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if s.cfg.Debug {
		// Debug-gated /debug/pprof mount, using net/http/pprof directly
		// rather than clue/debug's goa-muxer adapter, which this
		// chi-based mux doesn't implement.
		r.HandleFunc("/debug/pprof/*", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	r.Get("/health", s.handleHealth)
	r.Post("/v1/messages", s.admit(s.handleMessages))

	var handler http.Handler = r
	handler = log.HTTP(context.Background())(handler)
	return handler
}

// admit wraps a handler with the concurrency ceiling: a request that can't
// acquire a slot gets a 503 overloaded response instead of running.
func (s *Server) admit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		release, ok := s.limiter.TryAcquire()
		if !ok {
			writeRequestError(w, http.StatusServiceUnavailable, newOverloadedResponse())
			return
		}
		defer release()
		next(w, r)
	}
}

// Run starts the listener and blocks until ctx is canceled, at which point
// it shuts the server down gracefully (draining in-flight requests for up
// to cfg.ShutdownGrace) and returns.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		log.Printf(ctx, "proxy listening on %q", s.cfg.Addr)
		errc <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Printf(ctx, "shutting down proxy at %q", s.cfg.Addr)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		log.Printf(ctx, "proxy shutdown error: %v", err)
		return err
	}
	return nil
}
