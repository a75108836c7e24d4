package proxyhttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"goa.design/clue/log"

	"github.com/colliery-io/muninn/internal/budget"
	"github.com/colliery-io/muninn/internal/muninnerr"
	"github.com/colliery-io/muninn/internal/router"
	"github.com/colliery-io/muninn/internal/sse"
	"github.com/colliery-io/muninn/internal/trace"
	"github.com/colliery-io/muninn/internal/types"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMessages implements the per-request lifecycle: parse, open a
// trace-scoped collector, route, dispatch to passthrough or the RLM
// engine, and render the result, writing the trace exactly once before
// returning.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	var req types.CompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRequestError(w, http.StatusBadRequest, types.NewErrorResponse(types.ErrTypeInvalidRequest, "malformed request body: "+err.Error()))
		return
	}
	if err := validateRequest(req); err != nil {
		writeRequestError(w, http.StatusBadRequest, types.NewErrorResponse(types.ErrTypeInvalidRequest, err.Error()))
		return
	}

	traceID := uuid.NewString()
	collector := trace.New(traceID, time.Now())
	ctx := trace.WithCollector(r.Context(), collector)

	route, decision := s.deps.Router.Route(ctx, req)
	collector.RecordRouterDecision(decision)

	limits := budget.Resolve(s.deps.DefaultLimits, requestBudgetConfig(req))

	if req.Stream {
		s.serveStream(ctx, w, req, route, limits, collector)
		return
	}
	s.serveJSON(ctx, w, req, route, limits, collector)
}

func validateRequest(req types.CompletionRequest) error {
	if req.Model == "" {
		return errors.New("model is required")
	}
	if len(req.Messages) == 0 {
		return errors.New("messages must not be empty")
	}
	if req.MaxTokens <= 0 {
		return errors.New("max_tokens must be positive")
	}
	return nil
}

func requestBudgetConfig(req types.CompletionRequest) *types.BudgetConfig {
	if req.Muninn == nil {
		return nil
	}
	return req.Muninn.Budget
}

// dispatchResult is the outcome of running a request to completion,
// carrying exactly one of a successful response or an error envelope, or
// signaling that the client disconnected before a response existed.
type dispatchResult struct {
	resp         types.CompletionResponse
	errBody      *types.ErrorResponse
	canceled     bool
	terminatedBy types.TerminatedBy
}

func (s *Server) dispatchNonStream(ctx context.Context, req types.CompletionRequest, route router.Route, limits budget.Limits) dispatchResult {
	switch route {
	case router.Rlm:
		resp, err := s.deps.Engine.Run(ctx, req, s.deps.Backend, limits)
		if err != nil {
			if isCanceled(err) {
				return dispatchResult{canceled: true, terminatedBy: types.TerminatedCanceled}
			}
			return dispatchResult{errBody: backendErrorResponse(err), terminatedBy: types.TerminatedNatural}
		}
		terminatedBy := types.TerminatedNatural
		if exp := resp.Muninn; exp != nil && exp.Exploration != nil {
			terminatedBy = exp.Exploration.TerminatedBy
			if isBudgetExceeded(terminatedBy) {
				body := types.NewErrorResponse(types.ErrTypeBudgetExceeded, fmt.Sprintf("budget exceeded: terminated by %s", terminatedBy))
				return dispatchResult{errBody: &body, terminatedBy: terminatedBy}
			}
		}
		return dispatchResult{resp: resp, terminatedBy: terminatedBy}
	default: // router.Passthrough
		resp, err := s.deps.Backend.Complete(ctx, req.WithoutMuninn())
		if err != nil {
			if isCanceled(err) {
				return dispatchResult{canceled: true, terminatedBy: types.TerminatedCanceled}
			}
			return dispatchResult{errBody: backendErrorResponse(err), terminatedBy: types.TerminatedNatural}
		}
		return dispatchResult{resp: resp, terminatedBy: types.TerminatedNatural}
	}
}

func (s *Server) serveJSON(ctx context.Context, w http.ResponseWriter, req types.CompletionRequest, route router.Route, limits budget.Limits, collector *trace.Collector) {
	result := s.dispatchNonStream(ctx, req, route, limits)
	if result.canceled {
		s.finalizeTrace(ctx, collector, result.terminatedBy)
		return
	}
	if result.errBody != nil {
		writeJSON(w, http.StatusOK, *result.errBody)
		s.finalizeTrace(ctx, collector, result.terminatedBy)
		return
	}
	writeJSON(w, http.StatusOK, result.resp)
	s.finalizeTrace(ctx, collector, result.terminatedBy)
}

func (s *Server) serveStream(ctx context.Context, w http.ResponseWriter, req types.CompletionRequest, route router.Route, limits budget.Limits, collector *trace.Collector) {
	switch route {
	case router.Rlm:
		resp, err := s.deps.Engine.Run(ctx, req, s.deps.Backend, limits)
		if err != nil {
			if isCanceled(err) {
				s.finalizeTrace(ctx, collector, types.TerminatedCanceled)
				return
			}
			startSSE(w)
			emit := sseEmitter(w)
			errResp := backendErrorResponse(err)
			_ = sse.RenderError(errResp.Error.Type, errResp.Error.Message, emit)
			s.finalizeTrace(ctx, collector, types.TerminatedNatural)
			return
		}

		terminatedBy := types.TerminatedNatural
		if exp := resp.Muninn; exp != nil && exp.Exploration != nil {
			terminatedBy = exp.Exploration.TerminatedBy
		}
		startSSE(w)
		emit := sseEmitter(w)
		if isBudgetExceeded(terminatedBy) {
			_ = sse.RenderError(types.ErrTypeBudgetExceeded, fmt.Sprintf("budget exceeded: terminated by %s", terminatedBy), emit)
			s.finalizeTrace(ctx, collector, terminatedBy)
			return
		}
		_ = sse.RenderCompletionAsStream(resp, emit)
		s.finalizeTrace(ctx, collector, terminatedBy)
	default: // router.Passthrough
		startSSE(w)
		emit := sseEmitter(w)
		err := s.deps.Backend.Stream(ctx, req.WithoutMuninn(), emit)
		if err != nil {
			if isCanceled(err) {
				s.finalizeTrace(ctx, collector, types.TerminatedCanceled)
				return
			}
			errResp := backendErrorResponse(err)
			_ = sse.RenderError(errResp.Error.Type, errResp.Error.Message, emit)
		}
		s.finalizeTrace(ctx, collector, types.TerminatedNatural)
	}
}

func (s *Server) finalizeTrace(ctx context.Context, collector *trace.Collector, terminatedBy types.TerminatedBy) {
	if collector.Finalized() {
		return
	}
	rt := collector.Finalize(terminatedBy, time.Now())
	if s.deps.TraceSink == nil {
		return
	}
	if err := s.deps.TraceSink.Write(rt); err != nil {
		log.Printf(ctx, "trace write failed for %q: %v", rt.TraceID, err)
	}
}

func isCanceled(err error) bool {
	if err == nil {
		return false
	}
	var be *muninnerr.BackendError
	if errors.As(err, &be) && be.Kind == muninnerr.KindCanceled {
		return true
	}
	return errors.Is(err, context.Canceled)
}

func isBudgetExceeded(tb types.TerminatedBy) bool {
	switch tb {
	case types.TerminatedDepth, types.TerminatedTokens, types.TerminatedToolCalls, types.TerminatedDuration:
		return true
	default:
		return false
	}
}

// backendErrorResponse translates a Backend failure into the Anthropic-
// shaped error envelope, carrying the backend's typed error.type when the
// error is a muninnerr.BackendError and falling back to a generic
// api_error for anything else (e.g. the engine's wrapped backend-call
// error, which loses the typed error across the fmt.Errorf("%w") chain
// only if the original error wasn't itself a *BackendError).
func backendErrorResponse(err error) *types.ErrorResponse {
	var be *muninnerr.BackendError
	if errors.As(err, &be) {
		body := types.NewErrorResponse(be.ErrorType(), be.Error())
		return &body
	}
	body := types.NewErrorResponse(types.ErrTypeAPIError, err.Error())
	return &body
}

func newOverloadedResponse() types.ErrorResponse {
	return types.NewErrorResponse(types.ErrTypeOverloaded, "concurrency ceiling exceeded")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRequestError(w http.ResponseWriter, status int, body types.ErrorResponse) {
	writeJSON(w, status, body)
}

func startSSE(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func sseEmitter(w http.ResponseWriter) func(types.StreamEvent) error {
	return func(ev types.StreamEvent) error {
		return sse.EncodeAndFlush(w, ev)
	}
}
