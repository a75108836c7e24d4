// Package ratelimit wraps a backend.Backend with an adaptive
// tokens-per-minute limiter, so a provider's own rate-limit responses
// shrink Muninn's outbound call rate automatically instead of the proxy
// hammering an already-throttled upstream.
package ratelimit

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"

	"github.com/colliery-io/muninn/internal/backend"
	"github.com/colliery-io/muninn/internal/muninnerr"
	"github.com/colliery-io/muninn/internal/types"
)

// Limiter applies an AIMD-style adaptive token bucket in front of a
// backend.Backend: each call's estimated token cost is drawn from the
// bucket before the call is made, and the bucket's effective
// tokens-per-minute budget shrinks on a rate-limit error and recovers
// gradually on success.
type Limiter struct {
	mu sync.Mutex

	limiter *rate.Limiter

	currentTPM   float64
	minTPM       float64
	maxTPM       float64
	recoveryRate float64
}

// New constructs a Limiter with an initial and maximum tokens-per-minute
// budget. When maxTPM is zero or less than initialTPM, it is clamped to
// initialTPM.
func New(initialTPM, maxTPM float64) *Limiter {
	if initialTPM <= 0 {
		initialTPM = 60000
	}
	if maxTPM <= 0 || maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	minTPM := initialTPM * 0.1
	if minTPM < 1 {
		minTPM = 1
	}
	recoveryRate := initialTPM * 0.05
	if recoveryRate < 1 {
		recoveryRate = 1
	}
	return &Limiter{
		limiter:      rate.NewLimiter(rate.Limit(initialTPM/60.0), int(initialTPM)),
		currentTPM:   initialTPM,
		minTPM:       minTPM,
		maxTPM:       maxTPM,
		recoveryRate: recoveryRate,
	}
}

// Wrap returns a backend.Backend that enforces the limiter in front of an
// underlying backend's Complete and Stream calls.
func (l *Limiter) Wrap(next backend.Backend) backend.Backend {
	return &limitedBackend{next: next, limiter: l}
}

type limitedBackend struct {
	next    backend.Backend
	limiter *Limiter
}

func (b *limitedBackend) Complete(ctx context.Context, req types.CompletionRequest) (types.CompletionResponse, error) {
	if err := b.limiter.wait(ctx, req); err != nil {
		return types.CompletionResponse{}, err
	}
	resp, err := b.next.Complete(ctx, req)
	b.limiter.observe(err)
	return resp, err
}

func (b *limitedBackend) Stream(ctx context.Context, req types.CompletionRequest, emit func(types.StreamEvent) error) error {
	if err := b.limiter.wait(ctx, req); err != nil {
		return err
	}
	err := b.next.Stream(ctx, req, emit)
	b.limiter.observe(err)
	return err
}

func (b *limitedBackend) Name() string { return b.next.Name() }

func (l *Limiter) wait(ctx context.Context, req types.CompletionRequest) error {
	n := estimateTokens(req)
	if burst := l.limiter.Burst(); n > burst {
		n = burst
	}
	return l.limiter.WaitN(ctx, n)
}

func (l *Limiter) observe(err error) {
	if err == nil {
		l.probe()
		return
	}
	var be *muninnerr.BackendError
	if errors.As(err, &be) && be.Kind == muninnerr.KindRateLimit {
		l.backoff()
	}
}

func (l *Limiter) backoff() {
	l.mu.Lock()
	defer l.mu.Unlock()
	newTPM := l.currentTPM * 0.5
	if newTPM < l.minTPM {
		newTPM = l.minTPM
	}
	if newTPM == l.currentTPM {
		return
	}
	l.currentTPM = newTPM
	l.limiter.SetLimit(rate.Limit(newTPM / 60.0))
	l.limiter.SetBurst(int(newTPM))
}

func (l *Limiter) probe() {
	l.mu.Lock()
	defer l.mu.Unlock()
	newTPM := l.currentTPM + l.recoveryRate
	if newTPM > l.maxTPM {
		newTPM = l.maxTPM
	}
	if newTPM == l.currentTPM {
		return
	}
	l.currentTPM = newTPM
	l.limiter.SetLimit(rate.Limit(newTPM / 60.0))
	l.limiter.SetBurst(int(newTPM))
}

// CurrentTPM returns the limiter's current effective tokens-per-minute
// budget, for diagnostics.
func (l *Limiter) CurrentTPM() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentTPM
}

// estimateTokens computes a cheap heuristic for the number of tokens a
// request's transcript will cost, counting characters across messages and
// converting with a fixed ratio, plus a fixed buffer for system prompts
// and provider framing.
func estimateTokens(req types.CompletionRequest) int {
	charCount := len(req.System)
	for _, m := range req.Messages {
		charCount += len(types.ToText(m.Content))
	}
	if charCount <= 0 {
		return 500
	}
	tokens := charCount / 3
	if tokens < 1 {
		tokens = 1
	}
	return tokens + 500
}
