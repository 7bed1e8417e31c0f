package stt

import (
	"context"
	"fmt"
	"time"

	"github.com/lexiqai/voice-scribe/internal/config"
	"github.com/lexiqai/voice-scribe/internal/gemini"
	"github.com/lexiqai/voice-scribe/internal/observability"
	"github.com/lexiqai/voice-scribe/internal/resilience"
)

// Guarded wraps a Transcriber with a health breaker and provider metrics.
// Calls always reach the provider; the breaker only reports health.
type Guarded struct {
	next Transcriber
	cb   *resilience.CircuitBreaker
}

// NewGuarded watches next with a breaker that opens after maxFailures consecutive transient failures
func NewGuarded(next Transcriber, maxFailures int, resetTimeout time.Duration) *Guarded {
	cb := resilience.NewCircuitBreaker(next.Name(), maxFailures, resetTimeout)
	cb.OnStateChange(func(name string, state resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(state))
	})
	return &Guarded{next: next, cb: cb}
}

// Name returns the wrapped provider name
func (g *Guarded) Name() string {
	return g.next.Name()
}

// Breaker exposes the circuit breaker for health reporting
func (g *Guarded) Breaker() *resilience.CircuitBreaker {
	return g.cb
}

// Transcribe calls the wrapped provider and records the outcome
func (g *Guarded) Transcribe(ctx context.Context, audioPath string) (string, error) {
	start := time.Now()
	text, err := g.next.Transcribe(ctx, audioPath)

	g.cb.Observe(err)
	observability.ObserveSTT(g.Name(), time.Since(start), err == nil)
	if err != nil && resilience.Classify(err) == resilience.Transient {
		observability.IncrementCircuitBreakerFailures(g.Name())
	}
	return text, err
}

// New builds the configured provider behind a circuit breaker.
// The gemini client is required only for STT_PROVIDER=gemini.
func New(cfg *config.Config, gc *gemini.Client) (*Guarded, error) {
	var provider Transcriber
	switch cfg.STTProvider {
	case "deepgram":
		provider = NewDeepgramClient(cfg)
	case "gemini":
		if gc == nil {
			return nil, fmt.Errorf("gemini transcriber requires a gemini client")
		}
		provider = NewGeminiClient(gc)
	default:
		return nil, fmt.Errorf("unknown STT provider %q", cfg.STTProvider)
	}

	return NewGuarded(
		provider,
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
	), nil
}
