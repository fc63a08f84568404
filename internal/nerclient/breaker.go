package nerclient

import (
	"context"
	"errors"

	"github.com/ferro-labs/ner-visualizer/internal/circuitbreaker"
	"github.com/ferro-labs/ner-visualizer/internal/metrics"
)

// Guarded wraps a Caller with a circuit breaker. While the breaker is open
// calls fail fast with circuitbreaker.ErrCircuitOpen.
type Guarded struct {
	next    Caller
	breaker *circuitbreaker.CircuitBreaker
	model   string
}

// Guard wraps next with breaker. model labels the breaker state metric.
func Guard(next Caller, breaker *circuitbreaker.CircuitBreaker, model string) *Guarded {
	g := &Guarded{next: next, breaker: breaker, model: model}
	g.report()
	return g
}

// Breaker returns the wrapped breaker.
func (g *Guarded) Breaker() *circuitbreaker.CircuitBreaker { return g.breaker }

// Call implements Caller.
func (g *Guarded) Call(ctx context.Context, text string, extra map[string]string) (map[string]string, error) {
	if !g.breaker.Allow() {
		g.report()
		return nil, circuitbreaker.ErrCircuitOpen
	}

	entities, err := g.next.Call(ctx, text, extra)
	switch {
	case err == nil:
		g.breaker.RecordSuccess()
	case errors.Is(err, context.Canceled):
		// The caller gave up; says nothing about the endpoint.
	default:
		g.breaker.RecordFailure()
	}
	g.report()
	return entities, err
}

func (g *Guarded) report() {
	metrics.CircuitBreakerState.WithLabelValues(g.model).Set(float64(g.breaker.State()))
}
