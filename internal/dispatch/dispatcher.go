// Package dispatch memoizes calls to NER endpoints. A Dispatcher looks the
// request up in the model's cache and only runs the compute function on a
// miss. Identical concurrent misses share one call.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ferro-labs/ner-visualizer/internal/cache"
	"github.com/ferro-labs/ner-visualizer/internal/fingerprint"
	"github.com/ferro-labs/ner-visualizer/internal/logging"
	"github.com/ferro-labs/ner-visualizer/internal/metrics"
)

// DefaultTimeout bounds a single endpoint call.
const DefaultTimeout = 30 * time.Second

// Dispatch outcomes, used as the "outcome" metric label.
const (
	OutcomeHit      = "hit"
	OutcomeStored   = "stored"
	OutcomeEmpty    = "empty"
	OutcomeError    = "error"
	OutcomeCanceled = "canceled"
)

// errAbandoned is returned to callers that joined a flight whose leader
// went away before the endpoint answered.
var errAbandoned = errors.New("dispatch: shared call abandoned by its initiator")

// ComputeFunc calls the NER endpoint for id. It must honour ctx.
type ComputeFunc func(ctx context.Context, id cache.Identity, text string, extra map[string]string) (map[string]string, error)

// Result is the outcome of one dispatch.
type Result struct {
	Entities map[string]string
	Elapsed  time.Duration
	Timed    bool
	CacheHit bool
	// Outcome is one of the Outcome* constants.
	Outcome string
}

// ElapsedSeconds returns the measured call time in seconds.
func (r Result) ElapsedSeconds() (float64, bool) {
	return r.Elapsed.Seconds(), r.Timed
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTimeout overrides DefaultTimeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(dp *Dispatcher) {
		if d > 0 {
			dp.timeout = d
		}
	}
}

// WithLogger sets the logger used for dispatch events. By default the
// request-scoped logger from internal/logging is used.
func WithLogger(l *slog.Logger) Option {
	return func(dp *Dispatcher) { dp.logger = l }
}

// Dispatcher wraps a cache.Registry with fetch-or-compute semantics.
type Dispatcher struct {
	reg     *cache.Registry
	timeout time.Duration
	logger  *slog.Logger
	group   singleflight.Group
	now     func() time.Time
}

// New returns a Dispatcher backed by reg.
func New(reg *cache.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		reg:     reg,
		timeout: DefaultTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Timeout returns the per-call timeout.
func (d *Dispatcher) Timeout() time.Duration { return d.timeout }

type flightResult struct {
	entities map[string]string
	elapsed  time.Duration
	stored   bool
}

// FetchOrCompute returns the cached result for (id, text, extra) or calls
// compute and caches a non-empty answer. Failures are never cached: the
// returned Result then carries an empty entity map alongside the error so
// callers can render "no entities" and move on.
func (d *Dispatcher) FetchOrCompute(ctx context.Context, id cache.Identity, text string, extra map[string]string, compute ComputeFunc) (Result, error) {
	fp := fingerprint.Compute(text, extra)
	mem := d.reg.Ensure(id)
	model := string(id)

	if entry, ok := mem.Get(fp); ok {
		metrics.DispatchTotal.WithLabelValues(model, OutcomeHit).Inc()
		return Result{
			Entities: entry.Result,
			Elapsed:  entry.Elapsed,
			Timed:    entry.Timed,
			CacheHit: true,
			Outcome:  OutcomeHit,
		}, nil
	}

	key := model + "\x00" + fp.String()
	for {
		ch := d.group.DoChan(key, func() (any, error) {
			return d.run(ctx, mem, fp, text, extra, compute)
		})

		select {
		case <-ctx.Done():
			metrics.DispatchTotal.WithLabelValues(model, OutcomeCanceled).Inc()
			return failed(OutcomeCanceled), ctx.Err()
		case res := <-ch:
			if errors.Is(res.Err, errAbandoned) && ctx.Err() == nil {
				// Another caller started the flight and left. Try again
				// with our own context.
				continue
			}
			return d.finish(ctx, model, res)
		}
	}
}

func (d *Dispatcher) finish(ctx context.Context, model string, res singleflight.Result) (Result, error) {
	log := d.log(ctx).With("model", model)

	if res.Err != nil {
		outcome := OutcomeError
		if ctx.Err() != nil || errors.Is(res.Err, context.Canceled) {
			outcome = OutcomeCanceled
		}
		metrics.DispatchTotal.WithLabelValues(model, outcome).Inc()
		log.Warn("ner dispatch failed", "error", res.Err, "shared", res.Shared)
		return failed(outcome), res.Err
	}

	fr := res.Val.(flightResult)
	outcome := OutcomeStored
	if !fr.stored {
		outcome = OutcomeEmpty
	}
	metrics.DispatchTotal.WithLabelValues(model, outcome).Inc()
	log.Debug("ner dispatch completed",
		"entities", len(fr.entities),
		"duration", fr.elapsed,
		"shared", res.Shared,
		"stored", fr.stored,
	)
	return Result{
		Entities: cloneEntities(fr.entities),
		Elapsed:  fr.elapsed,
		Timed:    true,
		Outcome:  outcome,
	}, nil
}

// run executes one flight on behalf of every caller sharing it. The
// result is written to mem, which may already have been dropped from the
// registry by a reconcile; that write then has no visible effect.
func (d *Dispatcher) run(ctx context.Context, mem *cache.Memory, fp fingerprint.Fingerprint, text string, extra map[string]string, compute ComputeFunc) (flightResult, error) {
	cctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	model := string(mem.Identity())
	start := d.now()
	entities, err := compute(cctx, mem.Identity(), text, extra)
	elapsed := d.now().Sub(start)
	metrics.DispatchDuration.WithLabelValues(model).Observe(elapsed.Seconds())

	// A cancelled or timed-out attempt is never cached, whatever the
	// compute function returned.
	if ctxErr := cctx.Err(); ctxErr != nil {
		if ctx.Err() != nil {
			return flightResult{}, fmt.Errorf("%w: %w", errAbandoned, ctx.Err())
		}
		if err == nil {
			err = ctxErr
		}
		return flightResult{}, fmt.Errorf("ner call to %s: %w", model, err)
	}
	if err != nil {
		return flightResult{}, fmt.Errorf("ner call to %s: %w", model, err)
	}
	if len(entities) == 0 {
		return flightResult{entities: map[string]string{}, elapsed: elapsed}, nil
	}

	mem.Set(fp, cache.Entry{
		Result:     entities,
		Elapsed:    elapsed,
		Timed:      true,
		TextDigest: fingerprint.TextDigest(text),
		StoredAt:   d.now(),
	})
	return flightResult{entities: cloneEntities(entities), elapsed: elapsed, stored: true}, nil
}

func (d *Dispatcher) log(ctx context.Context) *slog.Logger {
	if d.logger != nil {
		return d.logger
	}
	return logging.FromContext(ctx)
}

func failed(outcome string) Result {
	return Result{Entities: map[string]string{}, Outcome: outcome}
}

func cloneEntities(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
