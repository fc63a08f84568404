package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ferro-labs/ner-visualizer/internal/cache"
	"github.com/ferro-labs/ner-visualizer/internal/fingerprint"
)

func newTestDispatcher(t *testing.T, capacity int, opts ...Option) (*Dispatcher, *cache.Registry) {
	t.Helper()
	reg, err := cache.NewRegistry(capacity)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return New(reg, opts...), reg
}

// countingCompute returns a ComputeFunc that answers with result and counts
// invocations.
func countingCompute(calls *atomic.Int32, result map[string]string) ComputeFunc {
	return func(_ context.Context, _ cache.Identity, _ string, _ map[string]string) (map[string]string, error) {
		calls.Add(1)
		return result, nil
	}
}

func TestFetchOrCompute_Idempotent(t *testing.T) {
	d, _ := newTestDispatcher(t, 4)
	var calls atomic.Int32
	compute := countingCompute(&calls, map[string]string{"Paris": "LOC"})
	ctx := context.Background()

	first, err := d.FetchOrCompute(ctx, "m", "Paris is nice", map[string]string{"lang": "en"}, compute)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	if first.CacheHit {
		t.Error("first call should be a miss")
	}
	if first.Outcome != OutcomeStored {
		t.Errorf("expected outcome %q, got %q", OutcomeStored, first.Outcome)
	}

	second, err := d.FetchOrCompute(ctx, "m", "Paris is nice", map[string]string{"lang": "en"}, compute)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if !second.CacheHit {
		t.Error("second call should be a cache hit")
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 compute call, got %d", calls.Load())
	}
	if second.Entities["Paris"] != "LOC" {
		t.Errorf("unexpected entities: %v", second.Entities)
	}
	if second.Elapsed != first.Elapsed || !second.Timed {
		t.Errorf("expected cached timing %v, got %v (timed=%v)", first.Elapsed, second.Elapsed, second.Timed)
	}
}

func TestFetchOrCompute_RecordsElapsed(t *testing.T) {
	d, reg := newTestDispatcher(t, 4)
	base := time.Unix(1700000000, 0)
	ticks := []time.Time{base, base.Add(1200 * time.Millisecond), base.Add(2 * time.Second)}
	var i int
	d.now = func() time.Time {
		ts := ticks[i]
		i++
		return ts
	}

	var calls atomic.Int32
	res, err := d.FetchOrCompute(context.Background(), "m", "text", nil, countingCompute(&calls, map[string]string{"a": "B"}))
	if err != nil {
		t.Fatalf("FetchOrCompute: %v", err)
	}
	if res.Elapsed != 1200*time.Millisecond || !res.Timed {
		t.Errorf("expected elapsed 1.2s, got %v", res.Elapsed)
	}

	entry, ok := reg.LatestForText("m", "text")
	if !ok {
		t.Fatal("expected entry to be cached")
	}
	if secs, _ := entry.ElapsedSeconds(); secs != 1.2 {
		t.Errorf("expected stored elapsed 1.2, got %v", secs)
	}
	if !entry.StoredAt.Equal(ticks[2]) {
		t.Errorf("expected StoredAt %v, got %v", ticks[2], entry.StoredAt)
	}
}

func TestFetchOrCompute_ExtraArgsAreDistinct(t *testing.T) {
	d, reg := newTestDispatcher(t, 4)
	var calls atomic.Int32
	compute := countingCompute(&calls, map[string]string{"x": "Y"})
	ctx := context.Background()

	_, _ = d.FetchOrCompute(ctx, "m", "t", map[string]string{"k": "1"}, compute)
	_, _ = d.FetchOrCompute(ctx, "m", "t", map[string]string{"k": "2"}, compute)
	_, _ = d.FetchOrCompute(ctx, "other", "t", map[string]string{"k": "1"}, compute)

	if calls.Load() != 3 {
		t.Errorf("expected 3 compute calls, got %d", calls.Load())
	}
	if reg.Ensure("m").Len() != 2 {
		t.Errorf("expected 2 entries for m, got %d", reg.Ensure("m").Len())
	}
}

func TestFetchOrCompute_FailureNotCached(t *testing.T) {
	d, reg := newTestDispatcher(t, 4)
	var calls atomic.Int32
	boom := errors.New("connection refused")
	compute := func(_ context.Context, _ cache.Identity, _ string, _ map[string]string) (map[string]string, error) {
		if calls.Add(1) == 1 {
			return nil, boom
		}
		return map[string]string{"Paris": "LOC"}, nil
	}
	ctx := context.Background()

	res, err := d.FetchOrCompute(ctx, "m", "Paris", nil, compute)
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom error, got %v", err)
	}
	if res.Entities == nil || len(res.Entities) != 0 {
		t.Errorf("expected empty non-nil entities on failure, got %v", res.Entities)
	}
	if res.Outcome != OutcomeError {
		t.Errorf("expected outcome %q, got %q", OutcomeError, res.Outcome)
	}
	if reg.Ensure("m").Len() != 0 {
		t.Fatal("failure must not be cached")
	}

	res, err = d.FetchOrCompute(ctx, "m", "Paris", nil, compute)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected compute to run again, got %d calls", calls.Load())
	}
	if res.Entities["Paris"] != "LOC" {
		t.Errorf("unexpected entities after retry: %v", res.Entities)
	}
}

func TestFetchOrCompute_EmptyNotCached(t *testing.T) {
	d, reg := newTestDispatcher(t, 4)
	var calls atomic.Int32
	compute := countingCompute(&calls, map[string]string{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := d.FetchOrCompute(ctx, "m", "nothing here", nil, compute)
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if res.Outcome != OutcomeEmpty {
			t.Errorf("expected outcome %q, got %q", OutcomeEmpty, res.Outcome)
		}
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 compute calls, got %d", calls.Load())
	}
	if reg.Ensure("m").Len() != 0 {
		t.Error("empty result must not be cached")
	}
}

func TestFetchOrCompute_Timeout(t *testing.T) {
	d, reg := newTestDispatcher(t, 4, WithTimeout(20*time.Millisecond))
	compute := func(ctx context.Context, _ cache.Identity, _ string, _ map[string]string) (map[string]string, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	_, err := d.FetchOrCompute(context.Background(), "slow", "text", nil, compute)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if reg.Ensure("slow").Len() != 0 {
		t.Error("timed-out call must not be cached")
	}
}

func TestFetchOrCompute_LateResultAfterTimeoutNotCached(t *testing.T) {
	d, reg := newTestDispatcher(t, 4, WithTimeout(10*time.Millisecond))
	compute := func(ctx context.Context, _ cache.Identity, _ string, _ map[string]string) (map[string]string, error) {
		<-ctx.Done()
		// Ignores the cancellation and answers anyway.
		return map[string]string{"late": "X"}, nil
	}

	_, err := d.FetchOrCompute(context.Background(), "m", "text", nil, compute)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if reg.Ensure("m").Len() != 0 {
		t.Error("a result returned after the deadline must not be cached")
	}
}

func TestFetchOrCompute_CallerCancellation(t *testing.T) {
	d, _ := newTestDispatcher(t, 4)
	started := make(chan struct{})
	release := make(chan struct{})
	compute := func(_ context.Context, _ cache.Identity, _ string, _ map[string]string) (map[string]string, error) {
		close(started)
		<-release
		return map[string]string{"Paris": "LOC"}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := d.FetchOrCompute(ctx, "m", "Paris", nil, compute)
		errCh <- err
	}()

	<-started
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	close(release)

	// Whether or not the abandoned call has finished, the next caller must
	// run the endpoint itself.
	var calls atomic.Int32
	res, err := d.FetchOrCompute(context.Background(), "m", "Paris", nil, countingCompute(&calls, map[string]string{"Paris": "GPE"}))
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a fresh compute call, got %d", calls.Load())
	}
	if res.Entities["Paris"] != "GPE" {
		t.Errorf("expected fresh result, got %v", res.Entities)
	}
}

func TestFetchOrCompute_ConcurrentMissesShareOneCall(t *testing.T) {
	d, _ := newTestDispatcher(t, 4)
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	compute := func(_ context.Context, _ cache.Identity, _ string, _ map[string]string) (map[string]string, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return map[string]string{"Paris": "LOC"}, nil
	}

	ctx := context.Background()
	const n = 10
	results := make([]Result, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = d.FetchOrCompute(ctx, "m", "Paris", nil, compute)
	}()
	<-started

	for i := 1; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = d.FetchOrCompute(ctx, "m", "Paris", nil, compute)
		}(i)
	}
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("expected exactly 1 compute call, got %d", calls.Load())
	}
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Errorf("caller %d: %v", i, errs[i])
		}
		if results[i].Entities["Paris"] != "LOC" {
			t.Errorf("caller %d: unexpected entities %v", i, results[i].Entities)
		}
	}
}

func TestFetchOrCompute_ReconcileDuringCall(t *testing.T) {
	d, reg := newTestDispatcher(t, 4)
	started := make(chan struct{})
	release := make(chan struct{})
	compute := func(_ context.Context, _ cache.Identity, _ string, _ map[string]string) (map[string]string, error) {
		close(started)
		<-release
		return map[string]string{"Paris": "LOC"}, nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := d.FetchOrCompute(context.Background(), "A", "Paris", nil, compute)
		done <- err
	}()

	<-started
	reg.Reconcile([]cache.Identity{"B"})
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("FetchOrCompute: %v", err)
	}

	if reg.Has("A") {
		t.Fatal("a finished call must not resurrect a removed model")
	}
}

func TestFetchOrCompute_EndToEnd(t *testing.T) {
	d, reg := newTestDispatcher(t, 2)
	var calls atomic.Int32
	compute := func(_ context.Context, _ cache.Identity, text string, _ map[string]string) (map[string]string, error) {
		calls.Add(1)
		if text == "Paris is nice" {
			return map[string]string{"Paris": "LOC"}, nil
		}
		return map[string]string{text: "MISC"}, nil
	}
	ctx := context.Background()
	mem := reg.Ensure("M")

	first, err := d.FetchOrCompute(ctx, "M", "Paris is nice", nil, compute)
	if err != nil {
		t.Fatalf("submit 1: %v", err)
	}
	if first.Entities["Paris"] != "LOC" || mem.Len() != 1 {
		t.Fatalf("after submit 1: entities=%v len=%d", first.Entities, mem.Len())
	}

	again, err := d.FetchOrCompute(ctx, "M", "Paris is nice", nil, compute)
	if err != nil {
		t.Fatalf("submit 2: %v", err)
	}
	if calls.Load() != 1 || again.Entities["Paris"] != "LOC" {
		t.Fatalf("after submit 2: calls=%d entities=%v", calls.Load(), again.Entities)
	}

	if _, err := d.FetchOrCompute(ctx, "M", "Berlin", nil, compute); err != nil {
		t.Fatalf("submit 3: %v", err)
	}
	if calls.Load() != 2 || mem.Len() != 2 {
		t.Fatalf("after submit 3: calls=%d len=%d", calls.Load(), mem.Len())
	}

	if _, err := d.FetchOrCompute(ctx, "M", "Tokyo", nil, compute); err != nil {
		t.Fatalf("submit 4: %v", err)
	}
	if mem.Len() != 2 {
		t.Fatalf("expected len 2 after submit 4, got %d", mem.Len())
	}
	if _, ok := mem.Peek(fingerprint.Compute("Paris is nice", nil)); ok {
		t.Error("expected the oldest entry to be evicted")
	}
}
