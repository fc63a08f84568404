// Package nervis serves named-entity recognition results from a set of
// configured NER endpoints and lets users compare what each model found.
//
// The Visualizer type is the main entry point: create one with New from a
// [Config] (usually loaded with [LoadConfig]), then call Submit to run a text
// through one model and Compare to line up every model's cached answers for
// the same text. Endpoint answers are cached per model in bounded LRU caches;
// identical requests are answered from the cache, failures are never cached.
package nervis

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/ferro-labs/ner-visualizer/internal/cache"
	"github.com/ferro-labs/ner-visualizer/internal/circuitbreaker"
	"github.com/ferro-labs/ner-visualizer/internal/compare"
	"github.com/ferro-labs/ner-visualizer/internal/dispatch"
	"github.com/ferro-labs/ner-visualizer/internal/extraargs"
	"github.com/ferro-labs/ner-visualizer/internal/fingerprint"
	"github.com/ferro-labs/ner-visualizer/internal/labels"
	"github.com/ferro-labs/ner-visualizer/internal/logging"
	"github.com/ferro-labs/ner-visualizer/internal/metrics"
	"github.com/ferro-labs/ner-visualizer/internal/nerclient"
	"github.com/ferro-labs/ner-visualizer/internal/requestlog"
	"github.com/ferro-labs/ner-visualizer/internal/session"
	"github.com/ferro-labs/ner-visualizer/plugin"
)

// ErrUnknownModel is returned when a request names a model that is not in
// the current configuration.
var ErrUnknownModel = errors.New("unknown model")

// OutcomeRejected is the dispatch outcome recorded when a plugin rejects a
// submission before any cache lookup.
const OutcomeRejected = "rejected"

// EventHookFunc is called asynchronously after every dispatch, cache hits
// included.
type EventHookFunc func(ctx context.Context, ev DispatchEvent)

// DispatchEvent describes one dispatch.
type DispatchEvent struct {
	TraceID     string
	Model       string
	Outcome     string
	CacheHit    bool
	Fingerprint string
	TextLength  int
	Entities    int
	Elapsed     time.Duration
	Err         error
	At          time.Time
}

// CallerFactory builds the endpoint caller for a model.
type CallerFactory func(ctx context.Context, m ModelConfig) (nerclient.Caller, error)

// Option configures a Visualizer.
type Option func(*Visualizer)

// WithCallerFactory replaces nerclient.New as the way callers are built.
func WithCallerFactory(f CallerFactory) Option {
	return func(v *Visualizer) { v.newCaller = f }
}

// WithSessions replaces the default session store.
func WithSessions(s *session.Store) Option {
	return func(v *Visualizer) { v.sessions = s }
}

// Visualizer owns the model list, the per-model caches and the endpoint
// callers.
type Visualizer struct {
	mu         sync.RWMutex
	config     Config
	callers    map[cache.Identity]nerclient.Caller
	breakers   map[cache.Identity]*circuitbreaker.CircuitBreaker
	hooks      []EventHookFunc
	plugins    *plugin.Manager
	registry   *cache.Registry
	dispatcher *dispatch.Dispatcher
	sessions   *session.Store
	newCaller  CallerFactory
}

// New validates cfg and creates a Visualizer with one empty cache per
// configured model.
func New(cfg Config, opts ...Option) (*Visualizer, error) {
	ApplyDefaults(&cfg)
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	reg, err := cache.NewRegistry(cfg.Cache.CapacityPerModel)
	if err != nil {
		return nil, err
	}
	v := &Visualizer{
		registry:   reg,
		dispatcher: dispatch.New(reg, dispatch.WithTimeout(cfg.Cache.Timeout())),
		breakers:   make(map[cache.Identity]*circuitbreaker.CircuitBreaker),
		plugins:    plugin.NewManager(),
		newCaller:  defaultCaller,
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.sessions == nil {
		v.sessions = session.NewStore(session.DefaultMaxSessions, session.DefaultTTL)
	}
	if err := v.loadPlugins(cfg.Plugins); err != nil {
		return nil, err
	}
	if _, _, err := v.apply(cfg); err != nil {
		return nil, err
	}
	return v, nil
}

// loadPlugins initializes and registers the enabled plugins of the config.
func (v *Visualizer) loadPlugins(configs []PluginConfig) error {
	for _, pc := range configs {
		if !pc.Enabled {
			continue
		}
		factory, ok := plugin.GetFactory(pc.Name)
		if !ok {
			return fmt.Errorf("unknown plugin: %s", pc.Name)
		}
		p := factory()
		if err := p.Init(pc.Config); err != nil {
			return fmt.Errorf("plugin %s init failed: %w", pc.Name, err)
		}
		if err := v.RegisterPlugin(plugin.Stage(pc.Stage), p); err != nil {
			return fmt.Errorf("plugin %s register failed: %w", pc.Name, err)
		}
	}
	return nil
}

// RegisterPlugin registers a plugin at the given stage. Plugins must be
// registered before the first Submit.
func (v *Visualizer) RegisterPlugin(stage plugin.Stage, p plugin.Plugin) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.plugins.Register(stage, p)
}

func defaultCaller(ctx context.Context, m ModelConfig) (nerclient.Caller, error) {
	return nerclient.New(ctx, callerSpec(m))
}

// callerSpec maps a model config onto the endpoint client settings.
func callerSpec(m ModelConfig) nerclient.Spec {
	spec := nerclient.Spec{
		Kind:   m.Kind,
		URL:    m.URL,
		Model:  m.Model,
		APIKey: m.APIKey,
		Region: m.Region,
	}
	if d, err := time.ParseDuration(m.Timeout); err == nil {
		spec.Timeout = d
	}
	if m.OAuth2 != nil {
		spec.OAuth2 = &nerclient.OAuth2{
			TokenURL:     m.OAuth2.TokenURL,
			ClientID:     m.OAuth2.ClientID,
			ClientSecret: m.OAuth2.ClientSecret,
			Scopes:       m.OAuth2.Scopes,
		}
	}
	return spec
}

func breakerConfig(c *CircuitBreakerConfig) circuitbreaker.Config {
	cfg := circuitbreaker.Config{
		FailureThreshold: c.FailureThreshold,
		SuccessThreshold: c.SuccessThreshold,
	}
	if d, err := time.ParseDuration(c.Timeout); err == nil {
		cfg.Timeout = d
	}
	return cfg
}

// apply builds callers for cfg.Models, swaps them in and reconciles the
// cache registry. Breakers survive for models that stay configured.
func (v *Visualizer) apply(cfg Config) (added, removed []cache.Identity, err error) {
	callers := make(map[cache.Identity]nerclient.Caller, len(cfg.Models))
	ids := make([]cache.Identity, 0, len(cfg.Models))

	v.mu.RLock()
	oldBreakers := v.breakers
	v.mu.RUnlock()
	breakers := make(map[cache.Identity]*circuitbreaker.CircuitBreaker)

	for _, m := range cfg.Models {
		id := cache.Identity(m.Identity())
		c, err := v.newCaller(context.Background(), m)
		if err != nil {
			return nil, nil, fmt.Errorf("model %s: %w", id, err)
		}
		if m.CircuitBreaker != nil {
			cb, ok := oldBreakers[id]
			if !ok {
				cb = circuitbreaker.New(breakerConfig(m.CircuitBreaker))
			}
			breakers[id] = cb
			c = nerclient.Guard(c, cb, string(id))
		}
		callers[id] = c
		ids = append(ids, id)
	}

	v.mu.Lock()
	v.config = cfg
	v.callers = callers
	v.breakers = breakers
	// Reconcile under the lock so two concurrent reloads cannot leave the
	// registry out of step with the config.
	added, removed = v.registry.Reconcile(ids)
	v.mu.Unlock()

	for id := range oldBreakers {
		if _, ok := breakers[id]; !ok {
			metrics.CircuitBreakerState.DeleteLabelValues(string(id))
		}
	}
	return added, removed, nil
}

// AddHook registers fn to be called after every dispatch.
func (v *Visualizer) AddHook(fn EventHookFunc) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.hooks = append(v.hooks, fn)
}

// publishEvent calls all registered hooks asynchronously.
func (v *Visualizer) publishEvent(ctx context.Context, ev DispatchEvent) {
	v.mu.RLock()
	hooks := make([]EventHookFunc, len(v.hooks))
	copy(hooks, v.hooks)
	v.mu.RUnlock()

	ctx = context.WithoutCancel(ctx)
	for _, h := range hooks {
		fn := h
		go fn(ctx, ev)
	}
}

// Submission is one user request against one model.
type Submission struct {
	// SessionID, when set, records the submission as the session's last.
	SessionID string
	// Model is the identity of a configured model.
	Model string
	Text  string
	// ExtraArgs is the raw "key: value, ..." string typed by the user.
	ExtraArgs string
}

// SubmitResult is what Submit returns to the presentation layer.
type SubmitResult struct {
	Model      string                `json:"model"`
	Name       string                `json:"name"`
	Text       string                `json:"text"`
	ExtraArgs  map[string]string     `json:"extra_args"`
	Entities   []compare.EntityLabel `json:"entities"`
	TypeColors map[string]string     `json:"type_colors"`
	Elapsed    *float64              `json:"elapsed_seconds,omitempty"`
	CacheHit   bool                  `json:"cache_hit"`
	Outcome    string                `json:"outcome"`
	// Error is set when the endpoint failed; Entities is then empty.
	Error      string             `json:"error,omitempty"`
	Comparison compare.Comparison `json:"comparison"`
}

// Submit runs sub.Text through sub.Model, answering from the cache when the
// same text and extra arguments were seen before. Endpoint failures are not
// returned as errors: the result carries no entities and an Error message.
// Errors are returned for unknown models, malformed extra arguments,
// plugin rejections (wrapping plugin.ErrRejected) and a canceled ctx.
func (v *Visualizer) Submit(ctx context.Context, sub Submission) (SubmitResult, error) {
	m, ok := v.model(sub.Model)
	if !ok {
		return SubmitResult{}, fmt.Errorf("%w: %q", ErrUnknownModel, sub.Model)
	}
	extra, err := extraargs.Parse(sub.ExtraArgs)
	if err != nil {
		return SubmitResult{}, err
	}
	id := cache.Identity(m.Identity())
	log := logging.FromContext(ctx)

	// Before-request plugins may rewrite the text and extra arguments, so
	// the cache key is taken from what they leave behind.
	req := &plugin.Request{Model: string(id), Text: sub.Text, ExtraArgs: extra}
	pctx := plugin.NewContext(req)
	if v.plugins.HasPlugins() {
		if err := v.plugins.RunBefore(ctx, pctx); err != nil {
			metrics.DispatchTotal.WithLabelValues(string(id), OutcomeRejected).Inc()
			log.Info("submission rejected", "model", id, "reason", err.Error())
			return SubmitResult{}, err
		}
	}
	text, extra := req.Text, req.ExtraArgs

	res, err := v.dispatcher.FetchOrCompute(ctx, id, text, extra, v.compute)
	v.publishEvent(ctx, DispatchEvent{
		TraceID:     logging.TraceIDFromContext(ctx),
		Model:       string(id),
		Outcome:     res.Outcome,
		CacheHit:    res.CacheHit,
		Fingerprint: fingerprint.Compute(text, extra).String(),
		TextLength:  len(text),
		Entities:    len(res.Entities),
		Elapsed:     res.Elapsed,
		Err:         err,
		At:          time.Now().UTC(),
	})
	if v.plugins.HasPlugins() {
		if err != nil {
			pctx.Error = err
			v.plugins.RunOnError(ctx, pctx)
		} else {
			pctx.Result = &plugin.Result{Entities: maps.Clone(res.Entities), Outcome: res.Outcome, CacheHit: res.CacheHit}
			v.plugins.RunAfter(ctx, pctx)
		}
	}
	if err != nil && ctx.Err() != nil {
		return SubmitResult{}, ctx.Err()
	}

	v.sessions.Record(sub.SessionID, session.Last{Model: string(id), Text: text, ExtraArgs: extra})

	out := SubmitResult{
		Model:      string(id),
		Name:       m.DisplayName(),
		Text:       text,
		ExtraArgs:  extra,
		Entities:   compare.SortEntities(res.Entities),
		TypeColors: labels.Colors(res.Entities),
		CacheHit:   res.CacheHit,
		Outcome:    res.Outcome,
		Comparison: v.Compare(text),
	}
	if s, ok := res.ElapsedSeconds(); ok {
		out.Elapsed = &s
	}
	if err != nil {
		out.Error = err.Error()
		log.Warn("ner request degraded to empty result",
			"model", id,
			"error_type", nerclient.Classify(err),
			"error", err.Error(),
		)
	}
	return out, nil
}

// compute is the dispatch.ComputeFunc for configured models.
func (v *Visualizer) compute(ctx context.Context, id cache.Identity, text string, extra map[string]string) (map[string]string, error) {
	v.mu.RLock()
	c, ok := v.callers[id]
	v.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, id)
	}
	entities, err := c.Call(ctx, text, extra)
	if err != nil {
		metrics.EndpointErrors.WithLabelValues(string(id), nerclient.Classify(err)).Inc()
	}
	return entities, err
}

// Compare lines up, for every configured model in order, the newest result
// cached for text. It never calls an endpoint.
func (v *Visualizer) Compare(text string) compare.Comparison {
	return compare.Build(v.registry, v.columns(), text)
}

func (v *Visualizer) columns() []compare.Column {
	v.mu.RLock()
	defer v.mu.RUnlock()
	cols := make([]compare.Column, 0, len(v.config.Models))
	for _, m := range v.config.Models {
		cols = append(cols, compare.Column{Identity: cache.Identity(m.Identity()), Name: m.DisplayName()})
	}
	return cols
}

// Restored is a session's last submission rebuilt from the cache.
type Restored struct {
	Last       session.Last          `json:"last"`
	ExtraArgs  string                `json:"extra_args_text"`
	Cached     bool                  `json:"cached"`
	Entities   []compare.EntityLabel `json:"entities"`
	TypeColors map[string]string     `json:"type_colors"`
	Comparison compare.Comparison    `json:"comparison"`
}

// Restore rebuilds the last submission of sid from the cache only. It
// reports false when the session has no submission on record.
func (v *Visualizer) Restore(sid string) (Restored, bool) {
	last, ok := v.sessions.Get(sid)
	if !ok {
		return Restored{}, false
	}
	out := Restored{
		Last:       last,
		ExtraArgs:  extraargs.Format(last.ExtraArgs),
		Entities:   []compare.EntityLabel{},
		TypeColors: map[string]string{},
		Comparison: v.Compare(last.Text),
	}
	fp := fingerprint.Compute(last.Text, last.ExtraArgs)
	if entry, ok := v.registry.Peek(cache.Identity(last.Model), fp); ok {
		out.Cached = true
		out.Entities = compare.SortEntities(entry.Result)
		out.TypeColors = labels.Colors(entry.Result)
	}
	return out, true
}

// Models returns a copy of the configured models, in display order.
func (v *Visualizer) Models() []ModelConfig {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]ModelConfig, len(v.config.Models))
	copy(out, v.config.Models)
	return out
}

func (v *Visualizer) model(identity string) (ModelConfig, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, m := range v.config.Models {
		if m.Identity() == identity {
			return m, true
		}
	}
	return ModelConfig{}, false
}

// GetConfig returns a copy of the current configuration.
func (v *Visualizer) GetConfig() Config {
	v.mu.RLock()
	defer v.mu.RUnlock()
	cfg := v.config
	cfg.Models = make([]ModelConfig, len(v.config.Models))
	copy(cfg.Models, v.config.Models)
	return cfg
}

// ReloadResult reports what a model reload changed.
type ReloadResult struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

// ReloadModels validates and applies a new model list. Caches of models no
// longer listed are dropped, new models start with an empty cache and
// models that stay keep their cache.
func (v *Visualizer) ReloadModels(models []ModelConfig) (ReloadResult, error) {
	models = append([]ModelConfig(nil), models...)
	for i := range models {
		applyModelDefaults(&models[i])
	}
	if err := ValidateModels(models); err != nil {
		return ReloadResult{}, fmt.Errorf("invalid models: %w", err)
	}
	cfg := v.GetConfig()
	cfg.Models = models
	added, removed, err := v.apply(cfg)
	if err != nil {
		return ReloadResult{}, err
	}
	res := ReloadResult{Added: identityStrings(added), Removed: identityStrings(removed)}
	logging.Logger.Info("models reloaded",
		"models", len(models),
		"added", res.Added,
		"removed", res.Removed,
	)
	return res, nil
}

func identityStrings(ids []cache.Identity) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

// ClearCache empties every model cache.
func (v *Visualizer) ClearCache() {
	v.registry.ClearAll()
	logging.Logger.Info("cache cleared")
}

// ClearModelCache empties the cache of one configured model.
func (v *Visualizer) ClearModelCache(identity string) error {
	if _, ok := v.model(identity); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownModel, identity)
	}
	v.registry.ClearOne(cache.Identity(identity))
	logging.Logger.Info("model cache cleared", "model", identity)
	return nil
}

// CacheStats returns the size of every model cache.
func (v *Visualizer) CacheStats() []cache.ModelStats {
	return v.registry.Stats()
}

// Breakers returns a snapshot of every configured circuit breaker.
func (v *Visualizer) Breakers() map[string]circuitbreaker.Snapshot {
	v.mu.RLock()
	breakers := maps.Clone(v.breakers)
	v.mu.RUnlock()
	out := make(map[string]circuitbreaker.Snapshot, len(breakers))
	for id, cb := range breakers {
		out[string(id)] = cb.Snapshot()
	}
	return out
}

// ResetBreaker closes the breaker of a model.
func (v *Visualizer) ResetBreaker(identity string) error {
	v.mu.RLock()
	cb, ok := v.breakers[cache.Identity(identity)]
	v.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q has no circuit breaker", ErrUnknownModel, identity)
	}
	cb.Reset()
	metrics.CircuitBreakerState.WithLabelValues(identity).Set(float64(cb.State()))
	return nil
}

// RequestLogHook returns a hook that persists every dispatch to w.
func RequestLogHook(w requestlog.Writer) EventHookFunc {
	return func(ctx context.Context, ev DispatchEvent) {
		entry := requestlog.Entry{
			TraceID:     ev.TraceID,
			Model:       ev.Model,
			Outcome:     ev.Outcome,
			CacheHit:    ev.CacheHit,
			Fingerprint: ev.Fingerprint,
			TextLength:  ev.TextLength,
			Entities:    ev.Entities,
			DurationMS:  ev.Elapsed.Milliseconds(),
			CreatedAt:   ev.At,
		}
		if ev.Err != nil {
			entry.ErrorType = nerclient.Classify(ev.Err)
			entry.ErrorMessage = ev.Err.Error()
		}
		if err := w.Write(ctx, entry); err != nil {
			logging.FromContext(ctx).Error("request log write failed", "error", err.Error())
		}
	}
}
