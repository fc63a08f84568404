// Package plugin defines the Plugin interface and the stages at which
// plugins hook into a submission.
//
// Plugins are registered by name via RegisterFactory and loaded by the
// visualizer from the plugins section of the config. The plugin.Context
// carries the submission and its result through each stage; a
// before-dispatch plugin may rewrite the text, reject the submission or
// skip the remaining plugins.
//
// Built-in plugins live in the internal/plugins/* packages and are registered
// by importing them with a blank import (e.g. _ "github.com/ferro-labs/ner-visualizer/internal/plugins/wordfilter").
package plugin

import (
	"context"
	"errors"
)

// ErrRejected is wrapped by the error returned when a plugin rejects a
// submission.
var ErrRejected = errors.New("submission rejected")

// Plugin is the interface all plugins must implement.
type Plugin interface {
	Name() string
	Type() PluginType
	Init(config map[string]interface{}) error
	Execute(ctx context.Context, pctx *Context) error
}

// PluginType categorizes plugins.
//nolint:revive // keep for backwards compatibility
type PluginType string

// PluginType constants.
const (
	TypeGuardrail PluginType = "guardrail"
	TypeLogging   PluginType = "logging"
	TypeTransform PluginType = "transform"
)

// Stage defines when a plugin runs.
type Stage string

// Stage constants.
const (
	StageBeforeRequest Stage = "before_request"
	StageAfterRequest  Stage = "after_request"
	StageOnError       Stage = "on_error"
)

// Request is the submission as seen by plugins.
type Request struct {
	Model     string
	Text      string
	ExtraArgs map[string]string
}

// Result is the dispatch outcome passed to after-request plugins.
type Result struct {
	Entities map[string]string
	Outcome  string
	CacheHit bool
}

// Context provides access to submission data for plugins.
type Context struct {
	Request  *Request
	Result   *Result
	Metadata map[string]interface{}
	Error    error
	Skip     bool
	Reject   bool
	Reason   string
}

// NewContext creates a new plugin context for a submission.
func NewContext(req *Request) *Context {
	return &Context{
		Request:  req,
		Metadata: make(map[string]interface{}),
	}
}
