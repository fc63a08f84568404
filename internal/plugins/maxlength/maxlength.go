// Package maxlength provides a guardrail plugin that caps the size of a
// submission before it reaches an endpoint. Register it with a blank import:
//
//	_ "github.com/ferro-labs/ner-visualizer/internal/plugins/maxlength"
package maxlength

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/ferro-labs/ner-visualizer/plugin"
)

func init() {
	plugin.RegisterFactory("max-length", func() plugin.Plugin {
		return &MaxLength{}
	})
}

// Defaults used when the config omits a limit.
const (
	DefaultMaxTextLength = 20000
	DefaultMaxExtraArgs  = 32
)

// MaxLength rejects submissions whose text or extra arguments are too large.
type MaxLength struct {
	maxTextLen   int
	maxExtraArgs int
	maxArgLen    int
}

// Name returns the plugin identifier.
func (m *MaxLength) Name() string { return "max-length" }

// Type returns the plugin lifecycle hook type.
func (m *MaxLength) Type() plugin.PluginType { return plugin.TypeGuardrail }

// Init configures the plugin from the provided options map.
func (m *MaxLength) Init(config map[string]interface{}) error {
	var err error
	if m.maxTextLen, err = intOption(config, "max_text_length", DefaultMaxTextLength); err != nil {
		return err
	}
	if m.maxExtraArgs, err = intOption(config, "max_extra_args", DefaultMaxExtraArgs); err != nil {
		return err
	}
	// 0 = no limit
	if m.maxArgLen, err = intOption(config, "max_arg_length", 0); err != nil {
		return err
	}
	return nil
}

func intOption(config map[string]interface{}, key string, def int) (int, error) {
	v, ok := config[key]
	if !ok {
		return def, nil
	}
	var n int
	switch val := v.(type) {
	case float64:
		n = int(val)
	case int:
		n = val
	default:
		return 0, fmt.Errorf("%s must be a number, got %T", key, v)
	}
	if n < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return n, nil
}

// Execute runs the plugin logic for the current submission.
func (m *MaxLength) Execute(_ context.Context, pctx *plugin.Context) error {
	if pctx.Request == nil {
		return nil
	}

	if n := utf8.RuneCountInString(pctx.Request.Text); m.maxTextLen > 0 && n > m.maxTextLen {
		pctx.Reject = true
		pctx.Reason = fmt.Sprintf("text length %d exceeds limit of %d", n, m.maxTextLen)
		return nil
	}

	if n := len(pctx.Request.ExtraArgs); m.maxExtraArgs > 0 && n > m.maxExtraArgs {
		pctx.Reject = true
		pctx.Reason = fmt.Sprintf("extra argument count %d exceeds limit of %d", n, m.maxExtraArgs)
		return nil
	}

	if m.maxArgLen > 0 {
		for k, v := range pctx.Request.ExtraArgs {
			if n := utf8.RuneCountInString(v); n > m.maxArgLen {
				pctx.Reject = true
				pctx.Reason = fmt.Sprintf("extra argument %q length %d exceeds limit of %d", k, n, m.maxArgLen)
				return nil
			}
		}
	}

	return nil
}
