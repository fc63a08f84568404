// Package logger provides a submission-logger plugin that records each
// submission and its dispatch outcome. Register it with a blank import:
//
//	_ "github.com/ferro-labs/ner-visualizer/internal/plugins/logger"
package logger

import (
	"context"
	"log/slog"
	"unicode/utf8"

	"github.com/ferro-labs/ner-visualizer/internal/logging"
	"github.com/ferro-labs/ner-visualizer/plugin"
)

func init() {
	plugin.RegisterFactory("submission-logger", func() plugin.Plugin {
		return &SubmissionLogger{}
	})
}

// SubmissionLogger emits structured log entries for submissions. The text
// itself is never logged, only its length.
type SubmissionLogger struct {
	logLevel slog.Level
}

// Name returns the plugin identifier.
func (l *SubmissionLogger) Name() string { return "submission-logger" }

// Type returns the plugin lifecycle hook type.
func (l *SubmissionLogger) Type() plugin.PluginType { return plugin.TypeLogging }

// Init configures the plugin from the provided options map.
func (l *SubmissionLogger) Init(config map[string]interface{}) error {
	l.logLevel = slog.LevelInfo
	if level, ok := config["level"].(string); ok {
		switch level {
		case "debug":
			l.logLevel = slog.LevelDebug
		case "warn":
			l.logLevel = slog.LevelWarn
		case "error":
			l.logLevel = slog.LevelError
		}
	}
	return nil
}

// Execute runs the plugin logic for the current submission.
func (l *SubmissionLogger) Execute(ctx context.Context, pctx *plugin.Context) error {
	if pctx.Request == nil {
		return nil
	}
	log := logging.FromContext(ctx)
	switch {
	case pctx.Error != nil:
		// on_error stage
		log.Log(ctx, slog.LevelError, "submission failed",
			"model", pctx.Request.Model,
			"error", pctx.Error.Error(),
		)
	case pctx.Result != nil:
		// after_request stage
		log.Log(ctx, l.logLevel, "submission result",
			"model", pctx.Request.Model,
			"outcome", pctx.Result.Outcome,
			"cache_hit", pctx.Result.CacheHit,
			"entities", len(pctx.Result.Entities),
		)
	default:
		// before_request stage
		log.Log(ctx, l.logLevel, "submission",
			"model", pctx.Request.Model,
			"text_length", utf8.RuneCountInString(pctx.Request.Text),
			"extra_args", len(pctx.Request.ExtraArgs),
		)
	}
	return nil
}
