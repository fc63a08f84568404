// Command nervisd serves the NER visualizer API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	nervis "github.com/ferro-labs/ner-visualizer"
	"github.com/ferro-labs/ner-visualizer/internal/logging"
	"github.com/ferro-labs/ner-visualizer/internal/server"
	"github.com/ferro-labs/ner-visualizer/internal/version"
)

func main() {
	cfg, err := loadConfig(os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nervisd: %v\n", err)
		os.Exit(1)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	srv, err := server.New(cfg)
	if err != nil {
		logging.Logger.Error("failed to start", "error", err)
		os.Exit(1)
	}

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Logger.Info("nervisd starting", "version", version.Short())
	runErr := srv.Run(ctx)
	if err := srv.Close(); err != nil {
		logging.Logger.Warn("close", "error", err)
	}
	if runErr != nil {
		stop()
		logging.Logger.Error("server error", "error", runErr)
		os.Exit(1) //nolint:gocritic
	}
}

// loadConfig reads NERVIS_CONFIG when set, otherwise starts from defaults.
// PORT, CORS_ORIGINS, NERVIS_ADMIN_TOKEN and LOG_LEVEL override the file.
func loadConfig(getenv func(string) string) (nervis.Config, error) {
	var cfg nervis.Config
	if path := getenv("NERVIS_CONFIG"); path != "" {
		loaded, err := nervis.LoadConfig(path)
		if err != nil {
			return nervis.Config{}, fmt.Errorf("load config: %w", err)
		}
		cfg = *loaded
	} else {
		nervis.ApplyDefaults(&cfg)
	}

	if p := getenv("PORT"); p != "" {
		cfg.Server.Listen = ":" + p
	}
	if origins := getenv("CORS_ORIGINS"); origins != "" {
		cfg.Server.CORSOrigins = strings.Split(origins, ",")
	}
	if token := getenv("NERVIS_ADMIN_TOKEN"); token != "" {
		cfg.Server.AdminToken = token
	}
	if lvl := getenv("LOG_LEVEL"); lvl != "" {
		cfg.Logging.Level = lvl
	}

	if err := nervis.ValidateConfig(cfg); err != nil {
		return nervis.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
