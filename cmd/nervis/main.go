// Command nervis is the NER visualizer command line tool.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	nervis "github.com/ferro-labs/ner-visualizer"
	"github.com/ferro-labs/ner-visualizer/internal/logging"
	"github.com/ferro-labs/ner-visualizer/internal/server"
	"github.com/ferro-labs/ner-visualizer/internal/version"
	"github.com/ferro-labs/ner-visualizer/plugin"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "nervis",
		Short:         "NER visualizer: cached comparison of entity recognition endpoints",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newServeCmd(),
		newValidateCmd(),
		newModelsCmd(),
		newPluginsCmd(),
		newVersionCmd(),
	)
	return root
}

func newServeCmd() *cobra.Command {
	var (
		configPath string
		listen     string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := readConfig(configPath)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.Listen = listen
			}
			logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

			srv, err := server.New(cfg)
			if err != nil {
				return err
			}
			defer srv.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.Run(ctx)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (JSON or YAML); defaults apply when empty")
	cmd.Flags().StringVar(&listen, "listen", "", "listen address, overrides server.listen")
	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config-file>",
		Short: "Validate a configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := readConfig(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "config is valid")
			fmt.Fprintf(out, "  listen:    %s\n", cfg.Server.Listen)
			fmt.Fprintf(out, "  capacity:  %d per model\n", cfg.Cache.CapacityPerModel)
			fmt.Fprintf(out, "  timeout:   %s\n", cfg.Cache.Timeout())
			fmt.Fprintf(out, "  models:    %d\n", len(cfg.Models))
			storage := cfg.Storage.Driver
			if storage == "" {
				storage = "file " + cfg.Storage.ModelsFile
			}
			fmt.Fprintf(out, "  storage:   %s\n", storage)
			for _, p := range cfg.Plugins {
				status := "disabled"
				if p.Enabled {
					status = "enabled"
				}
				fmt.Fprintf(out, "  plugin:    %s (%s, %s)\n", p.Name, p.Stage, status)
			}
			return nil
		},
	}
}

func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models <config-file>",
		Short: "List configured models in display order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := readConfig(args[0])
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tKIND\tIDENTITY\tBREAKER")
			for _, m := range cfg.Models {
				breaker := "-"
				if m.CircuitBreaker != nil {
					breaker = "on"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.DisplayName(), m.Kind, m.Identity(), breaker)
			}
			return tw.Flush()
		},
	}
}

func newPluginsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plugins",
		Short: "List all registered plugins",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			names := plugin.RegisteredPlugins()
			if len(names) == 0 {
				fmt.Fprintln(out, "No plugins registered.")
				return nil
			}
			fmt.Fprintln(out, "Registered plugins:")
			for _, name := range names {
				factory, _ := plugin.GetFactory(name)
				fmt.Fprintf(out, "  %-20s type=%s\n", name, factory().Type())
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "nervis %s\n", version.String())
			return nil
		},
	}
}

// readConfig loads and validates path, or returns the defaults when path
// is empty.
func readConfig(path string) (nervis.Config, error) {
	var cfg nervis.Config
	if path == "" {
		nervis.ApplyDefaults(&cfg)
	} else {
		loaded, err := nervis.LoadConfig(path)
		if err != nil {
			return nervis.Config{}, err
		}
		cfg = *loaded
	}
	if err := nervis.ValidateConfig(cfg); err != nil {
		return nervis.Config{}, fmt.Errorf("validation error: %w", err)
	}
	return cfg, nil
}
