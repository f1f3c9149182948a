// Package cli implements the synk command line.
package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/localrivet/synk"
	"github.com/localrivet/synk/internal/config"
	"github.com/localrivet/synk/internal/logger"
)

// loadConfig is replaced in tests.
var loadConfig = config.LoadConfigWithPath

// NewRootCmd builds the synk command tree.
func NewRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:          "synk",
		Short:        "Sync log and broadcast tools for AI assistants over MCP",
		SilenceUsage: true,
		Version:      version,
	}

	root.PersistentFlags().String("config", config.DefaultConfigFilename, "Path to the config file")
	root.PersistentFlags().String("log-level", "", "Log level: debug | info | warn | error")
	root.PersistentFlags().String("log-format", "", "Log format: text | json")

	root.AddCommand(NewServeCmd())
	root.AddCommand(NewStdioCmd())
	root.AddCommand(NewToolsCmd())
	root.AddCommand(NewLogCmd())
	root.AddCommand(NewConfigCmd())
	return root
}

// resolveConfig loads the config file and applies command line overrides.
func resolveConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := loadConfig(path)
	if err != nil {
		return nil, nil, exitError(exitConfig, "loading config: %v", err)
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if format, _ := cmd.Flags().GetString("log-format"); format != "" {
		cfg.Logging.Format = format
	}

	log := logger.Setup(cfg.Logging.Level, cfg.Logging.Format, cmd.ErrOrStderr())
	return cfg, log, nil
}

// openServer builds a synk server from the resolved config.
func openServer(cmd *cobra.Command) (*synk.Server, error) {
	cfg, log, err := resolveConfig(cmd)
	if err != nil {
		return nil, err
	}
	srv, err := synk.NewServer(synk.ServerOptions{Config: cfg, Logger: log})
	if err != nil {
		return nil, exitError(exitConfig, "starting synk: %v", err)
	}
	return srv, nil
}
