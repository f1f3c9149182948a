package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/localrivet/synk"
)

// NewServeCmd creates the "serve" subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the MCP endpoint over HTTP",
		RunE:  runServe,
	}
	cmd.Flags().String("addr", "", "Listen address (overrides http.addr)")
	cmd.Flags().String("base-path", "", "Endpoint base path (overrides http.base_path)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.HTTP.Addr = addr
	}
	if basePath, _ := cmd.Flags().GetString("base-path"); basePath != "" {
		cfg.HTTP.BasePath = basePath
	}

	srv, err := synk.NewServer(synk.ServerOptions{Config: cfg, Logger: log})
	if err != nil {
		return exitError(exitConfig, "starting synk: %v", err)
	}
	defer srv.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.ListenAndServe(ctx); err != nil {
		return exitError(exitRuntime, "%v", err)
	}
	log.Info("Shutdown complete")
	return nil
}

// NewStdioCmd creates the "stdio" subcommand.
func NewStdioCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stdio",
		Short: "Serve MCP on stdin/stdout",
		RunE: func(cmd *cobra.Command, _ []string) error {
			srv, err := openServer(cmd)
			if err != nil {
				return err
			}
			defer srv.Close()

			if err := srv.ServeStdio(); err != nil {
				return exitError(exitRuntime, "%v", err)
			}
			return nil
		},
	}
}
