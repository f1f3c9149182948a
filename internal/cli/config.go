package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/localrivet/synk/internal/config"
)

// NewConfigCmd creates the "config" command group.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or inspect the config file",
	}
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with default values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			force, _ := cmd.Flags().GetBool("force")
			if _, err := os.Stat(path); err == nil && !force {
				return exitError(exitUsage, "%s already exists (use --force to overwrite)", path)
			}

			cfg := config.NewConfig()
			if err := cfg.SaveToFile(path); err != nil {
				return exitError(exitRuntime, "%v", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", cfg.GetConfigPath())
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "Overwrite an existing file")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Store.ServiceKey != "" {
				cfg.Store.ServiceKey = "********"
			}

			out, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return exitError(exitRuntime, "encoding config: %v", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}
