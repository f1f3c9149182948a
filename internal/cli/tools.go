package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/localrivet/synk/internal/registry"
	"github.com/localrivet/synk/internal/server"
)

// NewToolsCmd creates the "tools" subcommand.
func NewToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools the server exposes",
		RunE:  runTools,
	}
	cmd.Flags().String("format", "table", "Output format: table | json | yaml")
	return cmd
}

func runTools(cmd *cobra.Command, _ []string) error {
	format, _ := cmd.Flags().GetString("format")
	return writeTools(cmd.OutOrStdout(), format, server.ToolCatalog())
}

func writeTools(w io.Writer, format string, infos []registry.ToolInfo) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(infos)

	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(infos); err != nil {
			return err
		}
		return enc.Close()

	case "table", "":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tDESCRIPTION")
		for _, info := range infos {
			fmt.Fprintf(tw, "%s\t%s\n", info.Name, info.Description)
		}
		return tw.Flush()

	default:
		return exitError(exitUsage, "unknown format %q (want table, json or yaml)", format)
	}
}
