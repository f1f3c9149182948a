package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/localrivet/synk/internal/syncstore"
	"github.com/localrivet/synk/internal/tools"
)

// NewLogCmd creates the "log" command group.
func NewLogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Read or write the sync log",
	}
	cmd.AddCommand(newLogTailCmd())
	cmd.AddCommand(newLogAppendCmd())
	return cmd
}

func newLogTailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the newest sync log entries",
		Args:  cobra.NoArgs,
		RunE:  runLogTail,
	}
	cmd.Flags().IntP("limit", "n", tools.DefaultReadLimit, "Maximum number of entries")
	cmd.Flags().String("filename", "", "Only show entries for this file")
	cmd.Flags().String("format", "table", "Output format: table | json | yaml")
	return cmd
}

func runLogTail(cmd *cobra.Command, _ []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	filename, _ := cmd.Flags().GetString("filename")
	format, _ := cmd.Flags().GetString("format")
	if limit < 0 {
		return exitError(exitUsage, "--limit must be greater than or equal to 0")
	}

	srv, err := openServer(cmd)
	if err != nil {
		return err
	}
	defer srv.Close()

	records, err := srv.RecentLogs(cmd.Context(), limit, filename)
	if err != nil {
		return exitError(exitRuntime, "%v", err)
	}
	return writeRecords(cmd.OutOrStdout(), format, records)
}

func writeRecords(w io.Writer, format string, records []syncstore.SyncLogRecord) error {
	if records == nil {
		records = []syncstore.SyncLogRecord{}
	}
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)

	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(records); err != nil {
			return err
		}
		return enc.Close()

	case "table", "":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CREATED\tFILENAME\tSUMMARY")
		for _, rec := range records {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", rec.CreatedAt.UTC().Format(time.RFC3339), rec.Filename, rec.Summary)
		}
		return tw.Flush()

	default:
		return exitError(exitUsage, "unknown format %q (want table, json or yaml)", format)
	}
}

func newLogAppendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "append",
		Short: "Append an entry to a local sync log",
		Args:  cobra.NoArgs,
		RunE:  runLogAppend,
	}
	cmd.Flags().String("filename", "", "File the change applies to")
	cmd.Flags().String("delta", "", "Change content; \"-\" reads it from stdin")
	cmd.Flags().String("summary", "", "Short description of the change")
	_ = cmd.MarkFlagRequired("filename")
	_ = cmd.MarkFlagRequired("summary")
	return cmd
}

func runLogAppend(cmd *cobra.Command, _ []string) error {
	filename, _ := cmd.Flags().GetString("filename")
	delta, _ := cmd.Flags().GetString("delta")
	summary, _ := cmd.Flags().GetString("summary")

	if delta == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return exitError(exitRuntime, "reading delta from stdin: %v", err)
		}
		delta = string(data)
	}

	srv, err := openServer(cmd)
	if err != nil {
		return err
	}
	defer srv.Close()

	rec, err := srv.AppendLog(cmd.Context(), syncstore.SyncLogRecord{
		Filename: filename,
		Delta:    delta,
		Summary:  summary,
	})
	if err != nil {
		return exitError(exitRuntime, "%v", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Appended %v (%s)\n", rec.ID, rec.Filename)
	return nil
}
