package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nao1215/onionfetch/internal/config"
	"github.com/nao1215/onionfetch/internal/database"
	"github.com/nao1215/onionfetch/internal/report"
	"github.com/spf13/cobra"
)

// historyOptions selects and formats history output.
type historyOptions struct {
	limit    int
	host     string
	json     bool
	markdown bool
	output   string
	tee      bool
	verbose  bool
}

// NewHistoryCmd creates the history command.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded downloads",
		Long: `History lists recorded download attempts, most recent first, including
failed ones.

Examples:
  # Show the 20 most recent downloads
  onionfetch history

  # Everything fetched from one onion service
  onionfetch history --host exampleonion.onion

  # Write a Markdown report
  onionfetch history --markdown -o report.md

  # Save a JSON report and show it too
  onionfetch history --json -o history.json --tee`,
		Args: cobra.NoArgs,
		RunE: runHistoryCmd,
	}

	cmd.Flags().IntP("limit", "l", 20, "Maximum number of downloads to show")
	cmd.Flags().String("host", "", "Only show downloads from this onion host")
	cmd.Flags().BoolP("json", "j", false,
		"Output JSON report (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output Markdown report (mutually exclusive with --json)")
	cmd.Flags().StringP("output", "o", "",
		"Write report to specified file path (creates directories if needed)")
	cmd.Flags().Bool("tee", false,
		"With --output, also print the report to standard output")
	cmd.MarkFlagsMutuallyExclusive("json", "markdown")

	return cmd
}

// runHistoryCmd executes the history command.
func runHistoryCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := historyOptions{verbose: cfg.Verbose}
	flags := cmd.Flags()
	if opts.limit, err = flags.GetInt("limit"); err != nil {
		return err
	}
	if opts.host, err = flags.GetString("host"); err != nil {
		return err
	}
	if opts.json, err = flags.GetBool("json"); err != nil {
		return err
	}
	if opts.markdown, err = flags.GetBool("markdown"); err != nil {
		return err
	}
	if opts.output, err = flags.GetString("output"); err != nil {
		return err
	}
	if opts.tee, err = flags.GetBool("tee"); err != nil {
		return err
	}
	if opts.limit <= 0 {
		return fmt.Errorf("invalid limit %d: must be positive", opts.limit)
	}

	return runHistory(cmd.Context(), cfg, opts, cmd.OutOrStdout())
}

// runHistory reads the history database in cfg.DataDir and writes a report.
func runHistory(ctx context.Context, cfg *config.Config, opts historyOptions, stdout io.Writer) error {
	db, err := database.Open(cfg.DataDir, database.DefaultOptions())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	var records []*database.DownloadRecord
	if opts.host != "" {
		records, err = db.ListDownloadsByHost(ctx, opts.host)
		if len(records) > opts.limit {
			records = records[:opts.limit]
		}
	} else {
		records, err = db.ListDownloads(ctx, opts.limit)
	}
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}

	writer := newReportWriter(opts, stdout)
	if opts.output != "" {
		dir := filepath.Dir(opts.output)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
		}
		f, err := os.Create(opts.output) //nolint:gosec // User-provided output path is intentional
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()

		if opts.tee {
			writer = report.NewMultiWriter(newReportWriter(opts, f), writer)
		} else {
			writer = newReportWriter(opts, f)
		}
	}

	if _, err := writer.Write(records); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// newReportWriter returns the report writer selected by opts.
func newReportWriter(opts historyOptions, output io.Writer) report.Writer {
	switch {
	case opts.json:
		return report.NewJSONWriter(output, report.WithPrettyPrint(), report.WithVersion(getVersion()))
	case opts.markdown:
		return report.NewMarkdownWriter(output)
	default:
		return report.NewSimpleWriter(output, report.WithVerbose(opts.verbose))
	}
}
