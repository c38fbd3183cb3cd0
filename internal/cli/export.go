package cli

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/bibflow/bibflow/internal/cluster"
	"github.com/bibflow/bibflow/internal/ingest"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	MatchKey string
	From     string
	Output   string
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export clusters as line-delimited JSON",
		Long: `Export the clusters of a match key as line-delimited JSON documents,
one cluster per line with its records and match values.

Example:
  bibflow export --db ./bibflow.db --matchkey isbn
  bibflow export --db ./bibflow.db --matchkey isbn --from 2026-01-01T00:00:00Z -o clusters.jsonl`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.MatchKey, "matchkey", "", "match key whose clusters to export (required)")
	cmd.Flags().StringVar(&opts.From, "from", "", "only clusters stamped at or after this RFC 3339 instant")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file (default stdout)")
	_ = cmd.MarkFlagRequired("matchkey")

	return cmd
}

func runExport(opts *ExportOptions, cmd *cobra.Command) error {
	var from time.Time
	if opts.From != "" {
		t, err := time.Parse(time.RFC3339, opts.From)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --from", err)
		}
		from = t
	}

	var w io.Writer = cmd.OutOrStdout()
	if opts.Output != "" {
		f, err := os.Create(opts.Output)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to create output file", err)
		}
		defer func() {
			if err := f.Close(); err != nil {
				slog.Error("error closing output file", "error", err)
			}
		}()
		w = f
	}

	st, err := openStore(opts.RootOptions)
	if err != nil {
		return err
	}
	defer closeStore(st)

	ctx := cmd.Context()
	engine := cluster.New(st, cluster.WithLogger(slog.Default()))
	if _, err := st.SelectMatchKeyConfig(ctx, opts.MatchKey); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return NewExitError(ExitFailure, fmt.Sprintf("match key %q not found", opts.MatchKey))
		}
		return WrapExitError(ExitFailure, "failed to load match key config", err)
	}

	exporter := ingest.NewExporter(engine, st, slog.Default())
	exporter.From = from
	n, err := exporter.Run(ctx, w, opts.MatchKey)
	if err != nil {
		return WrapExitError(ExitFailure, "export failed", err)
	}
	slog.Info("export finished", "matchKey", opts.MatchKey, "clusters", n)
	return nil
}
