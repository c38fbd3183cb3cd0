package cli

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bibflow/bibflow/internal/cluster"
	"github.com/bibflow/bibflow/internal/ingest"
	"github.com/bibflow/bibflow/internal/matcher"
	"github.com/bibflow/bibflow/internal/record"
)

// IngestOptions holds flags for the ingest command.
type IngestOptions struct {
	*RootOptions
	Source        string
	SourceVersion int
	LocalIDPath   string
	Watermark     int
}

// ingestSummary is the counter payload printed after a finished batch.
type ingestSummary struct {
	Processed int64 `json:"processed"`
	Ignored   int64 `json:"ignored"`
	Inserted  int64 `json:"inserted"`
	Updated   int64 `json:"updated"`
	Deleted   int64 `json:"deleted"`
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IngestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Ingest a batch of records",
		Long: `Ingest a batch of records from a JSON file and update clusters.

The file holds either a JSON array of record objects or one object per
line. Pass "-" to read from stdin.

Example:
  bibflow ingest --db ./bibflow.db --source BIB1 records.json
  cat records.json | bibflow ingest --db ./bibflow.db --source BIB1 -`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Source, "source", "", "source identifier (required)")
	cmd.Flags().IntVar(&opts.SourceVersion, "source-version", 1, "source version for this batch")
	cmd.Flags().StringVar(&opts.LocalIDPath, "localid-path", "", "JSONPath used to extract the local id from the payload")
	cmd.Flags().IntVar(&opts.Watermark, "watermark", 0, "max records processed concurrently (0 = default)")
	_ = cmd.MarkFlagRequired("source")

	return cmd
}

func runIngest(opts *IngestOptions, path string, cmd *cobra.Command) error {
	out := formatter(opts.RootOptions, cmd.OutOrStdout())

	sourceID, err := record.ParseSourceID(opts.Source)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --source", err)
	}

	in, closeIn, err := openInput(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open input", err)
	}
	defer closeIn()

	st, err := openStore(opts.RootOptions)
	if err != nil {
		return err
	}
	defer closeStore(st)

	ctx := cmd.Context()
	engine := cluster.New(st, cluster.WithLogger(slog.Default()))

	configs, err := st.AvailableMatchKeyConfigs(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load match key configs", err)
	}
	matchers, err := matcher.BuildAll(ctx, configs, matcher.NewCache(st))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build matchers", err)
	}
	slog.Info("starting ingest", "source", sourceID, "version", opts.SourceVersion, "matchKeys", len(matchers))

	var popts []ingest.PipelineOption
	if opts.Watermark > 0 {
		popts = append(popts, ingest.WithWatermark(opts.Watermark))
	}
	localIDPath := opts.LocalIDPath
	if localIDPath == "" {
		localIDPath = opts.config.Ingest.LocalIDPath
	}
	if localIDPath != "" {
		idPath, err := matcher.NewJSONPath(localIDPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --localid-path", err)
		}
		popts = append(popts, ingest.WithLocalIDPath(idPath))
	}
	if opts.Watermark == 0 && opts.config.Ingest.Watermark > 0 {
		popts = append(popts, ingest.WithWatermark(opts.config.Ingest.Watermark))
	}

	pipeline := ingest.NewPipeline(engine, matchers, sourceID, opts.SourceVersion, popts...)
	if err := pipeline.Consume(ctx, ingest.Records(in)); err != nil {
		_ = out.Error("INGEST", err.Error())
		return WrapExitError(ExitFailure, "ingest failed", err)
	}

	stats := pipeline.Stats()
	return out.Success(ingestSummary{
		Processed: stats.Processed(),
		Ignored:   stats.Ignored(),
		Inserted:  stats.Inserted(),
		Updated:   stats.Updated(),
		Deleted:   stats.Deleted(),
	})
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

func closeStore(st interface{ Close() error }) {
	if err := st.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}
