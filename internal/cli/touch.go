package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/bibflow/bibflow/internal/cluster"
	"github.com/bibflow/bibflow/internal/record"
)

// TouchOptions holds flags for the touch command.
type TouchOptions struct {
	*RootOptions
	MatchKey string
	Source   string
}

// NewTouchCommand creates the touch command.
func NewTouchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TouchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "touch",
		Short: "Bump cluster datestamps for a match key and source",
		Long: `Bump the datestamp of every cluster of a match key that holds records
from a source, so downstream consumers pick the clusters up again.
Both --matchkey and --source are required to keep the touch bounded.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			sourceID, err := record.ParseSourceID(opts.Source)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --source", err)
			}

			st, err := openStore(opts.RootOptions)
			if err != nil {
				return err
			}
			defer closeStore(st)

			engine := cluster.New(st, cluster.WithLogger(slog.Default()))
			n, err := engine.TouchClusters(cmd.Context(), opts.MatchKey, sourceID)
			if cluster.IsValidationError(err) {
				return WrapExitError(ExitCommandError, "invalid touch request", err)
			}
			if cluster.IsNotFoundError(err) {
				return NewExitError(ExitFailure, fmt.Sprintf("match key %q not found", opts.MatchKey))
			}
			if err != nil {
				return WrapExitError(ExitFailure, "touch failed", err)
			}
			return formatter(opts.RootOptions, cmd.OutOrStdout()).Success(fmt.Sprintf("touched %d clusters", n))
		},
	}

	cmd.Flags().StringVar(&opts.MatchKey, "matchkey", "", "match key whose clusters to touch (required)")
	cmd.Flags().StringVar(&opts.Source, "source", "", "source whose clusters to touch (required)")
	_ = cmd.MarkFlagRequired("matchkey")
	_ = cmd.MarkFlagRequired("source")

	return cmd
}
