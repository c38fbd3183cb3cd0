package cli

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bibflow/bibflow/internal/cluster"
	"github.com/bibflow/bibflow/internal/matcher"
	"github.com/bibflow/bibflow/internal/record"
	"github.com/bibflow/bibflow/internal/store"
)

// matchKeyDoc is the JSON document form of a match-key configuration,
// as accepted by create/update and emitted by list.
type matchKeyDoc struct {
	ID      string         `json:"id"`
	Matcher string         `json:"matcher,omitempty"`
	Method  string         `json:"method,omitempty"`
	Params  map[string]any `json:"params,omitempty"`
	Update  string         `json:"update,omitempty"`
}

func (d matchKeyDoc) config() record.MatchKeyConfig {
	return record.MatchKeyConfig{
		ID:      d.ID,
		Matcher: d.Matcher,
		Method:  d.Method,
		Params:  d.Params,
		Update:  d.Update,
	}
}

func docFromConfig(cfg record.MatchKeyConfig) matchKeyDoc {
	return matchKeyDoc{
		ID:      cfg.ID,
		Matcher: cfg.Matcher,
		Method:  cfg.Method,
		Params:  cfg.Params,
		Update:  cfg.Update,
	}
}

// NewMatchKeyCommand creates the matchkey command group.
func NewMatchKeyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "matchkey",
		Short: "Manage match-key configurations",
	}

	cmd.AddCommand(newMatchKeyCreateCommand(rootOpts))
	cmd.AddCommand(newMatchKeyUpdateCommand(rootOpts))
	cmd.AddCommand(newMatchKeyDeleteCommand(rootOpts))
	cmd.AddCommand(newMatchKeyListCommand(rootOpts))
	cmd.AddCommand(newMatchKeyInitCommand(rootOpts))
	cmd.AddCommand(newMatchKeyStatsCommand(rootOpts))

	return cmd
}

func newMatchKeyCreateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create <file>",
		Short: "Create a match-key configuration from a JSON document",
		Long: `Create a match-key configuration from a JSON document.

Example document:
  {"id": "isbn", "method": "jsonpath", "params": {"expression": "$.isbn[*]"}, "update": "ingest"}`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := readMatchKeyDoc(args[0])
			if err != nil {
				return err
			}
			st, err := openStore(opts)
			if err != nil {
				return err
			}
			defer closeStore(st)

			if err := st.InsertMatchKeyConfig(cmd.Context(), cfg); err != nil {
				if store.IsUniqueViolation(err) {
					return NewExitError(ExitFailure, fmt.Sprintf("match key %q already exists", cfg.ID))
				}
				return WrapExitError(ExitFailure, "failed to create match key config", err)
			}
			return formatter(opts, cmd.OutOrStdout()).Success(fmt.Sprintf("created match key %q", cfg.ID))
		},
	}
}

func newMatchKeyUpdateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "update <file>",
		Short:         "Update an existing match-key configuration",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := readMatchKeyDoc(args[0])
			if err != nil {
				return err
			}
			st, err := openStore(opts)
			if err != nil {
				return err
			}
			defer closeStore(st)

			found, err := st.UpdateMatchKeyConfig(cmd.Context(), cfg)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to update match key config", err)
			}
			if !found {
				return NewExitError(ExitFailure, fmt.Sprintf("match key %q not found", cfg.ID))
			}
			return formatter(opts, cmd.OutOrStdout()).Success(fmt.Sprintf("updated match key %q", cfg.ID))
		},
	}
}

func newMatchKeyDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "delete <id>",
		Short:         "Delete a match-key configuration and its clusters",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(opts)
			if err != nil {
				return err
			}
			defer closeStore(st)

			found, err := st.DeleteMatchKeyConfig(cmd.Context(), args[0])
			if err != nil {
				return WrapExitError(ExitFailure, "failed to delete match key config", err)
			}
			if !found {
				return NewExitError(ExitFailure, fmt.Sprintf("match key %q not found", args[0]))
			}
			return formatter(opts, cmd.OutOrStdout()).Success(fmt.Sprintf("deleted match key %q", args[0]))
		},
	}
}

func newMatchKeyListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List match-key configurations",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(opts)
			if err != nil {
				return err
			}
			defer closeStore(st)

			configs, err := st.SelectMatchKeyConfigs(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "failed to list match key configs", err)
			}
			docs := make([]matchKeyDoc, 0, len(configs))
			for _, cfg := range configs {
				docs = append(docs, docFromConfig(cfg))
			}
			return formatter(opts, cmd.OutOrStdout()).Success(docs)
		},
	}
}

func newMatchKeyInitCommand(opts *RootOptions) *cobra.Command {
	var reset bool
	cmd := &cobra.Command{
		Use:   "init <id>",
		Short: "Recompute clusters for a match key",
		Long: `Recompute clusters for a match key by running its matcher over every
stored record. With --reset, existing clusters for the key are dropped
first; without it, records are re-clustered into the existing state.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(opts)
			if err != nil {
				return err
			}
			defer closeStore(st)

			ctx := cmd.Context()
			cfg, err := st.SelectMatchKeyConfig(ctx, args[0])
			if errors.Is(err, sql.ErrNoRows) {
				return NewExitError(ExitFailure, fmt.Sprintf("match key %q not found", args[0]))
			}
			if err != nil {
				return WrapExitError(ExitFailure, "failed to load match key config", err)
			}
			m, err := matcher.Build(ctx, cfg, matcher.NewCache(st))
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to build matcher", err)
			}
			engine := cluster.New(st, cluster.WithLogger(slog.Default()))
			n, err := engine.Recompute(ctx, m, reset)
			if err != nil {
				return WrapExitError(ExitFailure, "recompute failed", err)
			}
			return formatter(opts, cmd.OutOrStdout()).Success(fmt.Sprintf("recomputed %d records for match key %q", n, args[0]))
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "drop existing clusters before recomputing")
	return cmd
}

func newMatchKeyStatsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "stats <id>",
		Short:         "Report cluster statistics for a match key",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(opts)
			if err != nil {
				return err
			}
			defer closeStore(st)

			engine := cluster.New(st, cluster.WithLogger(slog.Default()))
			stats, err := engine.MatchKeyStats(cmd.Context(), args[0])
			if cluster.IsNotFoundError(err) {
				return NewExitError(ExitFailure, fmt.Sprintf("match key %q not found", args[0]))
			}
			if err != nil {
				return WrapExitError(ExitFailure, "failed to compute stats", err)
			}
			return formatter(opts, cmd.OutOrStdout()).Success(stats)
		},
	}
}

func readMatchKeyDoc(path string) (record.MatchKeyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return record.MatchKeyConfig{}, WrapExitError(ExitCommandError, "failed to read config document", err)
	}
	var doc matchKeyDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return record.MatchKeyConfig{}, WrapExitError(ExitCommandError, "invalid config document", err)
	}
	cfg := doc.config()
	if err := cfg.Validate(); err != nil {
		return record.MatchKeyConfig{}, WrapExitError(ExitCommandError, "invalid config document", err)
	}
	return cfg, nil
}
