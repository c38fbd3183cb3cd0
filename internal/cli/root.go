package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bibflow/bibflow/internal/store"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	Database   string // DSN, overrides the config file
	Driver     string // store driver, overrides the config file

	config fileConfig
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the bibflow CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "bibflow",
		Short: "Bibliographic record clustering engine",
		Long: `bibflow ingests bibliographic records, extracts match keys and
maintains clusters of records that share a key.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			cfg, err := loadConfig(opts.ConfigPath)
			if err != nil {
				return err
			}
			opts.config = cfg
			setupLogging(opts.Verbose)
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "database DSN (file path for sqlite3, URL for pgx)")
	cmd.PersistentFlags().StringVar(&opts.Driver, "driver", "", "database driver (sqlite3|pgx)")

	// Add subcommands
	cmd.AddCommand(NewIngestCommand(opts))
	cmd.AddCommand(NewMatchKeyCommand(opts))
	cmd.AddCommand(NewModuleCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewTouchCommand(opts))

	return cmd
}

// openStore opens the backing database, resolving flags over the
// config file over defaults.
func openStore(opts *RootOptions) (*store.Store, error) {
	cfg := store.Config{
		Driver: opts.config.Database.Driver,
		DSN:    opts.config.Database.DSN,
	}
	if opts.Driver != "" {
		cfg.Driver = opts.Driver
	}
	if opts.Database != "" {
		cfg.DSN = opts.Database
	}
	if cfg.DSN == "" {
		return nil, NewExitError(ExitCommandError, "no database configured: pass --db or set database.dsn in the config file")
	}
	st, err := store.Open(cfg)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
