package cli

import (
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	// ConfigDir is searched for config.yaml.
	ConfigDir string
	// Driver and DBPath override the configured database when set.
	Driver   string
	DBPath   string
	LogLevel string
}

// NewRootCommand creates the root command for the reviewq CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "reviewq",
		Short: "Query shop reviews",
		Long: `reviewq composes read queries over shop reviews and runs them against
the configured database. Queries can be counted, listed, explained as SQL or
exported to CSV and XLSX.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigDir, "config", ".", "directory containing config.yaml")
	cmd.PersistentFlags().StringVar(&opts.Driver, "driver", "", "database driver override (postgres|sqlite)")
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "", "sqlite database file override")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level override (debug|info|warn|error)")

	cmd.AddCommand(NewCountCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewExplainCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))

	return cmd
}
