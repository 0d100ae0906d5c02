// Package cli implements the tasksync command-line interface.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	// Provider registration happens in init() of each provider package.
	_ "github.com/randalmurphal/tasksync/internal/tracker/github"
	_ "github.com/randalmurphal/tasksync/internal/tracker/gitlab"
	_ "github.com/randalmurphal/tasksync/internal/tracker/jira"
)

var (
	cfgFile string
	verbose bool
	quiet   bool
	jsonOut bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tasksync",
	Short: "Sync hierarchical task specifications to an issue tracker",
	Long: `tasksync reconciles a YAML task specification against an external issue
tracker (GitHub, GitLab, or Jira Cloud), idempotently.

Each task becomes exactly one tracker item, identified by its title plus a
per-deployment marker. Dependency relationships become body checklists and
blocked/ready labels; subtasks become natively linked child items. Re-running
against unchanged input is a no-op.

Quick start:
  tasksync init                Initialize tasksync in current project
  tasksync validate            Check the spec and its dependency graph
  tasksync sync                Reconcile the spec against the tracker
  tasksync sync --dry-run      Show the plan without writing`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig, initLogging)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .tasksync/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-essential output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output as JSON")

	// Add subcommands
	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newSyncCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newLedgerCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config in .tasksync directory
		viper.AddConfigPath(".tasksync")
		viper.AddConfigPath("$HOME/.tasksync")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("TASKSYNC")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

// initLogging configures the process-wide slog level from the global flags.
func initLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	if quiet {
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}
