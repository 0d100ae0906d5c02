package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/randalmurphal/tasksync/internal/config"
	"github.com/randalmurphal/tasksync/internal/engine"
	syncerrors "github.com/randalmurphal/tasksync/internal/errors"
	"github.com/randalmurphal/tasksync/internal/ledger"
	"github.com/randalmurphal/tasksync/internal/ledger/driver"
	"github.com/randalmurphal/tasksync/internal/task"
	"github.com/randalmurphal/tasksync/internal/tracker"
)

func newSyncCmd() *cobra.Command {
	var dryRun bool
	var specPath string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile the task spec against the issue tracker",
		Long: `Sync loads the task specification, builds its dependency graph, and drives
the tracker to match: one item per task, dependency checklists in bodies,
blocked/ready labels, and native parent-child links for subtasks.

Unchanged input (by content hash) is skipped entirely. A failed run is
rolled back in the ledger only; items already created are adopted by the
next run instead of being duplicated.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig()
			if err != nil {
				return reportError(err)
			}
			if specPath != "" {
				cfg.SpecPath = specPath
			}
			if err := cfg.Validate(); err != nil {
				return reportError(err)
			}

			spec, err := task.LoadSpec(cfg.SpecPath)
			if err != nil {
				return reportError(err)
			}

			provider, err := tracker.NewProvider(cfg.Tracker)
			if err != nil {
				return reportError(err)
			}
			if err := provider.CheckAuth(ctx); err != nil {
				return reportError(syncerrors.ErrAuthFailed(cfg.Tracker.Provider, err))
			}

			store, err := openLedger(cfg)
			if err != nil {
				return reportError(err)
			}
			defer func() { _ = store.Close() }()

			queue := tracker.NewQueue(provider, int64(cfg.Concurrency), cfg.Retry)
			eng := engine.New(queue, store, engine.Options{
				Marker: cfg.Marker,
				DryRun: dryRun,
			})

			summary, err := eng.Synchronize(ctx, spec)
			if err != nil {
				return reportError(err)
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(summary)
			}
			printSummary(summary, dryRun)
			if len(summary.Errors) > 0 {
				return fmt.Errorf("%d task(s) failed to sync", len(summary.Errors))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute the plan without writing to the tracker or ledger")
	cmd.Flags().StringVar(&specPath, "spec", "", "task spec path or glob (overrides spec_path)")
	return cmd
}

// loadConfig loads layered configuration, honoring the global --config flag.
func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.LoadFrom(cfgFile)
	}
	return config.Load()
}

// openLedger opens the configured ledger store.
func openLedger(cfg *config.Config) (*ledger.Ledger, error) {
	dialect, err := driver.ParseDialect(cfg.Ledger.Dialect)
	if err != nil {
		return nil, syncerrors.ErrConfigInvalid("ledger.dialect", err.Error())
	}
	if dialect == driver.DialectSQLite {
		return ledger.Open(cfg.Ledger.Path)
	}
	return ledger.OpenWithDialect(cfg.Ledger.Path, dialect)
}

// printSummary renders the run summary for humans.
func printSummary(s *engine.Summary, dryRun bool) {
	if quiet {
		return
	}

	tty := isatty.IsTerminal(os.Stdout.Fd())
	header := "Sync complete"
	if dryRun {
		header = "Dry run (no writes)"
	}
	if s.Skipped {
		fmt.Println("Input unchanged since last completed run; nothing to do.")
		return
	}

	fmt.Printf("%s: %d created, %d updated, %d unchanged, %d linked\n",
		header, s.Created, s.Updated, s.Unchanged, s.Linked)
	fmt.Printf("Tasks: %d ready, %d blocked\n", s.Ready, s.Blocked)

	if s.CycleSkipped > 0 {
		fmt.Printf("Skipped %d task(s) affected by dependency cycles:\n", s.CycleSkipped)
		for _, cycle := range s.Cycles {
			fmt.Printf("  cycle: %s\n", joinCycle(cycle))
		}
	}

	for _, e := range s.Errors {
		if tty {
			fmt.Printf("  ✗ %s\n", e.Error())
		} else {
			fmt.Printf("  error: %s\n", e.Error())
		}
	}
}

func joinCycle(cycle []string) string {
	out := ""
	for i, id := range cycle {
		if i > 0 {
			out += " -> "
		}
		out += id
	}
	return out
}

// reportError prints a structured error's user message and returns it.
func reportError(err error) error {
	if syncErr := syncerrors.AsSyncError(err); syncErr != nil {
		if jsonOut {
			_ = json.NewEncoder(os.Stderr).Encode(syncErr)
		} else {
			fmt.Fprintln(os.Stderr, syncErr.UserMessage())
		}
		return fmt.Errorf("%s", syncErr.Code)
	}
	return err
}
