package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func newLedgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and maintain the idempotency ledger",
	}
	cmd.AddCommand(newLedgerShowCmd())
	cmd.AddCommand(newLedgerPruneCmd())
	return cmd
}

func newLedgerShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "List recorded runs, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return reportError(err)
			}
			store, err := openLedger(cfg)
			if err != nil {
				return reportError(err)
			}
			defer func() { _ = store.Close() }()

			runs, err := store.Runs(cmd.Context())
			if err != nil {
				return reportError(err)
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(runs)
			}
			if len(runs) == 0 {
				fmt.Println("No runs recorded.")
				return nil
			}
			for _, r := range runs {
				line := fmt.Sprintf("%s  %-12s %s",
					r.StartedAt.Format(time.RFC3339), r.Status, shortHash(r.ContentHash))
				if len(r.CreatedRemoteIDs) > 0 {
					line += fmt.Sprintf("  created=%d", len(r.CreatedRemoteIDs))
				}
				if r.FailureReason != "" {
					line += "  reason=" + r.FailureReason
				}
				fmt.Println(line)
			}
			return nil
		},
	}
}

func newLedgerPruneCmd() *cobra.Command {
	var window time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete runs and entries older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return reportError(err)
			}
			if window == 0 {
				window = cfg.Ledger.Retention
			}

			store, err := openLedger(cfg)
			if err != nil {
				return reportError(err)
			}
			defer func() { _ = store.Close() }()

			removed, err := store.Prune(cmd.Context(), window)
			if err != nil {
				return reportError(err)
			}
			if !quiet {
				fmt.Printf("Pruned %d row(s) older than %s.\n", removed, window)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&window, "window", 0, "retention window (defaults to ledger.retention)")
	return cmd
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
