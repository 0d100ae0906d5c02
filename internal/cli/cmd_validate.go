package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/tasksync/internal/graph"
	"github.com/randalmurphal/tasksync/internal/task"
)

// validateReport is the JSON shape of 'tasksync validate --json'.
type validateReport struct {
	Files      []string   `json:"files"`
	Tasks      int        `json:"tasks"`
	Warnings   []string   `json:"warnings,omitempty"`
	Cycles     [][]string `json:"cycles,omitempty"`
	OrderValid bool       `json:"order_valid"`
}

func newValidateCmd() *cobra.Command {
	var specPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the task spec and its dependency graph without remote I/O",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return reportError(err)
			}
			if specPath != "" {
				cfg.SpecPath = specPath
			}

			spec, err := task.LoadSpec(cfg.SpecPath)
			if err != nil {
				return reportError(err)
			}

			flat := task.Flatten(spec.Tasks)
			task.PopulateRequiredBy(flat)
			g := graph.Build(flat)
			result := graph.TopoSort(g)

			report := validateReport{
				Files:      spec.SourcePaths,
				Tasks:      len(flat),
				Cycles:     result.Cycles,
				OrderValid: !result.HasCycles,
			}
			for _, w := range g.Warnings {
				report.Warnings = append(report.Warnings, w.Error())
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(report)
			}

			fmt.Printf("Parsed %d task(s) from %d file(s)\n", report.Tasks, len(report.Files))
			for _, w := range report.Warnings {
				fmt.Printf("  warning: %s\n", w)
			}
			if result.HasCycles {
				for _, cycle := range result.Cycles {
					fmt.Printf("  cycle: %s\n", joinCycle(cycle))
				}
				return fmt.Errorf("%d dependency cycle(s) found", len(result.Cycles))
			}
			fmt.Println("Dependency graph is acyclic; spec is valid.")
			return nil
		},
	}

	cmd.Flags().StringVar(&specPath, "spec", "", "task spec path or glob (overrides spec_path)")
	return cmd
}
