package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/tasksync/internal/config"
)

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize tasksync in the current project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Init(force); err != nil {
				return err
			}
			if !quiet {
				fmt.Printf("Initialized %s/ with default config.\n", config.TasksyncDir)
				fmt.Println("Next: set tracker.provider, tracker.owner/repo (or project_key), and marker.")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing configuration")
	return cmd
}
