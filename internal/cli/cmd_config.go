package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/tasksync/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		Long: `Config prints the merged configuration after layering defaults, the user
config, the project config, and TASKSYNC_* environment variables.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return reportError(err)
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(cfg)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			os.Stdout.Write(data)
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "env",
		Short: "List supported environment variable overrides",
		RunE: func(cmd *cobra.Command, args []string) error {
			vars := make([]string, 0, len(config.EnvVarMapping))
			for v := range config.EnvVarMapping {
				vars = append(vars, v)
			}
			sort.Strings(vars)
			for _, v := range vars {
				fmt.Printf("%-28s %s\n", v, config.EnvVarMapping[v])
			}
			return nil
		},
	})

	return cmd
}
