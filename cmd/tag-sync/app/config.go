package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			redacted := cfg.Redacted()
			output, err := yaml.Marshal(&redacted)
			if err != nil {
				return fmt.Errorf("error formatting configuration as YAML: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(output)
			return err
		},
	}
}
