package main

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func init() {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration inspection",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:     "get [key]",
		Short:   "Print the effective configuration, or one dotted key, as YAML",
		Example: "  veo3 config get generation.max_retry_attempts",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var key string
			if len(args) == 1 {
				key = args[0]
			}
			value, err := cfg.Lookup(key)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(value); err != nil {
				return err
			}
			return enc.Close()
		},
	})
	rootCmd.AddCommand(configCmd)
}
