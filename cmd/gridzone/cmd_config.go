package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/gridzone/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or validate the effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the merged configuration as YAML",
	RunE: func(cmd *cobra.Command, _ []string) error {
		out, err := config.Dump(cfg)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), out)
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Exit non-zero if the configuration is invalid",
	RunE: func(cmd *cobra.Command, _ []string) error {
		// loadConfig already failed on any validation error.
		fmt.Fprintln(cmd.OutOrStdout(), "configuration ok")
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}
