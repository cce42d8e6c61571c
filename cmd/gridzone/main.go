// gridzone trains and evaluates a curriculum-driven PPO agent that partitions
// transmission networks into balanced, weakly coupled zones.
//
// Usage:
//
//	gridzone train   [--config gridzone.yaml] [--episodes N] [--resume]
//	gridzone eval    [--config gridzone.yaml] [--checkpoint id] [--json]
//	gridzone inspect [--config gridzone.yaml] [--last N] [--json]
//	gridzone config  show|validate
//	gridzone encoder serve --addr :50051
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/gridzone/internal/config"
	"github.com/danielpatrickdp/gridzone/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

var (
	configPath string
	logLevel   string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "gridzone",
	Short: "Curriculum-driven reinforcement learning for power network partitioning",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (defaults and GRIDZONE_* env apply)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level")

	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(evalCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(encoderCmd)
	rootCmd.Version = version
}

func loadConfig(_ *cobra.Command, _ []string) error {
	loaded, err := config.LoadFile(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		loaded.Logging.Level = logLevel
	}
	level, err := logging.ParseLevel(loaded.Logging.Level)
	if err != nil {
		return err
	}
	logging.Init(level, loaded.Logging.Format)
	cfg = loaded
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
