// Command fluxctl is the operator CLI for a fluxkv data directory: write
// points, query a series, inspect stats, and force a flush or compaction
// pass, all against the same on-disk engine a long-running process would
// use.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/return2faye/fluxkv/internal/config"
	"github.com/return2faye/fluxkv/internal/engine"
)

var (
	dataDir    string
	configPath string
	eng        *engine.Engine
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "fluxctl",
		Short: "Operate a fluxkv time-series data directory",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			if dataDir != "" {
				cfg.DataDir = dataDir
			}

			e, err := engine.Open(cfg.EngineConfig())
			if err != nil {
				return fmt.Errorf("opening engine: %w", err)
			}
			eng = e
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if eng == nil {
				return nil
			}
			return eng.Close()
		},
	}

	root.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (overrides config file)")
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a fluxkv TOML config file")

	root.AddCommand(
		newWriteCommand(),
		newQueryCommand(),
		newLatestCommand(),
		newStatsCommand(),
		newFlushCommand(),
		newCompactCommand(),
		newListCommand(),
	)
	return root
}
