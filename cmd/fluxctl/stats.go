package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print per-database storage stats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats := eng.Stats()
			fmt.Printf("databases: %d  entries: %d  bytes: %d\n",
				stats.DatabaseCount, stats.TotalEntries, stats.TotalSizeBytes)
			for _, db := range stats.Databases {
				fmt.Printf("  %-20s memtable=%d immutable=%d sstables=%d entries=%d bytes=%d pending_compaction=%t\n",
					db.Name, db.MemTableSize, db.ImmutableCount, db.SSTableCount,
					db.TotalEntries, db.TotalSizeBytes, db.PendingCompaction)
			}
			return nil
		},
	}
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List open databases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range eng.ListDatabases() {
				fmt.Println(name)
			}
			return nil
		},
	}
}
