package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newFlushCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "flush [database]",
		Short: "Force a memtable flush, for one database or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return eng.FlushAll()
			}
			db, ok := eng.GetDatabase(args[0])
			if !ok {
				return fmt.Errorf("database %q not found", args[0])
			}
			return db.Flush()
		},
	}
}

func newCompactCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "compact [database]",
		Short: "Run one eligible compaction task, for one database or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return eng.CompactAll()
			}
			db, ok := eng.GetDatabase(args[0])
			if !ok {
				return fmt.Errorf("database %q not found", args[0])
			}
			ran, err := db.RunCompaction()
			if err != nil {
				return err
			}
			if !ran {
				fmt.Println("nothing to compact")
			}
			return nil
		},
	}
}
