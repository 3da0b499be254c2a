package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/return2faye/fluxkv/internal/types"
)

func newLatestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "latest <database> <series>",
		Short: "Print the most recent point for a series",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			database, seriesArg := args[0], args[1]

			db, ok := eng.GetDatabase(database)
			if !ok {
				return fmt.Errorf("database %q not found", database)
			}

			series := types.ParseSeriesKey(seriesArg)
			p, ok := db.GetLatest(series)
			if !ok {
				fmt.Println("no data")
				return nil
			}
			fmt.Printf("%d\t%s\n", p.Data.Timestamp, formatFields(p.Data.Fields))
			return nil
		},
	}
}
