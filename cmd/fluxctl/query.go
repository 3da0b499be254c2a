package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/return2faye/fluxkv/internal/types"
)

func newQueryCommand() *cobra.Command {
	var start, end int64

	cmd := &cobra.Command{
		Use:   "query <database> <series>",
		Short: "Query a series over a timestamp range",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			database, seriesArg := args[0], args[1]
			series := types.ParseSeriesKey(seriesArg)

			points, err := eng.QuerySeries(database, series, types.NewTimeRange(start, end))
			if err != nil {
				return err
			}

			for _, p := range points {
				fmt.Printf("%d\t%s\n", p.Data.Timestamp, formatFields(p.Data.Fields))
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%d points\n", len(points))
			return nil
		},
	}

	cmd.Flags().Int64Var(&start, "start", 0, "range start (inclusive)")
	cmd.Flags().Int64Var(&end, "end", 0, "range end (inclusive)")
	return cmd
}

func formatFields(fields types.Fields) string {
	out := ""
	for i, name := range fields.Keys() {
		if i > 0 {
			out += ","
		}
		v := fields[name]
		switch v.Kind {
		case types.FieldFloat, types.FieldInt:
			f, _ := v.AsFloat64()
			out += fmt.Sprintf("%s=%g", name, f)
		case types.FieldBool:
			out += fmt.Sprintf("%s=%t", name, v.Bool)
		default:
			out += fmt.Sprintf("%s=%q", name, v.String)
		}
	}
	return out
}
