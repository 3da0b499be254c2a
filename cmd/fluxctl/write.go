package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/return2faye/fluxkv/internal/types"
)

func newWriteCommand() *cobra.Command {
	var timestamp int64

	cmd := &cobra.Command{
		Use:   "write <database> <series> <field=value[,field=value...]>",
		Short: "Write one point to a series",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			database, seriesArg, fieldsArg := args[0], args[1], args[2]

			series := types.ParseSeriesKey(seriesArg)
			fields, err := parseFields(fieldsArg)
			if err != nil {
				return err
			}

			point := types.Point{
				Key:  series,
				Data: types.DataPoint{Timestamp: timestamp, Fields: fields},
			}
			if err := eng.Write(database, []types.Point{point}); err != nil {
				return err
			}

			fmt.Printf("wrote 1 point to %s/%s at ts=%d\n", database, series.Canonical(), timestamp)
			return nil
		},
	}

	cmd.Flags().Int64Var(&timestamp, "ts", 0, "point timestamp")
	return cmd
}

// parseFields parses a comma-separated field=value list. Values that
// parse as an int64, float64 or bool (tried in that order) are stored typed; everything else is stored
// as a string.
func parseFields(s string) (types.Fields, error) {
	fields := make(types.Fields)
	for _, part := range strings.Split(s, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid field %q, want field=value", part)
		}
		name, raw := kv[0], kv[1]
		fields[name] = parseFieldValue(raw)
	}
	return fields, nil
}

func parseFieldValue(raw string) types.FieldValue {
	if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return types.IntValue(v)
	}
	if v, err := strconv.ParseFloat(raw, 64); err == nil {
		return types.FloatValue(v)
	}
	if v, err := strconv.ParseBool(raw); err == nil {
		return types.BoolValue(v)
	}
	return types.StringValue(raw)
}
