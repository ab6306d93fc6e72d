package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tagwerk/chiptrace/internal/chipauth"
	"github.com/tagwerk/chiptrace/internal/client"
	"github.com/tagwerk/chiptrace/internal/model"
	"github.com/tagwerk/chiptrace/internal/ui"
)

var closeCmd = &cobra.Command{
	Use:     "close <window-id>",
	Short:   "Close an execution window with the second scan and payload",
	GroupID: "executions",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		uid, _ := cmd.Flags().GetString("uid")
		chipID, _ := cmd.Flags().GetString("chip")
		checksum, _ := cmd.Flags().GetString("checksum")
		readings, _ := cmd.Flags().GetStringSlice("reading")
		references, _ := cmd.Flags().GetStringSlice("reference")
		note, _ := cmd.Flags().GetString("note")

		payload := model.Payload{Note: note}
		var err error
		payload.Readings, err = parseReadings(readings)
		if err != nil {
			return err
		}
		payload.Reference, err = parseReadings(references)
		if err != nil {
			return err
		}

		win, err := chipsClient.CloseExecution(context.Background(), args[0], &client.CloseExecutionRequest{
			Scan: chipauth.ScanReport{
				UID:             uid,
				ChipID:          chipID,
				ClaimedChecksum: checksum,
			},
			Payload: payload,
			Actor:   actor,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(win)
			return nil
		}
		fmt.Printf("window %s closed\n", win.ID)
		if flags := win.Flags.List(); len(flags) > 0 {
			fmt.Printf("flags: %s\n", ui.RenderWarn(strings.Join(flags, ", ")))
		}
		return nil
	},
}

// parseReadings converts repeated key=value flags into a reading map.
func parseReadings(pairs []string) (map[string]float64, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	m := make(map[string]float64, len(pairs))
	for _, p := range pairs {
		key, val, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("invalid reading %q (want key=value)", p)
		}
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid reading %q: %w", p, err)
		}
		m[key] = f
	}
	return m, nil
}

func init() {
	closeCmd.Flags().String("uid", "", "scanned hardware UID")
	closeCmd.Flags().String("chip", "", "decoded chip ID")
	closeCmd.Flags().String("checksum", "", "scanned tag checksum (required)")
	closeCmd.Flags().StringSlice("reading", nil, "manual reading as key=value (repeatable)")
	closeCmd.Flags().StringSlice("reference", nil, "independent reference reading as key=value (repeatable)")
	closeCmd.Flags().String("note", "", "free-form note attached to the payload")
	closeCmd.MarkFlagRequired("checksum")
}
