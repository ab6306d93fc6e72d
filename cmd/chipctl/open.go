package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tagwerk/chiptrace/internal/chipauth"
	"github.com/tagwerk/chiptrace/internal/client"
)

var openCmd = &cobra.Command{
	Use:     "open <schedulable-ref>",
	Short:   "Open an execution window with an opening scan",
	GroupID: "executions",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		uid, _ := cmd.Flags().GetString("uid")
		chipID, _ := cmd.Flags().GetString("chip")
		checksum, _ := cmd.Flags().GetString("checksum")

		win, err := chipsClient.OpenExecution(context.Background(), &client.OpenExecutionRequest{
			SchedulableRef: args[0],
			Actor:          actor,
			Scan: chipauth.ScanReport{
				UID:             uid,
				ChipID:          chipID,
				ClaimedChecksum: checksum,
			},
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(win)
			return nil
		}
		fmt.Printf("window %s opened for %s\n", win.ID, win.SchedulableRef)
		return nil
	},
}

func init() {
	openCmd.Flags().String("uid", "", "scanned hardware UID")
	openCmd.Flags().String("chip", "", "decoded chip ID")
	openCmd.Flags().String("checksum", "", "scanned tag checksum (required)")
	openCmd.MarkFlagRequired("checksum")
}
