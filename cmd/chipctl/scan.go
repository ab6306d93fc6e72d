package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tagwerk/chiptrace/internal/client"
	"github.com/tagwerk/chiptrace/internal/ui"
)

var scanCmd = &cobra.Command{
	Use:     "scan <uid>",
	Short:   "Verify one scan report against the stored secret material",
	GroupID: "chips",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		chipID, _ := cmd.Flags().GetString("chip")
		checksum, _ := cmd.Flags().GetString("checksum")

		resp, err := chipsClient.VerifyScan(context.Background(), &client.VerifyScanRequest{
			UID:             args[0],
			ChipID:          chipID,
			ClaimedChecksum: checksum,
			Operator:        actor,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(resp)
			return nil
		}
		if resp.Authentic {
			fmt.Printf("%s\n", ui.RenderOK("authentic"))
			if resp.Chip != nil {
				fmt.Printf("chip: %s (%s)\n", resp.Chip.ID, renderStatus(resp.Chip.Status))
			}
			return nil
		}
		fmt.Printf("%s (%s)\n", ui.RenderBad("rejected"), resp.Reason)
		return nil
	},
}

func init() {
	scanCmd.Flags().String("chip", "", "decoded chip ID, when the reader extracted one")
	scanCmd.Flags().String("checksum", "", "scanned tag checksum (required)")
	scanCmd.MarkFlagRequired("checksum")
}
