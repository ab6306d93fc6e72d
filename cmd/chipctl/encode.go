package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tagwerk/chiptrace/internal/client"
	"github.com/tagwerk/chiptrace/internal/ui"
)

var encodeCmd = &cobra.Command{
	Use:     "encode <chip-id>",
	Short:   "Encode a chip's secret material and print the tag checksum",
	GroupID: "chips",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		notes, _ := cmd.Flags().GetString("notes")

		resp, err := chipsClient.EncodeChip(context.Background(), args[0], &client.EncodeChipRequest{
			Actor: actor,
			Notes: notes,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(resp)
			return nil
		}
		fmt.Printf("%s encoded (%s)\n", resp.Chip.ID, renderStatus(resp.Chip.Status))
		// The checksum is shown exactly once, for the tag writer.
		fmt.Printf("checksum: %s\n", ui.RenderAccent(resp.Checksum))
		return nil
	},
}

func init() {
	encodeCmd.Flags().String("notes", "", "ledger notes for the encoding")
}
