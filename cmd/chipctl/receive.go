package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tagwerk/chiptrace/internal/client"
)

var receiveCmd = &cobra.Command{
	Use:     "receive <chip-id>",
	Short:   "Mark a chip received at the workshop (manifest matched)",
	GroupID: "chips",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		notes, _ := cmd.Flags().GetString("notes")

		chip, err := chipsClient.Transition(context.Background(), args[0], &client.TransitionRequest{
			Target: "in_workshop",
			Actor:  actor,
			Evidence: client.Evidence{
				ManifestMatched: true,
				Notes:           notes,
			},
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(chip)
			return nil
		}
		fmt.Printf("%s received (%s)\n", chip.ID, renderStatus(chip.Status))
		return nil
	},
}

func init() {
	receiveCmd.Flags().String("notes", "", "ledger notes for the receipt")
}
