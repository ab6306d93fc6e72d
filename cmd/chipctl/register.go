package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tagwerk/chiptrace/internal/client"
)

var registerCmd = &cobra.Command{
	Use:     "register <uid>",
	Short:   "Register a new chip by hardware UID",
	GroupID: "chips",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		chip, err := chipsClient.RegisterChip(context.Background(), &client.RegisterChipRequest{
			UID:       args[0],
			CreatedBy: actor,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(chip)
			return nil
		}
		fmt.Printf("registered %s (%s)\n", chip.ID, chip.UID)
		return nil
	},
}
