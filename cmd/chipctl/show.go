package main

import (
	"context"

	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:     "show <chip-id>",
	Short:   "Show a chip",
	GroupID: "views",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		chip, err := chipsClient.GetChip(context.Background(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(chip)
			return nil
		}
		printChipTable(chip)
		return nil
	},
}
