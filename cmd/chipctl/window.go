package main

import (
	"context"

	"github.com/spf13/cobra"
)

var windowCmd = &cobra.Command{
	Use:     "window <window-id>",
	Short:   "Show an execution window",
	GroupID: "executions",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		win, err := chipsClient.GetExecution(context.Background(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(win)
			return nil
		}
		printWindowTable(win)
		return nil
	},
}
