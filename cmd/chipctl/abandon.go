package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tagwerk/chiptrace/internal/client"
)

var abandonCmd = &cobra.Command{
	Use:     "abandon <window-id>",
	Short:   "Abandon an open execution window with a reason",
	GroupID: "executions",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")

		win, err := chipsClient.AbandonExecution(context.Background(), args[0], &client.AbandonExecutionRequest{
			Actor:  actor,
			Reason: reason,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(win)
			return nil
		}
		fmt.Printf("window %s abandoned: %s\n", win.ID, win.AbandonReason)
		return nil
	},
}

func init() {
	abandonCmd.Flags().String("reason", "", "why the execution could not complete (required)")
	abandonCmd.MarkFlagRequired("reason")
}
