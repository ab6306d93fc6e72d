package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tagwerk/chiptrace/internal/client"
)

var allocateCmd = &cobra.Command{
	Use:     "allocate",
	Short:   "Atomically claim stock chips for a customer order",
	GroupID: "chips",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		customer, _ := cmd.Flags().GetString("customer")
		order, _ := cmd.Flags().GetString("order")
		count, _ := cmd.Flags().GetInt("count")

		resp, err := chipsClient.Allocate(context.Background(), &client.AllocateRequest{
			CustomerRef: customer,
			OrderRef:    order,
			Count:       count,
			Actor:       actor,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(resp)
			return nil
		}
		fmt.Printf("allocated %d chips to %s / %s\n", resp.Total, customer, order)
		for _, c := range resp.Chips {
			fmt.Printf("  %s (%s)\n", c.ID, c.UID)
		}
		return nil
	},
}

func init() {
	allocateCmd.Flags().String("customer", "", "customer reference (required)")
	allocateCmd.Flags().String("order", "", "order reference (required)")
	allocateCmd.Flags().Int("count", 1, "number of chips to claim")
	allocateCmd.MarkFlagRequired("customer")
	allocateCmd.MarkFlagRequired("order")
}
