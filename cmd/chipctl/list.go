package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/tagwerk/chiptrace/internal/client"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Short:   "List chips",
	GroupID: "views",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetStringSlice("status")
		customer, _ := cmd.Flags().GetString("customer")
		order, _ := cmd.Flags().GetString("order")
		controlPoint, _ := cmd.Flags().GetString("control-point")
		uid, _ := cmd.Flags().GetString("uid")
		sort, _ := cmd.Flags().GetString("sort")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		resp, err := chipsClient.ListChips(context.Background(), &client.ListChipsRequest{
			Status:          status,
			CustomerRef:     customer,
			OrderRef:        order,
			ControlPointRef: controlPoint,
			UID:             uid,
			Sort:            sort,
			Limit:           limit,
			Offset:          offset,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(resp)
			return nil
		}
		printChipListTable(resp.Chips, resp.Total)
		return nil
	},
}

func init() {
	listCmd.Flags().StringSlice("status", nil, "filter by status (repeatable)")
	listCmd.Flags().String("customer", "", "filter by customer reference")
	listCmd.Flags().String("order", "", "filter by order reference")
	listCmd.Flags().String("control-point", "", "filter by control point reference")
	listCmd.Flags().String("uid", "", "filter by hardware UID")
	listCmd.Flags().String("sort", "", "sort order (created, updated, id)")
	listCmd.Flags().Int("limit", 50, "maximum chips to return")
	listCmd.Flags().Int("offset", 0, "offset into the result set")
}
