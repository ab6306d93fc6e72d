package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var ledgerCmd = &cobra.Command{
	Use:     "ledger <chip-id>",
	Short:   "Show a chip's transition ledger",
	GroupID: "views",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := chipsClient.GetLedger(context.Background(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(resp)
			return nil
		}
		if len(resp.Entries) == 0 {
			fmt.Println("no ledger entries")
			return nil
		}
		printLedgerTable(resp.Entries)
		return nil
	},
}
