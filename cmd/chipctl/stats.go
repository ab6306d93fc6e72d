package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:     "stats",
	Short:   "Show fleet counts by status",
	GroupID: "views",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := chipsClient.GetStats(context.Background())
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(resp)
			return nil
		}

		statuses := make([]string, 0, len(resp.ByStatus))
		for s := range resp.ByStatus {
			statuses = append(statuses, s)
		}
		sort.Strings(statuses)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "STATUS\tCOUNT")
		for _, s := range statuses {
			fmt.Fprintf(w, "%s\t%d\n", s, resp.ByStatus[s])
		}
		w.Flush()
		fmt.Printf("\n%d chips total\n", resp.Total)
		return nil
	},
}
