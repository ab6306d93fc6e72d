package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tagwerk/chiptrace/internal/ui"
)

var rosterCmd = &cobra.Command{
	Use:     "roster",
	Short:   "Show the scan-device roster",
	GroupID: "views",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := chipsClient.GetDeviceRoster(context.Background())
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(resp)
			return nil
		}
		if resp.Total == 0 {
			fmt.Println("no devices seen")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "DEVICE\tOPERATOR\tCONTROL POINT\tSCANS\tIDLE\tLAST ACTION")
		for _, d := range resp.Devices {
			idle := fmt.Sprintf("%.0fs", d.IdleSecs)
			if d.Reaped {
				idle = ui.RenderBad("offline")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
				d.DeviceID,
				d.Operator,
				d.ControlPointRef,
				d.ScanCount,
				idle,
				d.LastAction,
			)
		}
		w.Flush()
		fmt.Printf("\n%d devices\n", resp.Total)
		return nil
	},
}
