package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tagwerk/chiptrace/internal/chipauth"
	"github.com/tagwerk/chiptrace/internal/client"
)

var transitionCmd = &cobra.Command{
	Use:     "transition <chip-id> <target>",
	Short:   "Request a lifecycle transition for a chip",
	GroupID: "chips",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		manifest, _ := cmd.Flags().GetBool("manifest")
		controlPoint, _ := cmd.Flags().GetString("control-point")
		replacement, _ := cmd.Flags().GetString("replacement")
		notes, _ := cmd.Flags().GetString("notes")
		uid, _ := cmd.Flags().GetString("uid")
		checksum, _ := cmd.Flags().GetString("checksum")

		req := &client.TransitionRequest{
			Target: args[1],
			Actor:  actor,
			Evidence: client.Evidence{
				ManifestMatched: manifest,
				ControlPointRef: controlPoint,
				ReplacementID:   replacement,
				Notes:           notes,
			},
		}
		// Checksum-gated edges (e.g. activation) need a scan report; the
		// server verifies it against the stored secret material.
		if checksum != "" {
			req.Scan = &chipauth.ScanReport{
				UID:             uid,
				ChipID:          args[0],
				ClaimedChecksum: checksum,
			}
		}

		chip, err := chipsClient.Transition(context.Background(), args[0], req)
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(chip)
			return nil
		}
		fmt.Printf("%s is now %s\n", chip.ID, renderStatus(chip.Status))
		return nil
	},
}

func init() {
	transitionCmd.Flags().Bool("manifest", false, "assert the delivery manifest matched")
	transitionCmd.Flags().String("control-point", "", "control point reference for activation")
	transitionCmd.Flags().String("replacement", "", "replacement chip ID when retiring a chip")
	transitionCmd.Flags().String("notes", "", "ledger notes for the transition")
	transitionCmd.Flags().String("uid", "", "scanned hardware UID")
	transitionCmd.Flags().String("checksum", "", "scanned tag checksum")
}
