// Command chipctl is the CLI client for the chiptrace service.
package main

import (
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tagwerk/chiptrace/internal/client"
	"github.com/tagwerk/chiptrace/internal/ui"
)

var (
	httpURL    string
	authToken  string
	deviceID   string
	jsonOutput bool
	actor      string

	chipsClient client.ChipsClient
)

func defaultActor() string {
	out, err := exec.Command("git", "config", "user.name").Output()
	if err == nil {
		name := strings.TrimSpace(string(out))
		if name != "" {
			return name
		}
	}
	return "unknown"
}

func defaultHTTPURL() string {
	if s := os.Getenv("CHIPTRACE_HTTP_URL"); s != "" {
		return s
	}
	if u := activeRemoteURL(); u != "" {
		return u
	}
	return "http://localhost:8080"
}

func defaultToken() string {
	if s := os.Getenv("CHIPTRACE_AUTH_TOKEN"); s != "" {
		return s
	}
	return activeRemoteToken()
}

func defaultDeviceID() string {
	if s := os.Getenv("CHIPTRACE_DEVICE_ID"); s != "" {
		return s
	}
	return activeRemoteDeviceID()
}

var rootCmd = &cobra.Command{
	Use:   "chipctl <command>",
	Short: "CLI client for the chiptrace service",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c := client.NewHTTPClient(httpURL, authToken)
		if deviceID != "" {
			c.SetDeviceID(deviceID)
		}
		chipsClient = c
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if chipsClient != nil {
			chipsClient.Close()
		}
	},
}

func init() {
	if !ui.ShouldUseColor() {
		ui.ForceNoColor()
	}

	rootCmd.PersistentFlags().StringVar(&httpURL, "http-url", defaultHTTPURL(), "HTTP server URL")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", defaultToken(), "bearer token for authentication")
	rootCmd.PersistentFlags().StringVar(&deviceID, "device", defaultDeviceID(), "scan device identity (X-Device-ID)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().StringVar(&actor, "actor", defaultActor(), "actor name for ledger entries")

	rootCmd.AddGroup(
		&cobra.Group{ID: "chips", Title: "Chips:"},
		&cobra.Group{ID: "executions", Title: "Executions:"},
		&cobra.Group{ID: "views", Title: "Views:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	cobra.EnableCommandSorting = false

	// Chips
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(receiveCmd)
	rootCmd.AddCommand(encodeCmd)
	rootCmd.AddCommand(allocateCmd)
	rootCmd.AddCommand(transitionCmd)
	rootCmd.AddCommand(scanCmd)

	// Executions
	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(closeCmd)
	rootCmd.AddCommand(abandonCmd)
	rootCmd.AddCommand(windowCmd)

	// Views
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(ledgerCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(rosterCmd)

	// System
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(remoteCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
