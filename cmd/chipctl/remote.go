package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"text/tabwriter"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
)

// Remote is a named deployment profile: the server URL plus the bearer token
// and reader device identity to present to it. Field crews switch between
// site deployments with `chipctl remote use`.
type Remote struct {
	URL      string `toml:"url"`
	Token    string `toml:"token,omitempty"`
	DeviceID string `toml:"device_id,omitempty"`
}

type remotesFile struct {
	Active  string            `toml:"active"`
	Remotes map[string]Remote `toml:"remotes"`
}

func remotesPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".local", "state", "chiptrace")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(dir, "remotes.toml"), nil
}

func loadRemotes() (remotesFile, error) {
	path, err := remotesPath()
	if err != nil {
		return remotesFile{}, err
	}
	var rf remotesFile
	if _, err := toml.DecodeFile(path, &rf); err != nil && !os.IsNotExist(err) {
		return remotesFile{}, err
	}
	if rf.Remotes == nil {
		rf.Remotes = map[string]Remote{}
	}
	return rf, nil
}

func saveRemotes(rf remotesFile) error {
	path, err := remotesPath()
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(rf)
}

// The active remote is resolved once per process and feeds the flag defaults.
var (
	remoteOnce   sync.Once
	activeRemote Remote
)

func resolveActiveRemote() Remote {
	remoteOnce.Do(func() {
		rf, err := loadRemotes()
		if err != nil || rf.Active == "" {
			return
		}
		activeRemote = rf.Remotes[rf.Active]
	})
	return activeRemote
}

func activeRemoteURL() string      { return resolveActiveRemote().URL }
func activeRemoteToken() string    { return resolveActiveRemote().Token }
func activeRemoteDeviceID() string { return resolveActiveRemote().DeviceID }

func maskToken(token string) string {
	if len(token) > 8 {
		return token[:8] + "..."
	}
	return token
}

var remoteCmd = &cobra.Command{
	Use:     "remote",
	Short:   "Manage named deployment profiles",
	GroupID: "system",
	// Remote subcommands are local file operations; no client needed.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
}

var remoteAddCmd = &cobra.Command{
	Use:   "add <name> <url>",
	Short: "Add or update a deployment profile",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, url := args[0], args[1]
		token, _ := cmd.Flags().GetString("token")
		device, _ := cmd.Flags().GetString("device")

		rf, err := loadRemotes()
		if err != nil {
			return err
		}
		rf.Remotes[name] = Remote{URL: url, Token: token, DeviceID: device}
		if err := saveRemotes(rf); err != nil {
			return err
		}
		fmt.Printf("remote %q added (%s)\n", name, url)
		return nil
	},
}

var remoteRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a deployment profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		rf, err := loadRemotes()
		if err != nil {
			return err
		}
		if _, ok := rf.Remotes[name]; !ok {
			return fmt.Errorf("remote %q not found", name)
		}
		delete(rf.Remotes, name)
		if rf.Active == name {
			rf.Active = ""
		}
		if err := saveRemotes(rf); err != nil {
			return err
		}
		fmt.Printf("remote %q removed\n", name)
		return nil
	},
}

var remoteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List deployment profiles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rf, err := loadRemotes()
		if err != nil {
			return err
		}
		if len(rf.Remotes) == 0 {
			fmt.Println("no remotes configured")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  NAME\tURL\tDEVICE\tTOKEN")
		for name, r := range rf.Remotes {
			marker := "  "
			if name == rf.Active {
				marker = "* "
			}
			fmt.Fprintf(w, "%s%s\t%s\t%s\t%s\n", marker, name, r.URL, r.DeviceID, maskToken(r.Token))
		}
		return w.Flush()
	},
}

var remoteUseCmd = &cobra.Command{
	Use:   "use [name]",
	Short: "Set the active profile (no args clears it)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rf, err := loadRemotes()
		if err != nil {
			return err
		}
		if len(args) == 0 {
			rf.Active = ""
			if err := saveRemotes(rf); err != nil {
				return err
			}
			fmt.Println("active remote cleared")
			return nil
		}
		name := args[0]
		if _, ok := rf.Remotes[name]; !ok {
			return fmt.Errorf("remote %q not found", name)
		}
		rf.Active = name
		if err := saveRemotes(rf); err != nil {
			return err
		}
		fmt.Printf("active remote set to %q\n", name)
		return nil
	},
}

func init() {
	remoteAddCmd.Flags().String("token", "", "bearer token for authentication")
	remoteAddCmd.Flags().String("device", "", "reader device identity sent as X-Device-ID")

	remoteCmd.AddCommand(remoteAddCmd)
	remoteCmd.AddCommand(remoteRemoveCmd)
	remoteCmd.AddCommand(remoteListCmd)
	remoteCmd.AddCommand(remoteUseCmd)
}
