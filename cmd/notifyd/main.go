// Command notifyd runs one notification service peer. Process
// supervision — daemonization, PID files, restart policy — is out of
// scope here exactly as it is in the original repository: this binary
// expects to be run under a supervisor (systemd, a container runtime)
// that handles that layer.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "notifyd",
		Short: "Notification service: event store, subscriptions, and HA peering",
	}
	root.AddCommand(newServeCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
