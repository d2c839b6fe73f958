// Command wopr-node runs a single wopr overlay agent: identity
// management, rendezvous join, wire protocol service, and the friend
// handshake, all driven from one node.yaml.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "wopr-node",
		Short:         "wopr overlay node",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newKeygenCmd(),
		newRunCmd(),
		newClaimCmd(),
		newSendCmd(),
		newInviteCmd(),
		newRotateCmd(),
		newFriendCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "wopr-node: %v\n", err)
		os.Exit(1)
	}
}
