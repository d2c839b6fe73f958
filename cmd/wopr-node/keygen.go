package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wopr-network/wopr-core/internal/identity"
)

func newKeygenCmd() *cobra.Command {
	var out string
	var force bool

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "generate a new node identity seed",
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				return fmt.Errorf("--out is required")
			}
			id, _, err := identity.Init(out, force)
			if err != nil {
				return err
			}
			fmt.Printf("Seed written to %s\n", out)
			fmt.Printf("PeerID:  %s\n", id.PeerID)
			fmt.Printf("ShortID: %s\n", id.ShortID())
			fmt.Printf("Topic:   %x\n", id.Topic())
			return nil
		},
	}

	cmd.Flags().StringVar(&out, "out", "", "output path for the seed file (required)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing seed file")
	return cmd
}
