package main

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wopr-network/wopr-core/internal/config"
	"github.com/wopr-network/wopr-core/internal/identity"
)

func newInviteCmd() *cobra.Command {
	var configPath, subPub string
	var sessions, caps []string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "invite",
		Short: "issue a signed invite token for a subordinate key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInvite(configPath, subPub, sessions, caps, ttl)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "node.yaml", "path to node config")
	cmd.Flags().StringVar(&subPub, "sub", "", "base64 Ed25519 public key of the invited peer (required)")
	cmd.Flags().StringSliceVar(&sessions, "sessions", nil, "session names this invite grants")
	cmd.Flags().StringSliceVar(&caps, "caps", nil, "capabilities this invite grants")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token validity window")
	cmd.MarkFlagRequired("sub")
	return cmd
}

func runInvite(configPath, subPub string, sessions, caps []string, ttl time.Duration) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	id, err := identity.Load(cfg.IdentitySeed)
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}

	subKey, err := base64.StdEncoding.DecodeString(subPub)
	if err != nil {
		return fmt.Errorf("decode --sub: %w", err)
	}

	uri, err := identity.Issue(id, subKey, sessions, caps, ttl)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	fmt.Println(uri)
	return nil
}
