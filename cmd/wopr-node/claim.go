package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/spf13/cobra"

	"github.com/wopr-network/wopr-core/internal/config"
	"github.com/wopr-network/wopr-core/internal/guard"
	"github.com/wopr-network/wopr-core/internal/identity"
	"github.com/wopr-network/wopr-core/internal/swarm"
	"github.com/wopr-network/wopr-core/internal/wire"
)

func newClaimCmd() *cobra.Command {
	var configPath, token, peerAddr, peerPub string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "claim",
		Short: "redeem an invite token against a running peer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClaim(configPath, token, peerAddr, peerPub, timeout)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "node.yaml", "path to node config")
	cmd.Flags().StringVar(&token, "token", "", "invite token (wop1://...) (required)")
	cmd.Flags().StringVar(&peerAddr, "peer", "", "multiaddr of the peer to claim against")
	cmd.Flags().StringVar(&peerPub, "peer-pubkey", "", "base64 signing public key of the peer, found via the DHT instead of a multiaddr")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "claim round-trip timeout")
	cmd.MarkFlagRequired("token")
	return cmd
}

func runClaim(configPath, token, peerAddr, peerPub string, timeout time.Duration) error {
	if (peerAddr == "") == (peerPub == "") {
		return fmt.Errorf("exactly one of --peer or --peer-pubkey is required")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	id, err := identity.Load(cfg.IdentitySeed)
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}

	h, err := swarm.NewHost(id, 0)
	if err != nil {
		return fmt.Errorf("create host: %w", err)
	}
	defer h.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout+30*time.Second)
	defer cancel()

	stream, err := dialTarget(ctx, h, peerAddr, peerPub)
	if err != nil {
		return err
	}
	defer stream.Close()

	d := &wire.Dialer{ID: id, Guard: guard.New()}
	res := d.Claim(stream, token, timeout)

	fmt.Printf("%s: %s\n", res.Code, res.Message)
	if res.Code != wire.OK {
		os.Exit(int(res.Code))
	}
	return nil
}

// dialTarget resolves either a --peer multiaddr or a --peer-pubkey DHT
// lookup to an open wire stream, whichever the caller supplied.
func dialTarget(ctx context.Context, h host.Host, peerAddr, peerPub string) (network.Stream, error) {
	if peerAddr != "" {
		return dialPeer(ctx, h, peerAddr)
	}
	key, err := base64.StdEncoding.DecodeString(peerPub)
	if err != nil {
		return nil, fmt.Errorf("decode --peer-pubkey: %w", err)
	}
	return dialPeerTopic(ctx, h, key, nil)
}
