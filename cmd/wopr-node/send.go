package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/wopr-network/wopr-core/internal/config"
	"github.com/wopr-network/wopr-core/internal/guard"
	"github.com/wopr-network/wopr-core/internal/identity"
	"github.com/wopr-network/wopr-core/internal/store"
	"github.com/wopr-network/wopr-core/internal/swarm"
	"github.com/wopr-network/wopr-core/internal/trust"
	"github.com/wopr-network/wopr-core/internal/wire"
)

func newSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send",
		Short: "deliver a log or inject message to a peer",
	}
	cmd.AddCommand(newSendLogCmd(), newSendInjectCmd())
	return cmd
}

func newSendLogCmd() *cobra.Command {
	var configPath, peerAddr, peerPub, session, message string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "log",
		Short: "deliver a fire-and-forget log message",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(configPath, peerAddr, peerPub, session, message, timeout, false)
		},
	}
	addSendFlags(cmd, &configPath, &peerAddr, &peerPub, &session, &message, &timeout)
	return cmd
}

func newSendInjectCmd() *cobra.Command {
	var configPath, peerAddr, peerPub, session, message string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "inject",
		Short: "deliver a synchronous inject and print the agent's reply",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(configPath, peerAddr, peerPub, session, message, timeout, true)
		},
	}
	addSendFlags(cmd, &configPath, &peerAddr, &peerPub, &session, &message, &timeout)
	return cmd
}

func addSendFlags(cmd *cobra.Command, configPath, peerAddr, peerPub, session, message *string, timeout *time.Duration) {
	cmd.Flags().StringVar(configPath, "config", "node.yaml", "path to node config")
	cmd.Flags().StringVar(peerAddr, "peer", "", "multiaddr of the peer to dial")
	cmd.Flags().StringVar(peerPub, "peer-pubkey", "", "base64 signing public key of the peer, found via the DHT instead of a multiaddr")
	cmd.Flags().StringVar(session, "session", "", "target session name (required)")
	cmd.Flags().StringVar(message, "message", "", "plaintext message body (required)")
	cmd.Flags().DurationVar(timeout, "timeout", 10*time.Second, "delivery timeout")
	cmd.MarkFlagRequired("session")
	cmd.MarkFlagRequired("message")
}

func runSend(configPath, peerAddr, peerPub, session, message string, timeout time.Duration, inject bool) error {
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

	kv, err := store.NewJSONFile(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	trustStore := trust.New(kv)

	var targetKey []byte
	if peerPub != "" {
		targetKey, err = base64.StdEncoding.DecodeString(peerPub)
		if err != nil {
			return fmt.Errorf("decode --peer-pubkey: %w", err)
		}
	}
	key := staticSharedKey(id, trustStore, targetKey)

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

	var res wire.Result
	if inject {
		res = d.SendInject(stream, "", session, []byte(message), key, timeout)
	} else {
		res = d.SendLog(stream, session, []byte(message), key, timeout)
	}

	fmt.Printf("%s: %s\n", res.Code, res.Message)
	if res.Reply != "" {
		fmt.Println(res.Reply)
	}
	if res.Code != wire.OK {
		os.Exit(int(res.Code))
	}
	return nil
}

// staticSharedKey derives a pre-ephemeral fallback key from a known
// peer's grant record, per spec.md §4.D's legacy static-key path
// (internal/wire/dispatch.go's sharedSecretFor mirrors this on the
// listener side). Returns nil if no peer key was given (--peer
// dialing), the peer has no grant, or the grant records no
// key-agreement key; deliver() prefers the ephemeral-derived key
// whenever the handshake negotiates one.
func staticSharedKey(id *identity.Identity, trustStore *trust.Store, signPub []byte) []byte {
	if len(signPub) == 0 {
		return nil
	}
	grant, err := trustStore.GrantFor(signPub)
	if err != nil || grant == nil || len(grant.PeerKxPub) == 0 {
		return nil
	}
	theirKx, err := identity.ParseKxPub(grant.PeerKxPub)
	if err != nil {
		return nil
	}
	shared, err := identity.DeriveShared(id.KxPriv, theirKx)
	if err != nil {
		return nil
	}
	return shared
}
