package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wopr-network/wopr-core/internal/config"
	"github.com/wopr-network/wopr-core/internal/friend"
	"github.com/wopr-network/wopr-core/internal/identity"
	"github.com/wopr-network/wopr-core/internal/store"
	"github.com/wopr-network/wopr-core/internal/trust"
)

func newFriendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "friend",
		Short: "exchange friend handshake records over an opaque channel",
	}
	cmd.AddCommand(newFriendRequestCmd(), newFriendAcceptCmd())
	return cmd
}

func newFriendRequestCmd() *cobra.Command {
	var configPath, name, to, channel string

	cmd := &cobra.Command{
		Use:   "request",
		Short: "sign and write a FRIEND_REQUEST record to a channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFriendRequest(configPath, name, to, channel)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "node.yaml", "path to node config")
	cmd.Flags().StringVar(&name, "name", "", "this node's nickname in the handshake (required)")
	cmd.Flags().StringVar(&to, "to", "", "the nickname of the peer being requested (required)")
	cmd.Flags().StringVar(&channel, "channel", "-", "file to write the record to, or - for stdout")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("to")
	return cmd
}

func runFriendRequest(configPath, name, to, channel string) error {
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

	req := friend.SignRequest(to, name, id.SignPub, id.KxPubBytes, id.SignPriv, time.Now())

	friendStore := friend.New(kv)
	if err := friendStore.AddOutgoing(req); err != nil {
		return fmt.Errorf("record outgoing request: %w", err)
	}

	return writeChannel(channel, req.Encode())
}

func newFriendAcceptCmd() *cobra.Command {
	var configPath, name, channel string
	var force bool

	cmd := &cobra.Command{
		Use:   "accept",
		Short: "process an inbound FRIEND_REQUEST or FRIEND_ACCEPT record from a channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFriendAccept(configPath, name, channel, force)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "node.yaml", "path to node config")
	cmd.Flags().StringVar(&name, "name", "", "this node's nickname in the handshake (required)")
	cmd.Flags().StringVar(&channel, "channel", "-", "file to read the inbound record from, or - for stdin")
	cmd.Flags().BoolVar(&force, "force", false, "accept even if the request's sender doesn't match node.yaml's friend.auto_accept patterns")
	cmd.MarkFlagRequired("name")
	return cmd
}

func runFriendAccept(configPath, name, channel string, force bool) error {
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

	raw, err := readChannel(channel)
	if err != nil {
		return fmt.Errorf("read channel: %w", err)
	}
	record := strings.TrimSpace(raw)

	trustStore := trust.New(kv)
	friendStore := friend.New(kv)
	now := time.Now()

	if req, err := friend.ParseRequest(record); err == nil {
		return acceptRequest(id, friendStore, trustStore, name, req, now, force, channel, cfg)
	}

	if acc, err := friend.ParseAccept(record); err == nil {
		return acceptAccept(friendStore, trustStore, acc, now)
	}

	return fmt.Errorf("unrecognized friend record in %s", channel)
}

func acceptRequest(id *identity.Identity, friendStore *friend.Store, trustStore *trust.Store, name string, req *friend.Request, now time.Time, force bool, channel string, cfg *config.NodeConfig) error {
	if !req.Verify(now) {
		return fmt.Errorf("FRIEND_REQUEST from %s failed verification", req.From)
	}
	if !force && !friend.MatchesAutoAccept(cfg.Friend.AutoAccept, req.From) {
		if err := friendStore.AddPending(req); err != nil {
			return fmt.Errorf("record pending request: %w", err)
		}
		fmt.Printf("FRIEND_REQUEST from %s does not match friend.auto_accept; left pending (pass --force to accept anyway)\n", req.From)
		return nil
	}

	acc := friend.SignAccept(req.From, name, id.SignPub, id.KxPubBytes, req.Sig, id.SignPriv, now)
	session := friend.SessionNameFor(req.From, req.PubKey)
	if _, err := trustStore.GrantAccess(req.PubKey, []string{session}, friend.DefaultCaps, req.EncryptPub); err != nil {
		return fmt.Errorf("authorize %s: %w", req.From, err)
	}
	_ = friendStore.RemovePending(req.From)

	fmt.Printf("accepted %s, authorized session %q\n", req.From, session)
	return writeChannel(channel, acc.Encode())
}

func acceptAccept(friendStore *friend.Store, trustStore *trust.Store, acc *friend.Accept, now time.Time) error {
	if !acc.Verify(now) {
		return fmt.Errorf("FRIEND_ACCEPT from %s failed verification", acc.From)
	}
	req, err := friendStore.MatchAccept(acc)
	if err != nil {
		return fmt.Errorf("match FRIEND_ACCEPT to an outgoing request: %w", err)
	}

	session := friend.SessionNameFor(acc.From, acc.PubKey)
	if _, err := trustStore.GrantAccess(acc.PubKey, []string{session}, friend.DefaultCaps, acc.EncryptPub); err != nil {
		return fmt.Errorf("authorize %s: %w", acc.From, err)
	}
	_ = friendStore.ClearOutgoing(req.Sig)

	fmt.Printf("friendship with %s confirmed, authorized session %q\n", acc.From, session)
	return nil
}

func readChannel(channel string) (string, error) {
	if channel == "-" {
		b, err := io.ReadAll(os.Stdin)
		return string(b), err
	}
	b, err := os.ReadFile(channel)
	return string(b), err
}

func writeChannel(channel, record string) error {
	if channel == "-" {
		fmt.Println(record)
		return nil
	}
	return os.WriteFile(channel, []byte(record+"\n"), 0600)
}
