package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wopr-network/wopr-core/internal/config"
	"github.com/wopr-network/wopr-core/internal/guard"
	"github.com/wopr-network/wopr-core/internal/identity"
	"github.com/wopr-network/wopr-core/internal/store"
	"github.com/wopr-network/wopr-core/internal/swarm"
	"github.com/wopr-network/wopr-core/internal/trust"
	"github.com/wopr-network/wopr-core/internal/wire"
)

func newRotateCmd() *cobra.Command {
	var configPath, reason string
	var notify bool

	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "rotate this node's signing and key-agreement keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRotate(configPath, identity.RotationReason(reason), notify)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "node.yaml", "path to node config")
	cmd.Flags().StringVar(&reason, "reason", string(identity.ReasonScheduled), "rotation reason: scheduled|compromise|upgrade")
	cmd.Flags().BoolVar(&notify, "notify", false, "dial every peer with an active grant and deliver the KeyRotation over the wire")
	return cmd
}

// runRotate replaces the identity at cfg.IdentitySeed with a freshly
// rotated one and prints the signed KeyRotation record so the operator
// can relay it to peers (spec.md §4.D handleKeyRotation); the old key
// stays authorized for identity.GracePeriod after EffectiveAt. With
// --notify it also delivers the record itself, over the DHT, to every
// peer this node has an active grant for.
func runRotate(configPath string, reason identity.RotationReason, notify bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	id, err := identity.Load(cfg.IdentitySeed)
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}

	next, seed, rot, err := id.Rotate(reason)
	if err != nil {
		return fmt.Errorf("rotate: %w", err)
	}
	if err := identity.SaveSeed(cfg.IdentitySeed, seed); err != nil {
		return fmt.Errorf("persist rotated seed: %w", err)
	}

	fmt.Printf("rotated %s -> %s\n", id.ShortID(), next.ShortID())
	fmt.Printf("effectiveAt: %s\n", rot.EffectiveAt.Format("2006-01-02T15:04:05Z07:00"))
	fmt.Printf("gracePeriod: %s\n", identity.GracePeriod)
	fmt.Printf("oldSignPub:  %s\n", base64.StdEncoding.EncodeToString(rot.OldSignPub))
	fmt.Printf("newSignPub:  %s\n", base64.StdEncoding.EncodeToString(rot.NewSignPub))
	fmt.Printf("newKxPub:    %s\n", base64.StdEncoding.EncodeToString(rot.NewKxPub))
	fmt.Printf("sig:         %s\n", base64.StdEncoding.EncodeToString(rot.Sig))

	if notify {
		notifyPeers(cfg, id, rot)
	}
	return nil
}

// notifyPeers dials every actively-granted peer by DHT topic and
// delivers rot, logging rather than failing the rotation on any one
// peer being unreachable.
func notifyPeers(cfg *config.NodeConfig, id *identity.Identity, rot *identity.KeyRotation) {
	logger, err := zap.NewProduction()
	if err != nil {
		logger = zap.NewNop()
	}
	defer logger.Sync()

	kv, err := store.NewJSONFile(cfg.DataDir)
	if err != nil {
		logger.Warn("open store for notify", zap.Error(err))
		return
	}
	grants, err := trust.New(kv).ActiveGrants()
	if err != nil {
		logger.Warn("load active grants for notify", zap.Error(err))
		return
	}

	h, err := swarm.NewHost(id, 0)
	if err != nil {
		logger.Warn("create host for notify", zap.Error(err))
		return
	}
	defer h.Close()

	d := &wire.Dialer{ID: id, Guard: guard.New(), Logger: logger}
	for _, g := range grants {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		stream, err := dialPeerTopic(ctx, h, g.PeerSignPub, logger)
		if err != nil {
			logger.Warn("notify peer unreachable", zap.String("peer", identity.ShortID(g.PeerSignPub)), zap.Error(err))
			cancel()
			continue
		}
		res := d.NotifyRotation(stream, rot, 10*time.Second)
		stream.Close()
		cancel()
		logger.Info("notified peer of rotation",
			zap.String("peer", identity.ShortID(g.PeerSignPub)),
			zap.String("result", res.Code.String()))
	}
}
