package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wopr-network/wopr-core/internal/agent"
	"github.com/wopr-network/wopr-core/internal/config"
	"github.com/wopr-network/wopr-core/internal/guard"
	"github.com/wopr-network/wopr-core/internal/identity"
	"github.com/wopr-network/wopr-core/internal/ratelimit"
	"github.com/wopr-network/wopr-core/internal/store"
	"github.com/wopr-network/wopr-core/internal/swarm"
	"github.com/wopr-network/wopr-core/internal/trust"
	"github.com/wopr-network/wopr-core/internal/wire"
)

func newRunCmd() *cobra.Command {
	var configPath string
	var headless bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "start a node: join its rendezvous topic, serve the wire protocol, open the console",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(configPath, headless)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "node.yaml", "path to node config")
	cmd.Flags().BoolVar(&headless, "headless", false, "run without the interactive console (logs only)")
	return cmd
}

func runNode(configPath string, headless bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := buildLogger(headless)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	id, err := identity.Load(cfg.IdentitySeed)
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}

	kv, err := store.NewJSONFile(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	trustStore := trust.New(kv)
	limiter := ratelimit.NewWithLimits(cfg.RateLimitTable())
	replay := ratelimit.NewReplay()
	reentry := guard.New()

	var con *console
	logHandler := agent.LogHandler(func(session string, plaintext []byte, senderSignPub []byte) {
		logger.Info("log received",
			zap.String("session", session),
			zap.String("from", identity.ShortID(senderSignPub)))
		if con != nil {
			con.Printf("[log:%s] %s", session, plaintext)
		}
	})

	listener := &wire.Listener{
		ID:      id,
		Trust:   trustStore,
		Replay:  replay,
		Limiter: limiter,
		Guard:   reentry,
		Log:     logHandler,
		Inject:  agent.EchoInjectHandler,
		Logger:  logger,
	}

	h, err := swarm.NewHost(id, 0)
	if err != nil {
		return fmt.Errorf("create host: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bootstrapPeers := joinBootstrap(ctx, h, cfg, logger)

	rendezvous, err := swarm.NewRendezvous(ctx, h, bootstrapPeers, func(stream wire.Stream, peerInfo peer.AddrInfo) {
		listener.Serve(stream)
	}, logger)
	if err != nil {
		h.Close()
		return fmt.Errorf("create rendezvous: %w", err)
	}
	// rendezvous.Destroy closes both the DHT and h; no separate h.Close.
	defer rendezvous.Destroy()

	if err := rendezvous.Join(ctx, id.Topic(), swarm.JoinOptions{Server: true}); err != nil {
		return fmt.Errorf("join own topic: %w", err)
	}

	logger.Info("node started",
		zap.String("peer_id", id.PeerID.String()),
		zap.String("short_id", id.ShortID()),
		zap.String("topic", fmt.Sprintf("%x", id.Topic())))
	for _, addr := range h.Addrs() {
		logger.Info("listening", zap.String("addr", fmt.Sprintf("%s/p2p/%s", addr, id.PeerID)))
	}

	if headless {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		return nil
	}

	con, err = newConsole()
	if err != nil {
		return fmt.Errorf("start console: %w", err)
	}
	defer con.Close()

	con.Printf("wopr-node %s up (short id %s)", id.PeerID, id.ShortID())
	con.Printf("commands: /peers /topic /quit")
	con.REPL(func(line string) {
		switch line {
		case "/peers":
			for _, addr := range h.Addrs() {
				con.Printf("%s/p2p/%s", addr, id.PeerID)
			}
		case "/topic":
			con.Printf("topic: %x", id.Topic())
		default:
			con.Printf("unknown command: %s", line)
		}
	})
	return nil
}

// buildLogger follows spec.md/SPEC_FULL.md §4.J: the console owns
// stdout for human REPL output, so the headed path logs to a file
// instead of fighting the console for the terminal.
func buildLogger(headless bool) (*zap.Logger, error) {
	if headless {
		return zap.NewProduction()
	}
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"wopr-node.log"}
	cfg.ErrorOutputPaths = []string{"wopr-node.log"}
	return cfg.Build()
}

// joinBootstrap registers with the optional bootstrap-peer directory
// from node.yaml, returning the roster to seed the DHT routing table
// with (spec.md §4.E's private-swarm bootstrap path). A bad or
// unreachable directory is logged and treated as "no bootstrap peers"
// rather than a fatal error — the DHT can still find peers on its own.
func joinBootstrap(ctx context.Context, h host.Host, cfg *config.NodeConfig, logger *zap.Logger) []peer.AddrInfo {
	if cfg.Bootstrap == nil {
		return nil
	}
	addr, err := multiaddr.NewMultiaddr(cfg.Bootstrap.Addr)
	if err != nil {
		logger.Warn("bad bootstrap address", zap.Error(err))
		return nil
	}
	info, err := peer.AddrInfoFromP2pAddr(addr)
	if err != nil {
		logger.Warn("resolve bootstrap address", zap.Error(err))
		return nil
	}
	peers, err := swarm.RegisterWithDirectory(ctx, h, *info, cfg.Bootstrap.Nickname, cfg.Bootstrap.Token)
	if err != nil {
		logger.Warn("bootstrap registration failed", zap.Error(err))
		return nil
	}
	return peers
}
