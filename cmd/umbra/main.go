// Command umbra is the reference CLI for a chat node: it bootstraps a
// node's identity and transport, joins a gossip topic, and drives the
// interactive session. Grounded on client/cli/main.go's subcommand
// dispatch shape, but wires github.com/spf13/cobra for real — the
// teacher declares cobra as a direct dependency yet its own binaries
// parse flags by hand.
package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/umbra-chat/umbra/pkg/config"
	"github.com/umbra-chat/umbra/pkg/crypto/hybridsig"
	"github.com/umbra-chat/umbra/pkg/identity"
	"github.com/umbra-chat/umbra/pkg/logging"
	"github.com/umbra-chat/umbra/pkg/node"
	"github.com/umbra-chat/umbra/pkg/persistence"
	"github.com/umbra-chat/umbra/pkg/transport"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "umbra",
		Short: "Decentralized, end-to-end encrypted gossip chat node",
	}
	root.AddCommand(newStartCmd(), newIdentityCmd(), newInfoCmd())
	return root
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Print build metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("umbra %s\n", version)
			fmt.Println("hybrid KEM:       X25519 + ML-KEM-1024")
			fmt.Println("hybrid signature: Ed25519 + ML-DSA-87")
			fmt.Println("zk identity:      toy x^5 circuit over BN254")
			return nil
		},
	}
}

func newIdentityCmd() *cobra.Command {
	var dataDir string
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Manage the password-derived pseudonymous identity",
	}
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", ".", "node data directory")

	cmd.AddCommand(&cobra.Command{
		Use:   "create <password>",
		Short: "Derive and persist a new identity and proving keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := identity.Create([]byte(args[0]))
			if err != nil {
				return fmt.Errorf("create identity: %w", err)
			}
			if err := os.MkdirAll(dataDir, 0o755); err != nil {
				return fmt.Errorf("create data dir: %w", err)
			}
			idPath := filepath.Join(dataDir, "umbra_identity.bin")
			if err := id.Save(idPath); err != nil {
				return fmt.Errorf("save identity: %w", err)
			}

			fmt.Println("running trusted setup for the identity circuit (this takes a few seconds)...")
			prover, err := identity.NewProver([]byte(args[0]))
			if err != nil {
				return fmt.Errorf("setup prover: %w", err)
			}
			keysPath := filepath.Join(dataDir, "umbra_keys.bin")
			if err := prover.Save(keysPath); err != nil {
				return fmt.Errorf("save keys: %w", err)
			}

			fmt.Printf("identity id: %s\n", hex.EncodeToString(id.ID[:]))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the current identity's public commitment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			idPath := filepath.Join(dataDir, "umbra_identity.bin")
			id, err := identity.Load(idPath)
			if err != nil {
				return fmt.Errorf("load identity: %w", err)
			}
			fmt.Printf("identity id: %s\n", hex.EncodeToString(id.ID[:]))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "verify <proof_hex> <id_hex>",
		Short: "Verify a standalone ZK identity proof against a commitment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			proof, err := hex.DecodeString(args[0])
			if err != nil {
				return fmt.Errorf("decode proof hex: %w", err)
			}
			idBytes, err := hex.DecodeString(args[1])
			if err != nil || len(idBytes) != 32 {
				return fmt.Errorf("id must be 32 bytes of hex")
			}
			keysPath := filepath.Join(dataDir, "umbra_keys.bin")
			prover, err := identity.LoadProver(keysPath)
			if err != nil {
				return fmt.Errorf("load proving keys: %w", err)
			}
			var idArr [32]byte
			copy(idArr[:], idBytes)
			tmp := &identity.Identity{ID: idArr}
			ok, err := prover.Verify(proof, tmp.IDField())
			if err != nil {
				return fmt.Errorf("verify: %w", err)
			}
			fmt.Printf("valid: %v\n", ok)
			return nil
		},
	})

	return cmd
}

func newStartCmd() *cobra.Command {
	var (
		port     int
		connect  string
		topic    string
		username string
		dataDir  string
		relay    string
	)
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Launch a node, subscribe to a topic, optionally dial a peer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.GenerateDefault(dataDir)
			cfg.Node.Port = port
			cfg.Node.Topic = topic
			cfg.Node.Username = username
			cfg.Node.Connect = connect
			if relay != "" {
				cfg.Transport.Mode = "relay"
				cfg.Transport.RelayURL = relay
			}
			return runNode(cfg)
		},
	}
	cmd.Flags().IntVar(&port, "port", 7470, "UDP port for the QUIC listener")
	cmd.Flags().StringVar(&connect, "connect", "", "peer address to dial on startup")
	cmd.Flags().StringVar(&topic, "topic", "umbra-general", "gossip topic to join")
	cmd.Flags().StringVar(&username, "username", "anonymous", "display name attached to sent messages")
	cmd.Flags().StringVar(&dataDir, "data-dir", ".", "node data directory")
	cmd.Flags().StringVar(&relay, "relay", "", "WebSocket relay URL (switches transport.mode to relay)")
	return cmd
}

func runNode(cfg *config.Config) error {
	log, err := logging.NewLogger("node", logging.INFO, cfg.Logging.OutputFile)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Close()

	signKey, err := hybridsig.Generate()
	if err != nil {
		return fmt.Errorf("generate identity signing key: %w", err)
	}

	var id *identity.Identity
	var prover *identity.Prover
	if loaded, err := identity.Load(cfg.Identity.IdentityFile); err == nil {
		id = loaded
		if p, err := identity.LoadProver(cfg.Identity.KeysFile); err == nil {
			prover = p
		} else {
			log.Warnf("identity present but proving keys missing, sending without ZK proof: %v", err)
		}
	}

	localPeer := transport.PeerID(fmt.Sprintf("umbra-%d", os.Getpid()))
	var tr transport.Transport
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	switch cfg.Transport.Mode {
	case "relay":
		tr, err = transport.DialRelay(ctx, localPeer, cfg.Transport.RelayURL)
	default:
		tr, err = transport.NewQUICTransport(localPeer, fmt.Sprintf("0.0.0.0:%d", cfg.Node.Port), nil)
	}
	if err != nil {
		return fmt.Errorf("start transport: %w", err)
	}

	n := node.New(node.Config{
		Topic:             cfg.Node.Topic,
		Username:          cfg.Node.Username,
		HandshakeDeadline: cfg.Transport.HandshakeDeadline,
		ReconnectInterval: cfg.Transport.ReconnectInterval,
	}, tr, signKey, id, prover, log)

	if cfg.Redis.Enabled {
		cache, err := persistence.NewRedisCache(persistence.RedisCacheConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
		})
		if err != nil {
			log.Warnf("peer-directory cache unavailable, reconnect lookups disabled: %v", err)
		} else {
			defer cache.Close()
			n.SetPeerCache(cache)
		}
	}
	if cfg.Postgres.Enabled {
		store, err := persistence.NewPostgresStore(persistence.Config{DSN: cfg.Postgres.DSN})
		if err != nil {
			log.Warnf("history log unavailable, /history disabled: %v", err)
		} else {
			defer store.Close()
			n.SetHistoryStore(store)
		}
	}

	if err := n.Start(); err != nil {
		return fmt.Errorf("subscribe to topic: %w", err)
	}
	if cfg.Node.Connect != "" {
		if err := n.Dial(ctx, cfg.Node.Connect); err != nil {
			log.Warnf("initial dial to %s failed: %v", cfg.Node.Connect, err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	go printEvents(n)
	go readStdin(n, cancel)

	fmt.Printf("umbra node %s listening, joined topic %q as %q\n", n.LocalPeer(), cfg.Node.Topic, cfg.Node.Username)
	fmt.Println("commands: /help /peers /history <peer> [limit] /clear /whoami /quit /exit")

	if err := n.Run(ctx); err != nil && err != context.Canceled {
		return fmt.Errorf("node run: %w", err)
	}
	return n.Close()
}

func printEvents(n *node.Node) {
	for ev := range n.Events() {
		switch ev.Kind {
		case node.EventConnected:
			fmt.Printf("[connected] %s\n", ev.Peer)
		case node.EventDisconnected:
			fmt.Printf("[disconnected] %s\n", ev.Peer)
		case node.EventHandshakeDone:
			fmt.Printf("[handshake complete] %s\n", ev.Peer)
		case node.EventMessage:
			fmt.Printf("<%s> %s\n", ev.Message.Username, ev.Message.Content)
		case node.EventDecryptFailed:
			fmt.Println("received encrypted message (decryption failed)")
		case node.EventWarning:
			fmt.Printf("[warn] %s: %v\n", ev.Text, ev.Err)
		}
	}
}

// printHistory handles "/history <peer> [limit]", printing the
// scrollback log's most recent entries for peer (default limit 20).
func printHistory(n *node.Node, line string) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		fmt.Println("usage: /history <peer> [limit]")
		return
	}
	peer := fields[1]
	limit := 20
	if len(fields) >= 3 {
		if v, err := strconv.Atoi(fields[2]); err == nil && v > 0 {
			limit = v
		}
	}

	entries, err := n.History(transport.PeerID(peer), limit)
	if err != nil {
		fmt.Printf("history unavailable: %v\n", err)
		return
	}
	if len(entries) == 0 {
		fmt.Println("no history for that peer")
		return
	}
	for _, e := range entries {
		fmt.Printf("[%s] <%s> %s\n", e.Timestamp.Format("15:04:05"), e.Username, e.Content)
	}
}

func readStdin(n *node.Node, cancel context.CancelFunc) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch line {
		case "/quit", "/exit":
			cancel()
			return
		case "/help":
			fmt.Println("/help /peers /history <peer> [limit] /clear /whoami /quit /exit")
			continue
		case "/peers":
			for _, p := range n.Peers() {
				fmt.Println(p)
			}
			continue
		case "/whoami":
			fmt.Println(n.LocalPeer())
			continue
		case "/clear":
			fmt.Print("\033[H\033[2J")
			continue
		}
		if strings.HasPrefix(line, "/history") {
			printHistory(n, line)
			continue
		}
		n.SendLocalInput(line)
	}
}
