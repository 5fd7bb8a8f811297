// Package node implements the single-threaded cooperative event loop
// that owns a node's transport, handshake state machine, session
// table and message exchange (spec.md §4.8). All mutation of those
// structures happens on the loop goroutine; external callers only
// reach them through the channels and methods this package exposes,
// giving a single-writer model with no locking at the node level
// (spec.md §5).
//
// Grounded on client/daemon/main.go's flag-driven bootstrap and
// load-or-generate-identity pattern, and on client/daemon/connection.go's
// select-loop / reconnect-backoff shape, cross-checked against
// original_source/apps/cli/src/chat.rs's tokio::select! loop (handshake
// multiplexed into gossip delivery; /help /peers /clear /whoami /quit
// /exit session commands).
package node

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/umbra-chat/umbra/pkg/crypto/hybridsig"
	"github.com/umbra-chat/umbra/pkg/exchange"
	"github.com/umbra-chat/umbra/pkg/handshake"
	"github.com/umbra-chat/umbra/pkg/identity"
	"github.com/umbra-chat/umbra/pkg/logging"
	"github.com/umbra-chat/umbra/pkg/persistence"
	"github.com/umbra-chat/umbra/pkg/session"
	"github.com/umbra-chat/umbra/pkg/transport"
	"github.com/umbra-chat/umbra/pkg/wire"
)

// EventKind distinguishes the UI-facing notifications a Node emits.
type EventKind int

const (
	// EventConnected fires when a transport-level connection comes up,
	// before the handshake has necessarily completed.
	EventConnected EventKind = iota
	// EventDisconnected fires when a transport-level connection drops.
	EventDisconnected
	// EventHandshakeDone fires once a peer reaches the Established state.
	EventHandshakeDone
	// EventMessage fires for each successfully decrypted chat message.
	EventMessage
	// EventDecryptFailed fires when an inbound frame fails to open; the
	// node keeps running (spec.md §7: one bad frame never kills it).
	EventDecryptFailed
	// EventWarning carries a recoverable condition worth surfacing to
	// the UI (missing pinned key, proof failure, etc).
	EventWarning
)

// Event is one UI-facing notification drained from Node.Events().
type Event struct {
	Kind    EventKind
	Peer    transport.PeerID
	Message *exchange.Decoded
	Err     error
	Text    string
}

// Config bundles the tunables the loop needs beyond its collaborators.
type Config struct {
	Topic             string
	Username          string
	HandshakeDeadline time.Duration
	ReconnectInterval time.Duration
}

// Node is one chat participant: simultaneously a client (emitting and
// displaying messages) and an infrastructure participant (forwarding
// published messages, serving as a handshake counterparty).
type Node struct {
	cfg       Config
	transport transport.Transport
	hs        *handshake.Machine
	sessions  *session.Manager
	exchange  *exchange.Exchange
	log       *logging.Logger

	localInput chan string
	events     chan Event

	// pendingDials remembers the dial address behind each outbound
	// connection attempt, keyed by the transport.PeerID that attempt's
	// ConnEstablished event carries (for the QUIC transport this is the
	// address itself until any future rebind). It lets onHandshakeCompleted
	// populate the peer-directory cache with a real dial address instead
	// of just a bare peer id.
	pendingDials map[transport.PeerID]string
	// reconnected carries dial addresses from background reconnect
	// attempts (see tryReconnect) back onto the loop goroutine, so
	// pendingDials is only ever written from Run's single goroutine.
	reconnected chan string

	redis   *persistence.RedisCache
	history *persistence.PostgresStore
}

// New wires a Node from its already-constructed collaborators. id and
// prover may be nil (no ZK pseudonym attached to outbound messages, no
// proof verification attempted on inbound ones).
func New(cfg Config, t transport.Transport, signKey *hybridsig.Key, id *identity.Identity, prover *identity.Prover, log *logging.Logger) *Node {
	if cfg.HandshakeDeadline <= 0 {
		cfg.HandshakeDeadline = handshake.DefaultHandshakeDeadline
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 5 * time.Second
	}
	if log == nil {
		log = logging.GetDefaultLogger()
	}

	local := session.PeerID(t.LocalPeer())
	sessions := session.NewManager(local, signKey)

	return &Node{
		cfg:          cfg,
		transport:    t,
		hs:           handshake.NewMachine(local, signKey, cfg.ReconnectInterval),
		sessions:     sessions,
		exchange:     exchange.New(sessions, log, id, prover),
		log:          log,
		localInput:   make(chan string, 32),
		events:       make(chan Event, 256),
		pendingDials: make(map[transport.PeerID]string),
		reconnected:  make(chan string, 8),
	}
}

// SetPeerCache enables the optional Redis-backed peer-directory cache:
// successful handshakes with dialed peers are remembered, and a
// transport disconnect triggers a best-effort reconnect to the
// last-known address (spec.md §3's supplemental peer-cache feature).
func (n *Node) SetPeerCache(c *persistence.RedisCache) { n.redis = c }

// SetHistoryStore enables the optional Postgres-backed scrollback log:
// every successfully decrypted message is appended, and History serves
// it back out (spec.md §3's supplemental history feature).
func (n *Node) SetHistoryStore(s *persistence.PostgresStore) { n.history = s }

// History returns the most recent scrollback entries exchanged with
// peer, oldest first. Returns an error if no history store is enabled.
func (n *Node) History(peer transport.PeerID, limit int) ([]persistence.ScrollbackEntry, error) {
	if n.history == nil {
		return nil, fmt.Errorf("node: no history store enabled")
	}
	return n.history.Recent(string(peer), limit)
}

// Start subscribes to the configured topic. Must be called before Run.
func (n *Node) Start() error {
	return n.transport.Subscribe(n.cfg.Topic)
}

// Dial attempts an outbound connection; success surfaces later as a
// ConnEstablished transport event, handled by the loop.
func (n *Node) Dial(ctx context.Context, addr string) error {
	if err := n.transport.Dial(ctx, addr); err != nil {
		return err
	}
	n.pendingDials[transport.PeerID(addr)] = addr
	return nil
}

// SendLocalInput queues one line of interactive input (spec.md §4.8's
// "local input" select arm) for the loop to process as an outbound
// chat message.
func (n *Node) SendLocalInput(line string) {
	select {
	case n.localInput <- line:
	default:
		n.log.Warn("local input channel full, dropping line")
	}
}

// Events yields UI-facing notifications.
func (n *Node) Events() <-chan Event { return n.events }

// Peers lists currently connected transport peers.
func (n *Node) Peers() []transport.PeerID { return n.transport.ConnectedPeers() }

// LocalPeer returns this node's stable identifier.
func (n *Node) LocalPeer() transport.PeerID { return n.transport.LocalPeer() }

// Run drives the event loop until ctx is cancelled or the transport
// closes. All loop state is handled on the calling goroutine; the only
// other goroutines the node starts are tryReconnect's delayed redials.
// Suspension occurs only at the select boundary (spec.md §5).
func (n *Node) Run(ctx context.Context) error {
	deadlineTicker := time.NewTicker(n.cfg.HandshakeDeadline / 2)
	defer deadlineTicker.Stop()
	cleanupTicker := time.NewTicker(time.Minute)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-n.transport.Events():
			if !ok {
				return fmt.Errorf("node: transport event channel closed")
			}
			n.onConnEvent(ctx, ev)

		case gm, ok := <-n.transport.Inbound():
			if !ok {
				return fmt.Errorf("node: transport inbound channel closed")
			}
			n.onGossip(gm)

		case line := <-n.localInput:
			n.onLocalInput(line)

		case addr := <-n.reconnected:
			n.pendingDials[transport.PeerID(addr)] = addr

		case <-deadlineTicker.C:
			for _, p := range n.transport.ConnectedPeers() {
				n.hs.CheckDeadline(p, n.cfg.HandshakeDeadline)
			}

		case <-cleanupTicker.C:
			n.sessions.Cleanup()
		}
	}
}

// onConnEvent handles a transport connection lifecycle notification:
// ConnectionEstablished emits a UI event and idempotently initiates a
// handshake; ConnectionClosed just notifies the UI.
func (n *Node) onConnEvent(ctx context.Context, ev transport.ConnEvent) {
	switch ev.Kind {
	case transport.ConnEstablished:
		n.emit(Event{Kind: EventConnected, Peer: ev.Peer})
		n.initiateHandshake(ev.Peer)
	case transport.ConnClosed:
		n.emit(Event{Kind: EventDisconnected, Peer: ev.Peer})
		n.tryReconnect(ctx, ev.Peer)
	}
}

// tryReconnect consults the peer-directory cache for peer's last-known
// dial address and, if found, redials after the configured backoff. The
// wait and the dial itself run off the loop goroutine
// (client/daemon/connection.go's reconnect-backoff idiom) so a slow or
// hanging connect never stalls event processing; the transport's own
// ConnEstablished event (consumed back on the loop goroutine, same as
// any other dial) reports success. n.transport.Dial is called directly
// rather than n.Dial so pendingDials is only ever written from the loop
// goroutine — see the reconnected channel below.
func (n *Node) tryReconnect(ctx context.Context, peer transport.PeerID) {
	if n.redis == nil {
		return
	}
	rec, ok, err := n.redis.LookupPeer(string(peer))
	if err != nil {
		n.emit(Event{Kind: EventWarning, Peer: peer, Err: err, Text: "peer-cache lookup failed"})
		return
	}
	if !ok || rec.Address == "" {
		return
	}
	backoff := n.cfg.ReconnectInterval
	go func() {
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		if err := n.transport.Dial(ctx, rec.Address); err != nil {
			n.emit(Event{Kind: EventWarning, Peer: peer, Err: err, Text: "reconnect dial failed"})
			return
		}
		select {
		case n.reconnected <- rec.Address:
		case <-ctx.Done():
		}
	}()
}

func (n *Node) initiateHandshake(peer transport.PeerID) {
	init, err := n.hs.Initiate(session.PeerID(peer))
	if err != nil {
		n.emit(Event{Kind: EventWarning, Peer: peer, Err: err, Text: "handshake initiate failed"})
		return
	}
	if init == nil {
		return // already AwaitResp/Established/backing off
	}
	frame := wire.EncodeFrame(wire.TypeHandshakeInit, init.Encode())
	if err := n.transport.Publish(n.cfg.Topic, frame); err != nil {
		n.emit(Event{Kind: EventWarning, Peer: peer, Err: err, Text: "failed to send handshake Init"})
	}
}

// onGossip implements spec.md §4.8's dispatch: try to decode as a
// handshake message first; otherwise forward to the message exchange
// as an application-layer encrypted chat message.
func (n *Node) onGossip(gm transport.GossipMessage) {
	if gm.Topic != n.cfg.Topic {
		return
	}

	if init, resp, err := wire.DecodeHandshakeMessage(gm.Data); err == nil {
		n.onHandshakeFrame(gm.From, init, resp)
		return
	}

	n.onChatFrame(gm.From, gm.Data)
}

func (n *Node) onHandshakeFrame(from transport.PeerID, init *wire.HandshakeInit, resp *wire.HandshakeResp) {
	switch {
	case init != nil:
		out, completed, err := n.hs.OnInit(session.PeerID(from), init)
		if err != nil {
			n.emit(Event{Kind: EventWarning, Peer: from, Err: err, Text: "Init verification failed"})
			return
		}
		if out != nil {
			frame := wire.EncodeFrame(wire.TypeHandshakeResp, out.Encode())
			if err := n.transport.Publish(n.cfg.Topic, frame); err != nil {
				n.emit(Event{Kind: EventWarning, Peer: from, Err: err, Text: "failed to send handshake Resp"})
			}
		}
		n.onHandshakeCompleted(from, completed)

	case resp != nil:
		completed, err := n.hs.OnResp(session.PeerID(from), resp)
		if err != nil {
			n.emit(Event{Kind: EventWarning, Peer: from, Err: err, Text: "Resp verification failed"})
			return
		}
		n.onHandshakeCompleted(from, completed)
	}
}

// onHandshakeCompleted implements spec.md §4.8's
// `HandshakeEvent::Completed` handler.
func (n *Node) onHandshakeCompleted(peer transport.PeerID, completed *handshake.Completed) {
	if completed == nil {
		return
	}
	n.sessions.RegisterPeer(session.PeerID(peer), completed.ClassicalVerifyKey)
	n.sessions.SetSessionKey(session.PeerID(peer), completed.SessionKey)
	n.emit(Event{Kind: EventHandshakeDone, Peer: peer})
	n.rememberPeer(peer, completed.ClassicalVerifyKey)
}

// rememberPeer records peer's dial address in the peer-directory cache,
// but only for peers this node itself dialed (pendingDials) — there is
// no useful address to cache for an inbound or relayed connection.
func (n *Node) rememberPeer(peer transport.PeerID, verifyKey []byte) {
	if n.redis == nil {
		return
	}
	addr, ok := n.pendingDials[peer]
	if !ok {
		return
	}
	rec := persistence.PeerRecord{
		PeerID:      string(peer),
		Address:     addr,
		VerifyKeyFP: hex.EncodeToString(verifyKey),
		LastSeen:    time.Now(),
	}
	if err := n.redis.RememberPeer(rec); err != nil {
		n.emit(Event{Kind: EventWarning, Peer: peer, Err: err, Text: "peer-cache remember failed"})
	}
}

func (n *Node) onChatFrame(from transport.PeerID, data []byte) {
	decoded, err := n.exchange.Decrypt(session.PeerID(from), data)
	if err != nil {
		n.emit(Event{Kind: EventDecryptFailed, Peer: from, Err: err})
		return
	}
	n.emit(Event{Kind: EventMessage, Peer: from, Message: decoded})
	n.recordHistory(from, decoded)
}

// recordHistory appends a successfully decrypted message to the
// scrollback log, when one is enabled. A failure here never affects
// message delivery, matching the "never abort" handling used elsewhere
// in this loop for recoverable conditions.
func (n *Node) recordHistory(peer transport.PeerID, msg *exchange.Decoded) {
	if n.history == nil {
		return
	}
	entry := persistence.ScrollbackEntry{
		Peer:      string(peer),
		Username:  msg.Username,
		Content:   msg.Content,
		Timestamp: time.Now(),
	}
	if msg.VerifiedIdentity != nil {
		entry.VerifiedIdentity = hex.EncodeToString(msg.VerifiedIdentity)
	}
	if err := n.history.Append(entry); err != nil {
		n.emit(Event{Kind: EventWarning, Peer: peer, Err: err, Text: "history append failed"})
	}
}

// onLocalInput seals and broadcasts one outbound line to every
// currently connected peer. Each peer gets its own sealed frame under
// its own (possibly provisional) session key, so an eavesdropper who
// is not the addressed peer only ever observes an authenticated
// ciphertext it cannot open — it is not a group cipher.
func (n *Node) onLocalInput(line string) {
	peers := n.transport.ConnectedPeers()
	if len(peers) == 0 {
		n.emit(Event{Kind: EventWarning, Text: "no peers connected"})
		return
	}
	for _, peer := range peers {
		frame, err := n.exchange.Encrypt(session.PeerID(peer), n.cfg.Username, line)
		if err != nil {
			n.emit(Event{Kind: EventWarning, Peer: peer, Err: err, Text: "encrypt failed"})
			continue
		}
		if err := n.transport.Publish(n.cfg.Topic, frame); err != nil {
			n.emit(Event{Kind: EventWarning, Peer: peer, Err: err, Text: "publish failed"})
		}
	}
}

func (n *Node) emit(ev Event) {
	select {
	case n.events <- ev:
	default:
		n.log.Warn("event channel full, dropping UI event")
	}
}

// Close tears down the transport.
func (n *Node) Close() error {
	return n.transport.Close()
}
