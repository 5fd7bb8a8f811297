package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const relayPingInterval = 20 * time.Second

// RelayTransport is the NAT-traversal fallback: instead of a direct
// QUIC mesh, every peer dials a single relay endpoint over a
// WebSocket and the relay rebroadcasts each topic frame to every
// other connected client. It implements the same narrow Transport
// interface as QUICTransport so pkg/node never has to know which one
// it was handed.
type RelayTransport struct {
	local PeerID
	conn  *websocket.Conn

	mu     sync.Mutex
	closed bool
	topics map[string]struct{}

	inbound chan GossipMessage
	events  chan ConnEvent
}

// DialRelay opens a WebSocket connection to a relay at url (ws:// or
// wss://) and registers as local. The relay is treated as a single
// "connected peer" from ConnectedPeers' point of view; real peer
// identities surface only in the From field of delivered messages.
func DialRelay(ctx context.Context, local PeerID, relayURL string) (*RelayTransport, error) {
	if _, err := url.Parse(relayURL); err != nil {
		return nil, fmt.Errorf("transport: invalid relay url: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, relayURL, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dial relay: %w", err)
	}

	t := &RelayTransport{
		local:   local,
		conn:    conn,
		topics:  make(map[string]struct{}),
		inbound: make(chan GossipMessage, 256),
		events:  make(chan ConnEvent, 16),
	}

	go t.readLoop()
	go t.pingLoop()
	t.emitEvent(ConnEvent{Kind: ConnEstablished, Peer: PeerID(relayURL)})
	log.Printf("[relay-transport] %s connected to relay %s", local, relayURL)
	return t, nil
}

func (t *RelayTransport) LocalPeer() PeerID { return t.local }

func (t *RelayTransport) Subscribe(topic string) error {
	t.mu.Lock()
	t.topics[topic] = struct{}{}
	t.mu.Unlock()
	return t.send(encodeRelayFrame(relayFrameSubscribe, t.local, topic, nil))
}

func (t *RelayTransport) Publish(topic string, data []byte) error {
	return t.send(encodeRelayFrame(relayFrameGossip, t.local, topic, data))
}

// Dial is a no-op for the relay transport: there is exactly one
// connection to maintain, established by DialRelay, and the relay
// itself is responsible for reaching other peers.
func (t *RelayTransport) Dial(ctx context.Context, addr string) error {
	return nil
}

func (t *RelayTransport) ConnectedPeers() []PeerID {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	return []PeerID{t.local}
}

func (t *RelayTransport) Inbound() <-chan GossipMessage { return t.inbound }
func (t *RelayTransport) Events() <-chan ConnEvent      { return t.events }

func (t *RelayTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrAlreadyClosed
	}
	t.closed = true
	t.mu.Unlock()

	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "closing")
	_ = t.conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
	err := t.conn.Close()
	close(t.inbound)
	close(t.events)
	return err
}

func (t *RelayTransport) send(frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrAlreadyClosed
	}
	_ = t.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return t.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (t *RelayTransport) readLoop() {
	defer func() {
		t.emitEvent(ConnEvent{Kind: ConnClosed, Peer: t.local})
	}()
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			return
		}
		kind, from, topic, payload, err := decodeRelayFrame(data)
		if err != nil || kind != relayFrameGossip {
			continue
		}
		msg := GossipMessage{From: from, Topic: topic, Data: payload}
		select {
		case t.inbound <- msg:
		default:
			log.Printf("[relay-transport] inbound channel full, dropping frame from %s", from)
		}
	}
}

func (t *RelayTransport) pingLoop() {
	ticker := time.NewTicker(relayPingInterval)
	defer ticker.Stop()
	for range ticker.C {
		t.mu.Lock()
		closed := t.closed
		t.mu.Unlock()
		if closed {
			return
		}
		if err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
			return
		}
	}
}

func (t *RelayTransport) emitEvent(ev ConnEvent) {
	select {
	case t.events <- ev:
	default:
	}
}

type relayFrameKind byte

const (
	relayFrameSubscribe relayFrameKind = iota
	relayFrameGossip
)

// encodeRelayFrame lays out: kind(1) ‖ len(sender)(2) ‖ sender ‖
// len(topic)(2) ‖ topic ‖ payload. All lengths are little-endian per
// spec.md §6's numeric-field convention.
func encodeRelayFrame(kind relayFrameKind, from PeerID, topic string, payload []byte) []byte {
	fb := []byte(from)
	tb := []byte(topic)
	out := make([]byte, 1+2+len(fb)+2+len(tb)+len(payload))
	out[0] = byte(kind)
	off := 1
	binary.LittleEndian.PutUint16(out[off:], uint16(len(fb)))
	off += 2
	copy(out[off:], fb)
	off += len(fb)
	binary.LittleEndian.PutUint16(out[off:], uint16(len(tb)))
	off += 2
	copy(out[off:], tb)
	off += len(tb)
	copy(out[off:], payload)
	return out
}

func decodeRelayFrame(buf []byte) (relayFrameKind, PeerID, string, []byte, error) {
	if len(buf) < 1+2 {
		return 0, "", "", nil, fmt.Errorf("transport: short relay frame")
	}
	kind := relayFrameKind(buf[0])
	off := 1
	fl := int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	if len(buf) < off+fl+2 {
		return 0, "", "", nil, fmt.Errorf("transport: truncated relay frame")
	}
	from := PeerID(buf[off : off+fl])
	off += fl
	tl := int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	if len(buf) < off+tl {
		return 0, "", "", nil, fmt.Errorf("transport: truncated relay frame")
	}
	topic := string(buf[off : off+tl])
	off += tl
	return kind, from, topic, buf[off:], nil
}
