package transport

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
)

// maxGossipFrame bounds a single topic-delivery frame; larger frames
// are rejected rather than silently truncated.
const maxGossipFrame = 1 << 20

// QUICTransport is a direct, full-mesh transport: every dialed or
// accepted peer becomes a stream, and Publish fans a frame out to
// every connected peer. Subscribe records the topic, but neither
// Publish nor the read loop consults it.
type QUICTransport struct {
	local    PeerID
	listener *quic.Listener
	tlsConf  *tls.Config
	quicConf *quic.Config

	mu      sync.RWMutex
	peers   map[PeerID]*quicPeer
	topics  map[string]struct{}
	closed  bool

	inbound chan GossipMessage
	events  chan ConnEvent
}

type quicPeer struct {
	id     PeerID
	conn   *quic.Conn
	stream *quic.Stream
	sendMu sync.Mutex
}

// NewQUICTransport listens on addr and returns a transport identified
// by local. Self-signed TLS is generated if tlsConf is nil, matching
// the teacher's own local-dev bootstrap.
func NewQUICTransport(local PeerID, addr string, tlsConf *tls.Config) (*QUICTransport, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve udp addr: %w", err)
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen udp: %w", err)
	}

	if tlsConf == nil {
		tlsConf, err = selfSignedTLSConfig()
		if err != nil {
			udpConn.Close()
			return nil, fmt.Errorf("transport: generate tls config: %w", err)
		}
	}

	quicConf := &quic.Config{
		MaxIncomingStreams: 16,
		KeepAlivePeriod:    10 * time.Second,
		MaxIdleTimeout:     60 * time.Second,
	}

	listener, err := quic.Listen(udpConn, tlsConf, quicConf)
	if err != nil {
		udpConn.Close()
		return nil, fmt.Errorf("transport: quic listen: %w", err)
	}

	t := &QUICTransport{
		local:    local,
		listener: listener,
		tlsConf:  tlsConf,
		quicConf: quicConf,
		peers:    make(map[PeerID]*quicPeer),
		topics:   make(map[string]struct{}),
		inbound:  make(chan GossipMessage, 256),
		events:   make(chan ConnEvent, 64),
	}

	log.Printf("[quic-transport] %s listening on %s", local, addr)
	go t.acceptLoop()
	return t, nil
}

func (t *QUICTransport) LocalPeer() PeerID { return t.local }

func (t *QUICTransport) Subscribe(topic string) error {
	t.mu.Lock()
	t.topics[topic] = struct{}{}
	t.mu.Unlock()
	return nil
}

func (t *QUICTransport) ConnectedPeers() []PeerID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]PeerID, 0, len(t.peers))
	for id := range t.peers {
		out = append(out, id)
	}
	return out
}

func (t *QUICTransport) Inbound() <-chan GossipMessage { return t.inbound }
func (t *QUICTransport) Events() <-chan ConnEvent      { return t.events }

// Publish frames `topic length (2 bytes, big-endian)‖topic‖data` and
// writes it to every live peer.
// Idle transport connections are the responsibility of the reconnect
// policy in pkg/node, not of Publish itself.
func (t *QUICTransport) Publish(topic string, data []byte) error {
	t.mu.RLock()
	peers := make([]*quicPeer, 0, len(t.peers))
	for _, p := range t.peers {
		peers = append(peers, p)
	}
	t.mu.RUnlock()

	if len(peers) == 0 {
		return ErrNotConnected
	}

	frame := encodeTopicFrame(topic, data)
	var lastErr error
	sent := 0
	for _, p := range peers {
		if err := p.write(frame); err != nil {
			lastErr = err
			continue
		}
		sent++
	}
	if sent == 0 && lastErr != nil {
		return fmt.Errorf("transport: publish: %w", lastErr)
	}
	return nil
}

func (t *QUICTransport) Dial(ctx context.Context, addr string) error {
	conn, err := quic.DialAddr(ctx, addr, t.tlsConf, t.quicConf)
	if err != nil {
		return fmt.Errorf("transport: dial: %w", err)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(1, "open stream failed")
		return fmt.Errorf("transport: open stream: %w", err)
	}
	// The peer's stable ID is learned through the handshake, which
	// rides this same stream; until then it is addressed by its dial
	// address.
	p := &quicPeer{id: PeerID(addr), conn: conn, stream: stream}
	t.mu.Lock()
	t.peers[p.id] = p
	t.mu.Unlock()

	go t.readLoop(p)
	t.emitEvent(ConnEvent{Kind: ConnEstablished, Peer: p.id})
	return nil
}

// Rebind replaces the placeholder dial-address key for a peer with its
// real PeerID once the handshake resolves it.
func (t *QUICTransport) Rebind(old, new PeerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.peers[old]; ok && old != new {
		delete(t.peers, old)
		p.id = new
		t.peers[new] = p
	}
}

func (t *QUICTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrAlreadyClosed
	}
	t.closed = true
	peers := t.peers
	t.peers = make(map[PeerID]*quicPeer)
	t.mu.Unlock()

	for _, p := range peers {
		p.stream.Close()
		p.conn.CloseWithError(0, "transport closed")
	}
	close(t.inbound)
	close(t.events)
	return t.listener.Close()
}

func (t *QUICTransport) acceptLoop() {
	ctx := context.Background()
	for {
		conn, err := t.listener.Accept(ctx)
		if err != nil {
			return
		}
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			conn.CloseWithError(1, "accept stream failed")
			continue
		}
		p := &quicPeer{id: PeerID(conn.RemoteAddr().String()), conn: conn, stream: stream}
		t.mu.Lock()
		t.peers[p.id] = p
		t.mu.Unlock()

		go t.readLoop(p)
		t.emitEvent(ConnEvent{Kind: ConnEstablished, Peer: p.id})
	}
}

func (t *QUICTransport) readLoop(p *quicPeer) {
	defer func() {
		t.mu.Lock()
		delete(t.peers, p.id)
		t.mu.Unlock()
		t.emitEvent(ConnEvent{Kind: ConnClosed, Peer: p.id})
	}()

	for {
		lenPrefix := make([]byte, 4)
		if _, err := io.ReadFull(p.stream, lenPrefix); err != nil {
			return
		}
		n := binary.BigEndian.Uint32(lenPrefix)
		if n == 0 || n > maxGossipFrame {
			return
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(p.stream, buf); err != nil {
			return
		}
		topic, data, err := decodeTopicFrame(buf)
		if err != nil {
			continue
		}
		msg := GossipMessage{From: p.id, Topic: topic, Data: data}
		select {
		case t.inbound <- msg:
		default:
			log.Printf("[quic-transport] inbound channel full, dropping frame from %s", p.id)
		}
	}
}

func (t *QUICTransport) emitEvent(ev ConnEvent) {
	select {
	case t.events <- ev:
	default:
		log.Printf("[quic-transport] event channel full, dropping %v for %s", ev.Kind, ev.Peer)
	}
}

func (p *quicPeer) write(frame []byte) error {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	lenPrefix := make([]byte, 4)
	binary.BigEndian.PutUint32(lenPrefix, uint32(len(frame)))
	if _, err := p.stream.Write(lenPrefix); err != nil {
		return err
	}
	_, err := p.stream.Write(frame)
	return err
}

func encodeTopicFrame(topic string, data []byte) []byte {
	tb := []byte(topic)
	out := make([]byte, 2+len(tb)+len(data))
	binary.BigEndian.PutUint16(out[0:2], uint16(len(tb)))
	copy(out[2:], tb)
	copy(out[2+len(tb):], data)
	return out
}

func decodeTopicFrame(buf []byte) (string, []byte, error) {
	if len(buf) < 2 {
		return "", nil, fmt.Errorf("transport: short topic frame")
	}
	n := binary.BigEndian.Uint16(buf[0:2])
	if len(buf) < 2+int(n) {
		return "", nil, fmt.Errorf("transport: truncated topic frame")
	}
	return string(buf[2 : 2+int(n)]), buf[2+int(n):], nil
}
