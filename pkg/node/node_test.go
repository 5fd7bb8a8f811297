package node

import (
	"context"
	"testing"
	"time"

	"github.com/umbra-chat/umbra/pkg/crypto/hybridsig"
	"github.com/umbra-chat/umbra/pkg/transport"
)

func newTestNode(t *testing.T, tr transport.Transport, topic string) *Node {
	t.Helper()
	key, err := hybridsig.Generate()
	if err != nil {
		t.Fatalf("hybridsig.Generate() failed: %v", err)
	}
	n := New(Config{Topic: topic, Username: "tester", HandshakeDeadline: time.Second, ReconnectInterval: time.Second}, tr, key, nil, nil, nil)
	if err := n.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	return n
}

func waitForEvent(t *testing.T, n *Node, kind EventKind, timeout time.Duration) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-n.Events():
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event kind %v", kind)
		}
	}
}

// TestNodeHandshakeAndMessageRoundTrip is scenario S2+S4 from spec.md
// §8 driven through the real event loop: two nodes wired by a loopback
// transport complete the hybrid handshake and exchange one message.
func TestNodeHandshakeAndMessageRoundTrip(t *testing.T) {
	trA, trB := transport.NewLoopbackPair("alice", "bob")
	alice := newTestNode(t, trA, "general")
	bob := newTestNode(t, trB, "general")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go alice.Run(ctx)
	go bob.Run(ctx)

	waitForEvent(t, alice, EventHandshakeDone, 2*time.Second)
	waitForEvent(t, bob, EventHandshakeDone, 2*time.Second)

	alice.SendLocalInput("hello bob!")

	ev := waitForEvent(t, bob, EventMessage, 2*time.Second)
	if ev.Message.Username != "tester" || ev.Message.Content != "hello bob!" {
		t.Errorf("bob received %+v, want username=tester content=\"hello bob!\"", ev.Message)
	}
}

// TestNodeNoPeersWarnsOnSend exercises spec.md §7's "no peers
// connected" send-failure surfacing.
func TestNodeNoPeersWarnsOnSend(t *testing.T) {
	trA, _ := transport.NewLoopbackPair("alice", "bob")
	alice := newTestNode(t, trA, "general")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go alice.Run(ctx)

	// Drain the handshake-triggered events but never get to Established
	// since bob's side is never run; alice's onLocalInput still has bob
	// registered as a connected transport peer (loopback pairs are always
	// "connected"), so exercise the truly-no-peers path directly instead.
	empty := &Node{
		cfg:        Config{Topic: "general"},
		transport:  &zeroPeerTransport{},
		events:     make(chan Event, 8),
		localInput: make(chan string, 1),
		log:        alice.log,
		sessions:   alice.sessions,
		exchange:   alice.exchange,
		hs:         alice.hs,
	}
	empty.onLocalInput("hi")
	ev := waitForEvent(t, empty, EventWarning, time.Second)
	if ev.Text != "no peers connected" {
		t.Errorf("warning text = %q, want %q", ev.Text, "no peers connected")
	}
}

type zeroPeerTransport struct{}

func (zeroPeerTransport) LocalPeer() transport.PeerID            { return "nobody" }
func (zeroPeerTransport) Subscribe(topic string) error            { return nil }
func (zeroPeerTransport) Publish(topic string, data []byte) error { return transport.ErrNotConnected }
func (zeroPeerTransport) Dial(ctx context.Context, addr string) error {
	return nil
}
func (zeroPeerTransport) ConnectedPeers() []transport.PeerID    { return nil }
func (zeroPeerTransport) Inbound() <-chan transport.GossipMessage { return nil }
func (zeroPeerTransport) Events() <-chan transport.ConnEvent      { return nil }
func (zeroPeerTransport) Close() error                            { return nil }
