package transport

import "context"

// LoopbackPair wires two in-process Transport implementations directly
// to each other, with no network, TLS or relay involved. It exists for
// tests and the co-located integration harness (spec.md §8 S2/S4): it
// satisfies the same Transport interface real nodes use, so pkg/node
// can be exercised end-to-end without a listener.
type LoopbackPair struct {
	a, b *loopbackEnd
}

type loopbackEnd struct {
	local   PeerID
	peer    PeerID
	topics  map[string]struct{}
	inbound chan GossipMessage
	events  chan ConnEvent
	connMsg chan bool
}

// NewLoopbackPair returns two connected Transports addressed aID and bID.
func NewLoopbackPair(aID, bID PeerID) (Transport, Transport) {
	a := &loopbackEnd{local: aID, peer: bID, topics: make(map[string]struct{}), inbound: make(chan GossipMessage, 64), events: make(chan ConnEvent, 8)}
	b := &loopbackEnd{local: bID, peer: aID, topics: make(map[string]struct{}), inbound: make(chan GossipMessage, 64), events: make(chan ConnEvent, 8)}
	a.events <- ConnEvent{Kind: ConnEstablished, Peer: bID}
	b.events <- ConnEvent{Kind: ConnEstablished, Peer: aID}
	return &loopback{end: a, other: b}, &loopback{end: b, other: a}
}

type loopback struct {
	end   *loopbackEnd
	other *loopbackEnd
}

func (l *loopback) LocalPeer() PeerID { return l.end.local }

func (l *loopback) Subscribe(topic string) error {
	l.end.topics[topic] = struct{}{}
	return nil
}

func (l *loopback) Publish(topic string, data []byte) error {
	if _, ok := l.other.topics[topic]; !ok {
		return nil
	}
	select {
	case l.other.inbound <- GossipMessage{From: l.end.local, Topic: topic, Data: append([]byte(nil), data...)}:
	default:
	}
	return nil
}

func (l *loopback) Dial(ctx context.Context, addr string) error { return nil }

func (l *loopback) ConnectedPeers() []PeerID { return []PeerID{l.end.peer} }

func (l *loopback) Inbound() <-chan GossipMessage { return l.end.inbound }
func (l *loopback) Events() <-chan ConnEvent      { return l.end.events }

func (l *loopback) Close() error {
	close(l.end.inbound)
	close(l.end.events)
	return nil
}
