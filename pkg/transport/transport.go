// Package transport defines the narrow interface the node event loop
// expects from a peer-to-peer transport, and ships two concrete
// implementations (direct QUIC mesh and a relayed WebSocket fallback).
//
// Per spec.md §6 the transport is an external collaborator: it owns
// peer discovery, stream authentication and gossip delivery. The node
// only ever sees opaque peer identifiers and byte slices.
package transport

import (
	"context"
	"errors"
)

// PeerID is the opaque, comparable, stable identifier the transport
// assigns a remote node.
type PeerID string

// ConnEventKind distinguishes the transport-level events the node
// event loop selects on.
type ConnEventKind int

const (
	ConnEstablished ConnEventKind = iota
	ConnClosed
)

// ConnEvent is emitted on the connection-event channel whenever a
// stream comes up or goes down.
type ConnEvent struct {
	Kind ConnEventKind
	Peer PeerID
}

// GossipMessage is one opaque delivery from the topic-scoped mesh.
type GossipMessage struct {
	From  PeerID
	Topic string
	Data  []byte
}

var (
	ErrNotConnected  = errors.New("transport: no peers connected")
	ErrUnknownPeer   = errors.New("transport: unknown peer")
	ErrAlreadyClosed = errors.New("transport: already closed")
)

// Transport is the narrow surface the node event loop depends on. It
// intentionally says nothing about discovery, NAT traversal or
// mesh topology: those are the transport library's concern.
type Transport interface {
	// LocalPeer returns this node's stable identifier.
	LocalPeer() PeerID

	// Subscribe joins a gossip topic; delivered bytes surface on Inbound().
	Subscribe(topic string) error

	// Publish best-effort broadcasts bytes to every subscriber of topic.
	// Returns ErrNotConnected if no peer is reachable.
	Publish(topic string, data []byte) error

	// Dial attempts an outbound connection to addr. Fire-and-forget:
	// success surfaces later as a ConnEvent on Events().
	Dial(ctx context.Context, addr string) error

	// ConnectedPeers lists currently live peers.
	ConnectedPeers() []PeerID

	// Inbound yields one GossipMessage per topic delivery.
	Inbound() <-chan GossipMessage

	// Events yields connection lifecycle notifications.
	Events() <-chan ConnEvent

	// Close tears down all connections and the listener, if any.
	Close() error
}
