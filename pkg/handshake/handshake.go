// Package handshake implements the two-message hybrid authenticated KEM
// handshake and its per-peer state machine (spec.md §4.4). It preserves
// the initiator's ephemeral keypair across the whole Init→Resp round in
// one struct per peer — see DESIGN.md for why the source's
// reconstruct-a-new-Handshake pattern is not followed.
package handshake

import (
	"crypto/sha256"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/umbra-chat/umbra/pkg/crypto/hybridkem"
	"github.com/umbra-chat/umbra/pkg/crypto/hybridsig"
	"github.com/umbra-chat/umbra/pkg/session"
	"github.com/umbra-chat/umbra/pkg/umbraerr"
	"github.com/umbra-chat/umbra/pkg/wire"
)

// SessionKeyDomainSeparator is the protocol-version-bound constant used
// to derive the session key from the combined KEM secret. Changing it
// forks the wire protocol.
const SessionKeyDomainSeparator = "umbra-quantum-shield-v0.3"

// DefaultHandshakeDeadline is the suggested bound after which an
// AwaitResp peer that has not reached Established returns to Idle to
// permit retry (spec.md §5).
const DefaultHandshakeDeadline = 30 * time.Second

// State is a per-peer handshake state.
type State int

const (
	Idle State = iota
	AwaitResp
	Established
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case AwaitResp:
		return "AwaitResp"
	case Established:
		return "Established"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Completed is emitted when a peer's handshake finishes successfully.
// Only the classical verify key is carried: spec.md §4.4's
// register_peer(peer, verify_key) pins a single classical key, and
// spec.md §4.7 step 3 never checks a lattice signature, so there is
// nothing for a lattice verify key to do here.
type Completed struct {
	Peer               session.PeerID
	SessionKey         [32]byte
	ClassicalVerifyKey []byte
}

// peerState holds the in-flight ephemeral material for one peer across
// the Init→Resp round.
type peerState struct {
	state           State
	ephemeral       *hybridkem.KeyPair
	remoteEphemeral []byte // classical ephemeral of the last Init answered
	enteredAt       time.Time
	failedSince     time.Time
}

// Machine is the per-node handshake state machine: one Idle/AwaitResp/
// Established/Failed entry per remote peer.
type Machine struct {
	localPeer session.PeerID
	signKey   *hybridsig.Key
	peers     map[session.PeerID]*peerState
	backoff   time.Duration
}

// NewMachine creates a handshake state machine for localPeer, identified
// to counterparties by signKey.
func NewMachine(localPeer session.PeerID, signKey *hybridsig.Key, backoff time.Duration) *Machine {
	if backoff <= 0 {
		backoff = 5 * time.Second
	}
	return &Machine{
		localPeer: localPeer,
		signKey:   signKey,
		peers:     make(map[session.PeerID]*peerState),
		backoff:   backoff,
	}
}

func (m *Machine) stateFor(peer session.PeerID) *peerState {
	ps, ok := m.peers[peer]
	if !ok {
		ps = &peerState{state: Idle}
		m.peers[peer] = ps
	}
	return ps
}

// StateOf reports the current state for peer (Idle if never seen).
func (m *Machine) StateOf(peer session.PeerID) State {
	return m.stateFor(peer).state
}

// Initiate handles "on dial/connect": Idle → AwaitResp (emit Init); a
// Failed peer past its backoff window re-enters AwaitResp the same way.
// Established and already-AwaitResp peers are no-ops (idempotent dial),
// matching the state table in spec.md §4.4.
func (m *Machine) Initiate(peer session.PeerID) (*wire.HandshakeInit, error) {
	ps := m.stateFor(peer)

	switch ps.state {
	case AwaitResp, Established:
		return nil, nil
	case Failed:
		if time.Since(ps.failedSince) < m.backoff {
			return nil, nil
		}
	case Idle:
		// fall through
	}

	ephemeral, err := hybridkem.Generate()
	if err != nil {
		return nil, fmt.Errorf("%w: ephemeral generation: %v", umbraerr.ErrKeyDerivation, err)
	}

	init := &wire.HandshakeInit{
		PeerID:    []byte(m.localPeer),
		X25519PK:  ephemeral.ClassicalPublic,
		LatticePK: ephemeral.LatticePublic,
		VerifyKey: m.signKey.ClassicalPublic,
	}
	sig, err := hybridsig.Sign(init.SignedTranscript(), m.signKey)
	if err != nil {
		return nil, fmt.Errorf("%w: signing Init: %v", umbraerr.ErrInvalidSignature, err)
	}
	init.Signature = sig.Classical

	ps.ephemeral = ephemeral
	ps.state = AwaitResp
	ps.enteredAt = time.Now()

	return init, nil
}

// OnInit handles an inbound Init message, producing a Resp and
// transitioning to Established. If the local peer is already AwaitResp
// with the same remote (a simultaneous-dial race), the conflict is
// resolved by lowest-peer_id-wins-as-initiator per spec.md §4.4: the
// side with the higher id yields and responds anyway, while the side
// with the lower id ignores the Init and keeps waiting for the Resp.
func (m *Machine) OnInit(remote session.PeerID, init *wire.HandshakeInit) (*wire.HandshakeResp, *Completed, error) {
	if !hybridsig.Verify(init.SignedTranscript(), &hybridsig.Signature{Classical: init.Signature}, init.VerifyKey, nil) {
		return nil, nil, fmt.Errorf("%w: Init signature verification failed", umbraerr.ErrInvalidSignature)
	}

	ps := m.stateFor(remote)
	if ps.state == AwaitResp && m.localPeer < remote {
		return nil, nil, nil
	}
	if ps.state == Established {
		// duplicate Init with the same ephemeral is a replay and ignored;
		// a genuinely new ephemeral triggers the documented rekey.
		if ps.remoteEphemeral != nil && bytesEqual(ps.remoteEphemeral, init.X25519PK) {
			return nil, nil, nil
		}
	}

	ephemeral, err := hybridkem.Generate()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: responder ephemeral: %v", umbraerr.ErrKeyDerivation, err)
	}

	latticeCT, shared, err := hybridkem.Encapsulate(ephemeral.ClassicalPrivate, init.X25519PK, init.LatticePK)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", umbraerr.ErrPostQuantum, err)
	}

	sessionKey, err := deriveSessionKey(shared)
	if err != nil {
		return nil, nil, err
	}

	resp := &wire.HandshakeResp{
		PeerID:    []byte(m.localPeer),
		X25519PK:  ephemeral.ClassicalPublic,
		LatticeCT: latticeCT,
		VerifyKey: m.signKey.ClassicalPublic,
	}
	sig, err := hybridsig.Sign(resp.SignedTranscript(), m.signKey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: signing Resp: %v", umbraerr.ErrInvalidSignature, err)
	}
	resp.Signature = sig.Classical

	ps.ephemeral = ephemeral
	ps.remoteEphemeral = append([]byte(nil), init.X25519PK...)
	ps.state = Established
	ps.enteredAt = time.Now()

	return resp, &Completed{
		Peer:               remote,
		SessionKey:         sessionKey,
		ClassicalVerifyKey: init.VerifyKey,
	}, nil
}

// OnResp handles an inbound Resp for a peer we previously sent an Init
// to, completing the handshake and deriving the session key.
func (m *Machine) OnResp(remote session.PeerID, resp *wire.HandshakeResp) (*Completed, error) {
	if !hybridsig.Verify(resp.SignedTranscript(), &hybridsig.Signature{Classical: resp.Signature}, resp.VerifyKey, nil) {
		m.fail(remote)
		return nil, fmt.Errorf("%w: Resp signature verification failed", umbraerr.ErrInvalidSignature)
	}

	ps := m.stateFor(remote)
	if ps.state != AwaitResp || ps.ephemeral == nil {
		// no matching in-flight Init; ignore per the state table (no-op
		// for Established, stay otherwise).
		if ps.state == Established {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: Resp received with no in-flight Init for peer", umbraerr.ErrProtocol)
	}

	shared, err := hybridkem.Decapsulate(ps.ephemeral.ClassicalPrivate, ps.ephemeral.LatticePrivate, resp.X25519PK, resp.LatticeCT)
	if err != nil {
		m.fail(remote)
		return nil, fmt.Errorf("%w: %v", umbraerr.ErrPostQuantum, err)
	}

	sessionKey, err := deriveSessionKey(shared)
	if err != nil {
		return nil, err
	}

	ps.state = Established
	ps.enteredAt = time.Now()

	return &Completed{
		Peer:               remote,
		SessionKey:         sessionKey,
		ClassicalVerifyKey: resp.VerifyKey,
	}, nil
}

// fail transitions a peer to Failed, recording the time for backoff.
func (m *Machine) fail(peer session.PeerID) {
	ps := m.stateFor(peer)
	ps.state = Failed
	ps.failedSince = time.Now()
	ps.ephemeral = nil
}

// CheckDeadline returns the peer to Idle if it has been AwaitResp longer
// than deadline, allowing a retry (spec.md §5).
func (m *Machine) CheckDeadline(peer session.PeerID, deadline time.Duration) {
	ps := m.stateFor(peer)
	if ps.state == AwaitResp && time.Since(ps.enteredAt) > deadline {
		ps.state = Idle
		ps.ephemeral = nil
	}
}

func deriveSessionKey(shared [hybridkem.SharedSecretSize]byte) ([32]byte, error) {
	var out [32]byte
	kdf := hkdf.New(sha256.New, shared[:], nil, []byte(SessionKeyDomainSeparator))
	if _, err := io.ReadFull(kdf, out[:]); err != nil {
		return out, fmt.Errorf("%w: session key derivation: %v", umbraerr.ErrKeyDerivation, err)
	}
	return out, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
