// Package session implements the per-peer session-key table: rotation,
// bounded-capacity eviction, zeroization, and the (deliberately weak)
// provisional pre-handshake fallback key.
package session

import (
	"crypto/sha256"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/umbra-chat/umbra/pkg/crypto/hybridsig"
	"github.com/umbra-chat/umbra/pkg/umbraerr"
)

// MAX_SESSIONS caps the session table; on overflow the oldest-by-age
// entry is evicted.
const MaxSessions = 1000

// RotateAfterMessages and RotateAfterAge define should_rotate().
const (
	RotateAfterMessages = 1000
	RotateAfterAge      = 24 * time.Hour
)

// provisionalDomainSeparator derives the cryptographically-vacuous
// fallback key the spec marks TEMPORARY (§4.5, §9).
const provisionalDomainSeparator = "umbra-session-v1"

// PeerID is an opaque transport-level identifier.
type PeerID string

// Key is a 32-byte session key plus rotation bookkeeping. Drop-equivalent
// zeroization happens via Zeroize; Go has no destructors, so callers that
// discard a Key must call Zeroize explicitly (the Manager does this on
// eviction/replacement).
type Key struct {
	bytes    [32]byte
	created  time.Time
	msgCount uint64
}

// Bytes returns a copy of the underlying key material.
func (k *Key) Bytes() [32]byte {
	return k.bytes
}

// ShouldRotate reports whether this key has exceeded the usage or age
// budget and must be discarded in favor of a fresh handshake.
func (k *Key) ShouldRotate() bool {
	return k.msgCount >= RotateAfterMessages || time.Since(k.created) >= RotateAfterAge
}

// Zeroize wipes the key's backing bytes.
func (k *Key) Zeroize() {
	if k == nil {
		return
	}
	for i := range k.bytes {
		k.bytes[i] = 0
	}
	runtime.KeepAlive(k)
}

type entry struct {
	key       *Key
	verifyKey []byte // pinned remote classical verify key
}

// Manager is the per-node session table. All mutation happens under mu,
// matching the single-writer model the node event loop enforces at a
// higher level; the lock exists so tests and the CLI's /peers command
// can read concurrently with the event loop.
type Manager struct {
	mu       sync.Mutex
	sessions map[PeerID]*entry
	localID  PeerID
	signKey  *hybridsig.Key
}

// NewManager creates an empty session table. localID is this node's own
// peer identifier, used (ordered with the remote id) to derive the
// provisional fallback key so both sides agree.
func NewManager(localID PeerID, signKey *hybridsig.Key) *Manager {
	return &Manager{
		sessions: make(map[PeerID]*entry),
		localID:  localID,
		signKey:  signKey,
	}
}

// RegisterPeer pins the remote peer's classical verify key, used by
// Verify. Spec.md §4.7 step 3 only ever checks the classical half of a
// message signature, so only the classical verify key is pinned here
// (spec.md §4.4 "register_peer(peer, verify_key)").
func (m *Manager) RegisterPeer(peer PeerID, classicalVerifyKey []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.sessions[peer]
	if e == nil {
		e = &entry{}
		m.sessions[peer] = e
	}
	e.verifyKey = classicalVerifyKey
}

// SetSessionKey installs the session key for peer after handshake
// completion, replacing and zeroizing any prior entry, then sweeps for
// capacity overflow.
func (m *Manager) SetSessionKey(peer PeerID, keyBytes [32]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.sessions[peer]
	if e == nil {
		e = &entry{}
		m.sessions[peer] = e
	} else if e.key != nil {
		e.key.Zeroize()
	}

	e.key = &Key{bytes: keyBytes, created: time.Now()}
	m.evictOverflowLocked()
}

// evictOverflowLocked removes the oldest-by-age entry whenever the table
// exceeds MaxSessions. Caller must hold mu.
func (m *Manager) evictOverflowLocked() {
	for len(m.sessions) > MaxSessions {
		var oldestPeer PeerID
		var oldestTime time.Time
		first := true
		for p, e := range m.sessions {
			if e.key == nil {
				continue
			}
			if first || e.key.created.Before(oldestTime) {
				oldestPeer = p
				oldestTime = e.key.created
				first = false
			}
		}
		if first {
			// no keyed entries left to evict; drop an arbitrary entry to
			// respect the cap.
			for p := range m.sessions {
				delete(m.sessions, p)
				break
			}
			continue
		}
		m.sessions[oldestPeer].key.Zeroize()
		delete(m.sessions, oldestPeer)
	}
}

// GetOrDerive returns the session key for peer, deriving the provisional
// fallback key (spec.md §4.5, §9: cryptographically vacuous, testing-only)
// if none exists yet or the existing one is due for rotation. It does not
// install the provisional key into the table — a provisional key is
// recomputed each call, never persisted, so a later real handshake simply
// overwrites it via SetSessionKey.
func (m *Manager) GetOrDerive(peer PeerID) [32]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.sessions[peer]
	if e != nil && e.key != nil && !e.key.ShouldRotate() {
		return e.key.bytes
	}

	return deriveProvisionalKey(m.localID, peer)
}

// deriveProvisionalKey hashes both ordered peer identifiers so either
// side computes the same key without any secret handshake input.
func deriveProvisionalKey(a, b PeerID) [32]byte {
	ordered := [2]string{string(a), string(b)}
	sort.Strings(ordered[:])

	h := sha256.New()
	h.Write([]byte(provisionalDomainSeparator))
	h.Write([]byte(ordered[0]))
	h.Write([]byte(ordered[1]))

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// IncrementMsgCount bumps the monotonic message counter on the peer's
// session key, used by the message-exchange layer after each send.
func (m *Manager) IncrementMsgCount(peer PeerID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e := m.sessions[peer]; e != nil && e.key != nil {
		e.key.msgCount++
	}
}

// Sign produces a hybrid signature over bytes using this node's identity
// signing key.
func (m *Manager) Sign(message []byte) (*hybridsig.Signature, error) {
	return hybridsig.Sign(message, m.signKey)
}

// Verify checks the classical half of sig against the pinned verify key
// for peer. If no verify key is pinned, returns (false, ErrNoPinnedKey)
// so callers can downgrade to a warning per spec.md §7's compatibility
// rule rather than drop the frame. Only the classical signature is
// authenticated, matching spec.md §4.7 step 3 exactly: the handshake
// never pins a remote lattice verify key, so any lattice half present in
// sig is ignored here rather than checked against a key that was never
// agreed on.
var ErrNoPinnedKey = fmt.Errorf("%w: no verify key pinned for peer", umbraerr.ErrInvalidSignature)

func (m *Manager) Verify(peer PeerID, message []byte, sig *hybridsig.Signature) (bool, error) {
	m.mu.Lock()
	e := m.sessions[peer]
	m.mu.Unlock()

	if e == nil || len(e.verifyKey) == 0 {
		return false, ErrNoPinnedKey
	}

	classicalOnly := &hybridsig.Signature{Classical: sig.Classical}
	return hybridsig.Verify(message, classicalOnly, e.verifyKey, nil), nil
}

// Cleanup removes every entry whose key ShouldRotate(), zeroizing as it
// goes.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for p, e := range m.sessions {
		if e.key != nil && e.key.ShouldRotate() {
			e.key.Zeroize()
			delete(m.sessions, p)
		}
	}
}

// Count reports the number of tracked peers, used by tests and the
// /peers CLI command.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// LocalID returns this node's own peer identifier.
func (m *Manager) LocalID() PeerID {
	return m.localID
}

// Has reports whether peer currently has a session entry (keyed or not).
func (m *Manager) Has(peer PeerID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[peer]
	return ok
}
