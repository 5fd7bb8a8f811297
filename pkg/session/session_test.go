package session

import (
	"fmt"
	"testing"
	"time"

	"github.com/umbra-chat/umbra/pkg/crypto/hybridsig"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	signKey, err := hybridsig.Generate()
	if err != nil {
		t.Fatalf("hybridsig.Generate() failed: %v", err)
	}
	return NewManager("local-peer", signKey)
}

func TestShouldRotateByMessageCount(t *testing.T) {
	k := &Key{created: time.Now(), msgCount: RotateAfterMessages}
	if !k.ShouldRotate() {
		t.Error("ShouldRotate() false at message-count threshold, want true")
	}
}

func TestShouldRotateByAge(t *testing.T) {
	k := &Key{created: time.Now().Add(-RotateAfterAge - time.Second)}
	if !k.ShouldRotate() {
		t.Error("ShouldRotate() false past age threshold, want true")
	}
}

func TestShouldNotRotateFreshKey(t *testing.T) {
	k := &Key{created: time.Now()}
	if k.ShouldRotate() {
		t.Error("ShouldRotate() true for fresh key, want false")
	}
}

func TestEvictionAtCapacity(t *testing.T) {
	m := newTestManager(t)

	for i := 0; i < MaxSessions+1; i++ {
		peer := PeerID(fmt.Sprintf("peer-%d", i))
		var key [32]byte
		key[0] = byte(i)
		m.SetSessionKey(peer, key)
		// ensure strictly increasing created timestamps for deterministic
		// oldest-eviction ordering.
		time.Sleep(time.Microsecond)
	}

	if got := m.Count(); got != MaxSessions {
		t.Errorf("Count() = %d, want %d", got, MaxSessions)
	}

	if m.Has("peer-0") {
		t.Error("oldest-inserted peer was not evicted")
	}
}

func TestGetOrDeriveProvisionalAgreesBothSides(t *testing.T) {
	alice := NewManager("alice", mustKey(t))
	bob := NewManager("bob", mustKey(t))

	aliceKey := alice.GetOrDerive("bob")
	bobKey := bob.GetOrDerive("alice")

	if aliceKey != bobKey {
		t.Error("provisional key derivation is not symmetric between peers")
	}
}

func TestSetSessionKeyOverridesProvisional(t *testing.T) {
	m := newTestManager(t)

	provisional := m.GetOrDerive("peer-x")

	var real [32]byte
	real[0] = 0xAB
	m.SetSessionKey("peer-x", real)

	got := m.GetOrDerive("peer-x")
	if got == provisional {
		t.Error("GetOrDerive still returns provisional key after SetSessionKey")
	}
	if got != real {
		t.Error("GetOrDerive did not return the installed session key")
	}
}

func TestVerifyWithoutPinnedKeyFails(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Verify("unknown-peer", []byte("msg"), &hybridsig.Signature{})
	if err != ErrNoPinnedKey {
		t.Errorf("Verify() err = %v, want ErrNoPinnedKey", err)
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	alice := newTestManager(t)

	message := []byte("hello")
	sig, err := alice.Sign(message)
	if err != nil {
		t.Fatalf("Sign() failed: %v", err)
	}

	// Simulate bob pinning alice's classical verify key after a handshake.
	bob := newTestManager(t)
	bob.RegisterPeer("alice", alice.signKey.ClassicalPublic)

	ok, err := bob.Verify("alice", message, sig)
	if err != nil {
		t.Fatalf("Verify() failed: %v", err)
	}
	if !ok {
		t.Error("Verify() = false for a valid signature")
	}
}

// TestVerifyIgnoresLatticeHalf confirms that Verify accepts a signature
// whose lattice half does not correspond to any pinned key: spec.md
// §4.7 step 3 only authenticates the classical half.
func TestVerifyIgnoresLatticeHalf(t *testing.T) {
	alice := newTestManager(t)
	message := []byte("hello")
	sig, err := alice.Sign(message)
	if err != nil {
		t.Fatalf("Sign() failed: %v", err)
	}
	if len(sig.Lattice) == 0 {
		t.Fatal("expected Sign() to include a lattice half by default")
	}

	bob := newTestManager(t)
	bob.RegisterPeer("alice", alice.signKey.ClassicalPublic)

	// Corrupt the lattice half; a classical-only check must still pass.
	sig.Lattice = append([]byte(nil), sig.Lattice...)
	sig.Lattice[0] ^= 0xFF

	ok, err := bob.Verify("alice", message, sig)
	if err != nil {
		t.Fatalf("Verify() failed: %v", err)
	}
	if !ok {
		t.Error("Verify() = false despite a valid classical signature; lattice half must not be checked")
	}
}

func mustKey(t *testing.T) *hybridsig.Key {
	t.Helper()
	k, err := hybridsig.Generate()
	if err != nil {
		t.Fatalf("hybridsig.Generate() failed: %v", err)
	}
	return k
}
