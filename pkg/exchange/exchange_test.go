package exchange

import (
	"testing"

	"github.com/umbra-chat/umbra/pkg/crypto/hybridsig"
	"github.com/umbra-chat/umbra/pkg/identity"
	"github.com/umbra-chat/umbra/pkg/session"
	"github.com/umbra-chat/umbra/pkg/wire"
)

func newExchange(t *testing.T, local session.PeerID) *Exchange {
	t.Helper()
	k, err := hybridsig.Generate()
	if err != nil {
		t.Fatalf("hybridsig.Generate() failed: %v", err)
	}
	mgr := session.NewManager(local, k)
	return New(mgr, nil, nil, nil)
}

// TestEncryptDecryptRoundTrip mirrors S4: two co-located exchanges
// sharing the provisional fallback key (no handshake) must round-trip
// plaintext with no verified identity attached.
func TestEncryptDecryptRoundTrip(t *testing.T) {
	alice := newExchange(t, "alice")
	bob := newExchange(t, "bob")

	frame, err := alice.Encrypt("bob", "alice", "hello bob!")
	if err != nil {
		t.Fatalf("Encrypt() failed: %v", err)
	}

	decoded, err := bob.Decrypt("alice", frame)
	if err != nil {
		t.Fatalf("Decrypt() failed: %v", err)
	}
	if decoded.Username != "alice" || decoded.Content != "hello bob!" {
		t.Errorf("roundtrip mismatch: got %+v", decoded)
	}
	if decoded.VerifiedIdentity != nil {
		t.Error("expected no verified identity without a ZK proof attached")
	}
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	alice := newExchange(t, "alice")
	bob := newExchange(t, "bob")

	frame, err := alice.Encrypt("bob", "alice", "hello")
	if err != nil {
		t.Fatalf("Encrypt() failed: %v", err)
	}
	enc, err := wire.DecodeEncryptedMessage(frame[wire.HeaderSize:])
	if err != nil {
		t.Fatalf("DecodeEncryptedMessage() failed: %v", err)
	}
	enc.Ciphertext[0] ^= 0xFF
	frame = wire.EncodeFrame(wire.TypeEncryptedMessage, enc.Encode())

	if _, err := bob.Decrypt("alice", frame); err == nil {
		t.Error("Decrypt() accepted a tampered frame")
	}
}

// TestEncryptDecryptWithVerifiedIdentity mirrors S6's binding property
// end-to-end through the exchange layer.
func TestEncryptDecryptWithVerifiedIdentity(t *testing.T) {
	k, err := hybridsig.Generate()
	if err != nil {
		t.Fatalf("hybridsig.Generate() failed: %v", err)
	}
	senderMgr := session.NewManager("alice", k)
	recvMgr := session.NewManager("bob", k)

	id, err := identity.Create([]byte("password123"))
	if err != nil {
		t.Fatalf("identity.Create() failed: %v", err)
	}
	prover, err := identity.NewProver([]byte("exchange-test-seed"))
	if err != nil {
		t.Fatalf("NewProver() failed: %v", err)
	}

	sender := New(senderMgr, nil, id, prover)
	receiver := New(recvMgr, nil, nil, prover)

	frame, err := sender.Encrypt("bob", "alice", "hi with identity")
	if err != nil {
		t.Fatalf("Encrypt() failed: %v", err)
	}

	decoded, err := receiver.Decrypt("alice", frame)
	if err != nil {
		t.Fatalf("Decrypt() failed: %v", err)
	}
	if decoded.VerifiedIdentity == nil {
		t.Fatal("expected a verified identity to be attached")
	}
	if string(decoded.VerifiedIdentity) != string(id.ID[:]) {
		t.Error("verified identity does not match the sender's id")
	}
}

// TestEncryptDecryptWithPinnedVerifyKey mirrors the post-handshake path:
// both managers pin the peer's real classical verify key (as
// pkg/node.onHandshakeCompleted does via RegisterPeer), so Decrypt must
// go through actual classical signature verification rather than the
// no-pinned-key skip branch the other tests above exercise.
func TestEncryptDecryptWithPinnedVerifyKey(t *testing.T) {
	aliceKey, err := hybridsig.Generate()
	if err != nil {
		t.Fatalf("hybridsig.Generate() failed: %v", err)
	}
	bobKey, err := hybridsig.Generate()
	if err != nil {
		t.Fatalf("hybridsig.Generate() failed: %v", err)
	}

	aliceMgr := session.NewManager("alice", aliceKey)
	bobMgr := session.NewManager("bob", bobKey)

	// Simulate what a completed handshake pins on each side.
	aliceMgr.RegisterPeer("bob", bobKey.ClassicalPublic)
	bobMgr.RegisterPeer("alice", aliceKey.ClassicalPublic)

	alice := New(aliceMgr, nil, nil, nil)
	bob := New(bobMgr, nil, nil, nil)

	frame, err := alice.Encrypt("bob", "alice", "hello bob, signed for real")
	if err != nil {
		t.Fatalf("Encrypt() failed: %v", err)
	}

	decoded, err := bob.Decrypt("alice", frame)
	if err != nil {
		t.Fatalf("Decrypt() failed with a pinned verify key: %v", err)
	}
	if decoded.Username != "alice" || decoded.Content != "hello bob, signed for real" {
		t.Errorf("roundtrip mismatch: got %+v", decoded)
	}
}

// TestDecryptRejectsWrongPinnedVerifyKey confirms a message signed by
// one key is rejected once the receiver has pinned a different one.
func TestDecryptRejectsWrongPinnedVerifyKey(t *testing.T) {
	aliceKey, err := hybridsig.Generate()
	if err != nil {
		t.Fatalf("hybridsig.Generate() failed: %v", err)
	}
	impostorKey, err := hybridsig.Generate()
	if err != nil {
		t.Fatalf("hybridsig.Generate() failed: %v", err)
	}
	bobKey, err := hybridsig.Generate()
	if err != nil {
		t.Fatalf("hybridsig.Generate() failed: %v", err)
	}

	aliceMgr := session.NewManager("alice", aliceKey)
	bobMgr := session.NewManager("bob", bobKey)
	bobMgr.RegisterPeer("alice", impostorKey.ClassicalPublic)

	alice := New(aliceMgr, nil, nil, nil)
	bob := New(bobMgr, nil, nil, nil)

	frame, err := alice.Encrypt("bob", "alice", "hello bob")
	if err != nil {
		t.Fatalf("Encrypt() failed: %v", err)
	}

	if _, err := bob.Decrypt("alice", frame); err == nil {
		t.Error("Decrypt() accepted a message signed by a key other than the one pinned")
	}
}

func TestDeriveTopicKeyIsStableAndTopicDependent(t *testing.T) {
	k1 := DeriveTopicKey("general")
	k2 := DeriveTopicKey("general")
	k3 := DeriveTopicKey("random")

	if k1 != k2 {
		t.Error("DeriveTopicKey is not deterministic for the same topic")
	}
	if k1 == k3 {
		t.Error("DeriveTopicKey produced the same key for different topics")
	}
}
