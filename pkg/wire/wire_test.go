package wire

import (
	"bytes"
	"testing"
)

func TestChatMessageRoundTrip(t *testing.T) {
	m := &ChatMessage{
		Username:   "alice",
		Content:    "hello bob!",
		Timestamp:  1234567890,
		IdentityID: bytes.Repeat([]byte{0xAB}, 32),
	}

	decoded, err := DecodeChatMessage(m.Encode())
	if err != nil {
		t.Fatalf("DecodeChatMessage() failed: %v", err)
	}

	if decoded.Username != m.Username || decoded.Content != m.Content || decoded.Timestamp != m.Timestamp {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", decoded, m)
	}
	if !bytes.Equal(decoded.IdentityID, m.IdentityID) {
		t.Error("identity_id roundtrip mismatch")
	}
}

func TestChatMessageEmptyIdentity(t *testing.T) {
	m := &ChatMessage{Username: "bob", Content: "hi", Timestamp: 1}
	decoded, err := DecodeChatMessage(m.Encode())
	if err != nil {
		t.Fatalf("DecodeChatMessage() failed: %v", err)
	}
	if len(decoded.IdentityID) != 0 {
		t.Errorf("expected empty identity_id, got %d bytes", len(decoded.IdentityID))
	}
}

func TestEncryptedMessageRoundTrip(t *testing.T) {
	m := &EncryptedMessage{
		Sender:        []byte("peer-1"),
		Nonce:         bytes.Repeat([]byte{0x01}, 12),
		Ciphertext:    []byte("ciphertext-bytes"),
		Timestamp:     42,
		Signature:     bytes.Repeat([]byte{0x02}, 64),
		IdentityID:    bytes.Repeat([]byte{0x03}, 32),
		IdentityProof: []byte("proof"),
	}

	decoded, err := DecodeEncryptedMessage(m.Encode())
	if err != nil {
		t.Fatalf("DecodeEncryptedMessage() failed: %v", err)
	}

	if !bytes.Equal(decoded.Sender, m.Sender) || !bytes.Equal(decoded.Nonce, m.Nonce) ||
		!bytes.Equal(decoded.Ciphertext, m.Ciphertext) || decoded.Timestamp != m.Timestamp ||
		!bytes.Equal(decoded.Signature, m.Signature) || !bytes.Equal(decoded.IdentityID, m.IdentityID) ||
		!bytes.Equal(decoded.IdentityProof, m.IdentityProof) {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", decoded, m)
	}
}

func TestHandshakeInitRoundTripAndTranscript(t *testing.T) {
	m := &HandshakeInit{
		PeerID:    []byte("peer-init"),
		X25519PK:  bytes.Repeat([]byte{0x11}, 32),
		LatticePK: []byte("lattice-pub-material"),
		Signature: bytes.Repeat([]byte{0x22}, 64),
		VerifyKey: bytes.Repeat([]byte{0x33}, 32),
	}

	decoded, err := DecodeHandshakeInit(m.Encode())
	if err != nil {
		t.Fatalf("DecodeHandshakeInit() failed: %v", err)
	}

	if !bytes.Equal(decoded.SignedTranscript(), m.SignedTranscript()) {
		t.Error("signed transcript mismatch after roundtrip")
	}
}

func TestHandshakeInitTamperedFieldChangesTranscript(t *testing.T) {
	m := &HandshakeInit{
		PeerID:    []byte("peer-init"),
		X25519PK:  bytes.Repeat([]byte{0x11}, 32),
		LatticePK: []byte("lattice-pub-material"),
	}
	original := m.SignedTranscript()

	tampered := &HandshakeInit{
		PeerID:    m.PeerID,
		X25519PK:  append([]byte(nil), m.X25519PK...),
		LatticePK: m.LatticePK,
	}
	tampered.X25519PK[0] ^= 0xFF

	if bytes.Equal(original, tampered.SignedTranscript()) {
		t.Error("tampering x25519_pk did not change the signed transcript")
	}
}

func TestDecodeHandshakeMessageDispatch(t *testing.T) {
	init := &HandshakeInit{PeerID: []byte("p"), X25519PK: bytes.Repeat([]byte{1}, 32)}
	frame := EncodeFrame(TypeHandshakeInit, init.Encode())

	decodedInit, decodedResp, err := DecodeHandshakeMessage(frame)
	if err != nil {
		t.Fatalf("DecodeHandshakeMessage() failed: %v", err)
	}
	if decodedInit == nil || decodedResp != nil {
		t.Error("expected only HandshakeInit to be populated")
	}
}

func TestDecodeHandshakeMessageRejectsOtherTypes(t *testing.T) {
	cm := &ChatMessage{Username: "x", Content: "y"}
	frame := EncodeFrame(TypeChatMessage, cm.Encode())

	if _, _, err := DecodeHandshakeMessage(frame); err == nil {
		t.Error("expected error decoding a non-handshake frame as handshake")
	}
}
