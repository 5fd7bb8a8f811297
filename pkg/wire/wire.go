// Package wire implements the length-delimited, field-tagged binary
// encoding for every on-the-wire record UMBRA exchanges: the outer
// 8-byte header (grounded on the teacher's version/type/flags/length
// layout) and the four payload records spec.md §6 names. Numeric payload
// fields are little-endian per spec.md; the outer header stays
// big-endian, matching the teacher's framing convention.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/umbra-chat/umbra/pkg/umbraerr"
)

// Protocol version for the outer header.
const ProtocolVersion byte = 0x01

// Message type tags.
const (
	TypeChatMessage      byte = 0x01
	TypeEncryptedMessage byte = 0x02
	TypeHandshakeInit    byte = 0x03
	TypeHandshakeResp    byte = 0x04
)

// HeaderSize is the fixed outer-header length.
const HeaderSize = 8

// MaxMessageSize bounds a single decoded frame.
const MaxMessageSize = 1 << 20

// Header is the common outer frame: version, type, flags, payload length.
type Header struct {
	Version byte
	Type    byte
	Flags   uint16
	Length  uint32
}

// EncodeHeader serializes h to its 8-byte wire form.
func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	buf[0] = h.Version
	buf[1] = h.Type
	binary.BigEndian.PutUint16(buf[2:4], h.Flags)
	binary.BigEndian.PutUint32(buf[4:8], h.Length)
	return buf
}

// DecodeHeader parses an 8-byte header.
func DecodeHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: short header (%d bytes)", umbraerr.ErrProtocol, len(data))
	}
	h := Header{
		Version: data[0],
		Type:    data[1],
		Flags:   binary.BigEndian.Uint16(data[2:4]),
		Length:  binary.BigEndian.Uint32(data[4:8]),
	}
	if h.Length > MaxMessageSize {
		return h, fmt.Errorf("%w: payload too large (%d bytes)", umbraerr.ErrProtocol, h.Length)
	}
	return h, nil
}

// EncodeFrame wraps an already-encoded payload in a header.
func EncodeFrame(msgType byte, payload []byte) []byte {
	h := Header{Version: ProtocolVersion, Type: msgType, Length: uint32(len(payload))}
	buf := EncodeHeader(h)
	return append(buf, payload...)
}

// ReadFrame reads one header+payload frame from r.
func ReadFrame(r io.Reader) (Header, []byte, error) {
	hb := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, hb); err != nil {
		return Header{}, nil, fmt.Errorf("%w: read header: %v", umbraerr.ErrProtocol, err)
	}
	h, err := DecodeHeader(hb)
	if err != nil {
		return Header{}, nil, err
	}
	payload := make([]byte, h.Length)
	if h.Length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Header{}, nil, fmt.Errorf("%w: read payload: %v", umbraerr.ErrProtocol, err)
		}
	}
	return h, payload, nil
}

// --- field-tagged primitives, little-endian ---

func putUint64(buf []byte, v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return append(buf, b...)
}

func putBytes(buf []byte, b []byte) []byte {
	buf = putUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

func putUint32(buf []byte, v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return append(buf, b...)
}

func putString(buf []byte, s string) []byte {
	return putBytes(buf, []byte(s))
}

func takeUint64(data []byte) (uint64, []byte, error) {
	if len(data) < 8 {
		return 0, nil, fmt.Errorf("%w: short uint64 field", umbraerr.ErrProtocol)
	}
	return binary.LittleEndian.Uint64(data), data[8:], nil
}

func takeBytes(data []byte) ([]byte, []byte, error) {
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("%w: short length prefix", umbraerr.ErrProtocol)
	}
	n := binary.LittleEndian.Uint32(data)
	data = data[4:]
	if uint32(len(data)) < n {
		return nil, nil, fmt.Errorf("%w: short field body (want %d, have %d)", umbraerr.ErrProtocol, n, len(data))
	}
	return data[:n], data[n:], nil
}

func takeString(data []byte) (string, []byte, error) {
	b, rest, err := takeBytes(data)
	if err != nil {
		return "", nil, err
	}
	return string(b), rest, nil
}

// --- ChatMessage ---

// ChatMessage is the plaintext record sealed inside EncryptedMessage.
type ChatMessage struct {
	Username   string
	Content    string
	Timestamp  uint64
	IdentityID []byte // empty or 32 bytes
}

// Encode serializes a ChatMessage (field-tagged, length-delimited, LE).
func (m *ChatMessage) Encode() []byte {
	buf := make([]byte, 0, 64+len(m.Username)+len(m.Content))
	buf = putString(buf, m.Username)
	buf = putString(buf, m.Content)
	buf = putUint64(buf, m.Timestamp)
	buf = putBytes(buf, m.IdentityID)
	return buf
}

// DecodeChatMessage parses a ChatMessage.
func DecodeChatMessage(data []byte) (*ChatMessage, error) {
	username, rest, err := takeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: username: %v", umbraerr.ErrProtocol, err)
	}
	content, rest, err := takeString(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: content: %v", umbraerr.ErrProtocol, err)
	}
	timestamp, rest, err := takeUint64(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: timestamp: %v", umbraerr.ErrProtocol, err)
	}
	identityID, _, err := takeBytes(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: identity_id: %v", umbraerr.ErrProtocol, err)
	}

	return &ChatMessage{
		Username:   username,
		Content:    content,
		Timestamp:  timestamp,
		IdentityID: identityID,
	}, nil
}

// --- EncryptedMessage ---

// EncryptedMessage is the wire record exchanged after a session key is
// established.
type EncryptedMessage struct {
	Sender          []byte // PeerID bytes
	Nonce           []byte // 12 bytes
	Ciphertext      []byte
	Timestamp       uint64
	Signature       []byte // 64 bytes, classical
	LatticeSig      []byte // empty or lattice signature bytes
	IdentityID      []byte // empty or 32 bytes
	IdentityProof   []byte // empty or proof bytes
}

// Encode serializes an EncryptedMessage.
func (m *EncryptedMessage) Encode() []byte {
	buf := make([]byte, 0, 128+len(m.Ciphertext))
	buf = putBytes(buf, m.Sender)
	buf = putBytes(buf, m.Nonce)
	buf = putBytes(buf, m.Ciphertext)
	buf = putUint64(buf, m.Timestamp)
	buf = putBytes(buf, m.Signature)
	buf = putBytes(buf, m.IdentityID)
	buf = putBytes(buf, m.IdentityProof)
	buf = putBytes(buf, m.LatticeSig)
	return buf
}

// DecodeEncryptedMessage parses an EncryptedMessage.
func DecodeEncryptedMessage(data []byte) (*EncryptedMessage, error) {
	sender, rest, err := takeBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%w: sender: %v", umbraerr.ErrProtocol, err)
	}
	nonce, rest, err := takeBytes(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: nonce: %v", umbraerr.ErrProtocol, err)
	}
	ciphertext, rest, err := takeBytes(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: ciphertext: %v", umbraerr.ErrProtocol, err)
	}
	timestamp, rest, err := takeUint64(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: timestamp: %v", umbraerr.ErrProtocol, err)
	}
	signature, rest, err := takeBytes(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: signature: %v", umbraerr.ErrProtocol, err)
	}
	identityID, rest, err := takeBytes(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: identity_id: %v", umbraerr.ErrProtocol, err)
	}
	identityProof, rest, err := takeBytes(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: identity_proof: %v", umbraerr.ErrProtocol, err)
	}
	latticeSig, _, err := takeBytes(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: pq_signature: %v", umbraerr.ErrProtocol, err)
	}

	return &EncryptedMessage{
		Sender:        sender,
		Nonce:         nonce,
		Ciphertext:    ciphertext,
		Timestamp:     timestamp,
		Signature:     signature,
		IdentityID:    identityID,
		IdentityProof: identityProof,
		LatticeSig:    latticeSig,
	}, nil
}

// --- Handshake records ---

// HandshakeInit is the initiator's first handshake message.
type HandshakeInit struct {
	PeerID     []byte
	X25519PK   []byte // 32 bytes
	LatticePK  []byte // opaque, ML-KEM-1024 public key
	Signature  []byte // 64 bytes
	VerifyKey  []byte // 32 bytes
}

// Encode serializes a HandshakeInit.
func (m *HandshakeInit) Encode() []byte {
	buf := make([]byte, 0, 2048)
	buf = putBytes(buf, m.PeerID)
	buf = putBytes(buf, m.X25519PK)
	buf = putBytes(buf, m.LatticePK)
	buf = putBytes(buf, m.Signature)
	buf = putBytes(buf, m.VerifyKey)
	return buf
}

// DecodeHandshakeInit parses a HandshakeInit.
func DecodeHandshakeInit(data []byte) (*HandshakeInit, error) {
	peerID, rest, err := takeBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%w: peer_id: %v", umbraerr.ErrProtocol, err)
	}
	x25519PK, rest, err := takeBytes(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: x25519_pk: %v", umbraerr.ErrProtocol, err)
	}
	latticePK, rest, err := takeBytes(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: pq_pk: %v", umbraerr.ErrProtocol, err)
	}
	signature, rest, err := takeBytes(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: signature: %v", umbraerr.ErrProtocol, err)
	}
	verifyKey, _, err := takeBytes(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: verify_key: %v", umbraerr.ErrProtocol, err)
	}

	return &HandshakeInit{
		PeerID:    peerID,
		X25519PK:  x25519PK,
		LatticePK: latticePK,
		Signature: signature,
		VerifyKey: verifyKey,
	}, nil
}

// SignedTranscript is the exact byte sequence the handshake signature
// covers: peer_id ‖ x25519_pk ‖ lattice_material. Spec.md §4.4: omitting
// any field from the transcript is a protocol error.
func (m *HandshakeInit) SignedTranscript() []byte {
	out := make([]byte, 0, len(m.PeerID)+len(m.X25519PK)+len(m.LatticePK))
	out = append(out, m.PeerID...)
	out = append(out, m.X25519PK...)
	out = append(out, m.LatticePK...)
	return out
}

// HandshakeResp is the responder's reply.
type HandshakeResp struct {
	PeerID    []byte
	X25519PK  []byte // 32 bytes
	LatticeCT []byte // opaque, ML-KEM-1024 ciphertext
	Signature []byte // 64 bytes
	VerifyKey []byte // 32 bytes
}

// Encode serializes a HandshakeResp.
func (m *HandshakeResp) Encode() []byte {
	buf := make([]byte, 0, 2048)
	buf = putBytes(buf, m.PeerID)
	buf = putBytes(buf, m.X25519PK)
	buf = putBytes(buf, m.LatticeCT)
	buf = putBytes(buf, m.Signature)
	buf = putBytes(buf, m.VerifyKey)
	return buf
}

// DecodeHandshakeResp parses a HandshakeResp.
func DecodeHandshakeResp(data []byte) (*HandshakeResp, error) {
	peerID, rest, err := takeBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%w: peer_id: %v", umbraerr.ErrProtocol, err)
	}
	x25519PK, rest, err := takeBytes(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: x25519_pk: %v", umbraerr.ErrProtocol, err)
	}
	latticeCT, rest, err := takeBytes(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: pq_ct: %v", umbraerr.ErrProtocol, err)
	}
	signature, rest, err := takeBytes(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: signature: %v", umbraerr.ErrProtocol, err)
	}
	verifyKey, _, err := takeBytes(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: verify_key: %v", umbraerr.ErrProtocol, err)
	}

	return &HandshakeResp{
		PeerID:    peerID,
		X25519PK:  x25519PK,
		LatticeCT: latticeCT,
		Signature: signature,
		VerifyKey: verifyKey,
	}, nil
}

// SignedTranscript is the byte sequence the responder's signature
// covers: peer_id ‖ x25519_pk ‖ lattice_ct.
func (m *HandshakeResp) SignedTranscript() []byte {
	out := make([]byte, 0, len(m.PeerID)+len(m.X25519PK)+len(m.LatticeCT))
	out = append(out, m.PeerID...)
	out = append(out, m.X25519PK...)
	out = append(out, m.LatticeCT...)
	return out
}

// DecodeHandshakeMessage attempts to decode a gossip-delivered frame as
// a handshake message. Returns (nil, nil, err) if the frame is not a
// recognized handshake type, letting the node event loop fall through to
// application-message handling per spec.md §4.8.
func DecodeHandshakeMessage(frame []byte) (init *HandshakeInit, resp *HandshakeResp, err error) {
	h, payload, err := ReadFrame(newByteReader(frame))
	if err != nil {
		return nil, nil, err
	}
	switch h.Type {
	case TypeHandshakeInit:
		init, err = DecodeHandshakeInit(payload)
		return init, nil, err
	case TypeHandshakeResp:
		resp, err = DecodeHandshakeResp(payload)
		return nil, resp, err
	default:
		return nil, nil, fmt.Errorf("%w: not a handshake message (type 0x%02x)", umbraerr.ErrProtocol, h.Type)
	}
}

type byteReader struct {
	b []byte
}

func newByteReader(b []byte) *byteReader { return &byteReader{b: b} }

func (r *byteReader) Read(p []byte) (int, error) {
	if len(r.b) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.b)
	r.b = r.b[n:]
	return n, nil
}
