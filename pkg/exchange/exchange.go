// Package exchange implements the authenticated message envelope:
// building, signing, sealing and attaching an optional zero-knowledge
// identity proof on send; opening, verifying and deserializing on
// receive (spec.md §4.7).
package exchange

import (
	"bytes"
	"fmt"
	"time"

	"github.com/umbra-chat/umbra/pkg/crypto/aead"
	"github.com/umbra-chat/umbra/pkg/crypto/classical"
	"github.com/umbra-chat/umbra/pkg/crypto/hybridsig"
	"github.com/umbra-chat/umbra/pkg/identity"
	"github.com/umbra-chat/umbra/pkg/logging"
	"github.com/umbra-chat/umbra/pkg/session"
	"github.com/umbra-chat/umbra/pkg/umbraerr"
	"github.com/umbra-chat/umbra/pkg/wire"
)

// Decoded is the tuple Decrypt returns: the chat message's fields plus
// an optional verified pseudonymous identity.
type Decoded struct {
	Username         string
	Content          string
	VerifiedIdentity []byte // nil unless the attached ZK proof verified
}

// Exchange binds a session manager to a logger and an optional
// identity/prover pair, implementing Encrypt/Decrypt for one node.
type Exchange struct {
	sessions *session.Manager
	log      *logging.Logger

	localID *identity.Identity
	prover  *identity.Prover
}

// New creates an Exchange. id and prover may both be nil: the node then
// sends without attaching a pseudonym and never attempts proof
// verification on receipt.
func New(sessions *session.Manager, log *logging.Logger, id *identity.Identity, prover *identity.Prover) *Exchange {
	if log == nil {
		log = logging.GetDefaultLogger()
	}
	return &Exchange{sessions: sessions, log: log, localID: id, prover: prover}
}

// Encrypt builds, signs, seals and serializes an outbound chat message
// to peer (spec.md §4.7 Encrypt).
func (e *Exchange) Encrypt(peer session.PeerID, username, content string) ([]byte, error) {
	var identityID []byte
	if e.localID != nil {
		identityID = append([]byte(nil), e.localID.ID[:]...)
	}

	msg := &wire.ChatMessage{
		Username:   username,
		Content:    content,
		Timestamp:  uint64(time.Now().Unix()),
		IdentityID: identityID,
	}
	plaintext := msg.Encode()

	sig, err := e.sessions.Sign(plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: signing outbound message: %v", umbraerr.ErrInvalidSignature, err)
	}

	key := e.sessions.GetOrDerive(peer)
	sealed, err := aead.Seal(key, plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", umbraerr.ErrEncryption, err)
	}
	if len(sealed) < aead.NonceSize {
		return nil, fmt.Errorf("%w: sealed message shorter than a nonce", umbraerr.ErrEncryption)
	}
	nonce := sealed[:aead.NonceSize]
	ciphertext := sealed[aead.NonceSize:]

	var identityProof []byte
	if e.localID != nil && e.prover != nil {
		proof, err := e.prover.Prove(e.localID.SecretField())
		if err != nil {
			e.log.Warnf("identity proof generation failed, sending without proof: %v", err)
		} else {
			identityProof = proof
		}
	}

	enc := &wire.EncryptedMessage{
		Sender:        []byte(e.sessions.LocalID()),
		Nonce:         nonce,
		Ciphertext:    ciphertext,
		Timestamp:     msg.Timestamp,
		Signature:     sig.Classical,
		LatticeSig:    sig.Lattice,
		IdentityID:    identityID,
		IdentityProof: identityProof,
	}

	e.sessions.IncrementMsgCount(peer)

	return wire.EncodeFrame(wire.TypeEncryptedMessage, enc.Encode()), nil
}

// Decrypt opens and verifies an inbound wire frame from peer (spec.md
// §4.7 Decrypt). A nil VerifiedIdentity does not mean the message was
// rejected — only that the attached pseudonym could not be verified.
func (e *Exchange) Decrypt(peer session.PeerID, frame []byte) (*Decoded, error) {
	header, payload, err := wire.ReadFrame(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", umbraerr.ErrProtocol, err)
	}
	if header.Type != wire.TypeEncryptedMessage {
		return nil, fmt.Errorf("%w: expected EncryptedMessage, got type %d", umbraerr.ErrProtocol, header.Type)
	}
	enc, err := wire.DecodeEncryptedMessage(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", umbraerr.ErrProtocol, err)
	}

	key := e.sessions.GetOrDerive(peer)
	sealed := append(append([]byte(nil), enc.Nonce...), enc.Ciphertext...)
	plaintext, err := aead.Open(key, sealed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", umbraerr.ErrDecryption, err)
	}

	if len(enc.Signature) != 0 {
		if len(enc.Signature) != classical.Ed25519SignatureSize {
			return nil, fmt.Errorf("%w: signature must be %d bytes, got %d", umbraerr.ErrInvalidSignature, classical.Ed25519SignatureSize, len(enc.Signature))
		}
		ok, err := e.sessions.Verify(peer, plaintext, &hybridsig.Signature{Classical: enc.Signature, Lattice: enc.LatticeSig})
		if err != nil {
			e.log.Warnf("no pinned verify key for peer %s, skipping signature check", peer)
		} else if !ok {
			return nil, fmt.Errorf("%w: signature verification failed", umbraerr.ErrInvalidSignature)
		}
	}

	var verified []byte
	if len(enc.IdentityID) == 32 && len(enc.IdentityProof) > 0 && e.prover != nil {
		var idArr [32]byte
		copy(idArr[:], enc.IdentityID)
		tmpID := &identity.Identity{ID: idArr}
		ok, err := e.prover.Verify(enc.IdentityProof, tmpID.IDField())
		if err != nil {
			e.log.Warnf("identity proof verification errored for peer %s: %v", peer, err)
		} else if !ok {
			e.log.Warnf("identity proof verification failed for peer %s", peer)
		} else {
			verified = append([]byte(nil), enc.IdentityID...)
		}
	}

	msg, err := wire.DecodeChatMessage(plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", umbraerr.ErrProtocol, err)
	}

	return &Decoded{Username: msg.Username, Content: msg.Content, VerifiedIdentity: verified}, nil
}
