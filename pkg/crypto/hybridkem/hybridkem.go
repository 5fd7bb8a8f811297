// Package hybridkem implements the hybrid key-encapsulation handshake
// primitive: a classical X25519 exchange combined with a lattice-based
// ML-KEM-1024 encapsulation, folded into one 32-byte shared secret.
package hybridkem

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/umbra-chat/umbra/pkg/crypto/classical"
	"github.com/umbra-chat/umbra/pkg/crypto/mlkem"
	"github.com/umbra-chat/umbra/pkg/umbraerr"
)

// CombineDomainSeparator is the exact ASCII prefix hashed ahead of the
// two partial secrets in every combined shared secret. Changing it forks
// the wire protocol.
const CombineDomainSeparator = "UMBRA-HYBRID-KEM"

// SharedSecretSize is the output size of a combined shared secret.
const SharedSecretSize = 32

// KeyPair holds both halves of a hybrid KEM keypair. Secret material is
// zeroized by Zeroize; callers must not retain copies of the private
// fields beyond the keypair's lifetime.
type KeyPair struct {
	ClassicalPublic  []byte // 32 bytes, X25519
	ClassicalPrivate []byte // 32 bytes, X25519
	LatticePublic    []byte // 1568 bytes, ML-KEM-1024
	LatticePrivate   []byte // 3168 bytes, ML-KEM-1024

	CreatedAt time.Time
}

// Generate creates a fresh hybrid keypair: a classical scalar secret with
// its derived public point, plus a lattice-KEM keypair.
func Generate() (*KeyPair, error) {
	classicalKP, err := classical.GenerateX25519Keypair()
	if err != nil {
		return nil, fmt.Errorf("%w: classical half: %v", umbraerr.ErrKeyDerivation, err)
	}

	latticeKP, err := mlkem.GenerateKeypair()
	if err != nil {
		return nil, fmt.Errorf("%w: lattice half: %v", umbraerr.ErrKeyDerivation, err)
	}

	return &KeyPair{
		ClassicalPublic:  classicalKP.PublicKey,
		ClassicalPrivate: classicalKP.PrivateKey,
		LatticePublic:    latticeKP.PublicKey,
		LatticePrivate:   latticeKP.PrivateKey,
		CreatedAt:        time.Now(),
	}, nil
}

// Zeroize wipes the private halves of the keypair.
func (kp *KeyPair) Zeroize() {
	if kp == nil {
		return
	}
	zero(kp.ClassicalPrivate)
	zero(kp.LatticePrivate)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Encapsulate performs the responder's half of the hybrid KEM against the
// initiator's public material: classical_dh(our_secret, peer_classical_pub),
// lattice encapsulation against peer_lattice_pub, combined via
// H("UMBRA-HYBRID-KEM" ‖ s1 ‖ s2) with H = SHA-256.
func Encapsulate(ourClassicalSecret, peerClassicalPub, peerLatticePub []byte) (latticeCiphertext []byte, sharedSecret [SharedSecretSize]byte, err error) {
	s1, err := classical.X25519Exchange(ourClassicalSecret, peerClassicalPub)
	if err != nil {
		return nil, sharedSecret, fmt.Errorf("%w: classical exchange: %v", umbraerr.ErrKeyDerivation, err)
	}

	ct, s2, err := mlkem.Encapsulate(peerLatticePub)
	if err != nil {
		return nil, sharedSecret, fmt.Errorf("%w: %v", umbraerr.ErrPostQuantum, err)
	}

	secret, err := combine(s1, s2)
	if err != nil {
		return nil, sharedSecret, err
	}
	sharedSecret = secret
	zero(s1)

	return ct, sharedSecret, nil
}

// Decapsulate performs the initiator's half: recovers the same shared
// secret using our own classical secret and the lattice ciphertext.
func Decapsulate(ourClassicalSecret, ourLatticeSecret, peerClassicalPub, latticeCiphertext []byte) (sharedSecret [SharedSecretSize]byte, err error) {
	s1, err := classical.X25519Exchange(ourClassicalSecret, peerClassicalPub)
	if err != nil {
		return sharedSecret, fmt.Errorf("%w: classical exchange: %v", umbraerr.ErrKeyDerivation, err)
	}

	s2, err := mlkem.Decapsulate(latticeCiphertext, ourLatticeSecret)
	if err != nil {
		return sharedSecret, fmt.Errorf("%w: %v", umbraerr.ErrPostQuantum, err)
	}

	secret, err := combine(s1, s2)
	zero(s1)
	if err != nil {
		return sharedSecret, err
	}

	return secret, nil
}

func combine(s1, s2 []byte) (out [SharedSecretSize]byte, err error) {
	h := sha256.New()
	h.Write([]byte(CombineDomainSeparator))
	h.Write(s1)
	h.Write(s2)
	copy(out[:], h.Sum(nil))
	return out, nil
}
