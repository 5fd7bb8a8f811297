// Package hybridsig implements the hybrid identity signature scheme:
// a classical Ed25519 signature concatenated with a lattice-based
// ML-DSA-87 signature. The classical half must always verify; the
// lattice half is verified whenever a signature carries one, and Sign
// leaves it out while LatticeDisabled is set.
package hybridsig

import (
	"fmt"

	"github.com/umbra-chat/umbra/pkg/crypto/classical"
	"github.com/umbra-chat/umbra/pkg/crypto/mldsa"
	"github.com/umbra-chat/umbra/pkg/umbraerr"
)

// LatticeDisabled, when true, makes Sign omit the lattice signature half,
// so signatures carry the classical half only. It is a package variable
// read at signing time; Verify does not consult it and checks a lattice
// half whenever one is present. Default false.
var LatticeDisabled = false

// SignatureSize is the full hybrid signature length when the lattice
// half is present: ML-DSA-87 signature ‖ Ed25519 signature.
const SignatureSize = mldsa.SignatureSize + classical.Ed25519SignatureSize

// Key holds both signing keypairs. The lattice public key is carried
// inline so peers can verify without a side channel.
type Key struct {
	ClassicalPublic  []byte
	ClassicalPrivate []byte
	LatticePublic    []byte
	LatticePrivate   []byte
}

// Generate creates a fresh hybrid signing key.
func Generate() (*Key, error) {
	classicalKP, err := classical.GenerateEd25519Keypair()
	if err != nil {
		return nil, fmt.Errorf("%w: classical half: %v", umbraerr.ErrKeyDerivation, err)
	}

	latticeKP, err := mldsa.GenerateKeypair()
	if err != nil {
		return nil, fmt.Errorf("%w: lattice half: %v", umbraerr.ErrKeyDerivation, err)
	}

	return &Key{
		ClassicalPublic:  classicalKP.PublicKey,
		ClassicalPrivate: classicalKP.PrivateKey,
		LatticePublic:    latticeKP.PublicKey,
		LatticePrivate:   latticeKP.PrivateKey,
	}, nil
}

// Zeroize wipes both private keys.
func (k *Key) Zeroize() {
	if k == nil {
		return
	}
	for i := range k.ClassicalPrivate {
		k.ClassicalPrivate[i] = 0
	}
	for i := range k.LatticePrivate {
		k.LatticePrivate[i] = 0
	}
}

// Signature is the two-part hybrid signature. Lattice may be empty when
// LatticeDisabled is set.
type Signature struct {
	Classical []byte // 64 bytes
	Lattice   []byte // empty or mldsa.SignatureSize bytes
}

// Sign signs message with both halves of k (unless LatticeDisabled).
func Sign(message []byte, k *Key) (*Signature, error) {
	if k == nil {
		return nil, fmt.Errorf("%w: nil signing key", umbraerr.ErrInvalidSignature)
	}

	classicalSig, err := classical.Ed25519Sign(message, k.ClassicalPrivate)
	if err != nil {
		return nil, fmt.Errorf("%w: classical sign: %v", umbraerr.ErrInvalidSignature, err)
	}

	sig := &Signature{Classical: classicalSig}
	if LatticeDisabled {
		return sig, nil
	}

	latticeSig, err := mldsa.Sign(message, k.LatticePrivate)
	if err != nil {
		return nil, fmt.Errorf("%w: lattice sign: %v", umbraerr.ErrPostQuantum, err)
	}
	sig.Lattice = latticeSig

	return sig, nil
}

// Verify checks a hybrid signature against a public key. The classical
// half is always checked; the lattice half is checked whenever present.
// Any verification failure reports false.
func Verify(message []byte, sig *Signature, classicalPub, latticePub []byte) bool {
	if sig == nil {
		return false
	}

	if !classical.Ed25519Verify(message, sig.Classical, classicalPub) {
		return false
	}

	if len(sig.Lattice) == 0 {
		return true
	}

	return mldsa.Verify(message, sig.Lattice, latticePub)
}

// Encode concatenates a signature into the fixed wire layout:
// lattice (if present, appended as is with no padding) ‖ classical.
// When the lattice half is absent the encoding is just the classical
// 64 bytes.
func (s *Signature) Encode() []byte {
	if len(s.Lattice) == 0 {
		return append([]byte(nil), s.Classical...)
	}
	out := make([]byte, 0, len(s.Lattice)+len(s.Classical))
	out = append(out, s.Lattice...)
	out = append(out, s.Classical...)
	return out
}

// Decode reconstructs a Signature from wire bytes. hasLattice tells the
// decoder which layout to expect since the two are not
// self-distinguishing by length alone across configurations.
func Decode(b []byte, hasLattice bool) (*Signature, error) {
	if !hasLattice {
		if len(b) != classical.Ed25519SignatureSize {
			return nil, fmt.Errorf("%w: classical-only signature must be %d bytes, got %d", umbraerr.ErrInvalidSignature, classical.Ed25519SignatureSize, len(b))
		}
		return &Signature{Classical: append([]byte(nil), b...)}, nil
	}

	if len(b) != SignatureSize {
		return nil, fmt.Errorf("%w: hybrid signature must be %d bytes, got %d", umbraerr.ErrInvalidSignature, SignatureSize, len(b))
	}
	return &Signature{
		Lattice:   append([]byte(nil), b[:mldsa.SignatureSize]...),
		Classical: append([]byte(nil), b[mldsa.SignatureSize:]...),
	}, nil
}
