// Package identity implements the password-derived pseudonymous
// identity system: a stable public commitment, computed from a
// password via a toy algebraic hash, together with a Groth16-style
// prover/verifier that lets a holder prove knowledge of the password
// without revealing it (spec.md §4.6).
package identity

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"lukechampine.com/blake3"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/umbra-chat/umbra/pkg/identity/groth16toy"
	"github.com/umbra-chat/umbra/pkg/identity/zkcircuit"
	"github.com/umbra-chat/umbra/pkg/umbraerr"
)

// Identity is the public/private pair produced from a password:
// id is the public commitment, secret never leaves the process that
// created or loaded it and is never serialized (spec.md §3).
type Identity struct {
	ID     [32]byte `json:"id"`
	Secret [32]byte `json:"-"`
}

// identityDisk is the on-disk shape of umbra_identity.bin: the secret
// field is always omitted, matching spec.md §6.
type identityDisk struct {
	ID string `json:"id"`
}

// Create derives an Identity from password. An empty password is
// rejected (spec.md §4.6 invariant 1).
func Create(password []byte) (*Identity, error) {
	if len(password) == 0 {
		return nil, fmt.Errorf("%w: password must not be empty", umbraerr.ErrInvalidPassword)
	}

	secretBytes := blake3.Sum256(password)
	secretField := zkcircuit.ReduceToField(secretBytes)
	idField, _, _ := zkcircuit.Pow5(secretField)

	return &Identity{
		ID:     zkcircuit.FieldToBytes(idField),
		Secret: secretBytes,
	}, nil
}

// SecretField returns the identity's secret reduced to the circuit's
// field, the form the prover consumes.
func (id *Identity) SecretField() fr.Element {
	return zkcircuit.ReduceToField(id.Secret)
}

// IDField returns the identity's public commitment as a field element,
// the form the verifier consumes.
func (id *Identity) IDField() fr.Element {
	return zkcircuit.ReduceToField(id.ID)
}

// Save writes the identity's public commitment to path as JSON,
// omitting the secret (umbra_identity.bin, spec.md §6).
func (id *Identity) Save(path string) error {
	disk := identityDisk{ID: hex.EncodeToString(id.ID[:])}
	b, err := json.MarshalIndent(disk, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal identity: %v", umbraerr.ErrSerialization, err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("%w: write %s: %v", umbraerr.ErrIO, path, err)
	}
	return nil
}

// Load reads an identity's public commitment from path. The returned
// Identity has a zero Secret: it can verify proofs made by the original
// holder but cannot itself produce new ones until the password is
// re-supplied via Create.
func Load(path string) (*Identity, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", umbraerr.ErrIO, path, err)
	}
	var disk identityDisk
	if err := json.Unmarshal(b, &disk); err != nil {
		return nil, fmt.Errorf("%w: unmarshal identity: %v", umbraerr.ErrSerialization, err)
	}
	raw, err := hex.DecodeString(disk.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: decode identity id: %v", umbraerr.ErrSerialization, err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("%w: identity id must be 32 bytes, got %d", umbraerr.ErrSerialization, len(raw))
	}
	var id [32]byte
	copy(id[:], raw)
	return &Identity{ID: id}, nil
}

// Prover wraps a Groth16-style proving/verifying keypair for the
// identity circuit, loaded or generated once per installation and
// reused across every subsequent prove/verify call (spec.md §4.6, §5:
// setup is seconds-scale and must never run on the hot path).
type Prover struct {
	pk *groth16toy.ProvingKey
	vk *groth16toy.VerifyingKey
}

// NewProver runs the (slow) trusted setup for the identity circuit,
// deterministically derived from seed so repeated installs of the same
// node configuration produce byte-identical keys.
func NewProver(seed []byte) (*Prover, error) {
	pk, vk, err := groth16toy.Setup(seed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", umbraerr.ErrProofGeneration, err)
	}
	return &Prover{pk: pk, vk: vk}, nil
}

// Prove produces a proof that the holder of secretField knows a preimage
// of the identity id under the identity hash. The caller passes an
// Identity's SecretField(); no expected id is taken, because the circuit
// itself derives the output id from the secret and binds the two.
func (p *Prover) Prove(secretField fr.Element) ([]byte, error) {
	proof, _, err := groth16toy.Prove(p.pk, secretField)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", umbraerr.ErrProofGeneration, err)
	}
	return encodeProof(proof), nil
}

// Verify checks a serialized proof against a public identity
// commitment.
func (p *Prover) Verify(proofBytes []byte, idField fr.Element) (bool, error) {
	proof, err := decodeProof(proofBytes)
	if err != nil {
		return false, fmt.Errorf("%w: %v", umbraerr.ErrProofVerification, err)
	}
	ok, err := groth16toy.Verify(p.vk, proof, idField)
	if err != nil {
		return false, fmt.Errorf("%w: %v", umbraerr.ErrProofVerification, err)
	}
	return ok, nil
}

// Save writes the proving and verifying keys to path as the
// canonical-compressed concatenation umbra_keys.bin describes
// (spec.md §6): len-prefixed proving key bytes followed by len-prefixed
// verifying key bytes.
func (p *Prover) Save(path string) error {
	pkBytes := p.pk.Marshal()
	vkBytes := p.vk.Marshal()

	out := make([]byte, 0, 8+len(pkBytes)+len(vkBytes))
	out = appendUint32(out, uint32(len(pkBytes)))
	out = append(out, pkBytes...)
	out = appendUint32(out, uint32(len(vkBytes)))
	out = append(out, vkBytes...)

	if err := os.WriteFile(path, out, 0o600); err != nil {
		return fmt.Errorf("%w: write %s: %v", umbraerr.ErrIO, path, err)
	}
	return nil
}

// LoadProver reads a previously-saved proving/verifying keypair.
func LoadProver(path string) (*Prover, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", umbraerr.ErrIO, path, err)
	}
	if len(b) < 4 {
		return nil, fmt.Errorf("%w: key file truncated", umbraerr.ErrSerialization)
	}
	pkLen := readUint32(b)
	b = b[4:]
	if len(b) < int(pkLen)+4 {
		return nil, fmt.Errorf("%w: key file truncated", umbraerr.ErrSerialization)
	}
	pk, err := groth16toy.UnmarshalProvingKey(b[:pkLen])
	if err != nil {
		return nil, fmt.Errorf("%w: unmarshal proving key: %v", umbraerr.ErrSerialization, err)
	}
	b = b[pkLen:]
	vkLen := readUint32(b)
	b = b[4:]
	if len(b) < int(vkLen) {
		return nil, fmt.Errorf("%w: key file truncated", umbraerr.ErrSerialization)
	}
	vk, err := groth16toy.UnmarshalVerifyingKey(b[:vkLen])
	if err != nil {
		return nil, fmt.Errorf("%w: unmarshal verifying key: %v", umbraerr.ErrSerialization, err)
	}
	return &Prover{pk: pk, vk: vk}, nil
}

func appendUint32(b []byte, v uint32) []byte {
	return append(b, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func readUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// encodeProof/decodeProof give proofs a stable wire form for attaching
// to EncryptedMessage.identity_proof (spec.md §4.2, §4.7): the three
// curve points serialized via their canonical compressed
// Marshal/Unmarshal form, length-prefixed.
func encodeProof(p *groth16toy.Proof) []byte {
	a := p.A.Marshal()
	b := p.B.Marshal()
	c := p.C.Marshal()

	out := make([]byte, 0, 12+len(a)+len(b)+len(c))
	out = appendUint32(out, uint32(len(a)))
	out = append(out, a...)
	out = appendUint32(out, uint32(len(b)))
	out = append(out, b...)
	out = appendUint32(out, uint32(len(c)))
	out = append(out, c...)
	return out
}

func decodeProof(b []byte) (*groth16toy.Proof, error) {
	var proof groth16toy.Proof
	rest := b

	aLen, rest, err := takeLenPrefixed(rest)
	if err != nil {
		return nil, err
	}
	if err := proof.A.Unmarshal(aLen); err != nil {
		return nil, fmt.Errorf("unmarshal proof.A: %w", err)
	}
	bLen, rest, err := takeLenPrefixed(rest)
	if err != nil {
		return nil, err
	}
	if err := proof.B.Unmarshal(bLen); err != nil {
		return nil, fmt.Errorf("unmarshal proof.B: %w", err)
	}
	cLen, _, err := takeLenPrefixed(rest)
	if err != nil {
		return nil, err
	}
	if err := proof.C.Unmarshal(cLen); err != nil {
		return nil, fmt.Errorf("unmarshal proof.C: %w", err)
	}
	return &proof, nil
}

func takeLenPrefixed(b []byte) (field, rest []byte, err error) {
	if len(b) < 4 {
		return nil, nil, fmt.Errorf("truncated length prefix")
	}
	n := readUint32(b)
	b = b[4:]
	if uint32(len(b)) < n {
		return nil, nil, fmt.Errorf("truncated field")
	}
	return b[:n], b[n:], nil
}
