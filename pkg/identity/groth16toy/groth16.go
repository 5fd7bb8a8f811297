// Package groth16toy implements a minimal, from-scratch Groth16-style
// zk-SNARK over BN254 for the fixed three-constraint identity circuit in
// pkg/identity/zkcircuit. It is written directly against
// consensys/gnark-crypto's bn254 and bn254/fr primitives rather than the
// full gnark circuit-compiler DSL, because the circuit is small and
// fixed at compile time — see DESIGN.md for the rationale and the
// explicit r=s=0 randomization simplification this package makes (the
// proof hides the witness but is not rerandomizable across verifications
// with the documented caveat spelled out there).
package groth16toy

import (
	"crypto/sha256"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/umbra-chat/umbra/pkg/identity/zkcircuit"
	"github.com/umbra-chat/umbra/pkg/umbraerr"
)

// ProvingKey holds the SRS material the prover needs, bound to the
// fixed circuit built from zkcircuit.Constraints.
type ProvingKey struct {
	AlphaG1 bn254.G1Affine
	BetaG2  bn254.G2Affine

	// AG1[j] is A_j(tau) in G1 and BG2[j] is B_j(tau) in G2 for every
	// witness variable j, used to accumulate the prover's A and B terms.
	AG1 [zkcircuit.NumVariables]bn254.G1Affine
	BG2 [zkcircuit.NumVariables]bn254.G2Affine

	// KPriv holds (beta*A_j + alpha*B_j + C_j)(tau)/delta * G1 for each
	// private variable, in the order of zkcircuit.PrivateVariables.
	KPriv []bn254.G1Affine

	// HPowers holds tau^i * t(tau)/delta * G1 for i = 0..deg(H).
	HPowers []bn254.G1Affine
}

// VerifyingKey holds the public SRS material the verifier needs.
type VerifyingKey struct {
	AlphaG1 bn254.G1Affine
	BetaG2  bn254.G2Affine
	GammaG2 bn254.G2Affine
	DeltaG2 bn254.G2Affine

	// ICPub holds (beta*A_j + alpha*B_j + C_j)(tau)/gamma * G1 for each
	// public variable, in the order of zkcircuit.PublicVariables.
	ICPub []bn254.G1Affine
}

// Proof is a Groth16-shaped proof: (A in G1, B in G2, C in G1).
type Proof struct {
	A bn254.G1Affine
	B bn254.G2Affine
	C bn254.G1Affine
}

// elementStream deterministically expands a seed into a sequence of
// field elements via SHA-256 chaining, so Setup is reproducible given
// the same seed without depending on crypto/rand or wall-clock entropy.
type elementStream struct {
	state [32]byte
}

func newElementStream(seed []byte) *elementStream {
	return &elementStream{state: sha256.Sum256(append([]byte("umbra-groth16-toy-setup-v1"), seed...))}
}

func (s *elementStream) next() fr.Element {
	var e fr.Element
	e.SetBytes(s.state[:])
	s.state = sha256.Sum256(s.state[:])
	return e
}

// Setup runs the (toy, non-universal) trusted setup for the fixed
// identity circuit, deterministically derived from seed. Real
// deployments would discard the toxic waste (alpha, beta, gamma, delta,
// tau); this toy keeps everything reproducible instead, which is why it
// must never be used outside development and why production use is
// explicitly out of scope (spec.md Non-goals).
func Setup(seed []byte) (*ProvingKey, *VerifyingKey, error) {
	stream := newElementStream(seed)
	alpha := stream.next()
	beta := stream.next()
	gamma := stream.next()
	delta := stream.next()
	tau := stream.next()

	var gammaInv, deltaInv fr.Element
	gammaInv.Inverse(&gamma)
	deltaInv.Inverse(&delta)

	vp := zkcircuit.BuildVarPolys()

	_, _, g1Aff, g2Aff := bn254.Generators()

	pk := &ProvingKey{}
	vk := &VerifyingKey{}

	pk.AlphaG1 = scalarMulG1(g1Aff, alpha)
	pk.BetaG2 = scalarMulG2(g2Aff, beta)
	vk.AlphaG1 = pk.AlphaG1
	vk.BetaG2 = pk.BetaG2
	vk.GammaG2 = scalarMulG2(g2Aff, gamma)
	vk.DeltaG2 = scalarMulG2(g2Aff, delta)

	aTau := make([]fr.Element, zkcircuit.NumVariables)
	bTau := make([]fr.Element, zkcircuit.NumVariables)
	cTau := make([]fr.Element, zkcircuit.NumVariables)
	for j := 0; j < zkcircuit.NumVariables; j++ {
		aTau[j] = vp.A[j].Eval(tau)
		bTau[j] = vp.B[j].Eval(tau)
		cTau[j] = vp.C[j].Eval(tau)

		pk.AG1[j] = scalarMulG1(g1Aff, aTau[j])
		pk.BG2[j] = scalarMulG2(g2Aff, bTau[j])
	}

	combined := func(j int) fr.Element {
		var t1, t2, sum fr.Element
		t1.Mul(&beta, &aTau[j])
		t2.Mul(&alpha, &bTau[j])
		sum.Add(&t1, &t2)
		sum.Add(&sum, &cTau[j])
		return sum
	}

	for _, j := range zkcircuit.PublicVariables {
		c := combined(j)
		var scaled fr.Element
		scaled.Mul(&c, &gammaInv)
		vk.ICPub = append(vk.ICPub, scalarMulG1(g1Aff, scaled))
	}
	for _, j := range zkcircuit.PrivateVariables {
		c := combined(j)
		var scaled fr.Element
		scaled.Mul(&c, &deltaInv)
		pk.KPriv = append(pk.KPriv, scalarMulG1(g1Aff, scaled))
	}

	t := zkcircuit.TargetPoly()
	tTau := t.Eval(tau)
	var tTauOverDelta fr.Element
	tTauOverDelta.Mul(&tTau, &deltaInv)

	// H has degree <= 1 for this circuit (deg(A*B) <= 4, deg(C) <= 2,
	// deg(t) = 3), so two SRS powers (tau^0, tau^1) suffice.
	const hDegree = 1
	power := one()
	for i := 0; i <= hDegree; i++ {
		var scaled fr.Element
		scaled.Mul(&power, &tTauOverDelta)
		pk.HPowers = append(pk.HPowers, scalarMulG1(g1Aff, scaled))
		power.Mul(&power, &tau)
	}

	return pk, vk, nil
}

// Prove constructs a proof that the prover knows a secret such that
// secret^5 equals the returned identity commitment.
func Prove(pk *ProvingKey, secret fr.Element) (*Proof, fr.Element, error) {
	w := zkcircuit.Witness(secret)
	if !zkcircuit.Satisfied(w) {
		return nil, fr.Element{}, fmt.Errorf("%w: witness does not satisfy the identity circuit", umbraerr.ErrProofGeneration)
	}

	vp := zkcircuit.BuildVarPolys()
	aPoly := zkcircuit.CombineWitness(w, vp.A)
	bPoly := zkcircuit.CombineWitness(w, vp.B)
	cPoly := zkcircuit.CombineWitness(w, vp.C)

	ab := aPoly.Mul(bPoly)
	numerator := ab.Sub(cPoly)
	h, err := numerator.DivExact(zkcircuit.TargetPoly())
	if err != nil {
		return nil, fr.Element{}, fmt.Errorf("%w: QAP division: %v", umbraerr.ErrProofGeneration, err)
	}

	var accA, accC bn254.G1Jac
	var accB2 bn254.G2Jac

	addAlphaG1(&accA, pk.AlphaG1)
	for j := 0; j < zkcircuit.NumVariables; j++ {
		accumulateG1(&accA, pk.AG1[j], w[j])
	}

	addAlphaG2(&accB2, pk.BetaG2)
	for j := 0; j < zkcircuit.NumVariables; j++ {
		accumulateG2(&accB2, pk.BG2[j], w[j])
	}

	for idx, j := range zkcircuit.PrivateVariables {
		accumulateG1(&accC, pk.KPriv[idx], w[j])
	}
	for i, coeff := range h {
		if i >= len(pk.HPowers) {
			return nil, fr.Element{}, fmt.Errorf("%w: H(x) degree exceeds SRS", umbraerr.ErrProofGeneration)
		}
		accumulateG1(&accC, pk.HPowers[i], coeff)
	}

	var proof Proof
	proof.A.FromJacobian(&accA)
	proof.B.FromJacobian(&accB2)
	proof.C.FromJacobian(&accC)

	return &proof, w[zkcircuit.VarID], nil
}

// Verify checks proof against the public identity commitment id.
func Verify(vk *VerifyingKey, proof *Proof, id fr.Element) (bool, error) {
	var accIC bn254.G1Jac
	publicValues := []fr.Element{one(), id}
	for idx := range zkcircuit.PublicVariables {
		accumulateG1(&accIC, vk.ICPub[idx], publicValues[idx])
	}
	var ic bn254.G1Affine
	ic.FromJacobian(&accIC)

	var negAlpha, negIC, negC bn254.G1Affine
	negAlpha.Neg(&vk.AlphaG1)
	negIC.Neg(&ic)
	negC.Neg(&proof.C)

	ok, err := bn254.PairingCheck(
		[]bn254.G1Affine{proof.A, negAlpha, negIC, negC},
		[]bn254.G2Affine{proof.B, vk.BetaG2, vk.GammaG2, vk.DeltaG2},
	)
	if err != nil {
		return false, fmt.Errorf("%w: pairing check: %v", umbraerr.ErrProofVerification, err)
	}
	return ok, nil
}

func one() fr.Element {
	var e fr.Element
	e.SetOne()
	return e
}

func scalarMulG1(base bn254.G1Affine, scalar fr.Element) bn254.G1Affine {
	var bi big.Int
	scalar.BigInt(&bi)
	var out bn254.G1Affine
	out.ScalarMultiplication(&base, &bi)
	return out
}

func scalarMulG2(base bn254.G2Affine, scalar fr.Element) bn254.G2Affine {
	var bi big.Int
	scalar.BigInt(&bi)
	var out bn254.G2Affine
	out.ScalarMultiplication(&base, &bi)
	return out
}

func accumulateG1(acc *bn254.G1Jac, point bn254.G1Affine, scalar fr.Element) {
	if scalar.IsZero() {
		return
	}
	var bi big.Int
	scalar.BigInt(&bi)
	var scaled bn254.G1Affine
	scaled.ScalarMultiplication(&point, &bi)
	var j bn254.G1Jac
	j.FromAffine(&scaled)
	acc.AddAssign(&j)
}

func accumulateG2(acc *bn254.G2Jac, point bn254.G2Affine, scalar fr.Element) {
	if scalar.IsZero() {
		return
	}
	var bi big.Int
	scalar.BigInt(&bi)
	var scaled bn254.G2Affine
	scaled.ScalarMultiplication(&point, &bi)
	var j bn254.G2Jac
	j.FromAffine(&scaled)
	acc.AddAssign(&j)
}

func addAlphaG1(acc *bn254.G1Jac, alpha bn254.G1Affine) {
	var j bn254.G1Jac
	j.FromAffine(&alpha)
	acc.AddAssign(&j)
}

func addAlphaG2(acc *bn254.G2Jac, beta bn254.G2Affine) {
	var j bn254.G2Jac
	j.FromAffine(&beta)
	acc.AddAssign(&j)
}

func appendLenPrefixed(out []byte, b []byte) []byte {
	n := uint32(len(b))
	out = append(out, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
	return append(out, b...)
}

func takeLenPrefixed(b []byte) (field, rest []byte, err error) {
	if len(b) < 4 {
		return nil, nil, fmt.Errorf("groth16toy: truncated length prefix")
	}
	n := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	b = b[4:]
	if uint32(len(b)) < n {
		return nil, nil, fmt.Errorf("groth16toy: truncated field")
	}
	return b[:n], b[n:], nil
}

// Marshal serializes the proving key as a flat sequence of
// length-prefixed canonical curve-point encodings.
func (pk *ProvingKey) Marshal() []byte {
	var out []byte
	out = appendLenPrefixed(out, pk.AlphaG1.Marshal())
	out = appendLenPrefixed(out, pk.BetaG2.Marshal())
	for _, p := range pk.AG1 {
		out = appendLenPrefixed(out, p.Marshal())
	}
	for _, p := range pk.BG2 {
		out = appendLenPrefixed(out, p.Marshal())
	}
	out = appendLenPrefixed(out, uint32ToBytes(uint32(len(pk.KPriv))))
	for _, p := range pk.KPriv {
		out = appendLenPrefixed(out, p.Marshal())
	}
	out = appendLenPrefixed(out, uint32ToBytes(uint32(len(pk.HPowers))))
	for _, p := range pk.HPowers {
		out = appendLenPrefixed(out, p.Marshal())
	}
	return out
}

// UnmarshalProvingKey reverses Marshal.
func UnmarshalProvingKey(b []byte) (*ProvingKey, error) {
	pk := &ProvingKey{}
	var field []byte
	var err error

	if field, b, err = takeLenPrefixed(b); err != nil {
		return nil, err
	}
	if err := pk.AlphaG1.Unmarshal(field); err != nil {
		return nil, fmt.Errorf("unmarshal AlphaG1: %w", err)
	}
	if field, b, err = takeLenPrefixed(b); err != nil {
		return nil, err
	}
	if err := pk.BetaG2.Unmarshal(field); err != nil {
		return nil, fmt.Errorf("unmarshal BetaG2: %w", err)
	}
	for i := range pk.AG1 {
		if field, b, err = takeLenPrefixed(b); err != nil {
			return nil, err
		}
		if err := pk.AG1[i].Unmarshal(field); err != nil {
			return nil, fmt.Errorf("unmarshal AG1[%d]: %w", i, err)
		}
	}
	for i := range pk.BG2 {
		if field, b, err = takeLenPrefixed(b); err != nil {
			return nil, err
		}
		if err := pk.BG2[i].Unmarshal(field); err != nil {
			return nil, fmt.Errorf("unmarshal BG2[%d]: %w", i, err)
		}
	}
	if field, b, err = takeLenPrefixed(b); err != nil {
		return nil, err
	}
	nKPriv := bytesToUint32(field)
	pk.KPriv = make([]bn254.G1Affine, nKPriv)
	for i := range pk.KPriv {
		if field, b, err = takeLenPrefixed(b); err != nil {
			return nil, err
		}
		if err := pk.KPriv[i].Unmarshal(field); err != nil {
			return nil, fmt.Errorf("unmarshal KPriv[%d]: %w", i, err)
		}
	}
	if field, b, err = takeLenPrefixed(b); err != nil {
		return nil, err
	}
	nH := bytesToUint32(field)
	pk.HPowers = make([]bn254.G1Affine, nH)
	for i := range pk.HPowers {
		if field, b, err = takeLenPrefixed(b); err != nil {
			return nil, err
		}
		if err := pk.HPowers[i].Unmarshal(field); err != nil {
			return nil, fmt.Errorf("unmarshal HPowers[%d]: %w", i, err)
		}
	}
	_ = b
	return pk, nil
}

// Marshal serializes the verifying key the same way Marshal does for
// ProvingKey.
func (vk *VerifyingKey) Marshal() []byte {
	var out []byte
	out = appendLenPrefixed(out, vk.AlphaG1.Marshal())
	out = appendLenPrefixed(out, vk.BetaG2.Marshal())
	out = appendLenPrefixed(out, vk.GammaG2.Marshal())
	out = appendLenPrefixed(out, vk.DeltaG2.Marshal())
	out = appendLenPrefixed(out, uint32ToBytes(uint32(len(vk.ICPub))))
	for _, p := range vk.ICPub {
		out = appendLenPrefixed(out, p.Marshal())
	}
	return out
}

// UnmarshalVerifyingKey reverses Marshal.
func UnmarshalVerifyingKey(b []byte) (*VerifyingKey, error) {
	vk := &VerifyingKey{}
	var field []byte
	var err error

	if field, b, err = takeLenPrefixed(b); err != nil {
		return nil, err
	}
	if err := vk.AlphaG1.Unmarshal(field); err != nil {
		return nil, fmt.Errorf("unmarshal AlphaG1: %w", err)
	}
	if field, b, err = takeLenPrefixed(b); err != nil {
		return nil, err
	}
	if err := vk.BetaG2.Unmarshal(field); err != nil {
		return nil, fmt.Errorf("unmarshal BetaG2: %w", err)
	}
	if field, b, err = takeLenPrefixed(b); err != nil {
		return nil, err
	}
	if err := vk.GammaG2.Unmarshal(field); err != nil {
		return nil, fmt.Errorf("unmarshal GammaG2: %w", err)
	}
	if field, b, err = takeLenPrefixed(b); err != nil {
		return nil, err
	}
	if err := vk.DeltaG2.Unmarshal(field); err != nil {
		return nil, fmt.Errorf("unmarshal DeltaG2: %w", err)
	}
	if field, b, err = takeLenPrefixed(b); err != nil {
		return nil, err
	}
	n := bytesToUint32(field)
	vk.ICPub = make([]bn254.G1Affine, n)
	for i := range vk.ICPub {
		if field, b, err = takeLenPrefixed(b); err != nil {
			return nil, err
		}
		if err := vk.ICPub[i].Unmarshal(field); err != nil {
			return nil, fmt.Errorf("unmarshal ICPub[%d]: %w", i, err)
		}
	}
	_ = b
	return vk, nil
}

func uint32ToBytes(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

func bytesToUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
