// Package zkcircuit defines the toy arithmetic circuit the identity
// system proves knowledge of: secret^5 == identity_id over the BN254
// scalar field, expressed as an R1CS of exactly three multiplication
// constraints via repeated squaring (spec.md §4.6):
//
//	t2 = s * s
//	t4 = t2 * t2
//	id = t4 * s
//
// A true R1CS constraint is quadratic, so the spec's "single-constraint"
// framing at the abstraction level of x^5 decomposes, at the R1CS level,
// into exactly these three gates — matching
// original_source/crates/umbra-identity/src/circuit.rs's own
// three-multiplication implementation of the same "single constraint".
package zkcircuit

import (
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// NumConstraints is the number of R1CS rows (the QAP evaluation domain
// size).
const NumConstraints = 3

// Variable indices into the witness vector w = [1, id, s, t2, t4].
// Index 0 is public-input-adjacent term, fixed to 1; index 1 (id) is the
// single public input; indices 2..4 are private witness.
const (
	VarOne = iota
	VarID
	VarSecret
	VarT2
	VarT4
	NumVariables
)

// PublicVariables lists the witness indices that are public inputs
// (always including the constant-1 wire, per the standard R1CS
// convention).
var PublicVariables = []int{VarOne, VarID}

// PrivateVariables lists the witness indices that are private.
var PrivateVariables = []int{VarSecret, VarT2, VarT4}

// Row is one R1CS constraint: (A·w)*(B·w) = (C·w), given as sparse
// (variable index, coefficient) pairs. All coefficients here are ±1, so
// we store them as plain variable indices with an implicit coefficient
// of one.
type Row struct {
	A, B, C int // variable index with coefficient 1, or -1 for "none"
}

// Constraints is the fixed constraint system for secret^5 == id.
var Constraints = [NumConstraints]Row{
	{A: VarSecret, B: VarSecret, C: VarT2}, // s*s = t2
	{A: VarT2, B: VarT2, C: VarT4},         // t2*t2 = t4
	{A: VarT4, B: VarSecret, C: VarID},     // t4*s = id
}

// ReduceToField interprets b as a little-endian integer and reduces it
// modulo the BN254 scalar field order, matching spec.md §4.6's
// "reducing modulo the field order using little-endian byte semantics".
func ReduceToField(b [32]byte) fr.Element {
	// fr.Element.SetBytes expects big-endian; reverse first.
	var be [32]byte
	for i := range b {
		be[i] = b[31-i]
	}
	var e fr.Element
	e.SetBytes(be[:])
	return e
}

// FieldToBytes serializes a field element back to 32 little-endian,
// zero-padded bytes.
func FieldToBytes(e fr.Element) [32]byte {
	be := e.Bytes() // big-endian, 32 bytes
	var out [32]byte
	for i := range be {
		out[i] = be[31-i]
	}
	return out
}

// Pow5 computes s^5 via the same repeated-squaring decomposition the
// circuit encodes: t2=s*s, t4=t2*t2, id=t4*s.
func Pow5(s fr.Element) (id, t2, t4 fr.Element) {
	t2.Mul(&s, &s)
	t4.Mul(&t2, &t2)
	id.Mul(&t4, &s)
	return id, t2, t4
}

// Witness builds the full witness vector [1, id, s, t2, t4] for a given
// secret, computing id and the intermediate squarings.
func Witness(secret fr.Element) [NumVariables]fr.Element {
	id, t2, t4 := Pow5(secret)
	var w [NumVariables]fr.Element
	w[VarOne].SetOne()
	w[VarID] = id
	w[VarSecret] = secret
	w[VarT2] = t2
	w[VarT4] = t4
	return w
}

// Satisfied checks the witness against every constraint row, returning
// false at the first violated gate.
func Satisfied(w [NumVariables]fr.Element) bool {
	for _, row := range Constraints {
		var lhs fr.Element
		lhs.Mul(&w[row.A], &w[row.B])
		if !lhs.Equal(&w[row.C]) {
			return false
		}
	}
	return true
}
