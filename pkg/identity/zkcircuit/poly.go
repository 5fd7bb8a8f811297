package zkcircuit

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// domain is the QAP evaluation domain, one point per constraint row.
var domain = [NumConstraints]int64{1, 2, 3}

// Poly is a dense coefficient vector, lowest degree first.
type Poly []fr.Element

// Eval evaluates p at x via Horner's method.
func (p Poly) Eval(x fr.Element) fr.Element {
	var acc fr.Element
	for i := len(p) - 1; i >= 0; i-- {
		acc.Mul(&acc, &x)
		acc.Add(&acc, &p[i])
	}
	return acc
}

// Mul returns the convolution of a and b.
func (a Poly) Mul(b Poly) Poly {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	out := make(Poly, len(a)+len(b)-1)
	for i := range out {
		out[i].SetZero()
	}
	for i, ai := range a {
		for j, bj := range b {
			var term fr.Element
			term.Mul(&ai, &bj)
			out[i+j].Add(&out[i+j], &term)
		}
	}
	return out
}

// Sub returns a-b, zero-padding the shorter operand.
func (a Poly) Sub(b Poly) Poly {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	out := make(Poly, n)
	for i := 0; i < n; i++ {
		var av, bv fr.Element
		if i < len(a) {
			av = a[i]
		}
		if i < len(b) {
			bv = b[i]
		}
		out[i].Sub(&av, &bv)
	}
	return out
}

// Scale multiplies every coefficient of p by s.
func (p Poly) Scale(s fr.Element) Poly {
	out := make(Poly, len(p))
	for i, c := range p {
		out[i].Mul(&c, &s)
	}
	return out
}

// DivExact divides p by d, requiring a zero remainder (the QAP divides
// exactly whenever the witness satisfies every constraint).
func (p Poly) DivExact(d Poly) (Poly, error) {
	rem := append(Poly(nil), p...)
	degD := len(d) - 1
	var lead fr.Element
	lead = d[degD]
	var leadInv fr.Element
	leadInv.Inverse(&lead)

	degRem := len(rem) - 1
	if degRem < degD {
		for _, c := range rem {
			if !c.IsZero() {
				return nil, fmt.Errorf("zkcircuit: division does not divide exactly")
			}
		}
		return Poly{}, nil
	}
	quotient := make(Poly, degRem-degD+1)
	for degRem >= degD {
		var coeff fr.Element
		coeff.Mul(&rem[degRem], &leadInv)
		quotient[degRem-degD] = coeff
		for i := 0; i <= degD; i++ {
			var term fr.Element
			term.Mul(&coeff, &d[i])
			rem[degRem-degD+i].Sub(&rem[degRem-degD+i], &term)
		}
		degRem--
	}
	for _, c := range rem {
		if !c.IsZero() {
			return nil, fmt.Errorf("zkcircuit: nonzero remainder after division")
		}
	}
	return quotient, nil
}

// TargetPoly returns t(x) = (x-1)(x-2)(x-3), the QAP vanishing
// polynomial over the constraint domain.
func TargetPoly() Poly {
	t := Poly{one()}
	for _, r := range domain {
		var root fr.Element
		root.SetInt64(r)
		factor := Poly{neg(root), one()} // (x - r)
		t = t.Mul(factor)
	}
	return t
}

func one() fr.Element {
	var e fr.Element
	e.SetOne()
	return e
}

func neg(e fr.Element) fr.Element {
	var out fr.Element
	out.Neg(&e)
	return out
}

// lagrangeBasis returns, for each domain point i, the coefficient
// vector of L_i(x) = prod_{k != i} (x - x_k) / (x_i - x_k).
func lagrangeBasis() [NumConstraints]Poly {
	var basis [NumConstraints]Poly
	for i := 0; i < NumConstraints; i++ {
		num := Poly{one()}
		var denom fr.Element
		denom.SetOne()
		var xi fr.Element
		xi.SetInt64(domain[i])

		for k := 0; k < NumConstraints; k++ {
			if k == i {
				continue
			}
			var xk fr.Element
			xk.SetInt64(domain[k])
			num = num.Mul(Poly{neg(xk), one()})

			var diff fr.Element
			diff.Sub(&xi, &xk)
			denom.Mul(&denom, &diff)
		}
		var denomInv fr.Element
		denomInv.Inverse(&denom)
		basis[i] = num.Scale(denomInv)
	}
	return basis
}

// VarPolys holds, per witness variable, the QAP A/B/C polynomials built
// by summing the Lagrange basis polynomials of every constraint row
// that references the variable in that slot.
type VarPolys struct {
	A, B, C [NumVariables]Poly
}

// BuildVarPolys constructs the fixed QAP polynomials for Constraints.
// This only depends on the circuit shape, not on any witness, and is
// computed once by the trusted setup.
func BuildVarPolys() VarPolys {
	basis := lagrangeBasis()
	var vp VarPolys
	for j := 0; j < NumVariables; j++ {
		vp.A[j] = make(Poly, NumConstraints)
		vp.B[j] = make(Poly, NumConstraints)
		vp.C[j] = make(Poly, NumConstraints)
		for i := range vp.A[j] {
			vp.A[j][i].SetZero()
			vp.B[j][i].SetZero()
			vp.C[j][i].SetZero()
		}
	}
	for i, row := range Constraints {
		addBasisAt(&vp.A[row.A], basis[i])
		addBasisAt(&vp.B[row.B], basis[i])
		addBasisAt(&vp.C[row.C], basis[i])
	}
	return vp
}

func addBasisAt(acc *Poly, basis Poly) {
	sum := (*acc).Sub(Poly{}) // copy
	sum = sum.addInPlace(basis)
	*acc = sum
}

// addInPlace adds other into p, returning the (possibly reallocated)
// result.
func (p Poly) addInPlace(other Poly) Poly {
	n := len(p)
	if len(other) > n {
		n = len(other)
	}
	out := make(Poly, n)
	for i := 0; i < n; i++ {
		var pv, ov fr.Element
		if i < len(p) {
			pv = p[i]
		}
		if i < len(other) {
			ov = other[i]
		}
		out[i].Add(&pv, &ov)
	}
	return out
}

// CombineWitness evaluates sum_j w[j]*polys[j] for a witness vector,
// producing the circuit's A(x), B(x) or C(x) polynomial for that
// witness assignment.
func CombineWitness(w [NumVariables]fr.Element, polys [NumVariables]Poly) Poly {
	var out Poly
	for j, coeff := range w {
		if coeff.IsZero() {
			continue
		}
		out = out.addInPlace(polys[j].Scale(coeff))
	}
	if out == nil {
		out = Poly{}
	}
	return out
}
