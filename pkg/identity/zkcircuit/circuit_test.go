package zkcircuit

import (
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

func TestWitnessSatisfiesConstraints(t *testing.T) {
	var secret fr.Element
	secret.SetUint64(123456789)

	w := Witness(secret)
	if !Satisfied(w) {
		t.Error("witness built from Pow5 does not satisfy the circuit")
	}
}

func TestTamperedWitnessFailsConstraints(t *testing.T) {
	var secret fr.Element
	secret.SetUint64(42)
	w := Witness(secret)

	var one fr.Element
	one.SetOne()
	w[VarID].Add(&w[VarID], &one)

	if Satisfied(w) {
		t.Error("tampered identity value unexpectedly satisfied the circuit")
	}
}

func TestFieldByteRoundTrip(t *testing.T) {
	var b [32]byte
	for i := range b {
		b[i] = byte(i + 1)
	}
	e := ReduceToField(b)
	back := FieldToBytes(e)

	e2 := ReduceToField(back)
	if !e.Equal(&e2) {
		t.Error("ReduceToField/FieldToBytes roundtrip changed the field element")
	}
}

func TestTargetPolyVanishesOnDomain(t *testing.T) {
	t_ := TargetPoly()
	for _, r := range domain {
		var x fr.Element
		x.SetInt64(r)
		v := t_.Eval(x)
		if !v.IsZero() {
			t.Errorf("target polynomial does not vanish at domain point %d", r)
		}
	}
}

func TestQAPIdentitySatisfiedForValidWitness(t *testing.T) {
	var secret fr.Element
	secret.SetUint64(9999)
	w := Witness(secret)

	vp := BuildVarPolys()
	a := CombineWitness(w, vp.A)
	b := CombineWitness(w, vp.B)
	c := CombineWitness(w, vp.C)

	ab := a.Mul(b)
	diff := ab.Sub(c)

	for _, r := range domain {
		var x fr.Element
		x.SetInt64(r)
		if !diff.Eval(x).IsZero() {
			t.Errorf("A(x)*B(x)-C(x) does not vanish at domain point %d for a valid witness", r)
		}
	}

	if _, err := diff.DivExact(TargetPoly()); err != nil {
		t.Errorf("A*B-C should divide exactly by the target polynomial: %v", err)
	}
}
