package datastore

import (
	"math"
	"testing"

	"transientcore/linalg"
)

func TestSetConstantHistory(t *testing.T) {
	d := New(2, 1e-6, 1e-9)
	d.SetInitialSolution(linalg.NewVectorFromSlice([]float64{1, 2}))
	d.curr[Solution].Copy(d.curr[Solution]) // no-op, clarifies curr is seeded
	d.SetConstantHistory()

	h0 := d.History(Solution).Slot(0)
	if h0.Get(0) != 1 || h0.Get(1) != 2 {
		t.Fatalf("history slot 0 = %v, want [1 2]", h0.ToDense())
	}
	for i := 1; i <= MaxOrder; i++ {
		s := d.History(Solution).Slot(i)
		for j := 0; j < 2; j++ {
			if s.Get(j) != 0 {
				t.Errorf("history slot %d[%d] = %v, want 0", i, j, s.Get(j))
			}
		}
	}
}

func TestUpdateSolDataArraysRotates(t *testing.T) {
	d := New(1, 1e-6, 1e-9)
	d.curr[Solution].Set(0, 1)
	d.next[Solution].Set(0, 2)
	d.UpdateSolDataArrays()
	if d.Last(Solution).Get(0) != 1 {
		t.Errorf("last = %v, want 1", d.Last(Solution).Get(0))
	}
	if d.Curr(Solution).Get(0) != 2 {
		t.Errorf("curr = %v, want 2", d.Curr(Solution).Get(0))
	}
}

func TestStepLinearComboAccumulatesNewtonCorrection(t *testing.T) {
	d := New(1, 1e-6, 1e-9)
	d.StepLinearCombo(Solution, linalg.NewVectorFromSlice([]float64{0.5}))
	d.StepLinearCombo(Solution, linalg.NewVectorFromSlice([]float64{0.25}))
	if got := d.NewtonCorrection().Get(0); got != 0.75 {
		t.Errorf("NewtonCorrection = %v, want 0.75", got)
	}
	if got := d.Next(Solution).Get(0); got != 0.75 {
		t.Errorf("next[Solution] = %v, want 0.75", got)
	}
}

func TestSetErrorWtVectorAndNorm(t *testing.T) {
	d := New(2, 0.1, 0.01)
	x := linalg.NewVectorFromSlice([]float64{10, -20})
	d.SetErrorWtVector(x)
	// weight_i = relTol*|x_i| + absTol
	w := d.ErrorWeight()
	if math.Abs(w.Get(0)-1.01) > 1e-12 {
		t.Errorf("weight[0] = %v, want 1.01", w.Get(0))
	}
	if math.Abs(w.Get(1)-2.01) > 1e-12 {
		t.Errorf("weight[1] = %v, want 2.01", w.Get(1))
	}

	v := linalg.NewVectorFromSlice([]float64{1.01, 2.01})
	if got := d.WeightedRMSNorm(v); math.Abs(got-1.0) > 1e-12 {
		t.Errorf("WeightedRMSNorm = %v, want 1", got)
	}
}
