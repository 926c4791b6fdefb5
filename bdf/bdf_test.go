package bdf

import (
	"math"
	"testing"

	"transientcore/datastore"
	"transientcore/loader"
	"transientcore/nlsolve"
	"transientcore/stepcontrol"
)

func newRCIntegrator(t *testing.T, h float64) (*Integrator, *datastore.DataStore, *stepcontrol.Controller) {
	t.Helper()
	ld := loader.NewRCLoader(1, 1, 1)
	ds := datastore.New(1, 1e-6, 1e-9)
	n, x0, err := ld.InitializeProblem()
	if err != nil || n != 1 {
		t.Fatalf("InitializeProblem failed: %v", err)
	}
	ds.SetInitialSolution(x0)
	ds.SetErrorWtVector(x0)
	q0, _, _, err := ld.LoadRHS(x0)
	if err != nil {
		t.Fatalf("LoadRHS failed: %v", err)
	}
	ds.Curr(datastore.Q).Copy(q0)
	ds.SetConstantHistory()

	ctrl := stepcontrol.New(stepcontrol.DefaultTunables(), h, 1e-14, 1.0)
	nl := nlsolve.NewDampedNewton(ld)
	bi := New(ds, ctrl, ld, nl, 1e-6)
	return bi, ds, ctrl
}

func TestTakeStepConvergesOnRCDecay(t *testing.T) {
	bi, ds, _ := newRCIntegrator(t, 0.01)
	code, _, err := bi.TakeStep(0)
	if err != nil {
		t.Fatalf("TakeStep error: %v", err)
	}
	if code != nlsolve.Converged {
		t.Fatalf("code = %v, want Converged", code)
	}
	// implicit Euler on v/R + C dv/dt = 0 from v=1 gives v1 = 1/(1+h/RC).
	want := 1.0 / 1.01
	got := ds.Next(datastore.Solution).Get(0)
	if math.Abs(got-want) > 1e-6 {
		t.Errorf("Next(Solution) = %v, want %v", got, want)
	}
}

func TestRotateHistoryAfterAccept(t *testing.T) {
	bi, ds, ctrl := newRCIntegrator(t, 0.01)
	if _, _, err := bi.TakeStep(0); err != nil {
		t.Fatalf("TakeStep error: %v", err)
	}
	ctrl.AcceptStep()
	bi.RotateHistory()
	ds.UpdateSolDataArrays()

	h0 := ds.History(datastore.Solution).Slot(0)
	curr := ds.Curr(datastore.Solution)
	// After rotation+rollover, history slot 0 must equal the newly
	// accepted solution.
	if math.Abs(h0.Get(0)-curr.Get(0)) > 1e-9 {
		t.Errorf("history[0] = %v, curr = %v, want equal", h0.Get(0), curr.Get(0))
	}
}

func TestInterpolateRejectsOutOfRange(t *testing.T) {
	bi, _, ctrl := newRCIntegrator(t, 0.01)
	if _, _, err := bi.TakeStep(0); err != nil {
		t.Fatalf("TakeStep error: %v", err)
	}
	ctrl.AcceptStep()
	bi.RotateHistory()

	_, err := bi.Interpolate(-100, 0.01, ctrl.StepSize())
	if err == nil {
		t.Errorf("Interpolate(-100) should be rejected as out of range")
	}
}

func TestInitialStepSizeCapsAtUserStart(t *testing.T) {
	h := InitialStepSize(2.0, 1e-10, 1.0, 5.0, 0.0, 1.0, 0)
	if h != 1e-10 {
		t.Errorf("InitialStepSize (non-time-dependent) = %v, want 1e-10 (user cap)", h)
	}
}

func TestInitialStepSizeTimeDependent(t *testing.T) {
	h := InitialStepSize(2.0, 10.0, 5.0, 5.0, 0.0, 1.0, 100.0)
	want := math.Sqrt2 / 100.0
	if math.Abs(h-want) > 1e-12 {
		t.Errorf("InitialStepSize = %v, want %v", h, want)
	}
}
