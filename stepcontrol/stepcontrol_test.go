package stepcontrol

import (
	"math"
	"testing"
)

func TestUpdateCoeffsIdempotent(t *testing.T) {
	c := New(DefaultTunables(), 0.01, 1e-12, 1.0)
	a1, b1 := c.alpha, c.beta
	c.UpdateCoeffs()
	if a1 != c.alpha || b1 != c.beta {
		t.Errorf("UpdateCoeffs is not idempotent for unchanged (h, k)")
	}
}

func TestBaseCoefficients(t *testing.T) {
	c := New(DefaultTunables(), 0.01, 1e-12, 1.0)
	if c.beta[0] != 1 || c.alpha[0] != 1 || c.sigma[0] != 1 || c.gamma[0] != 0 {
		t.Errorf("base coefficients wrong: beta0=%v alpha0=%v sigma0=%v gamma0=%v",
			c.beta[0], c.alpha[0], c.sigma[0], c.gamma[0])
	}
}

func TestAlphaSMatchesHarmonicSum(t *testing.T) {
	for order := 1; order <= MaxOrder; order++ {
		c := New(DefaultTunables(), 0.01, 1e-12, 1.0)
		c.order = order
		c.UpdateCoeffs()
		want := 0.0
		for i := 0; i <= order-1; i++ {
			want -= 1.0 / float64(i+1)
		}
		if math.Abs(c.AlphaS()-want) > 1e-12 {
			t.Errorf("order %d: alphaS = %v, want %v", order, c.AlphaS(), want)
		}
	}
}

func TestFirstStepState(t *testing.T) {
	h := 0.01
	c := New(DefaultTunables(), h, 1e-12, 1.0)
	if c.Order() != 1 {
		t.Errorf("Order() = %d, want 1", c.Order())
	}
	if c.Nscsco() != 0 {
		t.Errorf("Nscsco() = %d, want 0", c.Nscsco())
	}
	if c.Beta(0) != 1 {
		t.Errorf("Beta(0) = %v, want 1", c.Beta(0))
	}
	if c.Psi(0) != h {
		t.Errorf("Psi(0) = %v, want %v", c.Psi(0), h)
	}
}

func TestAcceptStepInitialPhaseDoublesStep(t *testing.T) {
	tune := DefaultTunables()
	h := 0.01
	c := New(tune, h, 1e-12, 1.0)
	c.AcceptStep()
	if c.StepSize() != h*tune.HPhase0Incr {
		t.Errorf("StepSize() = %v, want %v", c.StepSize(), h*tune.HPhase0Incr)
	}
	if c.Order() != 2 {
		t.Errorf("Order() = %d, want 2 (initial phase raises order)", c.Order())
	}
	if c.Nscsco() != 1 {
		t.Errorf("Nscsco() = %d, want 1", c.Nscsco())
	}
}

func TestRejectStepFirstFailureClipsRatio(t *testing.T) {
	tune := DefaultTunables()
	c := New(tune, 1e-2, 1e-12, 1.0)
	hBefore := c.StepSize()
	// estOverTol = 3.7, an arbitrary over-tolerance ratio.
	result := c.RejectStep(false, 3.7, 10.0)
	r := math.Pow(tune.RSafety*3.7+tune.RFudge, -1.0/float64(c.order+1))
	want := hBefore * tune.RFactor * clip(r, tune.RMin, tune.RMax)
	if math.Abs(c.StepSize()-want) > 1e-12 {
		t.Errorf("StepSize() = %v, want %v", c.StepSize(), want)
	}
	if result.BelowFloor {
		t.Errorf("BelowFloor = true, want false for a step far from the floor")
	}
}

func TestRejectStepSecondFailureUsesRMin(t *testing.T) {
	tune := DefaultTunables()
	c := New(tune, 1e-2, 1e-12, 1.0)
	c.RejectStep(false, 3.7, 10.0)
	hBefore := c.StepSize()
	c.RejectStep(false, 3.7, 10.0)
	want := hBefore * tune.RMin
	if math.Abs(c.StepSize()-want) > 1e-12 {
		t.Errorf("StepSize() after 2nd failure = %v, want %v", c.StepSize(), want)
	}
}

func TestRejectStepThirdFailureForcesOrderOne(t *testing.T) {
	tune := DefaultTunables()
	c := New(tune, 1e-2, 1e-12, 1.0)
	c.order = 4
	c.RejectStep(false, 3.7, 10.0)
	c.RejectStep(false, 3.7, 10.0)
	c.RejectStep(false, 3.7, 10.0)
	if c.Order() != 1 {
		t.Errorf("Order() after 3rd failure = %d, want 1", c.Order())
	}
}

func TestRejectStepSolverFailureSkipsErrorFormula(t *testing.T) {
	tune := DefaultTunables()
	c := New(tune, 1e-2, 1e-12, 1.0)
	hBefore := c.StepSize()
	c.RejectStep(true, 999.0, 10.0)
	want := hBefore * tune.RMin
	if math.Abs(c.StepSize()-want) > 1e-12 {
		t.Errorf("StepSize() after solver failure = %v, want %v", c.StepSize(), want)
	}
}

func TestClampToBreakpoint(t *testing.T) {
	c := New(DefaultTunables(), 1.0, 1e-12, 10.0)
	c.ClampToBreakpoint(4.5, 5.0)
	if c.StepSize() != 0.5 {
		t.Errorf("StepSize() = %v, want 0.5 (clamped to stopTime)", c.StepSize())
	}
}

func TestDecideOrderChangeRequiresNscscoForLower(t *testing.T) {
	c := New(DefaultTunables(), 1e-2, 1e-12, 1.0)
	c.order = 3
	c.Tk, c.TkMinus1, c.TkMinus2 = 1.0, 0.5, 0.5 // would satisfy LOWER if nscsco>0
	c.nscsco = 0
	if got := c.DecideOrderChange(); got != Maintain {
		t.Errorf("DecideOrderChange() = %v, want Maintain when nscsco == 0", got)
	}
	c.nscsco = 1
	if got := c.DecideOrderChange(); got != Lower {
		t.Errorf("DecideOrderChange() = %v, want Lower", got)
	}
}
