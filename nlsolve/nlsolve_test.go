package nlsolve

import (
	"math"
	"testing"

	"transientcore/linalg"
	"transientcore/loader"
)

func TestDampedNewtonConvergesOnRCStep(t *testing.T) {
	// implicit Euler step on C*dv/dt + v/R = 0 (alpha_s = -1): solves for
	// x such that -alphaSOverH*(C*x - C*xPrev) + x/R = 0. The problem is
	// linear, so the first Newton update lands on the solution.
	r, c, v0 := 1.0, 1.0, 1.0
	ld := loader.NewRCLoader(r, c, v0)
	solver := NewDampedNewton(ld)

	h := 0.01
	alphaSOverH := -1.0 / h

	x := linalg.NewVectorFromSlice([]float64{v0})
	qPred := linalg.NewVectorFromSlice([]float64{c * v0})
	qDotPred := linalg.NewVectorFromSlice([]float64{0})
	delta := linalg.NewVector(1)

	code, err := solver.Solve(x, qPred, qDotPred, alphaSOverH, delta)
	if err != nil {
		t.Fatalf("Solve returned error: %v", err)
	}
	if code != Converged {
		t.Fatalf("Solve code = %v, want Converged", code)
	}

	want := v0 / (1 + h/(r*c))
	if math.Abs(x.Get(0)-want) > 1e-9 {
		t.Errorf("x = %v, want %v", x.Get(0), want)
	}
	if solver.GetNumIterations() == 0 {
		t.Errorf("GetNumIterations() = 0, want > 0")
	}
}

func TestResidualSignConvention(t *testing.T) {
	ld := loader.NewRCLoader(1, 1, 1)
	x := linalg.NewVectorFromSlice([]float64{1})
	qPred := linalg.NewVectorFromSlice([]float64{1})
	qDotPred := linalg.NewVectorFromSlice([]float64{0})

	r, j, err := Residual(ld, x, qPred, qDotPred, 100.0)
	if err != nil {
		t.Fatalf("Residual error: %v", err)
	}
	// at x == qPred with zero derivative, residual is -(F(x) - B) = -x/R.
	if math.Abs(r.Get(0)-(-1.0)) > 1e-12 {
		t.Errorf("r[0] = %v, want -1", r.Get(0))
	}
	if j.Get(0, 0) == 0 {
		t.Errorf("Jacobian is zero, want nonzero")
	}
}
