// Package stepcontrol implements the BDF coefficient bookkeeping and the
// step-size/order-selection state machine.
//
// The reference repo's mna/time/time.go hard-codes a fixed 3rd-order
// Adams-Bashford/Moulton predictor-corrector with a simple halving/doubling
// step-size rule (AdjustStepSize); this package generalizes that shape —
// coefficient arrays recomputed on a schedule, step accepted or rejected
// based on an estimated-error-over-tolerance ratio — to the full variable
// order/variable step BDF1-5 scheme described in the Xyce original
// (N_TIA_StepErrorControl.C, N_TIA_BackwardDifferentiation15.C), which is
// the authoritative source for the exact coefficient-update formulas below.
package stepcontrol

import (
	"math"

	"transientcore/restart"
)

// MaxOrder is the highest BDF order supported.
const MaxOrder = 5

// Transition names which of the three step-end branches produced the next
// (h, k).
type Transition int

const (
	Maintain Transition = iota
	Raise
	Lower
)

func (t Transition) String() string {
	switch t {
	case Raise:
		return "RAISE"
	case Lower:
		return "LOWER"
	default:
		return "MAINTAIN"
	}
}

// Tunables collects the step/order-control policy constants; all have
// the defaults Xyce ships.
type Tunables struct {
	RSafety      float64 // r_safety
	RFudge       float64 // r_fudge
	RFactor      float64 // r_factor, applied on first rejection
	RMin, RMax   float64 // clip range for the step-ratio r
	RHIncrTest   float64 // r_hincr_test, default 2.0
	RHIncr       float64 // r_hincr, step multiplier once r clears RHIncrTest
	HPhase0Incr  float64 // h_phase0_incr, default 2 (initial-phase auto-double)
	MinStepPrecisionFac float64
}

// DefaultTunables mirrors the constants used throughout the Xyce original.
func DefaultTunables() Tunables {
	return Tunables{
		RSafety:             0.9,
		RFudge:              1e-6,
		RFactor:             0.9,
		RMin:                0.25,
		RMax:                4.0,
		RHIncrTest:          2.0,
		RHIncr:              2.0,
		HPhase0Incr:         2.0,
		MinStepPrecisionFac: 100,
	}
}

// Controller holds the BDF coefficient arrays and the scalar step/order
// state, and implements updateCoeffs, the order-change policy, and the
// accept/reject policies.
type Controller struct {
	tune Tunables

	// Coefficient arrays, length MaxOrder+1, indexed 0..k.
	alpha, beta, gamma, sigma, psi [MaxOrder + 1]float64

	alphaS, alpha0, cj, ck float64

	hCurrent, hLast float64
	hMin, hMax      float64

	order, usedOrder int
	nscsco           int

	// lastH/lastOrder/lastNscsco record the (h, k, nscsco) tuple UpdateCoeffs
	// last actually shifted psi for, so a repeated call with nothing changed
	// is a no-op instead of re-advancing the history a second time.
	lastH      float64
	lastOrder  int
	lastNscsco int
	coeffsInit bool

	nef int // consecutive-failure counter

	// Error norms from the most recent corrector pass.
	Ek, EkMinus1, EkMinus2, EkPlus1 float64
	Tk, TkMinus1, TkMinus2, TkPlus1 float64

	initialPhase bool

	eps float64 // machine epsilon used for the h-floor test
}

// New constructs a controller at order 1 with the given initial step and
// step-size bounds.
func New(tune Tunables, hInit, hMin, hMax float64) *Controller {
	c := &Controller{
		tune:         tune,
		hCurrent:     hInit,
		hMin:         hMin,
		hMax:         hMax,
		order:        1,
		usedOrder:    1,
		nscsco:       0,
		initialPhase: true,
		eps:          2.220446049250313e-16,
	}
	c.psi[0] = hInit
	c.UpdateCoeffs()
	return c
}

func (c *Controller) Order() int      { return c.order }
func (c *Controller) UsedOrder() int  { return c.usedOrder }
func (c *Controller) StepSize() float64 { return c.hCurrent }
func (c *Controller) LastStepSize() float64 { return c.hLast }
func (c *Controller) Nscsco() int     { return c.nscsco }
func (c *Controller) AlphaS() float64 { return c.alphaS }
func (c *Controller) Alpha0() float64 { return c.alpha0 }
func (c *Controller) Cj() float64     { return c.cj }
func (c *Controller) Ck() float64     { return c.ck }

func (c *Controller) Alpha(i int) float64 { return c.alpha[i] }
func (c *Controller) Beta(i int) float64  { return c.beta[i] }
func (c *Controller) Gamma(i int) float64 { return c.gamma[i] }
func (c *Controller) Sigma(i int) float64 { return c.sigma[i] }
func (c *Controller) Psi(i int) float64   { return c.psi[i] }

// UpdateCoeffs recomputes alpha/beta/gamma/sigma/psi and the derived
// scalars alphaS, alpha0, cj, ck for the current (h, k), following the
// Xyce "Coefficient update" formulas verbatim. The driver calls this
// more than once per accepted step (once to ready the predictor, again
// after AcceptStep/ApplyOrderChange settles the next step's (h, k)), so
// the psi shift — the part of this routine that is NOT idempotent, since
// it rotates history every time it runs — only happens when (h, order,
// nscsco) actually differ from the last call; a repeat call with nothing
// changed leaves every array exactly as it was.
func (c *Controller) UpdateCoeffs() {
	h, k := c.hCurrent, c.order

	if c.coeffsInit && h == c.lastH && k == c.lastOrder && c.nscsco == c.lastNscsco {
		return
	}
	c.coeffsInit = true
	c.lastH, c.lastOrder, c.lastNscsco = h, k, c.nscsco

	c.beta[0], c.alpha[0], c.sigma[0], c.gamma[0] = 1, 1, 1, 0

	temp := c.psi[0]
	c.psi[0] = h
	for i := 1; i <= k; i++ {
		c.beta[i] = c.beta[i-1] * c.psi[i-1] / temp
		c.alpha[i] = h / (temp + h)
		c.sigma[i] = float64(i+1) * c.sigma[i-1] * c.alpha[i]
		c.gamma[i] = c.gamma[i-1] + c.alpha[i-1]/h
		next := temp + h
		temp = c.psi[i]
		c.psi[i] = next
	}

	alphaS := 0.0
	for i := 0; i <= k-1; i++ {
		alphaS -= 1.0 / float64(i+1)
	}
	c.alphaS = alphaS

	alpha0 := 0.0
	for i := 0; i <= k; i++ {
		alpha0 -= c.alpha[i]
	}
	c.alpha0 = alpha0

	c.cj = -c.alphaS / h

	ck := math.Abs(c.alpha[k] + c.alphaS - c.alpha0)
	if c.alpha[k] > ck {
		ck = c.alpha[k]
	}
	c.ck = ck
}

// errorRatio computes r = (r_safety*E_st + r_fudge)^(-1/(k+1)) for the
// order used in a RAISE/MAINTAIN/LOWER decision.
func (c *Controller) errorRatio(eSt float64, order int) float64 {
	return math.Pow(c.tune.RSafety*eSt+c.tune.RFudge, -1.0/float64(order+1))
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// DecideOrderChange applies the RAISE/MAINTAIN/LOWER policy: order-reduction
// is considered only once nscsco > 0; LOWER fires
// when max(T_{k-1}, T_{k-2}) <= T_k; RAISE fires when T_{k+1} < T_k and
// nscsco >= order+1. nscsco is incremented on every accepted step and is
// not reset when h or the order changes, so it counts accepted steps since
// construction rather than consecutive constant-step, constant-order steps.
func (c *Controller) DecideOrderChange() Transition {
	if c.nscsco > 0 {
		lowerCond := math.Max(c.TkMinus1, c.TkMinus2) <= c.Tk
		if lowerCond && c.order > 1 {
			return Lower
		}
	}
	if c.TkPlus1 < c.Tk && c.order < MaxOrder && c.nscsco >= c.order+1 {
		return Raise
	}
	return Maintain
}

// ApplyOrderChange mutates order and hCurrent for the given transition and
// the corresponding error estimate eSt, per RAISE/MAINTAIN/
// LOWER step-size rule, then recomputes coefficients.
func (c *Controller) ApplyOrderChange(t Transition, eSt float64) {
	switch t {
	case Raise:
		c.order++
	case Lower:
		c.order--
	}

	r := c.errorRatio(eSt, c.order)
	if r >= c.tune.RHIncrTest {
		c.hCurrent *= c.tune.RHIncr
	} else if r <= 1 {
		c.hCurrent *= clip(r, c.tune.RMin, c.tune.RMax)
	}
	if c.hCurrent > c.hMax {
		c.hCurrent = c.hMax
	}
	c.UpdateCoeffs()
}

// AcceptStep applies accept policy: reset the failure
// counter, roll the order-change decision forward (or auto-double during
// the initial phase), and recompute coefficients for the new (h, k).
func (c *Controller) AcceptStep() {
	c.nef = 0
	c.nscsco++
	c.hLast = c.hCurrent
	c.usedOrder = c.order

	if c.initialPhase {
		if c.order < MaxOrder {
			c.order++
		} else {
			c.initialPhase = false
		}
		c.hCurrent *= c.tune.HPhase0Incr
		if c.hCurrent > c.hMax {
			c.hCurrent = c.hMax
		}
		c.UpdateCoeffs()
		return
	}

	t := c.DecideOrderChange()
	eSt := c.Ek
	if t == Lower {
		eSt = c.EkMinus1
	}
	c.ApplyOrderChange(t, eSt)
}

// RejectResult reports what AcceptStep's counterpart decided: the order
// after the rejection (1 when it was forced down) and whether h has fallen
// below the recoverable floor (in which case the caller must either
// retake with the best-observed error or declare the step fatal). The new
// step size is read from StepSize.
type RejectResult struct {
	NewOrder       int
	BelowFloor     bool
}

// RejectStep applies rejection policy. solverFailed
// indicates the nonlinear solver itself returned a non-positive
// convergence code (skip the error formula entirely in that case).
func (c *Controller) RejectStep(solverFailed bool, eSt float64, currentTime float64) RejectResult {
	c.nef++

	switch {
	case solverFailed:
		c.hCurrent *= c.tune.RMin
	case c.nef == 1:
		r := c.errorRatio(eSt, c.order)
		c.hCurrent *= c.tune.RFactor * clip(r, c.tune.RMin, c.tune.RMax)
	case c.nef == 2:
		c.hCurrent *= c.tune.RMin
	default: // nef >= 3
		c.order = 1
		c.hCurrent *= c.tune.RMin
	}

	floor := c.tune.MinStepPrecisionFac * c.eps * currentTime
	below := c.hCurrent < floor
	c.UpdateCoeffs()

	return RejectResult{NewOrder: c.order, BelowFloor: below}
}

// RestoreHistoryScale undoes the beta-scaling over [nscsco..k] and resets
// psi[i-1] <- psi[i]-h, the history-restoration rule used when a step is
// rejected. It is the stepcontrol side of the operation; bdf.Integrator
// calls this and then divides its own history vectors by the returned
// factors.
func (c *Controller) RestoreHistoryScale() (betaFactors [MaxOrder + 1]float64) {
	h := c.hCurrent
	for i := c.nscsco; i <= c.order; i++ {
		betaFactors[i] = c.beta[i]
	}
	for i := 1; i <= c.order; i++ {
		c.psi[i-1] = c.psi[i] - h
	}
	return betaFactors
}

// Snapshot captures every scalar field restart.State's pack/unpack codec
// carries for the coefficient/step-control side of a restart record; the
// caller fills in the remaining Driver-owned fields (times, breakpoints,
// step counters) before persisting it.
func (c *Controller) Snapshot() restart.State {
	return restart.State{
		HCurrent: c.hCurrent,
		HLast:    c.hLast,
		HMin:     c.hMin,
		HMax:     c.hMax,

		Alpha: c.alpha,
		Beta:  c.beta,
		Gamma: c.gamma,
		Sigma: c.sigma,
		Psi:   c.psi,

		AlphaS: c.alphaS,
		Alpha0: c.alpha0,
		Cj:     c.cj,
		Ck:     c.ck,

		Order:     c.order,
		UsedOrder: c.usedOrder,
		Nscsco:    c.nscsco,

		Ek:       c.Ek,
		EkMinus1: c.EkMinus1,
		EkPlus1:  c.EkPlus1,
		Tk:       c.Tk,
		TkMinus1: c.TkMinus1,
		TkPlus1:  c.TkPlus1,

		Nef:          c.nef,
		InitialPhase: c.initialPhase,
	}
}

// Restore is Snapshot's inverse: it repopulates every coefficient/step-
// control scalar from a restart.State produced by (possibly a previous
// process's) Snapshot. The restored (h, order, nscsco) triple did not come
// from this Controller's own UpdateCoeffs calls, so the idempotence cache
// is invalidated — the next UpdateCoeffs call must recompute rather than
// treat the restored state as already current.
func (c *Controller) Restore(s restart.State) {
	c.hCurrent = s.HCurrent
	c.hLast = s.HLast
	c.hMin = s.HMin
	c.hMax = s.HMax

	c.alpha = s.Alpha
	c.beta = s.Beta
	c.gamma = s.Gamma
	c.sigma = s.Sigma
	c.psi = s.Psi

	c.alphaS = s.AlphaS
	c.alpha0 = s.Alpha0
	c.cj = s.Cj
	c.ck = s.Ck

	c.order = s.Order
	c.usedOrder = s.UsedOrder
	c.nscsco = s.Nscsco

	c.Ek = s.Ek
	c.EkMinus1 = s.EkMinus1
	c.EkPlus1 = s.EkPlus1
	c.Tk = s.Tk
	c.TkMinus1 = s.TkMinus1
	c.TkPlus1 = s.TkPlus1

	c.nef = s.Nef
	c.initialPhase = s.InitialPhase

	c.coeffsInit = false
}

// ClampToBreakpoint forces hCurrent so that currentTime + hCurrent lands
// exactly on stopTime when the unconstrained step would cross it
//.
func (c *Controller) ClampToBreakpoint(currentTime, stopTime float64) {
	if currentTime+c.hCurrent > stopTime {
		c.hCurrent = stopTime - currentTime
		c.UpdateCoeffs()
	}
}
