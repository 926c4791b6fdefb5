// Package bdf implements the BDF1-5 predictor/corrector: scaling the
// history array into a predictor, driving the nonlinear solver through
// nlsolve, estimating the local truncation error, and rotating or
// restoring history on accept/reject.
//
// Grounded on mna/time/time.go's TimeMNA — its Predict/
// Correct/InitHistory/UpdateHistory/EstimateLTE/AdjustStepSize sequence is
// the fixed-order-3 special case this package generalizes to variable
// order/step BDF, following the coefficient and error-estimate formulas
// confirmed against the Xyce original implementation.
package bdf

import (
	"fmt"
	"math"

	"transientcore/datastore"
	"transientcore/linalg"
	"transientcore/loader"
	"transientcore/nlsolve"
	"transientcore/stepcontrol"
)

// Integrator ties a DataStore, a Controller, and a Loader together to
// implement one BDF step. Beyond its tolerance, its norm selector and the
// last Q correction (deltaQ), it holds no state of its own: everything
// else lives in those collaborators, the same "thin orchestrator over owned
// collaborators" shape as TimeMNA in the reference repo.
type Integrator struct {
	ds   *datastore.DataStore
	ctrl *stepcontrol.Controller
	ld   loader.Loader
	nl   nlsolve.Solver

	Tol float64 // convergence tolerance used by estOverTol

	// NewLTE selects the error-norm variant:
	// true = joint norm sqrt(0.5*||dx||^2 + 0.5*||dq||^2); false = use
	// ||dx|| alone. Defaults to true (the joint norm).
	NewLTE bool

	// deltaQ is Q(x) - qPred at the converged solution, refreshed by
	// updateQCorrection after every successful solve; jointWRMS's
	// NewLTE-true branch reads it as the Q-category counterpart to
	// NewtonCorrection.
	deltaQ linalg.Vector
}

// New constructs an Integrator over the given collaborators.
func New(ds *datastore.DataStore, ctrl *stepcontrol.Controller, ld loader.Loader, nl nlsolve.Solver, tol float64) *Integrator {
	return &Integrator{ds: ds, ctrl: ctrl, ld: ld, nl: nl, Tol: tol, NewLTE: true}
}

// Predict scales history slots nscsco..k by beta[i] in place and sets
// next_sol to the sum of slots 0..k, for every category independently.
// The predicted derivative is computed separately by PredictDerivative.
func (bi *Integrator) Predict() {
	k := bi.ctrl.Order()
	for c := datastore.Category(0); c < datastore.Category(datastore.NumCategories); c++ {
		h := bi.ds.History(c)
		next := bi.ds.Next(c)
		next.Clear()
		for i := 0; i <= k; i++ {
			scaled := h.Slot(i)
			if beta := bi.ctrl.Beta(i); i >= bi.ctrl.Nscsco() && beta != 1 {
				scaled.Scale(beta)
			}
			next.AXPY(1, scaled)
		}
	}
}

// PredictDerivative computes gamma[i]-weighted sums of history for the
// category's predicted derivative (Qdot_pred used in the residual).
func (bi *Integrator) PredictDerivative(c datastore.Category) linalg.Vector {
	k := bi.ctrl.Order()
	h := bi.ds.History(c)
	out := linalg.NewVector(h.Slot(0).Length())
	for i := 1; i <= k; i++ {
		out.AXPY(bi.ctrl.Gamma(i), h.Slot(i))
	}
	return out
}

// TakeStep runs predict -> loader.UpdateSources -> nonlinear solve ->
// corrector error estimate. It returns the nonlinear convergence code and
// the estimated-error-over-tolerance ratio so the caller
// (transient.Driver) can decide accept/reject.
func (bi *Integrator) TakeStep(currentTime float64) (nlsolve.ConvergenceCode, float64, error) {
	bi.Predict()

	if err := bi.ld.UpdateSources(currentTime + bi.ctrl.StepSize()); err != nil {
		return 0, 0, fmt.Errorf("bdf: UpdateSources 失败: %w", err)
	}

	qPred := bi.ds.Next(datastore.Q)
	qPredSnapshot := linalg.NewVector(qPred.Length())
	qPredSnapshot.Copy(qPred)
	qDotPred := bi.PredictDerivative(datastore.Q)
	x := bi.ds.Next(datastore.Solution)

	bi.ds.NewtonCorrection().Clear()
	// Solve takes alpha_s/h, which is -Cj().
	code, err := bi.nl.Solve(x, qPred, qDotPred, -bi.ctrl.Cj(), bi.ds.NewtonCorrection())
	if err != nil {
		return code, 0, err
	}
	if code <= 0 {
		return code, 0, nil
	}

	if err := bi.updateQCorrection(x, qPredSnapshot); err != nil {
		return code, 0, fmt.Errorf("bdf: 求解收敛后的 Q 失败: %w", err)
	}

	estOverTol := bi.estimateLTE()
	return code, estOverTol, nil
}

// updateQCorrection reloads Q at the converged solution x, stores it back
// into the Q history's next slot (qPred only held the predictor value
// until now), and records deltaQ = Q(x) - qPred for jointWRMS.
func (bi *Integrator) updateQCorrection(x, qPredSnapshot linalg.Vector) error {
	q, _, _, err := bi.ld.LoadRHS(x)
	if err != nil {
		return err
	}
	bi.ds.Next(datastore.Q).Copy(q)
	if bi.deltaQ == nil {
		bi.deltaQ = linalg.NewVector(q.Length())
	}
	bi.deltaQ.Copy(q)
	bi.deltaQ.AXPY(-1, qPredSnapshot)
	return nil
}

// estimateLTE applies the corrector-error estimate: delta is
// the accumulated Newton correction; E_k = sigma_k*wRMS(delta); T_k =
// (k+1)*E_k; estOverTol = c_k*wRMS(delta)/tol. It also fills in the
// order k-1, k-2 and k+1 error estimates stepcontrol needs for its
// RAISE/LOWER test,
// reading the relevant history slots.
func (bi *Integrator) estimateLTE() float64 {
	k := bi.ctrl.Order()

	wrms := bi.jointWRMS()

	bi.ctrl.Ek = bi.ctrl.Sigma(k) * wrms
	bi.ctrl.Tk = float64(k+1) * bi.ctrl.Ek

	if k >= 1 {
		m1 := bi.ds.ReduceWRMS(bi.ds.HistorySumSquares(datastore.Solution, k))
		bi.ctrl.EkMinus1 = bi.ctrl.Sigma(k-1) * m1
		bi.ctrl.TkMinus1 = float64(k) * bi.ctrl.EkMinus1
	}
	if k >= 2 {
		m2 := bi.ds.ReduceWRMS(bi.ds.HistorySumSquares(datastore.Solution, k-1))
		bi.ctrl.EkMinus2 = bi.ctrl.Sigma(k-2) * m2
		bi.ctrl.TkMinus2 = float64(k-1) * bi.ctrl.EkMinus2
	}
	if k < stepcontrol.MaxOrder {
		p1 := bi.ds.ReduceWRMS(bi.ds.HistorySumSquares(datastore.Solution, k+1))
		bi.ctrl.EkPlus1 = p1
		bi.ctrl.TkPlus1 = float64(k+2) * bi.ctrl.EkPlus1
	} else {
		bi.ctrl.TkPlus1 = math.Inf(1) // order already maxed, RAISE can never fire
	}

	return bi.ctrl.Ck() * wrms / bi.Tol
}

// jointWRMS implements the selected error-norm variant:
// sqrt(0.5*||dx||^2 + 0.5*||dq||^2) when NewLTE is true, otherwise
// ||dx|| alone. The dx term is the solution-space Newton correction; the
// dq term is the independently tracked Q-space correction deltaQ
// (updateQCorrection), not a reuse of dx — the two differ whenever Q(x)
// is a nonlinear function of x. Both terms are all-reduced across ranks
// via DataStore.ReduceMeanSq before combining, since delta and deltaQ are
// this rank's local contribution to a global norm.
func (bi *Integrator) jointWRMS() float64 {
	dxMeanSq := bi.ds.ReduceMeanSq(bi.ds.PartialErrorNormSum())
	if !bi.NewLTE {
		return math.Sqrt(dxMeanSq)
	}
	dqMeanSq := bi.ds.ReduceMeanSq(bi.ds.PartialQErrorNormSum(bi.deltaQ))
	return math.Sqrt(0.5*dxMeanSq + 0.5*dqMeanSq)
}

// RotateHistory implements "History rotation (on accept)":
// if used_order < maxOrder, copy delta into history[used_order+1]; then
// history[used_order] += delta; then for j = used_order-1..0,
// history[j] += history[j+1]. Applied to every category independently.
func (bi *Integrator) RotateHistory() {
	used := bi.ctrl.UsedOrder()
	for c := datastore.Category(0); c < datastore.Category(datastore.NumCategories); c++ {
		h := bi.ds.History(c)
		delta := bi.deltaFor(c)

		if used < stepcontrol.MaxOrder {
			h.Slot(used + 1).Copy(delta)
		}
		h.Slot(used).AXPY(1, delta)
		for j := used - 1; j >= 0; j-- {
			h.Slot(j).AXPY(1, h.Slot(j+1))
		}
	}
}

// deltaFor returns the correction to rotate into history for category c:
// the accumulated Newton correction for Solution, deltaQ (Q(x) - qPred)
// for Q once a solve has converged, and the change between next and curr
// for the other categories.
func (bi *Integrator) deltaFor(c datastore.Category) linalg.Vector {
	if c == datastore.Solution {
		return bi.ds.NewtonCorrection()
	}
	if c == datastore.Q && bi.deltaQ != nil {
		return bi.deltaQ
	}
	delta := linalg.NewVector(bi.ds.Curr(c).Length())
	delta.Copy(bi.ds.Next(c))
	delta.AXPY(-1, bi.ds.Curr(c))
	return delta
}

// RestoreHistory implements "History restoration (on
// reject)": for i in [nscsco..k], divide history[i] by beta[i]; psi
// restoration is delegated to stepcontrol.Controller.RestoreHistoryScale,
// which this calls first to obtain the beta factors it used during
// Predict.
func (bi *Integrator) RestoreHistory() {
	betas := bi.ctrl.RestoreHistoryScale()
	for c := datastore.Category(0); c < datastore.Category(datastore.NumCategories); c++ {
		h := bi.ds.History(c)
		for i := bi.ctrl.Nscsco(); i <= bi.ctrl.Order(); i++ {
			if betas[i] != 0 && betas[i] != 1 {
				h.Slot(i).Scale(1.0 / betas[i])
			}
		}
	}
}

// Interpolate approximates x(t*) from history using psi[] and the used
// order. It rejects requests outside
// [t_n - h_used - 100*eps*(t_n+h), t_n + h].
func (bi *Integrator) Interpolate(tStar, tn, h float64) (linalg.Vector, error) {
	hUsed := bi.ctrl.LastStepSize()
	eps := 2.220446049250313e-16
	lo := tn - hUsed - 100*eps*(tn+h)
	hi := tn + h
	if tStar < lo || tStar > hi {
		return nil, fmt.Errorf("bdf: interpolation time %.6g outside [%.6g, %.6g]", tStar, lo, hi)
	}

	ku := bi.ctrl.UsedOrder()
	hist := bi.ds.History(datastore.Solution)
	out := linalg.NewVector(hist.Slot(0).Length())
	out.Copy(hist.Slot(0))

	dt := tStar - tn
	c := 1.0
	for j := 1; j <= ku; j++ {
		c *= (dt + bi.ctrl.Psi(j-1)) / bi.ctrl.Psi(j-1)
		out.AXPY(c, hist.Slot(j))
	}
	return out, nil
}

// InitialStepSize implements the initial-step-size selection rule.
// qDot1Norm is the weighted-RMS norm of the first divided difference of
// Q (i.e. || history[Q][1] ||_wRMS); a zero value signals a
// non-time-dependent problem.
func InitialStepSize(hMaxFactor, userStart, hMax, stop, t, hSafety, qDot1Norm float64) float64 {
	h := hMaxFactor * math.Abs(stop-t)
	if qDot1Norm != 0 {
		alt := math.Sqrt2 / (hSafety * qDot1Norm)
		if alt < h {
			h = alt
		}
	}
	if userStart < h {
		h = userStart
	}
	if h > hMax {
		h = hMax
	}
	return h
}

// TwoLevelStep runs the corrector and statistics gathering without the
// predictor — the outer (nested) solve already owns prediction.
func (bi *Integrator) TwoLevelStep(currentTime float64) (nlsolve.ConvergenceCode, float64, error) {
	if err := bi.ld.UpdateSources(currentTime + bi.ctrl.StepSize()); err != nil {
		return 0, 0, fmt.Errorf("bdf: UpdateSources 失败: %w", err)
	}
	qPred := bi.ds.Next(datastore.Q)
	qPredSnapshot := linalg.NewVector(qPred.Length())
	qPredSnapshot.Copy(qPred)
	qDotPred := bi.PredictDerivative(datastore.Q)
	x := bi.ds.Next(datastore.Solution)

	bi.ds.NewtonCorrection().Clear()
	code, err := bi.nl.Solve(x, qPred, qDotPred, -bi.ctrl.Cj(), bi.ds.NewtonCorrection())
	if err != nil || code <= 0 {
		return code, 0, err
	}
	if err := bi.updateQCorrection(x, qPredSnapshot); err != nil {
		return code, 0, fmt.Errorf("bdf: 求解收敛后的 Q 失败: %w", err)
	}
	return code, bi.estimateLTE(), nil
}

// SetupTwoLevelError aggregates partial norms reported by an inner
// (nested) solve's error-info vector into this integrator's outer error
// test, via loader.GetInitialQnorm.
func (bi *Integrator) SetupTwoLevelError(innerErrorInfo []float64) float64 {
	return bi.ld.GetInitialQnorm(innerErrorInfo)
}
