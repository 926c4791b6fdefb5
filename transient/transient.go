// Package transient implements the top-level driver loop: DCOP-to-
// transient handoff, per-step orchestration, pause/exit handling, and
// bounded failure-history reporting.
//
// Grounded on mna/time/time.go's AdvanceTimeStep (the overall
// predict/correct/adjust/accept-or-retry shape) and mna/solve.go's
// Soluv.String() failure-report idiom, generalized from a fixed-order
// loop to the variable order/step BDF machinery in bdf and stepcontrol
// plus the breakpoint-aware scheduling neither reference package has.
package transient

import (
	"fmt"
	"math"
	"strings"

	"transientcore/bdf"
	"transientcore/breakpoint"
	"transientcore/comm"
	"transientcore/datastore"
	"transientcore/loader"
	"transientcore/nlsolve"
	"transientcore/restart"
	"transientcore/stepcontrol"
)

// Phase distinguishes the initial DC operating-point solve from the
// transient integration that follows it.
type Phase int

const (
	PhaseDCOp Phase = iota
	PhaseTransient
)

// StepRecord is one entry of the bounded failure-history ring buffer.
type StepRecord struct {
	Time            float64
	H               float64
	Passed          bool
	EstErrorOverTol float64
	NonlinearCode   nlsolve.ConvergenceCode
	NIters          int
	MaxNormF        float64
	MaxNormFIndex   int
}

// Options collects the subset of recognized configuration
// tags the driver consults directly; option parsing itself lives in the
// options package.
type Options struct {
	TStart, TStop float64
	TStep         float64
	DTMax         float64
	SkipDCOp      bool // NOOP / UIC

	RelTol, AbsTol float64
	MaxOrder       int

	PassNLStall          bool
	MinTimeStepRecovery  int
	HistoryTrackingDepth int
	ConstantStepSize     bool
	ErrorOptionLTEOnly   bool // ERROROPTION = 0
}

// DefaultOptions mirrors Xyce's documented defaults for the tags the
// driver reads.
func DefaultOptions() Options {
	return Options{
		TStep:                1e-10,
		RelTol:               1e-3,
		AbsTol:               1e-6,
		MaxOrder:             stepcontrol.MaxOrder,
		MinTimeStepRecovery:  5,
		HistoryTrackingDepth: 200,
		ErrorOptionLTEOnly:   false,
	}
}

// Driver is the per-analysis transient context: it owns the integrator,
// controller, data store, breakpoint set, and failure history,
// collapsing the mutual-ownership graph of the original Xyce
// N_TIA_TimeIntegrationAlgorithm/StepErrorControl split into one struct.
type Driver struct {
	opts Options

	ld loader.Loader
	nl nlsolve.Solver

	ds   *datastore.DataStore
	ctrl *stepcontrol.Controller
	bi   *bdf.Integrator
	bps  *breakpoint.Set

	phase              Phase
	currentTime        float64
	stopTime           float64
	finalTime          float64
	beginningIntegration bool

	nStepsTaken    int
	recoveryRetakes int

	history      []StepRecord
	historyHead  int
	historyFull  bool

	isPaused bool

	// comm is the collective this driver's DataStore reduces wRMS norms
	// through and updateStopTime min-reduces the next breakpoint candidate
	// through. Defaults to a single-rank SerialComm; SetCommunicator swaps
	// in a real multi-rank implementation before Initialize runs.
	comm comm.Communicator

	// ConnectivityWarnings holds the pre-flight diagnostic messages
	// gathered by Initialize, a warning-only connectivity check.
	ConnectivityWarnings []string
}

// New constructs a Driver over the given loader and nonlinear solver.
func New(ld loader.Loader, nl nlsolve.Solver, opts Options) *Driver {
	return &Driver{opts: opts, ld: ld, nl: nl, phase: PhaseDCOp, comm: comm.NewSerialComm()}
}

// SetCommunicator installs the collective used for cross-rank reductions:
// it is handed to the DataStore (wRMS norms) on the next Initialize and used
// directly by updateStopTime (next-breakpoint min-reduce).
func (d *Driver) SetCommunicator(c comm.Communicator) {
	d.comm = c
	if d.ds != nil {
		d.ds.SetCommunicator(c)
	}
}

// Initialize runs the one-time setup before the main loop: it allocates
// the DataStore/history/breakpoints, applies the initial guess, and runs
// the connectivity pre-flight check (a warning-only diagnostic).
func (d *Driver) Initialize() error {
	n, x0, err := d.ld.InitializeProblem()
	if err != nil {
		return fmt.Errorf("transient: InitializeProblem 失败: %w", err)
	}
	if n <= 0 {
		return fmt.Errorf("transient: 无效的问题规模 %d", n)
	}

	d.ds = datastore.New(n, d.opts.RelTol, d.opts.AbsTol)
	d.ds.SetCommunicator(d.comm)
	d.ds.SetInitialSolution(x0)
	d.ld.SetInitialGuess(d.ds.Curr(datastore.Solution))
	d.ds.SetErrorWtVector(d.ds.Curr(datastore.Solution))
	q0, _, _, err := d.ld.LoadRHS(d.ds.Curr(datastore.Solution))
	if err != nil {
		return fmt.Errorf("transient: 初始 Q 计算失败: %w", err)
	}
	d.ds.Curr(datastore.Q).Copy(q0)
	d.ds.SetConstantHistory()

	mergeTol := 2 * minStepFloor
	d.bps = breakpoint.New(mergeTol)
	d.bps.Initialize(0, d.opts.TStart, d.opts.TStop)
	d.finalTime = d.opts.TStop

	tune := stepcontrol.DefaultTunables()
	hInit := d.opts.TStep
	d.ctrl = stepcontrol.New(tune, hInit, minStepFloor, d.opts.DTMax)

	d.bi = bdf.New(d.ds, d.ctrl, d.ld, d.nl, 1.0)
	d.bi.NewLTE = !d.opts.ErrorOptionLTEOnly

	d.history = make([]StepRecord, d.opts.HistoryTrackingDepth)

	d.ConnectivityWarnings = d.runConnectivityCheck()

	if d.opts.SkipDCOp {
		d.phase = PhaseTransient
		d.beginningIntegration = true
	}
	d.updateStopTime()
	return nil
}

const minStepFloor = 1e-15

// runConnectivityCheck is the supplemented pre-flight diagnostic: it asks
// the loader for its declared breakpoints as a cheap proxy for "the
// problem is wired up", and otherwise leaves device-topology checking
// (out of scope here) to the loader implementation; any real connectivity
// issue the loader wants to surface can be appended via this slice.
func (d *Driver) runConnectivityCheck() []string {
	var warnings []string
	if _, err := d.ld.GetBreakPoints(); err != nil {
		warnings = append(warnings, fmt.Sprintf("breakpoint query failed during pre-flight: %v", err))
	}
	return warnings
}

// updateStopTime sets stopTime to the minimum of the next breakpoint,
// pause time, and final time. Each rank's local breakpoint set can differ
// (a loader-declared breakpoint local to one rank's devices), so the
// candidate is min-reduced across the communicator before use, per
// breakpoint.Set.NextStopAfter's stated contract.
func (d *Driver) updateStopTime() {
	stop := d.finalTime
	if next, ok := d.bps.NextStopAfter(d.currentTime); ok && next < stop {
		stop = next
	}
	d.stopTime = d.comm.MinAll([]float64{stop})[0]
}

// Snapshot captures the driver's full persisted state — the controller's
// coefficient/step-control scalars, every live breakpoint (including the
// PAUSE seeded at the final time), and the
// driver-level time/phase/step counters — as a restart.State ready for
// restart.Pack or restart.DumpASCII.
func (d *Driver) Snapshot() restart.State {
	s := d.ctrl.Snapshot()
	s.TCurrent = d.currentTime
	s.TNext = d.stopTime
	s.NumberOfSteps = d.nStepsTaken
	s.StepCounter = d.recoveryRetakes
	s.Breakpoints = d.bps.Entries()
	s.IntegrationMethodSelector = int(d.phase)
	return s
}

// Restore is Snapshot's inverse: given a restart.State produced by a prior
// Snapshot (round-tripped through restart.Pack/Unpack or
// restart.DumpASCII/LoadASCII), it repopulates the controller and every
// driver-level field Snapshot captured, so Run resumes with the snapshot's
// time, step/order state and breakpoints instead of Initialize's defaults.
// The DataStore's solution and history vectors are not part of the
// snapshot; they keep whatever Initialize set. Initialize must already
// have run (it allocates ctrl/bps/ds) before Restore is called.
func (d *Driver) Restore(s restart.State) {
	d.ctrl.Restore(s)
	d.currentTime = s.TCurrent
	d.stopTime = s.TNext
	d.nStepsTaken = s.NumberOfSteps
	d.recoveryRetakes = s.StepCounter
	d.phase = Phase(s.IntegrationMethodSelector)

	mergeTol := 2 * minStepFloor
	d.bps = breakpoint.New(mergeTol)
	d.bps.UpdateFromLoader(s.Breakpoints, math.Inf(-1))
}

// ResetForStepSweep reinitializes StepErrorControl and the BDF history
// exactly as at the start of a segment, without re-reading options — the
// `.STEP` sweep supplemented feature.
func (d *Driver) ResetForStepSweep() error {
	d.ds.SetConstantHistory()
	tune := stepcontrol.DefaultTunables()
	d.ctrl = stepcontrol.New(tune, d.opts.TStep, minStepFloor, d.opts.DTMax)
	d.bi = bdf.New(d.ds, d.ctrl, d.ld, d.nl, 1.0)
	d.bi.NewLTE = !d.opts.ErrorOptionLTEOnly
	d.currentTime = 0
	d.phase = PhaseDCOp
	d.isPaused = false
	d.bps.Initialize(0, d.opts.TStart, d.opts.TStop)
	d.updateStopTime()
	return nil
}

// Run drives the loop until pause, TStop, or a fatal condition,
// repeating the predict/solve/accept-or-reject sequence each step.
func (d *Driver) Run() (*Result, error) {
	for {
		d.updateStopTime()
		d.ctrl.ClampToBreakpoint(d.currentTime, d.stopTime)

		if d.phase == PhaseTransient {
			d.nl.SetAnalysisMode(loader.Transient)
		} else {
			d.nl.SetAnalysisMode(loader.DCOp)
		}

		status, err := d.takeStepOnce()
		if err != nil {
			return nil, err
		}

		switch {
		case d.phase == PhaseDCOp && status.accepted:
			d.processSuccessfulDCOp()
		case d.phase == PhaseDCOp && !status.accepted:
			return nil, fmt.Errorf("transient: DCOP 未收敛于 t=%.6g: %s", d.currentTime, status.reason)
		case status.accepted:
			d.processSuccessfulStep(status)
		default:
			fatal, reason := d.processFailedStep(status)
			if fatal {
				return nil, fmt.Errorf("transient: 在第 %d 步（t=%.6g）不可恢复的失败: %s\n%s",
					d.nStepsTaken, d.currentTime, reason, d.FailureReport())
			}
		}

		// finalTime is itself seeded as a PAUSE breakpoint (it needs the
		// same "stop here" mechanic checkPause uses), so a clean run to
		// TStop must be recognized before checkPause gets a chance to
		// report it as a pause.
		if d.currentTime >= d.finalTime {
			return &Result{CurrentTime: d.currentTime, IsPaused: false, StepsTaken: d.nStepsTaken}, nil
		}
		if d.checkPause() {
			d.isPaused = true
			return &Result{CurrentTime: d.currentTime, IsPaused: true, StepsTaken: d.nStepsTaken}, nil
		}
	}
}

// Result is what Run() reports back to the outer framework.
type Result struct {
	CurrentTime float64
	IsPaused    bool
	StepsTaken  int
}

type stepStatus struct {
	accepted        bool
	solverFailed    bool
	code            nlsolve.ConvergenceCode
	estOverTol      float64
	reason          string
}

// takeStepOnce runs predict -> solve -> corrector -> error-evaluate
// and classifies the outcome.
func (d *Driver) takeStepOnce() (stepStatus, error) {
	d.ctrl.UpdateCoeffs()

	code, estOverTol, err := d.bi.TakeStep(d.currentTime)
	if err != nil {
		return stepStatus{}, err
	}
	if code <= 0 {
		return stepStatus{accepted: false, solverFailed: true, code: code, reason: "非线性求解器未收敛"}, nil
	}

	if d.opts.ConstantStepSize {
		// invariant: only nonlinear convergence gates
		// acceptance; truncation error is not consulted.
		return stepStatus{accepted: true, code: code, estOverTol: estOverTol}, nil
	}
	if estOverTol > 1.0 {
		return stepStatus{accepted: false, code: code, estOverTol: estOverTol, reason: fmt.Sprintf("estOverTol=%.4g", estOverTol)}, nil
	}
	return stepStatus{accepted: true, code: code, estOverTol: estOverTol}, nil
}

// processSuccessfulDCOp fills constant history from the converged DC
// solution and hands control to the transient phase.
func (d *Driver) processSuccessfulDCOp() {
	d.ds.UpdateSolDataArrays()
	d.ds.SetConstantHistory()
	d.ld.AcceptStep()
	d.ld.Output(d.currentTime, d.ds.Curr(datastore.Solution))
	d.phase = PhaseTransient
	d.beginningIntegration = true
}

// processSuccessfulStep handles an accepted step: output, rotate
// history, advance time, update breakpoints, and record the
// history-tracking row.
func (d *Driver) processSuccessfulStep(status stepStatus) {
	d.ctrl.AcceptStep()
	d.bi.RotateHistory()
	d.ds.UpdateSolDataArrays()
	d.ld.AcceptStep()

	d.ld.Output(d.currentTime+d.ctrl.LastStepSize(), d.ds.Curr(datastore.Solution))

	d.currentTime += d.ctrl.LastStepSize()
	d.bps.Purge(d.currentTime)

	if bps, err := d.ld.GetBreakPoints(); err == nil && len(bps) > 0 {
		entries := make([]breakpoint.Entry, len(bps))
		for i, bp := range bps {
			entries[i] = breakpoint.Entry{Time: bp.Time, Kind: breakpoint.Kind(bp.Kind)}
		}
		d.bps.UpdateFromLoader(entries, d.currentTime)
	}

	d.recordHistory(StepRecord{
		Time: d.currentTime, H: d.ctrl.LastStepSize(), Passed: true,
		EstErrorOverTol: status.estOverTol, NonlinearCode: status.code,
		NIters: d.nl.GetNumIterations(), MaxNormF: d.nl.GetMaxNormF(), MaxNormFIndex: d.nl.GetMaxNormFindex(),
	})
	d.nStepsTaken++
	d.ld.StepSuccess(loader.Transient)

	if d.beginningIntegration {
		d.beginningIntegration = false
	}
}

// processFailedStep handles a rejected step, including the PASSNLSTALL
// promotion that forces acceptance when the step size has already
// collapsed to the floor and the solver itself is merely stalled.
func (d *Driver) processFailedStep(status stepStatus) (fatal bool, reason string) {
	if d.opts.PassNLStall && (status.code == nlsolve.Stalled || status.code == nlsolve.UpdateTooBig) &&
		d.ctrl.StepSize() < 4*minStepFloor {
		d.recordHistory(StepRecord{
			Time: d.currentTime, H: d.ctrl.StepSize(), Passed: true,
			EstErrorOverTol: status.estOverTol, NonlinearCode: status.code,
		})
		d.processSuccessfulStep(stepStatus{accepted: true, code: status.code, estOverTol: status.estOverTol})
		return false, ""
	}

	if d.opts.ConstantStepSize {
		d.ld.StepFailure(loader.Transient)
		return true, "常步长模式下拒绝即终止"
	}

	d.bi.RestoreHistory()
	result := d.ctrl.RejectStep(status.solverFailed, status.estOverTol, d.currentTime)
	d.ld.StepFailure(loader.Transient)

	d.recordHistory(StepRecord{
		Time: d.currentTime, H: d.ctrl.StepSize(), Passed: false,
		EstErrorOverTol: status.estOverTol, NonlinearCode: status.code,
		NIters: d.nl.GetNumIterations(), MaxNormF: d.nl.GetMaxNormF(), MaxNormFIndex: d.nl.GetMaxNormFindex(),
	})

	if result.BelowFloor {
		if d.recoveryRetakes < d.opts.MinTimeStepRecovery {
			d.recoveryRetakes++
			return false, ""
		}
		return true, fmt.Sprintf("步长 %.3e 低于机器精度下限且恢复预算耗尽 (order=%d)", d.ctrl.StepSize(), result.NewOrder)
	}
	return false, ""
}

func (d *Driver) recordHistory(r StepRecord) {
	if len(d.history) == 0 {
		return
	}
	d.history[d.historyHead] = r
	d.historyHead = (d.historyHead + 1) % len(d.history)
	if d.historyHead == 0 {
		d.historyFull = true
	}
}

// checkPause reports whether currentTime has reached the cached pause
// breakpoint.
func (d *Driver) checkPause() bool {
	pt, ok := d.bps.PauseTime()
	if !ok {
		return false
	}
	if d.currentTime >= pt {
		d.bps.SimulationPaused(d.currentTime)
		return true
	}
	return false
}

// Resume clears the paused flag so Run can continue advancing from the
// state left at the last pause.
func (d *Driver) Resume() {
	d.isPaused = false
}

// History returns the failure-history ring buffer in chronological order.
func (d *Driver) History() []StepRecord {
	if !d.historyFull {
		return append([]StepRecord(nil), d.history[:d.historyHead]...)
	}
	out := make([]StepRecord, 0, len(d.history))
	out = append(out, d.history[d.historyHead:]...)
	out = append(out, d.history[:d.historyHead]...)
	return out
}

// FailureReport renders the compact per-step failure table — status,
// estErrorOverTol, nonlinear code, ||F||, and the worst-offender variable
// index — as a single formatted multi-line string, in Soluv.String()'s
// idiom.
func (d *Driver) FailureReport() string {
	var b strings.Builder
	fmt.Fprintf(&b, "------- 失败历史 (最近 %d 步) -------\n", len(d.History()))
	for _, r := range d.History() {
		status := "pass"
		if !r.Passed {
			status = "fail"
		}
		fmt.Fprintf(&b, "t=%.6g h=%.3e status=%s estErrOverTol=%.3g code=%d iters=%d maxF=%.3e idx=%d\n",
			r.Time, r.H, status, r.EstErrorOverTol, r.NonlinearCode, r.NIters, r.MaxNormF, r.MaxNormFIndex)
	}
	return b.String()
}
