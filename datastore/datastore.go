// Package datastore holds the solution/state/store/Q vectors at multiple
// time points plus the per-quantity history arrays the BDF predictor and
// corrector read and rotate.
//
// This mirrors mna/time/time.go's TimeMNA struct, which keeps
// parallel curr/next/prev vectors and a fixed 3-slot Adams-Moulton history;
// here the history is generalized to maxOrder+1 slots per quantity and the
// predictor/corrector themselves move to the bdf package.
package datastore

import (
	"math"

	"transientcore/comm"
	"transientcore/linalg"
)

// MaxOrder is the highest supported BDF order.
const MaxOrder = 5

// Category names one of the vector kinds the core tracks per time point.
type Category int

const (
	Solution Category = iota
	Q
	State
	Store
	StoreLeadCurrentQ
	numCategories
)

// NumCategories is the count of tracked vector categories, exposed so
// callers outside the package can range over every category without
// depending on the unexported sentinel.
const NumCategories = int(numCategories)

// HistoryArray holds slots 0..MaxOrder of scaled divided differences for
// one category. Slot 0 is always the current accepted value.
type HistoryArray struct {
	slots [MaxOrder + 1]linalg.Vector
}

func newHistoryArray(n int) *HistoryArray {
	h := &HistoryArray{}
	for i := range h.slots {
		h.slots[i] = linalg.NewVector(n)
	}
	return h
}

// Slot returns history slot i (0-based, 0..MaxOrder).
func (h *HistoryArray) Slot(i int) linalg.Vector { return h.slots[i] }

// DataStore owns the last/curr/next vectors for every category plus their
// history arrays, the Newton-correction accumulator, and the error-weight
// vector used by every weighted-RMS norm in the core.
type DataStore struct {
	n int

	last, curr, next [numCategories]linalg.Vector
	history          [numCategories]*HistoryArray

	newtonCorrection linalg.Vector
	errorWeight      linalg.Vector

	relTol, absTol float64

	// comm is the collective every wRMS norm in the core funnels through
	// before taking its final sqrt(1/N). Defaults to a single-rank
	// SerialComm so the zero-configuration case still works; SetCommunicator
	// swaps in a real multi-rank implementation.
	comm    comm.Communicator
	globalN float64
}

// New allocates a DataStore sized for n unknowns.
func New(n int, relTol, absTol float64) *DataStore {
	d := &DataStore{n: n, relTol: relTol, absTol: absTol}
	for c := Category(0); c < numCategories; c++ {
		d.last[c] = linalg.NewVector(n)
		d.curr[c] = linalg.NewVector(n)
		d.next[c] = linalg.NewVector(n)
		d.history[c] = newHistoryArray(n)
	}
	d.newtonCorrection = linalg.NewVector(n)
	d.errorWeight = linalg.NewVector(n)
	d.SetCommunicator(comm.NewSerialComm())
	return d
}

// SetCommunicator installs the collective used to all-reduce wRMS norms
// across ranks, recomputing the cached global unknown count that scales
// ReduceWRMS's sqrt(1/N).
func (d *DataStore) SetCommunicator(c comm.Communicator) {
	d.comm = c
	d.globalN = c.SumAll([]float64{float64(d.n)})[0]
}

func (d *DataStore) Size() int { return d.n }

func (d *DataStore) Last(c Category) linalg.Vector  { return d.last[c] }
func (d *DataStore) Curr(c Category) linalg.Vector  { return d.curr[c] }
func (d *DataStore) Next(c Category) linalg.Vector  { return d.next[c] }
func (d *DataStore) History(c Category) *HistoryArray { return d.history[c] }

func (d *DataStore) NewtonCorrection() linalg.Vector { return d.newtonCorrection }
func (d *DataStore) ErrorWeight() linalg.Vector       { return d.errorWeight }

// SetInitialSolution seeds curr[Solution] (and therefore history slot 0
// once setConstantHistory is called) with the problem's initial guess.
func (d *DataStore) SetInitialSolution(x linalg.Vector) {
	d.curr[Solution].Copy(x)
}

// SetConstantHistory fills history slot 0 of every category with its
// current value and slots 1..MaxOrder with zero (order-1, zero-derivative
// start), as required before the first BDF step.
func (d *DataStore) SetConstantHistory() {
	for c := Category(0); c < numCategories; c++ {
		d.history[c].slots[0].Copy(d.curr[c])
		for i := 1; i <= MaxOrder; i++ {
			d.history[c].slots[i].Clear()
		}
	}
}

// UpdateSolDataArrays rotates (last, curr, next) for every category. It is
// invoked exactly once per accepted step, after output sampling.
func (d *DataStore) UpdateSolDataArrays() {
	for c := Category(0); c < numCategories; c++ {
		d.last[c].Copy(d.curr[c])
		d.curr[c].Copy(d.next[c])
	}
}

// StepLinearCombo applies the Newton correction delta produced by the
// solver to the next* quantities and accumulates it into the
// newton-correction accumulator for later history updates.
func (d *DataStore) StepLinearCombo(c Category, delta linalg.Vector) {
	d.next[c].AXPY(1, delta)
	if c == Solution {
		d.newtonCorrection.AXPY(1, delta)
	}
}

// SetErrorWtVector recomputes the per-component error weights as
// relTol*|x_i| + absTol.
func (d *DataStore) SetErrorWtVector(x linalg.Vector) {
	for i := 0; i < d.n; i++ {
		v := x.Get(i)
		if v < 0 {
			v = -v
		}
		d.errorWeight.Set(i, d.relTol*v+d.absTol)
	}
}

// PartialErrorNormSum returns sum((delta_i/w_i)^2) over the solution
// category's Newton correction, the raw building block of wRMS norms
// before the sqrt(1/N) scaling.
func (d *DataStore) PartialErrorNormSum() float64 {
	return partialSum(d.newtonCorrection, d.errorWeight)
}

// PartialQErrorNormSum is the Q-category analogue of PartialErrorNormSum,
// used when NEWLTE selects the joint norm.
func (d *DataStore) PartialQErrorNormSum(deltaQ linalg.Vector) float64 {
	return partialSum(deltaQ, d.errorWeight)
}

func partialSum(v, w linalg.Vector) float64 {
	sum := 0.0
	for i := 0; i < v.Length(); i++ {
		r := v.Get(i) / w.Get(i)
		sum += r * r
	}
	return sum
}

// HistorySumSquares returns sum((history[slot]_i / w_i)^2) for category c.
// bdf's estimateLTE combines this (scaled by the appropriate sigma coefficient
// and sqrt(1/N)) into the order-(k-1)/(k-2)/(k+1) error estimates E_{k-1},
// E_{k-2}, E_{k+1} used by the RAISE/LOWER policy; a single general helper stands in for
// the four order-specific accessors since they differ only in which slot
// is read.
func (d *DataStore) HistorySumSquares(c Category, slot int) float64 {
	return partialSum(d.history[c].slots[slot], d.errorWeight)
}

// WeightedRMSNorm computes sqrt((1/N) * sum((v_i/w_i)^2)) using the
// data store's current error-weight vector, all-reducing the local partial
// sum across ranks via ReduceWRMS before scaling.
func (d *DataStore) WeightedRMSNorm(v linalg.Vector) float64 {
	return d.ReduceWRMS(partialSum(v, d.errorWeight))
}

// ReduceWRMS combines a locally computed partial sum-of-squares with every
// other rank's contribution via the communicator, then finishes the
// sqrt(1/N) weighted-RMS scaling against the global unknown count. Every
// wRMS norm in the core — jointWRMS's dx/dq terms, the order-(k±1) error
// estimates, and this method's own callers — funnels through here.
func (d *DataStore) ReduceWRMS(localSumSq float64) float64 {
	return math.Sqrt(d.ReduceMeanSq(localSumSq))
}

// ReduceMeanSq all-reduces a local partial sum-of-squares and divides by the
// global unknown count, stopping short of the final sqrt so callers that
// need to combine several reduced terms (jointWRMS's 0.5*dx + 0.5*dq) don't
// have to square back out of ReduceWRMS's result first.
func (d *DataStore) ReduceMeanSq(localSumSq float64) float64 {
	global := d.comm.SumAll([]float64{localSumSq})[0]
	return global / d.globalN
}
