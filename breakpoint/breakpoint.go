// Package breakpoint implements the time-ordered set of non-smooth events
// the transient driver must land on exactly.
//
// The reference repo has no equivalent (its fixed-step Adams integrator
// in mna/time/time.go never stops on discontinuities), so this package
// is grounded directly on the Xyce original implementation
// (N_TIA_StepErrorControl.C's breakpoint vector) instead; its method
// names and error-handling idiom (plain value receivers, no panics on
// bad input) still follow the rest of this module's general style.
package breakpoint

import "sort"

// Kind distinguishes a breakpoint that merely forces a restart (SIMPLE)
// from one that also returns control to the outer framework (PAUSE).
type Kind int

const (
	SIMPLE Kind = iota
	PAUSE
)

func (k Kind) String() string {
	if k == PAUSE {
		return "PAUSE"
	}
	return "SIMPLE"
}

// entry is one breakpoint stored in the set.
type entry struct {
	time float64
	kind Kind
}

// Entry is the externally visible (time, kind) pair used by
// UpdateFromLoader and Entries — the same shape loader.Breakpoint and the
// restart codec use, kept local to avoid a dependency cycle with loader.
type Entry struct {
	Time float64
	Kind Kind
}

// Set is the ordered, deduplicated collection of breakpoints. The zero
// value is not usable; construct with New.
type Set struct {
	mergeTol float64
	entries  []entry // kept sorted by time

	currentTime  float64
	pauseCached  bool
	cachedPause  float64
}

// New constructs an empty set with the given merge tolerance.
func New(mergeTol float64) *Set {
	return &Set{mergeTol: mergeTol}
}

// Initialize establishes the three seed breakpoints: the initial time,
// tStart (if later), and the final time as a PAUSE.
func (s *Set) Initialize(initialTime, tStart, finalTime float64) {
	s.entries = nil
	s.SetBreakPoint(initialTime, SIMPLE)
	if tStart > initialTime {
		s.SetBreakPoint(tStart, SIMPLE)
	}
	s.SetBreakPoint(finalTime, PAUSE)
}

// SetBreakPoint inserts a breakpoint. If an existing entry lies within the
// merge tolerance, the higher-precedence kind (PAUSE > SIMPLE) wins and the
// later insertion is otherwise discarded — this resolves the "coincident
// within merge tolerance" open question in favor of a deterministic,
// precedence-first rule rather than insertion order.
func (s *Set) SetBreakPoint(time float64, kind Kind) {
	for i := range s.entries {
		if s.within(s.entries[i].time, time) {
			if kind == PAUSE {
				s.entries[i].kind = PAUSE
				s.invalidatePauseCache()
			}
			return
		}
	}
	s.insertSorted(entry{time: time, kind: kind})
	s.invalidatePauseCache()
}

func (s *Set) insertSorted(e entry) {
	i := sort.Search(len(s.entries), func(i int) bool { return s.entries[i].time >= e.time })
	s.entries = append(s.entries, entry{})
	copy(s.entries[i+1:], s.entries[i:])
	s.entries[i] = e
}

func (s *Set) within(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < s.mergeTol
}

// UpdateFromLoader absorbs a loader-supplied breakpoint list. Entries at or
// before lastTime are rejected; the rest are folded into the set under the
// precedence rule, run to a fixed point (repeated passes until one pass
// changes nothing).
func (s *Set) UpdateFromLoader(list []Entry, lastTime float64) {
	for _, bp := range list {
		if bp.Time <= lastTime {
			continue
		}
		s.SetBreakPoint(bp.Time, bp.Kind)
	}
	for s.mergePass() {
	}
}

// mergePass folds any two entries still within tolerance of each other
// into one, applying the precedence rule; returns true if it changed
// anything, so the caller can iterate to a fixed point.
func (s *Set) mergePass() bool {
	changed := false
	for i := 0; i < len(s.entries)-1; i++ {
		if s.within(s.entries[i].time, s.entries[i+1].time) {
			kind := s.entries[i].kind
			if s.entries[i+1].kind == PAUSE {
				kind = PAUSE
			}
			s.entries[i].kind = kind
			s.entries = append(s.entries[:i+1], s.entries[i+2:]...)
			changed = true
			s.invalidatePauseCache()
		}
	}
	return changed
}

// NextStopAfter returns the least breakpoint value strictly greater than
// t. Callers on multiple ranks are expected to min-reduce the result
// themselves via comm.Communicator.MinAll before acting on it.
func (s *Set) NextStopAfter(t float64) (float64, bool) {
	for _, e := range s.entries {
		if e.time > t {
			return e.time, true
		}
	}
	return 0, false
}

// PauseTime returns the time of the currently designated pause breakpoint,
// caching the lookup until invalidated by a mutation or SimulationPaused.
func (s *Set) PauseTime() (float64, bool) {
	if s.pauseCached {
		return s.cachedPause, true
	}
	for _, e := range s.entries {
		if e.kind == PAUSE {
			s.cachedPause, s.pauseCached = e.time, true
			return s.cachedPause, true
		}
	}
	return 0, false
}

// SimulationPaused is called once the driver has stopped at currentTime
// because it equals the cached pause time. It erases that breakpoint,
// clears the cached pause iterator, and resets the pause marker so a
// subsequent resume recomputes it from whatever breakpoints remain.
func (s *Set) SimulationPaused(currentTime float64) {
	s.currentTime = currentTime
	for i, e := range s.entries {
		if e.kind == PAUSE && s.within(e.time, currentTime) {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			break
		}
	}
	s.invalidatePauseCache()
}

func (s *Set) invalidatePauseCache() { s.pauseCached = false }

// Purge removes every breakpoint at or before t, as is done after each
// accepted step. This can drop the entry PauseTime has cached, so the
// cache is invalidated unconditionally.
func (s *Set) Purge(t float64) {
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.time > t {
			kept = append(kept, e)
		}
	}
	s.entries = kept
	s.invalidatePauseCache()
}

// Entries returns a defensive copy of the live breakpoints, sorted by
// time; used by restart to persist the remaining set.
func (s *Set) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	for i, e := range s.entries {
		out[i] = Entry{e.time, e.kind}
	}
	return out
}
