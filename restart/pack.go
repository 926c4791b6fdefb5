// Package restart implements the persisted-state codec: an
// MPI-pack-compatible byte-packed record plus a whitespace-separated
// ASCII encoding at 16 significant digits.
//
// Grounded on the utils/basebyte package: byteRead.go ships a
// complete cursor-style Read type (error-sticky: CheckBounds sets r.Error
// instead of returning immediately, letting a long chain of field reads
// be checked once at the end) but baseWrite.go references an undefined
// Write type with no corresponding byteWrite.go anywhere in the
// retrieval — so this package writes its own symmetric Writer in the same
// cursor idiom, rather than trying to complete the reference implementation's
// reflection-based pack/unpack (which there is no way to verify without
// running the toolchain). The explicit field-by-field layout below also
// matches Xyce's actual `comm->pack(&field, 1, buf, bsize, pos)` style
// more directly than a reflection-driven approach would.
package restart

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"transientcore/breakpoint"
)

var (
	ErrOutOfBounds = errors.New("restart: read offset out of bounds")
	ErrBadMagic    = errors.New("restart: bad magic/version header")
)

const (
	magic        = uint32(0x54435258) // "TCRX"
	formatVersion = uint32(1)
)

// Writer is an append-only byte cursor, the Write-side counterpart the
// reference repo's basebyte.Read never got.
type Writer struct {
	buf   []byte
	order binary.ByteOrder
}

// NewWriter constructs an empty little-endian Writer (MPI's default on
// every platform Xyce ships for).
func NewWriter() *Writer {
	return &Writer{order: binary.LittleEndian}
}

func (w *Writer) Bool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

func (w *Writer) Int32(v int32) {
	var tmp [4]byte
	w.order.PutUint32(tmp[:], uint32(v))
	w.buf = append(w.buf, tmp[:]...)
}

func (w *Writer) Float64(v float64) {
	var tmp [8]byte
	w.order.PutUint64(tmp[:], math.Float64bits(v))
	w.buf = append(w.buf, tmp[:]...)
}

func (w *Writer) Bytes() []byte { return w.buf }

// Reader is the read-side cursor, following the reference implementation's
// basebyte.Read error-sticky idiom: a failed read sets r.Error and
// returns the zero value instead of panicking or returning immediately,
// so a long chain of field reads can be checked once at the end.
type Reader struct {
	buf    []byte
	offset int
	order  binary.ByteOrder
	Error  error
}

// NewReader wraps buf for sequential reads.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf, order: binary.LittleEndian}
}

func (r *Reader) checkBounds(n int) bool {
	if r.Error != nil {
		return false
	}
	if r.offset < 0 || r.offset+n > len(r.buf) {
		r.Error = ErrOutOfBounds
		return false
	}
	return true
}

func (r *Reader) Bool() bool {
	if !r.checkBounds(1) {
		return false
	}
	v := r.buf[r.offset] != 0
	r.offset++
	return v
}

func (r *Reader) Int32() int32 {
	if !r.checkBounds(4) {
		return 0
	}
	v := int32(r.order.Uint32(r.buf[r.offset:]))
	r.offset += 4
	return v
}

func (r *Reader) Float64() float64 {
	if !r.checkBounds(8) {
		return 0
	}
	v := math.Float64frombits(r.order.Uint64(r.buf[r.offset:]))
	r.offset += 8
	return v
}

// State is every scalar StepErrorControl field lists as
// persisted, plus the remaining breakpoints and the analysis-manager
// selector/step counters.
type State struct {
	HCurrent, HLast, HMin, HMax float64
	TCurrent, TNext             float64

	Alpha, Beta, Gamma, Sigma, Psi [6]float64
	AlphaS, Alpha0, Cj, Ck          float64

	Order, UsedOrder, Nscsco int

	Ek, EkMinus1, EkPlus1 float64
	Tk, TkMinus1, TkPlus1 float64

	NumberOfSteps int
	Nef           int
	InitialPhase  bool

	Breakpoints []breakpoint.Entry

	IntegrationMethodSelector int
	StepCounter               int
}

// Pack serializes s into an MPI-pack-compatible byte slice: a fixed
// magic/version header, every scalar field in a stable order, then the
// breakpoint list as length-prefixed (value, kind) pairs, written exactly
// as given: Pack does no filtering by time or kind, so a terminal pause
// present in s.Breakpoints is persisted too.
func Pack(s State) []byte {
	w := NewWriter()
	w.Int32(int32(magic))
	w.Int32(int32(formatVersion))

	w.Float64(s.HCurrent)
	w.Float64(s.HLast)
	w.Float64(s.HMin)
	w.Float64(s.HMax)
	w.Float64(s.TCurrent)
	w.Float64(s.TNext)

	for _, arr := range [][6]float64{s.Alpha, s.Beta, s.Gamma, s.Sigma, s.Psi} {
		for _, v := range arr {
			w.Float64(v)
		}
	}
	w.Float64(s.AlphaS)
	w.Float64(s.Alpha0)
	w.Float64(s.Cj)
	w.Float64(s.Ck)

	w.Int32(int32(s.Order))
	w.Int32(int32(s.UsedOrder))
	w.Int32(int32(s.Nscsco))

	w.Float64(s.Ek)
	w.Float64(s.EkMinus1)
	w.Float64(s.EkPlus1)
	w.Float64(s.Tk)
	w.Float64(s.TkMinus1)
	w.Float64(s.TkPlus1)

	w.Int32(int32(s.NumberOfSteps))
	w.Int32(int32(s.Nef))
	w.Bool(s.InitialPhase)

	w.Int32(int32(len(s.Breakpoints)))
	for _, bp := range s.Breakpoints {
		w.Float64(bp.Time)
		w.Int32(int32(bp.Kind))
	}

	w.Int32(int32(s.IntegrationMethodSelector))
	w.Int32(int32(s.StepCounter))

	return w.Bytes()
}

// Unpack is Pack's inverse. It returns ErrBadMagic if buf doesn't start
// with the expected header, and ErrOutOfBounds (wrapped) if the buffer is
// truncated partway through a record — both are a predicted byte-budget
// mismatch between pack and unpack, which is an internal invariant
// violation, so callers should treat a non-nil error here as
// developer-fatal rather than retriable.
func Unpack(buf []byte) (State, error) {
	r := NewReader(buf)
	gotMagic := uint32(r.Int32())
	gotVersion := uint32(r.Int32())
	if gotMagic != magic || gotVersion != formatVersion {
		return State{}, ErrBadMagic
	}

	var s State
	s.HCurrent = r.Float64()
	s.HLast = r.Float64()
	s.HMin = r.Float64()
	s.HMax = r.Float64()
	s.TCurrent = r.Float64()
	s.TNext = r.Float64()

	for _, arr := range []*[6]float64{&s.Alpha, &s.Beta, &s.Gamma, &s.Sigma, &s.Psi} {
		for i := range arr {
			arr[i] = r.Float64()
		}
	}
	s.AlphaS = r.Float64()
	s.Alpha0 = r.Float64()
	s.Cj = r.Float64()
	s.Ck = r.Float64()

	s.Order = int(r.Int32())
	s.UsedOrder = int(r.Int32())
	s.Nscsco = int(r.Int32())

	s.Ek = r.Float64()
	s.EkMinus1 = r.Float64()
	s.EkPlus1 = r.Float64()
	s.Tk = r.Float64()
	s.TkMinus1 = r.Float64()
	s.TkPlus1 = r.Float64()

	s.NumberOfSteps = int(r.Int32())
	s.Nef = int(r.Int32())
	s.InitialPhase = r.Bool()

	n := int(r.Int32())
	if n < 0 || n > len(buf) {
		return State{}, fmt.Errorf("restart: %w: breakpoint count %d implausible", ErrOutOfBounds, n)
	}
	s.Breakpoints = make([]breakpoint.Entry, n)
	for i := 0; i < n; i++ {
		s.Breakpoints[i] = breakpoint.Entry{Time: r.Float64(), Kind: breakpoint.Kind(r.Int32())}
	}

	s.IntegrationMethodSelector = int(r.Int32())
	s.StepCounter = int(r.Int32())

	if r.Error != nil {
		return State{}, fmt.Errorf("restart: Unpack failed: %w", r.Error)
	}
	return s, nil
}

// DumpASCII renders s as whitespace-separated fields with fixed-precision
// doubles at 16 significant digits, the ostream<< half of
// Xyce's dumpRestartData/restoreRestartData split.
func DumpASCII(s State) string {
	var b strings.Builder
	f := func(v float64) { fmt.Fprintf(&b, "%.16g ", v) }
	i := func(v int) { fmt.Fprintf(&b, "%d ", v) }

	f(s.HCurrent)
	f(s.HLast)
	f(s.HMin)
	f(s.HMax)
	f(s.TCurrent)
	f(s.TNext)
	for _, arr := range [][6]float64{s.Alpha, s.Beta, s.Gamma, s.Sigma, s.Psi} {
		for _, v := range arr {
			f(v)
		}
	}
	f(s.AlphaS)
	f(s.Alpha0)
	f(s.Cj)
	f(s.Ck)
	i(s.Order)
	i(s.UsedOrder)
	i(s.Nscsco)
	f(s.Ek)
	f(s.EkMinus1)
	f(s.EkPlus1)
	f(s.Tk)
	f(s.TkMinus1)
	f(s.TkPlus1)
	i(s.NumberOfSteps)
	i(s.Nef)
	if s.InitialPhase {
		i(1)
	} else {
		i(0)
	}
	i(len(s.Breakpoints))
	for _, bp := range s.Breakpoints {
		f(bp.Time)
		i(int(bp.Kind))
	}
	i(s.IntegrationMethodSelector)
	i(s.StepCounter)
	return strings.TrimSpace(b.String())
}

// LoadASCII is DumpASCII's inverse.
func LoadASCII(text string) (State, error) {
	fields := strings.Fields(text)
	cur := 0
	nextF := func() (float64, error) {
		if cur >= len(fields) {
			return 0, fmt.Errorf("restart: unexpected end of ASCII record")
		}
		v, err := strconv.ParseFloat(fields[cur], 64)
		cur++
		return v, err
	}
	nextI := func() (int, error) {
		if cur >= len(fields) {
			return 0, fmt.Errorf("restart: unexpected end of ASCII record")
		}
		v, err := strconv.Atoi(fields[cur])
		cur++
		return v, err
	}

	var s State
	var err error
	assign := func(dst *float64) {
		if err != nil {
			return
		}
		*dst, err = nextF()
	}
	assignInt := func(dst *int) {
		if err != nil {
			return
		}
		*dst, err = nextI()
	}

	assign(&s.HCurrent)
	assign(&s.HLast)
	assign(&s.HMin)
	assign(&s.HMax)
	assign(&s.TCurrent)
	assign(&s.TNext)
	for _, arr := range []*[6]float64{&s.Alpha, &s.Beta, &s.Gamma, &s.Sigma, &s.Psi} {
		for i := range arr {
			assign(&arr[i])
		}
	}
	assign(&s.AlphaS)
	assign(&s.Alpha0)
	assign(&s.Cj)
	assign(&s.Ck)
	assignInt(&s.Order)
	assignInt(&s.UsedOrder)
	assignInt(&s.Nscsco)
	assign(&s.Ek)
	assign(&s.EkMinus1)
	assign(&s.EkPlus1)
	assign(&s.Tk)
	assign(&s.TkMinus1)
	assign(&s.TkPlus1)
	assignInt(&s.NumberOfSteps)
	assignInt(&s.Nef)

	var initialPhase int
	assignInt(&initialPhase)
	s.InitialPhase = initialPhase != 0

	var nbp int
	assignInt(&nbp)
	if err == nil {
		s.Breakpoints = make([]breakpoint.Entry, nbp)
		for i := 0; i < nbp && err == nil; i++ {
			var t float64
			var k int
			assign(&t)
			assignInt(&k)
			s.Breakpoints[i] = breakpoint.Entry{Time: t, Kind: breakpoint.Kind(k)}
		}
	}

	assignInt(&s.IntegrationMethodSelector)
	assignInt(&s.StepCounter)

	if err != nil {
		return State{}, fmt.Errorf("restart: LoadASCII failed: %w", err)
	}
	return s, nil
}
