package restart

import (
	"math"
	"testing"

	"transientcore/breakpoint"
)

func sampleState() State {
	s := State{
		HCurrent: 1.25e-9,
		HLast:    1.1e-9,
		HMin:     1e-15,
		HMax:     1e-3,
		TCurrent: 3.4e-6,
		TNext:    3.400125e-6,
		AlphaS:   -1.5,
		Alpha0:   -2.0833333333333335,
		Cj:       1.2e9,
		Ck:       0.6,

		Order:     3,
		UsedOrder: 3,
		Nscsco:    4,

		Ek:       1.2e-7,
		EkMinus1: 3.4e-7,
		EkPlus1:  9.8e-8,
		Tk:       2.0e-6,
		TkMinus1: 4.1e-6,
		TkPlus1:  1.0e-6,

		NumberOfSteps: 412,
		Nef:           0,
		InitialPhase:  false,

		Breakpoints: []breakpoint.Entry{
			{Time: 5.0e-6, Kind: breakpoint.SIMPLE},
			{Time: 8.0e-6, Kind: breakpoint.PAUSE},
		},

		IntegrationMethodSelector: 2,
		StepCounter:               412,
	}
	for i := range s.Alpha {
		s.Alpha[i] = float64(i) * 0.5
		s.Beta[i] = float64(i) * 0.25
		s.Gamma[i] = float64(i) * 0.125
		s.Sigma[i] = 1.0 / float64(i+1)
		s.Psi[i] = s.HCurrent * float64(i+1)
	}
	return s
}

func TestPackUnpackRoundTripsBitIdentical(t *testing.T) {
	want := sampleState()
	buf := Pack(want)
	got, err := Unpack(buf)
	if err != nil {
		t.Fatalf("Unpack error: %v", err)
	}

	if got.HCurrent != want.HCurrent || got.Cj != want.Cj || got.Ck != want.Ck {
		t.Errorf("scalar mismatch: got %+v, want %+v", got, want)
	}
	for i := range want.Alpha {
		if got.Alpha[i] != want.Alpha[i] || got.Sigma[i] != want.Sigma[i] || got.Psi[i] != want.Psi[i] {
			t.Errorf("coeff array mismatch at %d: got alpha=%v sigma=%v psi=%v, want alpha=%v sigma=%v psi=%v",
				i, got.Alpha[i], got.Sigma[i], got.Psi[i], want.Alpha[i], want.Sigma[i], want.Psi[i])
		}
	}
	if got.Order != want.Order || got.UsedOrder != want.UsedOrder || got.Nscsco != want.Nscsco {
		t.Errorf("order state mismatch: got %+v, want %+v", got, want)
	}
	if len(got.Breakpoints) != len(want.Breakpoints) {
		t.Fatalf("breakpoint count = %d, want %d", len(got.Breakpoints), len(want.Breakpoints))
	}
	for i, bp := range want.Breakpoints {
		if got.Breakpoints[i] != bp {
			t.Errorf("breakpoint[%d] = %+v, want %+v", i, got.Breakpoints[i], bp)
		}
	}
	if got.IntegrationMethodSelector != want.IntegrationMethodSelector || got.StepCounter != want.StepCounter {
		t.Errorf("selector/counter mismatch: got %+v, want %+v", got, want)
	}
}

func TestUnpackRejectsBadMagic(t *testing.T) {
	_, err := Unpack([]byte{0, 1, 2, 3})
	if err == nil {
		t.Errorf("Unpack should reject a truncated/bad-magic buffer")
	}
}

func TestUnpackRejectsTruncatedBuffer(t *testing.T) {
	buf := Pack(sampleState())
	_, err := Unpack(buf[:len(buf)-20])
	if err == nil {
		t.Errorf("Unpack should reject a truncated buffer")
	}
}

func TestASCIIRoundTripsToSixteenSignificantDigits(t *testing.T) {
	want := sampleState()
	// Use values with a full-length mantissa: at DumpASCII's 16
	// significant digits they come back within a relative 1e-15, not
	// necessarily bit-identical.
	want.HCurrent = math.Pi * 1e-9
	want.Tk = math.Sqrt2 * 1e-6

	text := DumpASCII(want)
	got, err := LoadASCII(text)
	if err != nil {
		t.Fatalf("LoadASCII error: %v", err)
	}

	if math.Abs(got.HCurrent-want.HCurrent) > want.HCurrent*1e-15 {
		t.Errorf("HCurrent = %.17g, want %.17g", got.HCurrent, want.HCurrent)
	}
	if math.Abs(got.Tk-want.Tk) > want.Tk*1e-15 {
		t.Errorf("Tk = %.17g, want %.17g", got.Tk, want.Tk)
	}
	if len(got.Breakpoints) != len(want.Breakpoints) {
		t.Fatalf("breakpoint count = %d, want %d", len(got.Breakpoints), len(want.Breakpoints))
	}
	for i, bp := range want.Breakpoints {
		if got.Breakpoints[i] != bp {
			t.Errorf("breakpoint[%d] = %+v, want %+v", i, got.Breakpoints[i], bp)
		}
	}
}

func TestLoadASCIIRejectsTruncatedText(t *testing.T) {
	_, err := LoadASCII("1.0 2.0 3.0")
	if err == nil {
		t.Errorf("LoadASCII should reject a record missing most fields")
	}
}
