package comm

import "testing"

func TestSerialCommReductions(t *testing.T) {
	c := NewSerialComm()
	if c.NumProc() != 1 {
		t.Fatalf("NumProc() = %d, want 1", c.NumProc())
	}
	if !c.IsSerial() {
		t.Fatalf("IsSerial() = false, want true")
	}

	in := []float64{1, 2, 3}
	for name, fn := range map[string]func([]float64) []float64{
		"SumAll": c.SumAll,
		"MinAll": c.MinAll,
		"MaxAll": c.MaxAll,
		"ScanSum": c.ScanSum,
	} {
		out := fn(in)
		for i := range in {
			if out[i] != in[i] {
				t.Errorf("%s[%d] = %v, want %v", name, i, out[i], in[i])
			}
		}
	}
	c.Barrier()
}

func TestSerialCommDoesNotAliasInput(t *testing.T) {
	c := NewSerialComm()
	in := []float64{1, 2, 3}
	out := c.SumAll(in)
	out[0] = 99
	if in[0] != 1 {
		t.Errorf("SumAll aliased the input slice")
	}
}
