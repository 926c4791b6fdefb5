package report

import (
	"bytes"
	"testing"

	"transientcore/nlsolve"
	"transientcore/transient"
)

func sampleRecords() []transient.StepRecord {
	return []transient.StepRecord{
		{Time: 0.1, H: 1e-3, Passed: true, NonlinearCode: nlsolve.Converged},
		{Time: 0.101, H: 5e-4, Passed: false, NonlinearCode: nlsolve.NormalConvergenceFailed},
		{Time: 0.1015, H: 2.5e-4, Passed: true, NonlinearCode: nlsolve.Converged},
		{Time: 0.2, H: 3e-4, Passed: true, NonlinearCode: nlsolve.Converged},
	}
}

func TestStepChartRendersPNG(t *testing.T) {
	c := NewStepChart(sampleRecords())
	var buf bytes.Buffer
	if err := c.Render(&buf, 640, 480); err != nil {
		t.Fatalf("Render error: %v", err)
	}
	if buf.Len() == 0 {
		t.Errorf("Render produced no bytes")
	}
}

func TestStepChartRejectsEmptyHistory(t *testing.T) {
	c := NewStepChart(nil)
	var buf bytes.Buffer
	if err := c.Render(&buf, 640, 480); err == nil {
		t.Errorf("Render should reject an empty history")
	}
}

func TestOrderTraceRendersPNG(t *testing.T) {
	o := NewOrderTrace(sampleRecords())
	var buf bytes.Buffer
	if err := o.Render(&buf, 640, 480); err != nil {
		t.Fatalf("Render error: %v", err)
	}
	if buf.Len() == 0 {
		t.Errorf("Render produced no bytes")
	}
}
