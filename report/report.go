// Package report renders the step history collected by transient.Driver
// as PNG charts via gonum.org/v1/plot: step size vs time, and the running
// accepted-step count vs time. The textual failure table is produced by
// Driver.FailureReport, not by this package. The reference implementation's one declared
// third-party visualization dependency (mna/debug/charts.go, built on
// go-echarts) has no server-rendered-HTML equivalent in this module's
// scope, so this package plays the same "take a Record of time series,
// render a file" role with the plotting library instead.
package report

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"transientcore/transient"
)

// StepChart renders step size against time from a Driver's recorded
// history, mirroring Charts.Render's shape (one entry point that builds a
// figure from a slice of samples) but producing a single two-axis PNG
// instead of an HTML page, since nothing downstream of this core serves
// HTTP. Order is not plotted: StepRecord does not carry it.
type StepChart struct {
	Records []transient.StepRecord
}

// NewStepChart wraps the driver's recorded step history for rendering.
func NewStepChart(records []transient.StepRecord) *StepChart {
	return &StepChart{Records: records}
}

// Render writes a PNG of width x height pixels to w with one plot of step
// size over time: accepted steps as a line, rejected steps as a scatter.
func (c *StepChart) Render(w io.Writer, width, height int) error {
	if len(c.Records) == 0 {
		return fmt.Errorf("report: no step records to render")
	}

	p := plot.New()
	p.Title.Text = "Step size history"
	p.X.Label.Text = "time"
	p.Y.Label.Text = "h"

	accepted := make(plotter.XYs, 0, len(c.Records))
	rejected := make(plotter.XYs, 0)
	for _, r := range c.Records {
		pt := plotter.XY{X: r.Time, Y: r.H}
		if r.Passed {
			accepted = append(accepted, pt)
		} else {
			rejected = append(rejected, pt)
		}
	}

	if len(accepted) > 0 {
		line, err := plotter.NewLine(accepted)
		if err != nil {
			return fmt.Errorf("report: building accepted-step line: %w", err)
		}
		line.Color = color.RGBA{G: 150, A: 255}
		p.Add(line)
		p.Legend.Add("accepted", line)
	}
	if len(rejected) > 0 {
		scatter, err := plotter.NewScatter(rejected)
		if err != nil {
			return fmt.Errorf("report: building rejected-step scatter: %w", err)
		}
		scatter.Color = color.RGBA{R: 200, A: 255}
		p.Add(scatter)
		p.Legend.Add("rejected", scatter)
	}

	writer, err := p.WriterTo(vg.Length(width)*vg.Inch/100, vg.Length(height)*vg.Inch/100, "png")
	if err != nil {
		return fmt.Errorf("report: preparing PNG writer: %w", err)
	}
	_, err = writer.WriteTo(w)
	return err
}

// OrderTrace renders the running count of accepted steps against time,
// derived from each record's pass/fail status, giving a visual complement
// to Driver.FailureReport's textual table. It does not plot the order.
type OrderTrace struct {
	Records []transient.StepRecord
}

// NewOrderTrace wraps the same history for a separate, simpler figure.
func NewOrderTrace(records []transient.StepRecord) *OrderTrace {
	return &OrderTrace{Records: records}
}

// Render writes a PNG plotting the running count of accepted steps
// against time, a coarse proxy for integration progress useful when
// scanning for stalls (long flat stretches).
func (o *OrderTrace) Render(w io.Writer, width, height int) error {
	if len(o.Records) == 0 {
		return fmt.Errorf("report: no step records to render")
	}

	p := plot.New()
	p.Title.Text = "Accepted step progress"
	p.X.Label.Text = "time"
	p.Y.Label.Text = "accepted step count"

	pts := make(plotter.XYs, 0, len(o.Records))
	count := 0.0
	for _, r := range o.Records {
		if r.Passed {
			count++
		}
		pts = append(pts, plotter.XY{X: r.Time, Y: count})
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("report: building progress line: %w", err)
	}
	p.Add(line)

	writer, err := p.WriterTo(vg.Length(width)*vg.Inch/100, vg.Length(height)*vg.Inch/100, "png")
	if err != nil {
		return fmt.Errorf("report: preparing PNG writer: %w", err)
	}
	_, err = writer.WriteTo(w)
	return err
}
