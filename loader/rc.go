package loader

import "transientcore/linalg"

// RCLoader 实现经典的单节点 RC 放电电路：
//
//	C·dv/dt + v/R = 0
//
// 即 F(v) = v/R，Q(v) = C·v，B = 0。它是 Loader 的参考实现，足够小以
// 便在 transient 包的端到端测试里驱动出 e^{-t/RC} 的解析解做比对。
type RCLoader struct {
	R, C    float64
	initial float64

	breakpoints []Breakpoint
}

// NewRCLoader 构造一个 R、C 给定、初始电压为 v0 的单节点放电回路。
func NewRCLoader(r, c, v0 float64) *RCLoader {
	return &RCLoader{R: r, C: c, initial: v0}
}

func (l *RCLoader) LoadRHS(next linalg.Vector) (q, f, b linalg.Vector, err error) {
	v := next.Get(0)
	q = linalg.NewVectorFromSlice([]float64{l.C * v})
	f = linalg.NewVectorFromSlice([]float64{v / l.R})
	b = linalg.NewVectorFromSlice([]float64{0})
	return q, f, b, nil
}

func (l *RCLoader) LoadJacobian(next linalg.Vector) (dQdx, dFdx linalg.Matrix, err error) {
	dQdx = linalg.NewMatrix(1, 1)
	dQdx.Set(0, 0, l.C)
	dFdx = linalg.NewMatrix(1, 1)
	dFdx.Set(0, 0, 1.0/l.R)
	return dQdx, dFdx, nil
}

func (l *RCLoader) UpdateSources(t float64) error { return nil }
func (l *RCLoader) AcceptStep()                   {}
func (l *RCLoader) StepSuccess(mode AnalysisMode) {}
func (l *RCLoader) StepFailure(mode AnalysisMode) {}

func (l *RCLoader) Output(t float64, solution linalg.Vector) error { return nil }
func (l *RCLoader) FinishOutput() error                            { return nil }

func (l *RCLoader) GetInitialQnorm(innerErrorInfoVec []float64) float64 {
	sum := 0.0
	for _, v := range innerErrorInfoVec {
		sum += v * v
	}
	return sum
}

func (l *RCLoader) GetBreakPoints() ([]Breakpoint, error) {
	return l.breakpoints, nil
}

// AddBreakpoint lets tests/examples schedule a non-smooth event (e.g. a
// pulse edge) that the next GetBreakPoints() call will surface.
func (l *RCLoader) AddBreakpoint(bp Breakpoint) {
	l.breakpoints = append(l.breakpoints, bp)
}

func (l *RCLoader) GetMaxTimeStepSize() (float64, bool) { return 0, false }

func (l *RCLoader) SetInitialGuess(solution linalg.Vector) { solution.Set(0, l.initial) }

func (l *RCLoader) InitializeProblem() (int, linalg.Vector, error) {
	return 1, linalg.NewVectorFromSlice([]float64{l.initial}), nil
}
