// Package loader 定义器件求值回调契约（Loader contract）。
//
// 真正的网表解析与器件模型求值不属于本仓库范围（Non-goals）；
// 瞬态核心只消费这份接口。本包同时给出一个最小的参考实现（单电阻-电容
// 放电电路），用来驱动 transient 包的端到端测试，对应线性 RC 放电这一
// 经典场景。
package loader

import "transientcore/linalg"

// Kind 区分断点的种类，PAUSE 优先级高于 SIMPLE。
type Kind int

const (
	SIMPLE Kind = iota
	PAUSE
)

// Breakpoint 是 loader 向驱动汇报的一个非平滑时刻。
type Breakpoint struct {
	Time float64
	Kind Kind
}

// Loader 是器件求值器必须满足的契约，瞬态核心把它当作黑盒协作方使用。
type Loader interface {
	// LoadRHS 用 nextSolution 填充 Q、F、B。
	LoadRHS(nextSolution linalg.Vector) (q, f, b linalg.Vector, err error)
	// LoadJacobian 填充 dQ/dx 与 dF/dx。
	LoadJacobian(nextSolution linalg.Vector) (dQdx, dFdx linalg.Matrix, err error)

	// UpdateSources 在 takeStep 开始时调用，刷新与时间相关的独立源。
	UpdateSources(t float64) error
	// AcceptStep 在一步被接受之后调用。
	AcceptStep()
	// StepSuccess 在某种分析模式下报告成功（供器件侧状态机使用）。
	StepSuccess(mode AnalysisMode)
	// StepFailure 报告失败。
	StepFailure(mode AnalysisMode)

	// Output 把当前已接受的解写出。
	Output(t float64, solution linalg.Vector) error
	// FinishOutput 在瞬态分析结束时调用一次。
	FinishOutput() error

	// GetInitialQnorm 为两级（嵌套）误差聚合提供内层误差信息。
	GetInitialQnorm(innerErrorInfoVec []float64) float64

	// GetBreakPoints 可能在任意已接受步之后被调用，汇报新的断点。
	GetBreakPoints() ([]Breakpoint, error)
	// GetMaxTimeStepSize 返回器件侧建议的步长上限；没有建议时返回 (0, false)。
	GetMaxTimeStepSize() (float64, bool)

	// SetInitialGuess 在第一步之前设置初始猜测。
	SetInitialGuess(solution linalg.Vector)
	// InitializeProblem 在第一步之前调用一次，给出问题的规模与初始解。
	InitializeProblem() (size int, initial linalg.Vector, err error)
}

// AnalysisMode 区分瞬态求解与初始工作点求解，供 loader 和非线性求解器
// 的模式切换使用。
type AnalysisMode int

const (
	DCOp AnalysisMode = iota
	Transient
)

func (m AnalysisMode) String() string {
	if m == DCOp {
		return "DC_OP"
	}
	return "TRANSIENT"
}
