// Package nlsolve 定义非线性（牛顿）求解器契约，并给出一个阻尼
// 牛顿参考实现，沿用 mna/solve.go 里 Soluv.Solve() 的自适应阻尼
// 与振荡检测策略，只是把残差/雅可比的来源从 MNA 加盖流程换成了
// loader.Loader 回调。
package nlsolve

import (
	"fmt"
	"math"

	"transientcore/linalg"
	"transientcore/loader"
)

// ConvergenceCode 是 solve() 的返回码，正值表示收敛，符号和枚举值是
// 驱动唯一关心的部分（nonlinear solver contract）。
type ConvergenceCode int

const (
	// Converged 表示正常收敛；Solve 收敛时总是返回 1，迭代次数见 GetNumIterations。
	Converged ConvergenceCode = 1
	// NormalConvergenceFailed 达到最大迭代次数仍未收敛。
	NormalConvergenceFailed ConvergenceCode = 0
	// TooManyIterations 与 NormalConvergenceFailed 语义重合，单独枚举供日志区分。
	TooManyIterations ConvergenceCode = -1
	// UpdateTooBig 本次牛顿更新幅度超过允许范围。
	UpdateTooBig ConvergenceCode = -2
	// Stalled 残差不再下降（振荡或停滞）。
	Stalled ConvergenceCode = -3
)

// Solver 是 transient 包依赖的唯一非线性求解契约。把 solve()
// 描述成无参数的黑盒，那是因为原始实现里 x/Qpred/Qdotpred 都是求解器
// 早已持有的共享状态；这里的核心把它们显式作为参数传入，其余部分——
// 返回值只看符号和少数几个负值——与契约完全一致。
type Solver interface {
	Solve(x, qPred, qDotPred linalg.Vector, alphaSOverH float64, delta linalg.Vector) (ConvergenceCode, error)
	SetAnalysisMode(mode loader.AnalysisMode)
	GetNumIterations() int
	GetMaxNormF() float64
	GetMaxNormFindex() int
}

// DampedNewton 是阻尼牛顿法参考实现：每次迭代对 loader 加盖的 R、J 求解
// δ，以自适应阻尼因子限制更新幅度，带振荡检测（沿用 mna/solve.go 的
// DampingFactor/OscillationCount 思路）。
type DampedNewton struct {
	ld loader.Loader

	MaxIter             int
	ConvergenceTol      float64
	MinDampingFactor    float64
	DampingReduction    float64
	OscillationCountMax int
	UpdateNormCap       float64 // 单步 δ（阻尼前）的无穷范数上限，超过视为 UpdateTooBig

	mode loader.AnalysisMode

	numIterations  int
	maxNormF       float64
	maxNormFIndex  int
}

// NewDampedNewton 构造阻尼牛顿求解器，在 ld 所定义的问题上工作。
func NewDampedNewton(ld loader.Loader) *DampedNewton {
	return &DampedNewton{
		ld:                  ld,
		MaxIter:             20,
		ConvergenceTol:      1e-9,
		MinDampingFactor:    0.05,
		DampingReduction:    0.5,
		OscillationCountMax: 5,
		UpdateNormCap:       1e8,
	}
}

func (s *DampedNewton) SetAnalysisMode(mode loader.AnalysisMode) { s.mode = mode }
func (s *DampedNewton) GetNumIterations() int                    { return s.numIterations }
func (s *DampedNewton) GetMaxNormF() float64                      { return s.maxNormF }
func (s *DampedNewton) GetMaxNormFindex() int                     { return s.maxNormFIndex }

// residual 按 组装 R = -(Qdot_pred - (alphaS/h)*(Q(x)-Qpred) + F(x) - B(t))。
// 这里为求解器自身单独暴露，既用于 Solve 的牛顿迭代，也用于 bdf 包的
// corrector 调用（它持有自己的系数与 predictor，传入 alphaS/h 的乘积）。
func Residual(ld loader.Loader, x, qPred, qDotPred linalg.Vector, alphaSOverH float64) (linalg.Vector, linalg.Matrix, error) {
	q, f, b, err := ld.LoadRHS(x)
	if err != nil {
		return nil, nil, err
	}
	dQdx, dFdx, err := ld.LoadJacobian(x)
	if err != nil {
		return nil, nil, err
	}
	n := q.Length()
	r := linalg.NewVector(n)
	for i := 0; i < n; i++ {
		val := qDotPred.Get(i) - alphaSOverH*(q.Get(i)-qPred.Get(i)) + f.Get(i) - b.Get(i)
		r.Set(i, -val)
	}
	j := linalg.NewMatrix(n, n)
	j.AXPY(-alphaSOverH, dQdx)
	j.AXPY(1, dFdx)
	return r, j, nil
}

// Solve 对当前解向量 x 做阻尼牛顿迭代直至残差收敛或失败，并把累计的
// 牛顿修正量通过 delta 返回，供调用方（bdf 的 corrector）做历史更新。
func (s *DampedNewton) Solve(x linalg.Vector, qPred, qDotPred linalg.Vector, alphaSOverH float64, delta linalg.Vector) (ConvergenceCode, error) {
	dampingFactor := 1.0
	prevResidualNorm := 0.0
	oscillationCount := 0
	delta.Clear()

	for s.numIterations = 0; s.numIterations < s.MaxIter; s.numIterations++ {
		r, j, err := Residual(s.ld, x, qPred, qDotPred, alphaSOverH)
		if err != nil {
			return NormalConvergenceFailed, fmt.Errorf("nlsolve: 残差/雅可比计算失败: %w", err)
		}
		s.maxNormF, s.maxNormFIndex = maxAbsComponent(r)

		dx, err := linalg.Solve(j, r)
		if err != nil {
			return NormalConvergenceFailed, fmt.Errorf("nlsolve: 线性求解失败: %w", err)
		}

		updateNorm := infNorm(dx)
		if updateNorm > s.UpdateNormCap {
			return UpdateTooBig, nil
		}

		dx.Scale(dampingFactor)
		for i := 0; i < x.Length(); i++ {
			x.Increment(i, dx.Get(i))
		}
		delta.AXPY(1, dx)

		residualNorm := infNorm(r)
		if s.numIterations > 0 {
			if residualNorm > prevResidualNorm {
				dampingFactor = math.Max(dampingFactor*s.DampingReduction, s.MinDampingFactor)
			} else if residualNorm < prevResidualNorm*0.5 {
				dampingFactor = math.Min(dampingFactor*1.2, 1.0)
			}
			if residualNorm > prevResidualNorm*1.5 {
				oscillationCount++
			} else if residualNorm < prevResidualNorm*0.5 {
				oscillationCount = 0
			}
			if oscillationCount > s.OscillationCountMax {
				return Stalled, nil
			}
		}

		if residualNorm <= s.ConvergenceTol {
			s.numIterations++
			return Converged, nil
		}
		prevResidualNorm = residualNorm
	}
	return NormalConvergenceFailed, nil
}

func maxAbsComponent(v linalg.Vector) (float64, int) {
	max, idx := 0.0, 0
	for i := 0; i < v.Length(); i++ {
		a := math.Abs(v.Get(i))
		if a > max {
			max, idx = a, i
		}
	}
	return max, idx
}

func infNorm(v linalg.Vector) float64 {
	max := 0.0
	for i := 0; i < v.Length(); i++ {
		if a := math.Abs(v.Get(i)); a > max {
			max = a
		}
	}
	return max
}
