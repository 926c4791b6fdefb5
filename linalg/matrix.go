package linalg

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Matrix 抽象雅可比一类的方阵，支持加盖（累加）、置零和矩阵-向量乘法。
// 与 Vector 一样，真正的分布式实现按行分区存储；这里给出单 rank 稠密实现。
type Matrix interface {
	Rows() int
	Cols() int
	Get(i, j int) float64
	Set(i, j int, v float64)
	Increment(i, j int, v float64)
	Clear()
	// MulVec 返回 self * x。
	MulVec(x Vector) Vector
	// AXPY 执行 self += a*other（维度必须一致），用于 J = -alpha_s/h * dQdx + dFdx 一类的组合。
	AXPY(a float64, other Matrix)
	String() string
}

type denseMatrix struct {
	m *mat.Dense
}

// NewMatrix 创建 rows x cols、初始为零的稠密矩阵。
func NewMatrix(rows, cols int) Matrix {
	return &denseMatrix{m: mat.NewDense(rows, cols, nil)}
}

func (d *denseMatrix) Rows() int { r, _ := d.m.Dims(); return r }
func (d *denseMatrix) Cols() int { _, c := d.m.Dims(); return c }

func (d *denseMatrix) Get(i, j int) float64 { return d.m.At(i, j) }

func (d *denseMatrix) Set(i, j int, v float64) { d.m.Set(i, j, v) }

func (d *denseMatrix) Increment(i, j int, v float64) { d.m.Set(i, j, d.m.At(i, j)+v) }

func (d *denseMatrix) Clear() {
	r, c := d.m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			d.m.Set(i, j, 0)
		}
	}
}

func (d *denseMatrix) MulVec(x Vector) Vector {
	r, _ := d.m.Dims()
	out := NewVector(r).(*denseVector)
	out.v.MulVec(d.m, x.(*denseVector).v)
	return out
}

func (d *denseMatrix) AXPY(a float64, other Matrix) {
	od, ok := other.(*denseMatrix)
	r, c := d.m.Dims()
	if !ok {
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				d.m.Set(i, j, d.m.At(i, j)+a*other.Get(i, j))
			}
		}
		return
	}
	var scaled mat.Dense
	scaled.Scale(a, od.m)
	d.m.Add(d.m, &scaled)
}

func (d *denseMatrix) String() string {
	r, c := d.m.Dims()
	s := ""
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if j > 0 {
				s += " "
			}
			s += fmt.Sprintf("%.6g", d.m.At(i, j))
		}
		s += "\n"
	}
	return s
}

// Solve 求解线性方程组 A x = b，借 gonum/mat 的 LU 分解完成——这是
// nlsolve 参考牛顿求解器内部线性求解的落脚点。
func Solve(a Matrix, b Vector) (Vector, error) {
	ad, ok := a.(*denseMatrix)
	if !ok {
		return nil, fmt.Errorf("linalg: Solve 仅支持 denseMatrix")
	}
	bd := b.(*denseVector)
	var lu mat.LU
	lu.Factorize(ad.m)
	if c := lu.Cond(); c > 1e15 {
		return nil, fmt.Errorf("linalg: 矩阵接近奇异 (cond=%.3e)", c)
	}
	n, _ := ad.m.Dims()
	x := mat.NewVecDense(n, nil)
	if err := lu.SolveVecTo(x, false, bd.v); err != nil {
		return nil, fmt.Errorf("linalg: LU 求解失败: %w", err)
	}
	return &denseVector{v: x}, nil
}
