// Package linalg 提供瞬态积分核心所需的向量/矩阵抽象。
//
// 真正的分布式线性代数（跨进程的稠密/稀疏存储、通信感知的归约）不属于本仓库
// 的范围，这里给出的是满足同一接口的单进程参考实现：足以编译、可测试，也是
// comm 包默认的单 rank 通信器配合使用的那份具体实现。
package linalg

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Vector 抽象一个定长的实数向量，支持逐元素线性组合和加权 RMS 范数。
// 真正的分布式实现会把求和限定在本 rank 拥有的分量上，再交给 comm 做全局归约；
// WeightedRMSNorm 在这里直接给出全局范数，两者在单 rank 情形下等价。
type Vector interface {
	Length() int
	Get(i int) float64
	Set(i int, v float64)
	Increment(i int, v float64)

	// Clear 将所有分量置零。
	Clear()
	// Scale 对所有分量乘以 scalar。
	Scale(scalar float64)
	// AXPY 执行 self += a*x（长度必须一致）。
	AXPY(a float64, x Vector)
	// Copy 把 src 的内容复制进 self（长度必须一致）。
	Copy(src Vector)
	// DotProduct 计算与 other 的点积。
	DotProduct(other Vector) float64
	// ToDense 返回底层数据的拷贝。
	ToDense() []float64
	// WeightedRMSNorm 计算 sqrt((1/N) * sum((v_i/w_i)^2))，N 为全局长度。
	WeightedRMSNorm(weight Vector) float64

	String() string
}

// denseVector 是 Vector 的单 rank 参考实现，底层存储借用 gonum/mat.VecDense——
// 与 types/element.go 里 mat.VecDense 记录引脚电流是同一个依赖，这里
// 用来承载历史数组和解向量。
type denseVector struct {
	v *mat.VecDense
}

// NewVector 创建长度为 n、初始值全零的向量。
func NewVector(n int) Vector {
	return &denseVector{v: mat.NewVecDense(n, nil)}
}

// NewVectorFromSlice 从给定数据构建向量，数据会被复制。
func NewVectorFromSlice(data []float64) Vector {
	cp := append([]float64(nil), data...)
	return &denseVector{v: mat.NewVecDense(len(cp), cp)}
}

func (d *denseVector) Length() int { return d.v.Len() }

func (d *denseVector) Get(i int) float64 { return d.v.AtVec(i) }

func (d *denseVector) Set(i int, val float64) { d.v.SetVec(i, val) }

func (d *denseVector) Increment(i int, val float64) { d.v.SetVec(i, d.v.AtVec(i)+val) }

func (d *denseVector) Clear() {
	for i := 0; i < d.v.Len(); i++ {
		d.v.SetVec(i, 0)
	}
}

func (d *denseVector) Scale(scalar float64) { d.v.ScaleVec(scalar, d.v) }

func (d *denseVector) AXPY(a float64, x Vector) {
	xd, ok := x.(*denseVector)
	if !ok {
		for i := 0; i < d.v.Len(); i++ {
			d.v.SetVec(i, d.v.AtVec(i)+a*x.Get(i))
		}
		return
	}
	d.v.AddScaledVec(d.v, a, xd.v)
}

func (d *denseVector) Copy(src Vector) {
	if sd, ok := src.(*denseVector); ok {
		d.v.CloneFromVec(sd.v)
		return
	}
	for i := 0; i < d.v.Len(); i++ {
		d.v.SetVec(i, src.Get(i))
	}
}

func (d *denseVector) DotProduct(other Vector) float64 {
	if od, ok := other.(*denseVector); ok {
		return mat.Dot(d.v, od.v)
	}
	sum := 0.0
	for i := 0; i < d.v.Len(); i++ {
		sum += d.v.AtVec(i) * other.Get(i)
	}
	return sum
}

func (d *denseVector) ToDense() []float64 {
	out := make([]float64, d.v.Len())
	for i := range out {
		out[i] = d.v.AtVec(i)
	}
	return out
}

// WeightedRMSNorm 实现 wRMS(v, w) = sqrt((1/N) sum (v_i/w_i)^2)。
// weight 的长度必须与 self 一致；N 取该长度（单 rank 即全局长度）。
func (d *denseVector) WeightedRMSNorm(weight Vector) float64 {
	n := d.v.Len()
	if n == 0 {
		return 0
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		r := d.v.AtVec(i) / weight.Get(i)
		sum += r * r
	}
	return math.Sqrt(sum / float64(n))
}

func (d *denseVector) String() string {
	s := "["
	for i := 0; i < d.v.Len(); i++ {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("%.6g", d.v.AtVec(i))
	}
	return s + "]"
}
