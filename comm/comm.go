// Package comm 提供瞬态积分核心所需的集合通信契约。
//
// 真正的 SPMD 并行通信器（跨 rank 的 MPI/网络实现）不属于本仓库范围——
// 核心本身在单个 rank 内完全串行运行，只在少数几个地方需要对分布式状态
// 做全局归约（整体收敛判据、全局最小步长候选、全局错误范数）。这里给出
// 的是单 rank 默认实现：对它来说全局即本地，满足同一接口即可编译、可测。
package comm

// Communicator 是 stepcontrol/bdf/transient 在需要跨 rank 归约时依赖的
// 唯一接口。真正的分布式实现会把这些方法映射到 MPI_Allreduce/MPI_Scan
// 一类的原语；单 rank 实现直接返回输入值。
type Communicator interface {
	// NumProc 返回参与计算的 rank 总数。
	NumProc() int
	// ProcID 返回本 rank 的编号（0 基）。
	ProcID() int
	// IsSerial 报告是否只有一个 rank（省去归约往返的快速路径判断)。
	IsSerial() bool

	// SumAll 对 values 逐元素求全局和，结果写回同长度的切片。
	SumAll(values []float64) []float64
	// MinAll 对 values 逐元素求全局最小。
	MinAll(values []float64) []float64
	// MaxAll 对 values 逐元素求全局最大。
	MaxAll(values []float64) []float64
	// ScanSum 对 values 逐元素做包含本 rank 在内的前缀和（MPI_Scan 语义）。
	ScanSum(values []float64) []float64

	// Barrier 等待所有 rank 到达此调用。
	Barrier()
}

// SerialComm 是单 rank 场景下的 Communicator 实现：所有归约都是恒等映射。
type SerialComm struct{}

// NewSerialComm 构造单 rank 通信器。
func NewSerialComm() Communicator { return SerialComm{} }

func (SerialComm) NumProc() int  { return 1 }
func (SerialComm) ProcID() int   { return 0 }
func (SerialComm) IsSerial() bool { return true }

func (SerialComm) SumAll(values []float64) []float64 { return cloneFloats(values) }
func (SerialComm) MinAll(values []float64) []float64 { return cloneFloats(values) }
func (SerialComm) MaxAll(values []float64) []float64 { return cloneFloats(values) }
func (SerialComm) ScanSum(values []float64) []float64 { return cloneFloats(values) }

func (SerialComm) Barrier() {}

func cloneFloats(values []float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	return out
}
