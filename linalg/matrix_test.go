package linalg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatrixBasicOps(t *testing.T) {
	m := NewMatrix(2, 2)
	m.Set(0, 0, 1)
	m.Set(0, 1, 2)
	m.Set(1, 0, 3)
	m.Set(1, 1, 4)

	assert.Equal(t, 1.0, m.Get(0, 0))
	m.Increment(0, 0, 9)
	assert.Equal(t, 10.0, m.Get(0, 0))

	m.Clear()
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			assert.Equal(t, 0.0, m.Get(i, j))
		}
	}
}

func TestMatrixMulVec(t *testing.T) {
	m := NewMatrix(2, 2)
	m.Set(0, 0, 1)
	m.Set(0, 1, 2)
	m.Set(1, 0, 3)
	m.Set(1, 1, 4)

	x := NewVectorFromSlice([]float64{1, 1})
	y := m.MulVec(x)
	assert.InDelta(t, 3.0, y.Get(0), 1e-12)
	assert.InDelta(t, 7.0, y.Get(1), 1e-12)
}

func TestMatrixAXPY(t *testing.T) {
	a := NewMatrix(2, 2)
	a.Set(0, 0, 1)
	a.Set(1, 1, 1)

	b := NewMatrix(2, 2)
	b.Set(0, 0, 2)
	b.Set(1, 1, 2)

	a.AXPY(3, b)
	assert.InDelta(t, 7.0, a.Get(0, 0), 1e-12)
	assert.InDelta(t, 7.0, a.Get(1, 1), 1e-12)
	assert.InDelta(t, 0.0, a.Get(0, 1), 1e-12)
}

func TestSolveIdentity(t *testing.T) {
	a := NewMatrix(3, 3)
	for i := 0; i < 3; i++ {
		a.Set(i, i, 1)
	}
	b := NewVectorFromSlice([]float64{1, 2, 3})
	x, err := Solve(a, b)
	assert.NoError(t, err)
	for i := 0; i < 3; i++ {
		assert.InDelta(t, b.Get(i), x.Get(i), 1e-12)
	}
}

func TestSolveSingular(t *testing.T) {
	a := NewMatrix(2, 2)
	// all-zero rows: singular
	b := NewVectorFromSlice([]float64{1, 1})
	_, err := Solve(a, b)
	assert.Error(t, err)
}
