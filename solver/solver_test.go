package solver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// tridiag is the 3x3 second-difference operator, positive definite.
func tridiag() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		2, -1, 0,
		-1, 2, -1,
		0, -1, 2,
	})
}

func TestSolveWithFixedValue(t *testing.T) {
	f, err := Precompute(tridiag(), []int{0}, 0)
	require.NoError(t, err)
	require.Equal(t, 1, f.NumFixed())
	assert.False(t, f.Regularized)

	// A x = 0 with x0 = 1: reduced system gives x1 = 2/3, x2 = 1/3.
	x, err := f.Solve(mat.NewDense(3, 1, nil), mat.NewDense(1, 1, []float64{1}))
	require.NoError(t, err)
	assert.InDelta(t, 1, x.At(0, 0), 1e-12)
	assert.InDelta(t, 2.0/3, x.At(1, 0), 1e-12)
	assert.InDelta(t, 1.0/3, x.At(2, 0), 1e-12)
}

// TestFactorizationReuse solves twice with the same factorization and
// different fixed values; the solution must scale linearly.
func TestFactorizationReuse(t *testing.T) {
	f, err := Precompute(tridiag(), []int{0}, 0)
	require.NoError(t, err)

	zero := mat.NewDense(3, 1, nil)
	x1, err := f.Solve(zero, mat.NewDense(1, 1, []float64{1}))
	require.NoError(t, err)
	x2, err := f.Solve(zero, mat.NewDense(1, 1, []float64{2}))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		assert.InDelta(t, 2*x1.At(i, 0), x2.At(i, 0), 1e-12)
	}
}

func TestSolveMultipleColumns(t *testing.T) {
	f, err := Precompute(tridiag(), nil, 0)
	require.NoError(t, err)

	// Two right-hand sides at once; verify by substitution.
	rhs := mat.NewDense(3, 2, []float64{
		1, 0,
		0, 2,
		-1, 0,
	})
	x, err := f.Solve(rhs, nil)
	require.NoError(t, err)

	var back mat.Dense
	back.Mul(tridiag(), x)
	for i := 0; i < 3; i++ {
		for j := 0; j < 2; j++ {
			assert.InDelta(t, rhs.At(i, j), back.At(i, j), 1e-10)
		}
	}
}

func TestSingularUnconstrainedFails(t *testing.T) {
	// Graph Laplacian of a single edge: singular, constant null space.
	lap := mat.NewDense(2, 2, []float64{1, -1, -1, 1})
	_, err := Precompute(lap, nil, 0)
	assert.Error(t, err)

	// The same system regularizes cleanly.
	f, err := Precompute(lap, nil, 1e-6)
	require.NoError(t, err)
	assert.True(t, f.Regularized)
	x, err := f.Solve(mat.NewDense(2, 1, nil), nil)
	require.NoError(t, err)
	assert.InDelta(t, 0, x.At(0, 0), 1e-9)
}

func TestSingularConstrainedFallsBack(t *testing.T) {
	// Pinning one variable of an indefinite operator leaves a reduced
	// block that is not PD; the fallback path must still solve it.
	a := mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, -2, 0,
		0, 0, 3,
	})
	f, err := Precompute(a, []int{0}, 0)
	require.NoError(t, err)

	rhs := mat.NewDense(3, 1, []float64{0, 4, 6})
	x, err := f.Solve(rhs, mat.NewDense(1, 1, []float64{5}))
	require.NoError(t, err)
	assert.InDelta(t, 5, x.At(0, 0), 1e-12)
	assert.InDelta(t, -2, x.At(1, 0), 1e-10)
	assert.InDelta(t, 2, x.At(2, 0), 1e-10)
}

func TestPrecomputeValidation(t *testing.T) {
	_, err := Precompute(mat.NewDense(2, 3, nil), nil, 0)
	assert.Error(t, err, "non-square operator")

	_, err = Precompute(tridiag(), []int{3}, 0)
	assert.Error(t, err, "index out of range")

	_, err = Precompute(tridiag(), []int{1, 1}, 0)
	assert.Error(t, err, "duplicate fixed index")
}

func TestAllFixed(t *testing.T) {
	f, err := Precompute(tridiag(), []int{0, 1, 2}, 0)
	require.NoError(t, err)
	vals := mat.NewDense(3, 1, []float64{7, 8, 9})
	x, err := f.Solve(mat.NewDense(3, 1, nil), vals)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		assert.Equal(t, vals.At(i, 0), x.At(i, 0))
	}
}

func TestSolveValidation(t *testing.T) {
	f, err := Precompute(tridiag(), []int{0}, 0)
	require.NoError(t, err)

	_, err = f.Solve(mat.NewDense(2, 1, nil), mat.NewDense(1, 1, nil))
	assert.Error(t, err, "rhs row mismatch")

	_, err = f.Solve(mat.NewDense(3, 1, nil), mat.NewDense(2, 1, nil))
	assert.Error(t, err, "fixed values size mismatch")

	_, err = f.Solve(mat.NewDense(3, 1, nil), nil)
	assert.Error(t, err, "nil fixed values with a non-empty fixed set")
}
