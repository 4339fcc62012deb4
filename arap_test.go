package arap

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/deformlab/arap/mesh"
	"github.com/deformlab/arap/operators"
	"github.com/deformlab/arap/rotations"
)

func squareMesh(t *testing.T) *mesh.Mesh {
	t.Helper()
	m, err := mesh.New(4, 2, []float64{
		0, 0,
		1, 0,
		1, 1,
		0, 1,
	}, [][]int{{0, 1, 2}, {0, 2, 3}})
	require.NoError(t, err)
	return m
}

func tetMesh(t *testing.T) *mesh.Mesh {
	t.Helper()
	m, err := mesh.New(4, 3, []float64{
		0, 0, 0,
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	}, [][]int{{0, 1, 2, 3}})
	require.NoError(t, err)
	return m
}

func assertPositions(t *testing.T, want, got *mat.Dense, delta float64) {
	t.Helper()
	r, c := want.Dims()
	for i := 0; i < r; i++ {
		for d := 0; d < c; d++ {
			assert.InDelta(t, want.At(i, d), got.At(i, d), delta, "vertex %d axis %d", i, d)
		}
	}
}

// TestRestPoseFixedPoint solves from the rest pose with no constraints
// and no external load; the first pass must reproduce the rest pose
// exactly and the solve must converge immediately.
func TestRestPoseFixedPoint(t *testing.T) {
	m := squareMesh(t)
	res, err := Solve(m, Constraints{}, Options{
		Energy:   operators.Spokes,
		Tikhonov: 1e-6,
	})
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.Equal(t, 1, res.Iterations)
	assertPositions(t, m.Vertices, res.Positions, 1e-8)
}

// TestTranslationRecovered pins two vertices at translated targets;
// the zero-energy solution translates the whole mesh.
func TestTranslationRecovered(t *testing.T) {
	m := squareMesh(t)
	bc := Constraints{
		Indices:   []int{0, 1},
		Positions: mat.NewDense(2, 2, []float64{2, 3, 3, 3}),
	}
	res, err := Solve(m, bc, Options{
		Energy:        operators.Spokes,
		Tolerance:     1e-9,
		MaxIterations: 100,
	})
	require.NoError(t, err)
	assert.True(t, res.Converged)

	want := mat.NewDense(4, 2, []float64{
		2, 3,
		3, 3,
		3, 4,
		2, 4,
	})
	assertPositions(t, want, res.Positions, 1e-4)
}

// TestRotationRecovered pins an edge at a 90-degree rotated target
// under the elements energy; every per-element rotation must agree
// with the rigid motion.
func TestRotationRecovered(t *testing.T) {
	m := squareMesh(t)
	bc := Constraints{
		Indices:   []int{0, 1},
		Positions: mat.NewDense(2, 2, []float64{0, 0, 0, 1}),
	}
	res, err := Solve(m, bc, Options{
		Energy:        operators.Elements,
		Tolerance:     1e-10,
		MaxIterations: 500,
	})
	require.NoError(t, err)
	assert.True(t, res.Converged)

	want := mat.NewDense(4, 2, []float64{
		0, 0,
		0, 1,
		-1, 1,
		-1, 0,
	})
	assertPositions(t, want, res.Positions, 5e-3)

	quarter := rot2(math.Pi / 2)
	require.Len(t, res.Rotations, m.NumElements())
	for e, r := range res.Rotations {
		for i := 0; i < 2; i++ {
			for j := 0; j < 2; j++ {
				assert.InDelta(t, quarter.At(i, j), r.At(i, j), 5e-3, "element %d", e)
			}
		}
	}
}

// TestTetTranslationRecovered pins three tet corners at translated
// targets; the free vertex must follow the translation.
func TestTetTranslationRecovered(t *testing.T) {
	m := tetMesh(t)
	bc := Constraints{
		Indices: []int{0, 1, 2},
		Positions: mat.NewDense(3, 3, []float64{
			1, 2, 3,
			2, 2, 3,
			1, 3, 3,
		}),
	}
	res, err := Solve(m, bc, Options{
		Energy:        operators.Spokes,
		Tolerance:     1e-9,
		MaxIterations: 100,
	})
	require.NoError(t, err)
	assert.True(t, res.Converged)

	want := mat.NewDense(4, 3, []float64{
		1, 2, 3,
		2, 2, 3,
		1, 3, 3,
		1, 2, 4,
	})
	assertPositions(t, want, res.Positions, 1e-4)
}

// TestWarmStartIsIdempotent re-solves from a converged result; the
// warm-started solve must terminate after a single pass.
func TestWarmStartIsIdempotent(t *testing.T) {
	m := squareMesh(t)
	bc := Constraints{
		Indices:   []int{0, 1},
		Positions: mat.NewDense(2, 2, []float64{2, 3, 3, 3}),
	}
	opts := Options{
		Energy:        operators.Spokes,
		Tolerance:     1e-7,
		MaxIterations: 100,
	}
	first, err := Solve(m, bc, opts)
	require.NoError(t, err)
	require.True(t, first.Converged)

	opts.InitialGuess = first.Positions
	opts.Operators = first.Operators
	second, err := Solve(m, bc, opts)
	require.NoError(t, err)
	assert.True(t, second.Converged)
	assert.Equal(t, 1, second.Iterations)
	assertPositions(t, first.Positions, second.Positions, 1e-6)
}

// TestIterationCapOfOne runs exactly one local/global pass, never
// fewer, never more.
func TestIterationCapOfOne(t *testing.T) {
	m := squareMesh(t)
	bc := Constraints{
		Indices:   []int{0, 1},
		Positions: mat.NewDense(2, 2, []float64{2, 3, 3, 3}),
	}
	s, err := NewSolver(m, bc, Options{
		Energy:        operators.Spokes,
		Tolerance:     1e-12,
		MaxIterations: 1,
	})
	require.NoError(t, err)

	res, err := s.Run()
	require.NoError(t, err)
	assert.Equal(t, 1, res.Iterations)
	assert.False(t, res.Converged)
	assert.Equal(t, MaxItersReached, s.State())
}

// TestSingleGroupMatchesSummedFit checks that grouping all vertices
// into one rigid group fits the same rotation as fitting the sum of
// the per-region covariances directly.
func TestSingleGroupMatchesSummedFit(t *testing.T) {
	m := squareMesh(t)
	rot := rot2(math.Pi / 6)
	var rotated mat.Dense
	rotated.Mul(m.Vertices, rot.T())

	bc := Constraints{
		Indices:   []int{0, 1},
		Positions: mat.DenseCopyOf(rotated.Slice(0, 2, 0, 2)),
	}
	res, err := Solve(m, bc, Options{
		Energy:        operators.Spokes,
		Groups:        []int{0, 0, 0, 0},
		InitialGuess:  mat.DenseCopyOf(&rotated),
		MaxIterations: 1,
		Tolerance:     1e-15,
	})
	require.NoError(t, err)
	require.Len(t, res.Rotations, 1)

	plain, err := operators.Build(m, operators.Spokes, nil, false)
	require.NoError(t, err)
	covs, err := plain.Covariances(mat.DenseCopyOf(&rotated))
	require.NoError(t, err)
	sum := mat.NewDense(2, 2, nil)
	for _, s := range covs {
		sum.Add(sum, s)
	}
	direct, err := rotations.Fit([]*mat.Dense{sum}, false)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			assert.InDelta(t, direct[0].At(i, j), res.Rotations[0].At(i, j), 1e-10)
			assert.InDelta(t, rot.At(i, j), res.Rotations[0].At(i, j), 1e-10)
		}
	}
}

// TestDynamicsRestEquilibrium runs a time step with no load and no
// entry velocity; the inertial term must keep the rest pose in place
// without any explicit constraints.
func TestDynamicsRestEquilibrium(t *testing.T) {
	m := squareMesh(t)
	res, err := Solve(m, Constraints{}, Options{
		Energy:   operators.Spokes,
		Dynamics: &Dynamics{TimeStep: 0.1},
	})
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.Equal(t, 1, res.Iterations)
	assertPositions(t, m.Vertices, res.Positions, 1e-8)
}

// TestDynamicsExternalForce applies a uniform downward load for one
// time step; every vertex must sag.
func TestDynamicsExternalForce(t *testing.T) {
	m := squareMesh(t)
	forces := mat.NewDense(4, 2, []float64{
		0, -1,
		0, -1,
		0, -1,
		0, -1,
	})
	res, err := Solve(m, Constraints{}, Options{
		Energy:   operators.Spokes,
		Dynamics: &Dynamics{TimeStep: 0.1, Forces: forces},
	})
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		assert.Less(t, res.Positions.At(i, 1), m.Vertices.At(i, 1), "vertex %d must move down", i)
	}
}

func TestDynamicsValidation(t *testing.T) {
	m := squareMesh(t)
	_, err := NewSolver(m, Constraints{}, Options{
		Dynamics: &Dynamics{TimeStep: 0},
	})
	assert.Error(t, err, "zero time step")

	_, err = NewSolver(m, Constraints{}, Options{
		Dynamics: &Dynamics{TimeStep: 0.1, Forces: mat.NewDense(2, 2, nil)},
	})
	assert.Error(t, err, "force field size mismatch")
}

// TestRigidMotionRemoval solves an unconstrained mesh with the
// auxiliary anchor constraints; the shape must survive with the first
// anchor at the origin.
func TestRigidMotionRemoval(t *testing.T) {
	m := squareMesh(t)
	res, err := Solve(m, Constraints{}, Options{
		Energy:      operators.Spokes,
		RemoveRigid: true,
	})
	require.NoError(t, err)
	assert.True(t, res.Converged)

	a, b := m.DiameterPair()
	assert.InDelta(t, 0, res.Positions.At(a, 0), 1e-9)
	assert.InDelta(t, 0, res.Positions.At(a, 1), 1e-9)
	assert.InDelta(t, 0, res.Positions.At(b, 1), 1e-9)

	for _, e := range m.Edges() {
		dx := res.Positions.At(e[0], 0) - res.Positions.At(e[1], 0)
		dy := res.Positions.At(e[0], 1) - res.Positions.At(e[1], 1)
		va := m.Vertex(e[0])
		vb := m.Vertex(e[1])
		want := math.Hypot(va[0]-vb[0], va[1]-vb[1])
		assert.InDelta(t, want, math.Hypot(dx, dy), 1e-8, "edge %v", e)
	}
}

// TestRigidMotionRemoval3D runs the unconstrained 3-D path: three
// successive axis rotations align the anchors, whose coordinates must
// pin to zero while the shape survives.
func TestRigidMotionRemoval3D(t *testing.T) {
	m := tetMesh(t)
	res, err := Solve(m, Constraints{}, Options{
		Energy:      operators.Spokes,
		RemoveRigid: true,
	})
	require.NoError(t, err)
	assert.True(t, res.Converged)

	a, b := m.DiameterPair()
	c := m.FarthestFromLine(a, b)
	require.GreaterOrEqual(t, c, 0)

	for d := 0; d < 3; d++ {
		assert.InDelta(t, 0, res.Positions.At(a, d), 1e-9, "anchor a axis %d", d)
	}
	assert.InDelta(t, 0, res.Positions.At(b, 1), 1e-9)
	assert.InDelta(t, 0, res.Positions.At(b, 2), 1e-9)
	assert.InDelta(t, 0, res.Positions.At(c, 2), 1e-9)

	for _, e := range m.Edges() {
		va := m.Vertex(e[0])
		vb := m.Vertex(e[1])
		want, got := 0.0, 0.0
		for d := 0; d < 3; d++ {
			want += (va[d] - vb[d]) * (va[d] - vb[d])
			diff := res.Positions.At(e[0], d) - res.Positions.At(e[1], d)
			got += diff * diff
		}
		assert.InDelta(t, math.Sqrt(want), math.Sqrt(got), 1e-8, "edge %v", e)
	}
}

// TestPerAxisFailureKeepsPositions forces a mid-pass axis failure and
// checks the previous iterate survives untouched instead of a table
// with some axes updated and some not.
func TestPerAxisFailureKeepsPositions(t *testing.T) {
	m := squareMesh(t)
	s, err := NewSolver(m, Constraints{}, Options{
		Energy:      operators.Spokes,
		RemoveRigid: true,
	})
	require.NoError(t, err)

	// Corrupt the second axis' fixed targets so its solve rejects the
	// dimensions after the first axis already succeeded.
	s.axisVals[1] = mat.NewDense(1, 1, nil)

	before := mat.DenseCopyOf(s.positions)
	require.Error(t, s.Step())
	assert.Equal(t, Failed, s.State())
	assertPositions(t, before, s.positions, 1e-12)
}

// TestFlattenPlanarMesh flattens an already planar 3-D mesh; the 2-D
// layout must keep every edge length.
func TestFlattenPlanarMesh(t *testing.T) {
	// A rectangle in the plane spanned by (1,0,1) and (0,1,0).
	m, err := mesh.New(4, 3, []float64{
		0, 0, 0,
		1, 0, 1,
		1, 1, 1,
		0, 1, 0,
	}, [][]int{{0, 1, 2}, {0, 2, 3}})
	require.NoError(t, err)

	// Reflections are allowed because the best-fit plane basis carries
	// an arbitrary orientation; lengths are invariant either way.
	res, err := Solve(m, Constraints{}, Options{
		Energy:           operators.Elements,
		Flatten:          true,
		Tikhonov:         1e-8,
		AllowReflections: true,
	})
	require.NoError(t, err)
	assert.True(t, res.Converged)

	r, c := res.Positions.Dims()
	require.Equal(t, 4, r)
	require.Equal(t, 2, c)
	for _, e := range m.Edges() {
		dx := res.Positions.At(e[0], 0) - res.Positions.At(e[1], 0)
		dy := res.Positions.At(e[0], 1) - res.Positions.At(e[1], 1)
		va := m.Vertex(e[0])
		vb := m.Vertex(e[1])
		want := 0.0
		for d := range va {
			want += (va[d] - vb[d]) * (va[d] - vb[d])
		}
		assert.InDelta(t, math.Sqrt(want), math.Hypot(dx, dy), 1e-6, "edge %v", e)
	}
}

func TestNewSolverValidation(t *testing.T) {
	m := squareMesh(t)

	_, err := NewSolver(m, Constraints{}, Options{
		InitialGuess: mat.NewDense(3, 2, nil),
	})
	assert.Error(t, err, "initial guess size mismatch")

	_, err = NewSolver(m, Constraints{
		Indices:   []int{9},
		Positions: mat.NewDense(1, 2, nil),
	}, Options{})
	assert.Error(t, err, "constraint index out of range")

	_, err = NewSolver(m, Constraints{}, Options{Flatten: true})
	assert.Error(t, err, "flattening a 2-D mesh with the spokes energy")

	// Unconstrained, unregularized, static: the system is singular and
	// must be rejected up front.
	_, err = NewSolver(m, Constraints{}, Options{})
	assert.Error(t, err)
}

func TestOperatorReuseChecksMesh(t *testing.T) {
	m := squareMesh(t)
	bc := Constraints{
		Indices:   []int{0},
		Positions: mat.NewDense(1, 2, []float64{0, 0}),
	}
	res, err := Solve(m, bc, Options{MaxIterations: 1, Tolerance: 1e-12})
	require.NoError(t, err)

	other, err := mesh.New(3, 2, []float64{0, 0, 1, 0, 0, 1}, [][]int{{0, 1, 2}})
	require.NoError(t, err)
	_, err = NewSolver(other, Constraints{}, Options{
		Operators: res.Operators,
		Tikhonov:  1e-6,
	})
	assert.Error(t, err, "cached operators from a different topology")
}

// TestSolveSetupErrorNilResult pins the contract callers guard on:
// setup failures return no result at all, only mid-iteration failures
// carry the last valid state.
func TestSolveSetupErrorNilResult(t *testing.T) {
	m := squareMesh(t)
	res, err := Solve(m, Constraints{}, Options{Flatten: true})
	require.Error(t, err)
	assert.Nil(t, res)
}

func TestOperatorReuseChecksConfig(t *testing.T) {
	m := squareMesh(t)
	bc := Constraints{
		Indices:   []int{0},
		Positions: mat.NewDense(1, 2, []float64{0, 0}),
	}
	res, err := Solve(m, bc, Options{MaxIterations: 1, Tolerance: 1e-12})
	require.NoError(t, err)

	_, err = NewSolver(m, bc, Options{
		Energy:    operators.Elements,
		Operators: res.Operators,
	})
	assert.Error(t, err, "cached operators from a different energy mode")

	_, err = NewSolver(m, bc, Options{
		Groups:    []int{0, 0, 1, 1},
		Operators: res.Operators,
	})
	assert.Error(t, err, "cached ungrouped operators with a grouping")
}

// TestStepAfterTerminal verifies the state machine rejects further
// transitions once terminal.
func TestStepAfterTerminal(t *testing.T) {
	m := squareMesh(t)
	s, err := NewSolver(m, Constraints{}, Options{Tikhonov: 1e-6})
	require.NoError(t, err)

	_, err = s.Run()
	require.NoError(t, err)
	require.NotEqual(t, Iterating, s.State())
	assert.Error(t, s.Step())
}
