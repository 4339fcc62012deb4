package arap

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/deformlab/arap/operators"
	linsolve "github.com/deformlab/arap/solver"
)

// initialPositions chooses the starting point for the iteration: the
// caller's guess, the best-fit-plane projection for a flattening
// solve, a smooth bi-Laplacian deformation for a constrained 2-D
// solve, or the rest pose.
func (s *Solver) initialPositions() (*mat.Dense, error) {
	n := s.mesh.NumVertices()
	if g := s.opts.InitialGuess; g != nil {
		r, c := g.Dims()
		if r != n || c != s.dim {
			return nil, fmt.Errorf("arap: initial guess is %dx%d, want %dx%d", r, c, n, s.dim)
		}
		return mat.DenseCopyOf(g), nil
	}
	if s.opts.Flatten {
		return operators.FlattenInitial(s.mesh)
	}
	if s.dim == 2 && !s.bc.Empty() {
		guess, err := s.biharmonicGuess()
		if err != nil {
			return nil, fmt.Errorf("arap: bi-Laplacian initial guess: %w", err)
		}
		return guess, nil
	}
	return mat.DenseCopyOf(s.mesh.Vertices), nil
}

// biharmonicGuess solves the constrained bi-Laplacian system
// L M^-1 L x = 0 per axis, giving a smooth deformation interpolating
// the constraints. This is the customary 2-D warm start: it already
// satisfies the constraints and carries no fold-over bias from the
// rest pose.
func (s *Solver) biharmonicGuess() (*mat.Dense, error) {
	n := s.mesh.NumVertices()
	laplacian := operators.Cotmatrix(s.mesh)
	masses := operators.Massmatrix(s.mesh)

	invMass := mat.NewDiagDense(n, nil)
	for i := 0; i < n; i++ {
		m := masses.At(i, i)
		if m <= 0 {
			return nil, fmt.Errorf("vertex %d has non-positive mass %g", i, m)
		}
		invMass.SetDiag(i, 1/m)
	}

	var scaled, bilap mat.Dense
	scaled.Mul(invMass, laplacian)
	bilap.Mul(laplacian, &scaled)

	fact, err := linsolve.Precompute(&bilap, s.bc.Indices, 0)
	if err != nil {
		return nil, err
	}
	return fact.Solve(mat.NewDense(n, s.dim, nil), s.bc.Positions)
}
