// Package solver solves sparse symmetric linear systems subject to
// fixed-value constraints on a subset of variables, with a reusable
// factorization of the reduced system.
package solver

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Factorization is the precomputed state of a constrained solve: the
// free/fixed partition, the factorized reduced operator A[free,free],
// and the coupling block A[free,fixed]. It may be reused across any
// number of Solve calls that differ only in right-hand side or fixed
// values, as long as A and the fixed index set are unchanged.
type Factorization struct {
	n     int
	free  []int
	fixed []int

	chol *mat.Cholesky
	lu   *mat.LU // fallback when the reduced operator is not PD

	coupling *mat.Dense // A[free,fixed], nil when no fixed variables

	// Regularized reports whether a Tikhonov term was added to the
	// reduced diagonal
	Regularized bool
}

// Precompute partitions the variables of the symmetric n x n operator
// A into free and fixed sets and factorizes the reduced free block.
// tikhonov, when positive, is added to the reduced diagonal, which
// regularizes otherwise singular systems (e.g. an unconstrained
// Laplacian). A singular system with no fixed variables and no
// regularization fails explicitly.
func Precompute(a mat.Matrix, fixed []int, tikhonov float64) (*Factorization, error) {
	n, c := a.Dims()
	if n != c {
		return nil, fmt.Errorf("solver: operator is %dx%d, want square", n, c)
	}
	isFixed := make([]bool, n)
	for _, i := range fixed {
		if i < 0 || i >= n {
			return nil, fmt.Errorf("solver: fixed index %d outside [0,%d)", i, n)
		}
		if isFixed[i] {
			return nil, fmt.Errorf("solver: duplicate fixed index %d", i)
		}
		isFixed[i] = true
	}
	free := make([]int, 0, n-len(fixed))
	for i := 0; i < n; i++ {
		if !isFixed[i] {
			free = append(free, i)
		}
	}

	f := &Factorization{
		n:           n,
		free:        free,
		fixed:       append([]int(nil), fixed...),
		Regularized: tikhonov > 0,
	}
	if len(free) == 0 {
		// Everything is pinned; Solve just echoes the fixed values.
		return f, nil
	}

	nf := len(free)
	reduced := mat.NewSymDense(nf, nil)
	for p := 0; p < nf; p++ {
		for q := p; q < nf; q++ {
			// Symmetrize to absorb assembly round-off.
			v := 0.5 * (a.At(free[p], free[q]) + a.At(free[q], free[p]))
			if p == q {
				v += tikhonov
			}
			reduced.SetSym(p, q, v)
		}
	}

	f.chol = &mat.Cholesky{}
	if ok := f.chol.Factorize(reduced); !ok {
		f.chol = nil
		if len(fixed) == 0 && tikhonov <= 0 {
			return nil, fmt.Errorf("solver: singular system with no fixed values; " +
				"pin at least one variable or supply a Tikhonov weight")
		}
		// Constrained but non-PD reduced blocks (e.g. negative weights
		// from obtuse meshes) go through a general factorization.
		f.lu = &mat.LU{}
		dense := mat.NewDense(nf, nf, nil)
		for p := 0; p < nf; p++ {
			for q := 0; q < nf; q++ {
				dense.Set(p, q, reduced.At(p, q))
			}
		}
		f.lu.Factorize(dense)
	}

	if len(fixed) > 0 {
		f.coupling = mat.NewDense(nf, len(fixed), nil)
		for p := 0; p < nf; p++ {
			for q, j := range fixed {
				f.coupling.Set(p, q, a.At(free[p], j))
			}
		}
	}
	return f, nil
}

// NumFixed returns the number of constrained variables.
func (f *Factorization) NumFixed() int { return len(f.fixed) }

// Solve computes x with A x = rhs on the free variables and
// x[fixed[i]] = fixedVals[i] spliced in. rhs is n x d; fixedVals is
// NumFixed x d; the result is n x d.
func (f *Factorization) Solve(rhs mat.Matrix, fixedVals mat.Matrix) (*mat.Dense, error) {
	rn, d := rhs.Dims()
	if rn != f.n {
		return nil, fmt.Errorf("solver: rhs has %d rows, want %d", rn, f.n)
	}
	if len(f.fixed) > 0 {
		if fixedVals == nil {
			return nil, fmt.Errorf("solver: %d fixed variables but nil fixed values", len(f.fixed))
		}
		fn, fd := fixedVals.Dims()
		if fn != len(f.fixed) || fd != d {
			return nil, fmt.Errorf("solver: fixed values are %dx%d, want %dx%d",
				fn, fd, len(f.fixed), d)
		}
	}

	out := mat.NewDense(f.n, d, nil)
	for q, j := range f.fixed {
		for b := 0; b < d; b++ {
			out.Set(j, b, fixedVals.At(q, b))
		}
	}
	if len(f.free) == 0 {
		return out, nil
	}

	nf := len(f.free)
	reducedRHS := mat.NewDense(nf, d, nil)
	for p, i := range f.free {
		for b := 0; b < d; b++ {
			reducedRHS.Set(p, b, rhs.At(i, b))
		}
	}
	if f.coupling != nil {
		var shift mat.Dense
		shift.Mul(f.coupling, fixedVals)
		reducedRHS.Sub(reducedRHS, &shift)
	}

	var x mat.Dense
	var err error
	switch {
	case f.chol != nil:
		err = f.chol.SolveTo(&x, reducedRHS)
	case f.lu != nil:
		err = f.lu.SolveTo(&x, false, reducedRHS)
	default:
		return nil, fmt.Errorf("solver: factorization was not precomputed")
	}
	if err != nil {
		return nil, fmt.Errorf("solver: reduced solve failed: %w", err)
	}

	for p, i := range f.free {
		for b := 0; b < d; b++ {
			out.Set(i, b, x.At(p, b))
		}
	}
	return out, nil
}
