// Package rotations fits rotation matrices to covariance blocks via
// singular value decomposition, the local step of the ARAP iteration.
package rotations

import (
	"fmt"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// Fit computes the closest rotation to each square covariance block:
// for M = U S V^T the best fit is R = V U^T. When reflections are
// disallowed and det(R) < 0, the last column of U is negated so the
// result is a proper rotation. A zero or rank-deficient block yields
// the identity (gonum's SVD of the zero matrix gives U = V = I).
// Blocks are fitted in parallel; inputs are never modified.
func Fit(blocks []*mat.Dense, allowReflections bool) ([]*mat.Dense, error) {
	out, _, err := fit(blocks, allowReflections, false)
	return out, err
}

// FitWithScales additionally returns each block's singular values as a
// diagonal matrix, useful for strain diagnostics.
func FitWithScales(blocks []*mat.Dense, allowReflections bool) ([]*mat.Dense, []*mat.DiagDense, error) {
	return fit(blocks, allowReflections, true)
}

func fit(blocks []*mat.Dense, allowReflections, withScales bool) ([]*mat.Dense, []*mat.DiagDense, error) {
	n := len(blocks)
	out := make([]*mat.Dense, n)
	var scales []*mat.DiagDense
	if withScales {
		scales = make([]*mat.DiagDense, n)
	}
	if n == 0 {
		return out, scales, nil
	}

	workers := runtime.GOMAXPROCS(0)
	if workers > n {
		workers = n
	}
	chunk := (n + workers - 1) / workers

	errs := make([]error, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		if lo >= hi {
			break
		}
		wg.Add(1)
		go func(w, lo, hi int) {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				r, s, err := fitOne(blocks[i], allowReflections, withScales)
				if err != nil {
					errs[w] = fmt.Errorf("rotations: block %d: %w", i, err)
					return
				}
				out[i] = r
				if withScales {
					scales[i] = s
				}
			}
		}(w, lo, hi)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, nil, err
		}
	}
	return out, scales, nil
}

func fitOne(block *mat.Dense, allowReflections, withScales bool) (*mat.Dense, *mat.DiagDense, error) {
	r, c := block.Dims()
	if r != c {
		return nil, nil, fmt.Errorf("covariance block is %dx%d, want square", r, c)
	}

	var svd mat.SVD
	if ok := svd.Factorize(block, mat.SVDFull); !ok {
		return nil, nil, fmt.Errorf("SVD failed to converge")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	rot := mat.NewDense(r, r, nil)
	rot.Mul(&v, u.T())
	if !allowReflections && mat.Det(rot) < 0 {
		for i := 0; i < r; i++ {
			u.Set(i, r-1, -u.At(i, r-1))
		}
		rot.Mul(&v, u.T())
	}

	var scale *mat.DiagDense
	if withScales {
		scale = mat.NewDiagDense(r, svd.Values(nil))
	}
	return rot, scale, nil
}
