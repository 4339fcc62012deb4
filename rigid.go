package arap

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// setupRigidRemoval derives the auxiliary per-axis constraints that
// remove the rigid-motion null space of an unconstrained solve. The
// anchors are the farthest-apart vertex pair (a, b) plus, in 3-D, the
// vertex c farthest from the line through them. The initial guess is
// pre-aligned to a canonical frame (a at the origin, b on the +x
// axis, c in the z = 0 plane) so each anchor coordinate pins to zero:
//
//	axis x: a      axis y: a, b      axis z: a, b, c
func (s *Solver) setupRigidRemoval() error {
	a, b := s.mesh.DiameterPair()
	if a == b {
		return fmt.Errorf("arap: rigid-motion removal needs at least two distinct vertices")
	}

	s.translateToOrigin(a)
	if s.dim == 2 {
		bx, by := s.positions.At(b, 0), s.positions.At(b, 1)
		s.rotate(rot2(-math.Atan2(by, bx)))
		s.axisFixed = [][]int{{a}, {a, b}}
	} else {
		// Successive axis rotations zeroing b.y, b.z, then c.z.
		s.rotate(rotZ(math.Atan2(s.positions.At(b, 1), s.positions.At(b, 0))))
		s.rotate(rotY(math.Atan2(s.positions.At(b, 2), s.positions.At(b, 0))))
		c := s.mesh.FarthestFromLine(a, b)
		if c >= 0 {
			s.rotate(rotX(math.Atan2(s.positions.At(c, 2), s.positions.At(c, 1))))
			s.axisFixed = [][]int{{a}, {a, b}, {a, b, c}}
		} else {
			// Collinear mesh: no third anchor exists.
			s.axisFixed = [][]int{{a}, {a, b}, {a, b}}
		}
	}

	s.axisVals = make([]*mat.Dense, s.dim)
	for ax := range s.axisVals {
		s.axisVals[ax] = mat.NewDense(len(s.axisFixed[ax]), 1, nil)
	}
	return nil
}

func (s *Solver) translateToOrigin(anchor int) {
	n, _ := s.positions.Dims()
	origin := make([]float64, s.dim)
	copy(origin, s.positions.RawRowView(anchor))
	for i := 0; i < n; i++ {
		for d := 0; d < s.dim; d++ {
			s.positions.Set(i, d, s.positions.At(i, d)-origin[d])
		}
	}
}

// rotate applies p -> R p to every position row.
func (s *Solver) rotate(r *mat.Dense) {
	var out mat.Dense
	out.Mul(s.positions, r.T())
	s.positions.Copy(&out)
}

func rot2(theta float64) *mat.Dense {
	c, sn := math.Cos(theta), math.Sin(theta)
	return mat.NewDense(2, 2, []float64{
		c, -sn,
		sn, c,
	})
}

// rotZ maps (x, y) -> (x cos + y sin, -x sin + y cos), zeroing the y
// component of a point at polar angle theta.
func rotZ(theta float64) *mat.Dense {
	c, sn := math.Cos(theta), math.Sin(theta)
	return mat.NewDense(3, 3, []float64{
		c, sn, 0,
		-sn, c, 0,
		0, 0, 1,
	})
}

func rotY(theta float64) *mat.Dense {
	c, sn := math.Cos(theta), math.Sin(theta)
	return mat.NewDense(3, 3, []float64{
		c, 0, sn,
		0, 1, 0,
		-sn, 0, c,
	})
}

func rotX(theta float64) *mat.Dense {
	c, sn := math.Cos(theta), math.Sin(theta)
	return mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, c, sn,
		0, -sn, c,
	})
}
