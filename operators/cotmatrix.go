package operators

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/mat"

	"github.com/deformlab/arap/mesh"
)

// elementCotWeights computes, for each element, the cotangent weight of
// each local edge (ordered as mesh.LocalEdges). Triangles use the half
// cotangent of the opposite angle; tetrahedra use the classical
// |opposite edge| * cot(dihedral at opposite edge) / 6 analogue.
func elementCotWeights(m *mesh.Mesh) [][]float64 {
	weights := make([][]float64, m.NumElements())
	if m.Arity() == mesh.Tetrahedron {
		for e, elem := range m.Elements {
			weights[e] = tetCotWeights(m, elem)
		}
		return weights
	}
	for e, elem := range m.Elements {
		weights[e] = triCotWeights(m, elem)
	}
	return weights
}

// liftPoint embeds a vertex in 3-space; 2-D meshes live in z = 0.
func liftPoint(m *mesh.Mesh, i int) r3.Vector {
	row := m.Vertices.RawRowView(i)
	if len(row) == 2 {
		return r3.Vector{X: row[0], Y: row[1]}
	}
	return r3.Vector{X: row[0], Y: row[1], Z: row[2]}
}

// cotAngle returns cot of the angle between u and w.
func cotAngle(u, w r3.Vector) float64 {
	cross := u.Cross(w).Norm()
	if cross < 1e-300 {
		// Degenerate corner; a zero weight keeps the operator finite.
		return 0
	}
	return u.Dot(w) / cross
}

// triCotWeights gives the weight of each local triangle edge:
// edge (a,b) carries cot(angle at the opposite corner) / 2.
func triCotWeights(m *mesh.Mesh, elem []int) []float64 {
	p0 := liftPoint(m, elem[0])
	p1 := liftPoint(m, elem[1])
	p2 := liftPoint(m, elem[2])
	// Local edges are (0,1), (1,2), (2,0); opposite corners 2, 0, 1.
	return []float64{
		0.5 * cotAngle(p0.Sub(p2), p1.Sub(p2)),
		0.5 * cotAngle(p1.Sub(p0), p2.Sub(p0)),
		0.5 * cotAngle(p2.Sub(p1), p0.Sub(p1)),
	}
}

// tetOppositeEdge maps a local tet edge index to its opposite edge
// index in mesh.LocalEdges(Tetrahedron) ordering:
// (0,1)<->(2,3), (0,2)<->(1,3), (0,3)<->(1,2).
var tetOppositeEdge = []int{5, 4, 3, 2, 1, 0}

// tetCotWeights gives the weight of each local tet edge (i,j):
// |e_kl| * cot(theta_kl) / 6 where (k,l) is the opposite edge and
// theta_kl the dihedral angle along it.
func tetCotWeights(m *mesh.Mesh, elem []int) []float64 {
	local := mesh.LocalEdges(mesh.Tetrahedron)
	pts := make([]r3.Vector, 4)
	for i := range pts {
		pts[i] = liftPoint(m, elem[i])
	}
	w := make([]float64, len(local))
	for le := range local {
		opp := local[tetOppositeEdge[le]]
		k, l := opp[0], opp[1]
		i, j := local[le][0], local[le][1]

		e := pts[l].Sub(pts[k])
		length := e.Norm()
		if length < 1e-300 {
			continue
		}
		axis := e.Mul(1 / length)
		u := pts[i].Sub(pts[k])
		v := pts[j].Sub(pts[k])
		uPerp := u.Sub(axis.Mul(u.Dot(axis)))
		vPerp := v.Sub(axis.Mul(v.Dot(axis)))
		w[le] = length * cotAngle(uPerp, vPerp) / 6
	}
	return w
}

// Cotmatrix assembles the cotangent Laplacian (stiffness) operator,
// symmetric with positive diagonal: L[i][i] = sum of incident edge
// weights, L[i][j] = -w_ij. It is positive semi-definite with the
// constant vector in its null space, independent of energy mode.
func Cotmatrix(m *mesh.Mesh) *sparse.CSR {
	n := m.NumVertices()
	local := mesh.LocalEdges(m.Arity())
	weights := elementCotWeights(m)

	dok := sparse.NewDOK(n, n)
	for e, elem := range m.Elements {
		for le, pair := range local {
			w := weights[e][le]
			if w == 0 {
				continue
			}
			i, j := elem[pair[0]], elem[pair[1]]
			dok.Set(i, i, dok.At(i, i)+w)
			dok.Set(j, j, dok.At(j, j)+w)
			dok.Set(i, j, dok.At(i, j)-w)
			dok.Set(j, i, dok.At(j, i)-w)
		}
	}
	return dok.ToCSR()
}

// Massmatrix assembles the barycentric lumped mass matrix: each
// triangle contributes a third of its area to each corner, each
// tetrahedron a quarter of its volume.
func Massmatrix(m *mesh.Mesh) *mat.DiagDense {
	n := m.NumVertices()
	diag := make([]float64, n)
	if m.Arity() == mesh.Tetrahedron {
		for _, elem := range m.Elements {
			v := tetVolume(m, elem)
			for _, i := range elem {
				diag[i] += v / 4
			}
		}
	} else {
		for _, elem := range m.Elements {
			a := triArea(m, elem)
			for _, i := range elem {
				diag[i] += a / 3
			}
		}
	}
	return mat.NewDiagDense(n, diag)
}

func triArea(m *mesh.Mesh, elem []int) float64 {
	u := liftPoint(m, elem[1]).Sub(liftPoint(m, elem[0]))
	w := liftPoint(m, elem[2]).Sub(liftPoint(m, elem[0]))
	return 0.5 * u.Cross(w).Norm()
}

func tetVolume(m *mesh.Mesh, elem []int) float64 {
	u := liftPoint(m, elem[1]).Sub(liftPoint(m, elem[0]))
	v := liftPoint(m, elem[2]).Sub(liftPoint(m, elem[0]))
	w := liftPoint(m, elem[3]).Sub(liftPoint(m, elem[0]))
	return math.Abs(u.Cross(v).Dot(w)) / 6
}
