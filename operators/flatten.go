package operators

import (
	"fmt"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/deformlab/arap/mesh"
)

// elementFrames builds an orthonormal 2x3 in-plane basis for every
// triangle of a 3-D mesh. Row 0 follows the first edge, row 1 is its
// in-plane perpendicular. Rest edges expressed in these frames give
// the reduced 2-D operators used by the flattening mode.
func elementFrames(m *mesh.Mesh) ([]*mat.Dense, error) {
	frames := make([]*mat.Dense, m.NumElements())
	for e, elem := range m.Elements {
		p0 := liftPoint(m, elem[0])
		u := liftPoint(m, elem[1]).Sub(p0)
		w := liftPoint(m, elem[2]).Sub(p0)
		normal := u.Cross(w)
		if normal.Norm() < 1e-300 || u.Norm() < 1e-300 {
			return nil, fmt.Errorf("operators: degenerate triangle %d cannot be flattened", e)
		}
		u = u.Normalize()
		v := normal.Normalize().Cross(u)
		frames[e] = mat.NewDense(2, 3, []float64{
			u.X, u.Y, u.Z,
			v.X, v.Y, v.Z,
		})
	}
	return frames, nil
}

// projectEdge expresses a 3-D rest edge in an element's 2-D frame.
func projectEdge(frame *mat.Dense, e r3.Vector) [2]float64 {
	return [2]float64{
		frame.At(0, 0)*e.X + frame.At(0, 1)*e.Y + frame.At(0, 2)*e.Z,
		frame.At(1, 0)*e.X + frame.At(1, 1)*e.Y + frame.At(1, 2)*e.Z,
	}
}

// FlattenInitial projects the vertices of a 3-D mesh onto their
// best-fit plane, giving an n x 2 initial layout for a flattening
// solve. The plane is the span of the two dominant right singular
// vectors of the centered vertex table.
func FlattenInitial(m *mesh.Mesh) (*mat.Dense, error) {
	if m.Dim() != 3 {
		return nil, fmt.Errorf("operators: flatten initial guess requires a 3-D mesh")
	}
	n := m.NumVertices()

	centroid := make([]float64, 3)
	for i := 0; i < n; i++ {
		row := m.Vertices.RawRowView(i)
		for d := 0; d < 3; d++ {
			centroid[d] += row[d] / float64(n)
		}
	}
	centered := mat.NewDense(n, 3, nil)
	for i := 0; i < n; i++ {
		row := m.Vertices.RawRowView(i)
		for d := 0; d < 3; d++ {
			centered.Set(i, d, row[d]-centroid[d])
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(centered, mat.SVDThin); !ok {
		return nil, fmt.Errorf("operators: SVD of vertex table failed")
	}
	var v mat.Dense
	svd.VTo(&v)

	basis := v.Slice(0, 3, 0, 2)
	out := mat.NewDense(n, 2, nil)
	out.Mul(centered, basis)
	return out, nil
}
