package mesh

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ElementArity is the number of vertices per element.
type ElementArity int

const (
	Triangle    ElementArity = 3
	Tetrahedron ElementArity = 4
)

// Mesh is a simplicial rest mesh: an ordered vertex table plus an
// element index table. All elements share the same arity (a pure
// triangle or pure tetrahedron mesh).
type Mesh struct {
	// Vertices is the NumVertices x Dim coordinate table
	Vertices *mat.Dense

	// Elements is the element-to-vertex connectivity (EToV); each row
	// has 3 (triangle) or 4 (tetrahedron) vertex indices
	Elements [][]int
}

// New builds a mesh from a flat row-major coordinate slice and an
// element table, validating both.
func New(numVertices, dim int, coords []float64, elements [][]int) (*Mesh, error) {
	if dim != 2 && dim != 3 {
		return nil, fmt.Errorf("mesh: dimension must be 2 or 3, got %d", dim)
	}
	if len(coords) != numVertices*dim {
		return nil, fmt.Errorf("mesh: expected %d coordinates, got %d",
			numVertices*dim, len(coords))
	}
	m := &Mesh{
		Vertices: mat.NewDense(numVertices, dim, coords),
		Elements: elements,
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// NumVertices returns the number of vertices.
func (m *Mesh) NumVertices() int {
	n, _ := m.Vertices.Dims()
	return n
}

// Dim returns the spatial dimension (2 or 3).
func (m *Mesh) Dim() int {
	_, d := m.Vertices.Dims()
	return d
}

// NumElements returns the number of elements.
func (m *Mesh) NumElements() int { return len(m.Elements) }

// Arity returns the shared element arity. Meshes with no elements
// report an arity of 0.
func (m *Mesh) Arity() ElementArity {
	if len(m.Elements) == 0 {
		return 0
	}
	return ElementArity(len(m.Elements[0]))
}

// Validate checks element arity uniformity and index ranges.
func (m *Mesh) Validate() error {
	n := m.NumVertices()
	if d := m.Dim(); d != 2 && d != 3 {
		return fmt.Errorf("mesh: dimension must be 2 or 3, got %d", d)
	}
	if len(m.Elements) == 0 {
		return fmt.Errorf("mesh: no elements")
	}
	arity := len(m.Elements[0])
	if arity != int(Triangle) && arity != int(Tetrahedron) {
		return fmt.Errorf("mesh: element arity must be 3 or 4, got %d", arity)
	}
	for e, elem := range m.Elements {
		if len(elem) != arity {
			return fmt.Errorf("mesh: element %d has arity %d, expected %d",
				e, len(elem), arity)
		}
		for _, v := range elem {
			if v < 0 || v >= n {
				return fmt.Errorf("mesh: element %d references vertex %d outside [0,%d)",
					e, v, n)
			}
		}
	}
	return nil
}

// Vertex returns vertex i as a coordinate slice of length Dim.
func (m *Mesh) Vertex(i int) []float64 {
	return m.Vertices.RawRowView(i)
}
