package mesh

import (
	"math"

	"github.com/golang/geo/r3"
)

// triEdges and tetEdges list the local vertex pairs forming the edges
// of each element arity.
var (
	triEdges = [][2]int{{0, 1}, {1, 2}, {2, 0}}
	tetEdges = [][2]int{{0, 1}, {0, 2}, {0, 3}, {1, 2}, {1, 3}, {2, 3}}
)

// LocalEdges returns the local vertex index pairs forming the edges of
// an element of the given arity.
func LocalEdges(arity ElementArity) [][2]int {
	if arity == Tetrahedron {
		return tetEdges
	}
	return triEdges
}

// Edges returns the unique undirected edges of the mesh, each as an
// ordered pair (i < j).
func (m *Mesh) Edges() [][2]int {
	seen := make(map[[2]int]bool)
	var edges [][2]int
	local := LocalEdges(m.Arity())
	for _, elem := range m.Elements {
		for _, le := range local {
			i, j := elem[le[0]], elem[le[1]]
			if i > j {
				i, j = j, i
			}
			key := [2]int{i, j}
			if !seen[key] {
				seen[key] = true
				edges = append(edges, key)
			}
		}
	}
	return edges
}

// VertexElements returns, for each vertex, the indices of the elements
// containing it.
func (m *Mesh) VertexElements() [][]int {
	adj := make([][]int, m.NumVertices())
	for e, elem := range m.Elements {
		for _, v := range elem {
			adj[v] = append(adj[v], e)
		}
	}
	return adj
}

// AverageEdgeLength returns the mean length of the unique mesh edges.
// It is the natural length scale for convergence tolerances.
func (m *Mesh) AverageEdgeLength() float64 {
	edges := m.Edges()
	if len(edges) == 0 {
		return 0
	}
	total := 0.0
	for _, e := range edges {
		total += r3dist(m.point(e[0]), m.point(e[1]))
	}
	return total / float64(len(edges))
}

// point lifts vertex i into an r3.Vector, embedding 2-D meshes in the
// z = 0 plane.
func (m *Mesh) point(i int) r3.Vector {
	row := m.Vertices.RawRowView(i)
	if len(row) == 2 {
		return r3.Vector{X: row[0], Y: row[1]}
	}
	return r3.Vector{X: row[0], Y: row[1], Z: row[2]}
}

func r3dist(a, b r3.Vector) float64 {
	return a.Sub(b).Norm()
}

// DiameterPair returns the pair of vertices farthest apart, scanning
// all pairs. Used to derive rigid-motion-removal anchors.
func (m *Mesh) DiameterPair() (a, b int) {
	n := m.NumVertices()
	best := -1.0
	for i := 0; i < n; i++ {
		pi := m.point(i)
		for j := i + 1; j < n; j++ {
			if d := r3dist(pi, m.point(j)); d > best {
				best, a, b = d, i, j
			}
		}
	}
	return a, b
}

// FarthestFromLine returns the vertex farthest from the line through
// vertices a and b, or -1 if every vertex is collinear with them.
func (m *Mesh) FarthestFromLine(a, b int) int {
	pa, pb := m.point(a), m.point(b)
	axis := pb.Sub(pa)
	norm := axis.Norm()
	if norm == 0 {
		return -1
	}
	axis = axis.Mul(1 / norm)

	best, bestDist := -1, 0.0
	for i := 0; i < m.NumVertices(); i++ {
		if i == a || i == b {
			continue
		}
		u := m.point(i).Sub(pa)
		perp := u.Sub(axis.Mul(u.Dot(axis)))
		if d := perp.Norm(); d > bestDist && d > 1e-14*math.Max(1, norm) {
			best, bestDist = i, d
		}
	}
	return best
}
