package operators

import (
	"fmt"

	"github.com/deformlab/arap/mesh"
)

// WeightedEdge is one weighted rest edge (I,J) contributing to a
// region's covariance: w * (rest_I - rest_J)(cur_I - cur_J)^T.
type WeightedEdge struct {
	I, J int
	W    float64
}

// EdgeSets builds the per-region weighted edge lists for an energy
// mode. Regions are vertices for Spokes and SpokesAndRims, elements
// for Elements. Edge weights are scaled by the number of regions each
// edge appears in, so that the stiffness operator assembled from the
// region edge sets coincides with the cotangent Laplacian for the
// Spokes and Elements modes.
func EdgeSets(m *mesh.Mesh, energy Energy) ([][]WeightedEdge, error) {
	switch energy {
	case Spokes:
		return spokesEdgeSets(m), nil
	case Elements:
		return elementEdgeSets(m), nil
	case SpokesAndRims:
		if m.Arity() != mesh.Triangle {
			return nil, fmt.Errorf("operators: %s energy requires a triangle mesh", energy)
		}
		return spokesAndRimsEdgeSets(m), nil
	}
	return nil, fmt.Errorf("operators: unsupported energy mode %d", energy)
}

// spokesEdgeSets assigns each vertex the edges of its one-ring. Every
// edge appears in both endpoint regions, hence the half weight.
func spokesEdgeSets(m *mesh.Mesh) [][]WeightedEdge {
	regions := make([][]WeightedEdge, m.NumVertices())
	local := mesh.LocalEdges(m.Arity())
	weights := elementCotWeights(m)
	for e, elem := range m.Elements {
		for le, pair := range local {
			w := weights[e][le] / 2
			if w == 0 {
				continue
			}
			i, j := elem[pair[0]], elem[pair[1]]
			regions[i] = append(regions[i], WeightedEdge{I: i, J: j, W: w})
			regions[j] = append(regions[j], WeightedEdge{I: j, J: i, W: w})
		}
	}
	return regions
}

// elementEdgeSets assigns each element its own edges at the element's
// cotangent contribution. Every edge appears in exactly one region per
// incident element.
func elementEdgeSets(m *mesh.Mesh) [][]WeightedEdge {
	regions := make([][]WeightedEdge, m.NumElements())
	local := mesh.LocalEdges(m.Arity())
	weights := elementCotWeights(m)
	for e, elem := range m.Elements {
		for le, pair := range local {
			w := weights[e][le]
			if w == 0 {
				continue
			}
			regions[e] = append(regions[e], WeightedEdge{
				I: elem[pair[0]], J: elem[pair[1]], W: w,
			})
		}
	}
	return regions
}

// spokesAndRimsEdgeSets assigns each vertex all edges of its incident
// triangles: the two spokes plus the opposite rim edge. Every face
// edge appears in the three corner regions, hence the third weight.
func spokesAndRimsEdgeSets(m *mesh.Mesh) [][]WeightedEdge {
	regions := make([][]WeightedEdge, m.NumVertices())
	local := mesh.LocalEdges(mesh.Triangle)
	weights := elementCotWeights(m)
	for e, elem := range m.Elements {
		for le, pair := range local {
			w := weights[e][le] / 3
			if w == 0 {
				continue
			}
			i, j := elem[pair[0]], elem[pair[1]]
			for _, v := range elem {
				regions[v] = append(regions[v], WeightedEdge{I: i, J: j, W: w})
			}
		}
	}
	return regions
}
