package operators

import (
	"fmt"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/mat"

	"github.com/deformlab/arap/mesh"
)

// EnergyOperators holds the linear operators of one ARAP energy:
// the stiffness operator of the global step, the covariance scatter
// operator of the local step, and the right-hand-side operator tying
// them together. All are pure functions of mesh topology, energy mode,
// and grouping, and may be cached across solves on the same topology.
type EnergyOperators struct {
	Energy Energy

	// Dim is the solve dimension: the mesh dimension, or 2 when the
	// operators were built in flattening mode
	Dim int

	// NumVertices of the rest mesh the operators were built from
	NumVertices int

	// NumRegions is the number of rotation regions before grouping
	// (vertices or elements depending on the energy)
	NumRegions int

	// NumRotations is the number of rotations actually fitted per
	// iteration: the group count when grouped, NumRegions otherwise
	NumRotations int

	// Stiffness is the symmetric positive semi-definite system
	// operator of the global step, assembled from the region edge sets
	Stiffness *sparse.CSR

	// Scatter maps stacked positions (NumVertices x Dim) to stacked
	// covariance blocks ((NumRotations*Dim) x Dim), group-summed when
	// a grouping is active
	Scatter mat.Matrix

	// Frames holds the per-element 2x3 plane bases in flattening mode
	Frames []*mat.Dense

	regionGroups []int // per-region group ids, nil when ungrouped
	rhs          mat.Matrix
}

// Build constructs the energy operators for a rest mesh. groups is an
// optional per-vertex rigid-group assignment (nil for one rotation per
// region); flatten requests the reduced 2-D basis, valid only for the
// Elements energy on a 3-D triangle mesh.
func Build(m *mesh.Mesh, energy Energy, groups []int, flatten bool) (*EnergyOperators, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if flatten {
		if energy != Elements {
			return nil, fmt.Errorf("operators: flattening requires the elements energy, got %s", energy)
		}
		if m.Arity() != mesh.Triangle || m.Dim() != 3 {
			return nil, fmt.Errorf("operators: flattening requires a 3-D triangle mesh")
		}
	}

	sets, err := EdgeSets(m, energy)
	if err != nil {
		return nil, err
	}
	n := m.NumVertices()
	nr := len(sets)
	dim := m.Dim()

	var frames []*mat.Dense
	if flatten {
		frames, err = elementFrames(m)
		if err != nil {
			return nil, err
		}
		dim = 2
	}

	op := &EnergyOperators{
		Energy:       energy,
		Dim:          dim,
		NumVertices:  n,
		NumRegions:   nr,
		NumRotations: nr,
		Frames:       frames,
	}

	// Stiffness and scatter share the region edge sets, and the
	// right-hand-side operator is algebraically the scatter transpose,
	// so the three stay mutually consistent by construction.
	stiff := sparse.NewDOK(n, n)
	scatter := sparse.NewDOK(nr*dim, n)
	for r, edges := range sets {
		for _, we := range edges {
			stiff.Set(we.I, we.I, stiff.At(we.I, we.I)+we.W)
			stiff.Set(we.J, we.J, stiff.At(we.J, we.J)+we.W)
			stiff.Set(we.I, we.J, stiff.At(we.I, we.J)-we.W)
			stiff.Set(we.J, we.I, stiff.At(we.J, we.I)-we.W)

			e := restEdge(m, frames, r, we)
			for a := 0; a < dim; a++ {
				row := r*dim + a
				scatter.Set(row, we.I, scatter.At(row, we.I)+we.W*e[a])
				scatter.Set(row, we.J, scatter.At(row, we.J)-we.W*e[a])
			}
		}
	}
	op.Stiffness = stiff.ToCSR()

	regionScatter := scatter.ToCSR()
	op.Scatter = regionScatter
	op.rhs = regionScatter.T()

	if groups != nil {
		k, err := ValidateGroups(groups, n)
		if err != nil {
			return nil, err
		}
		regionGroups := groups
		if energy == Elements {
			regionGroups = ElementGroups(m.Elements, groups, k)
		}
		gsum := sparse.NewDOK(k*dim, nr*dim)
		for r, g := range regionGroups {
			for a := 0; a < dim; a++ {
				gsum.Set(g*dim+a, r*dim+a, 1)
			}
		}
		var grouped sparse.CSR
		grouped.Mul(gsum.ToCSR(), regionScatter)
		op.Scatter = &grouped
		op.regionGroups = regionGroups
		op.NumRotations = k
	}

	return op, nil
}

// restEdge returns the rest edge vector of a weighted edge in solve
// coordinates: the raw coordinate difference, or the edge expressed in
// the element frame when flattened.
func restEdge(m *mesh.Mesh, frames []*mat.Dense, region int, we WeightedEdge) []float64 {
	pi := m.Vertices.RawRowView(we.I)
	pj := m.Vertices.RawRowView(we.J)
	if frames != nil {
		// Flattened operators exist only for the Elements energy, so
		// the region index is the element index.
		e := liftPoint(m, we.I).Sub(liftPoint(m, we.J))
		p := projectEdge(frames[region], e)
		return p[:]
	}
	e := make([]float64, len(pi))
	for d := range e {
		e[d] = pi[d] - pj[d]
	}
	return e
}

// CheckMesh verifies that cached operators are compatible with a mesh
// before reuse. It checks sizes only; the caller owns the stronger
// guarantee that the topology is unchanged.
func (op *EnergyOperators) CheckMesh(m *mesh.Mesh) error {
	if m.NumVertices() != op.NumVertices {
		return fmt.Errorf("operators: cached operators built for %d vertices, mesh has %d",
			op.NumVertices, m.NumVertices())
	}
	if op.Frames == nil && m.Dim() != op.Dim {
		return fmt.Errorf("operators: cached operators built for dimension %d, mesh is %d-D",
			op.Dim, m.Dim())
	}
	return nil
}

// CheckConfig verifies that cached operators were built with the same
// energy mode, grouping, and flattening choice before reuse.
func (op *EnergyOperators) CheckConfig(energy Energy, groups []int, flatten bool) error {
	if energy != op.Energy {
		return fmt.Errorf("operators: cached operators built for the %s energy, want %s",
			op.Energy, energy)
	}
	if flatten != (op.Frames != nil) {
		return fmt.Errorf("operators: cached operators flattening mismatch")
	}
	if (groups == nil) != (op.regionGroups == nil) {
		return fmt.Errorf("operators: cached operators grouping mismatch")
	}
	if groups != nil {
		k, err := ValidateGroups(groups, op.NumVertices)
		if err != nil {
			return err
		}
		if k != op.NumRotations {
			return fmt.Errorf("operators: cached operators fit %d rotations, grouping asks for %d",
				op.NumRotations, k)
		}
	}
	return nil
}

// Covariances applies the scatter operator to current positions,
// returning one Dim x Dim covariance block per fitted rotation.
func (op *EnergyOperators) Covariances(positions *mat.Dense) ([]*mat.Dense, error) {
	r, c := positions.Dims()
	if r != op.NumVertices || c != op.Dim {
		return nil, fmt.Errorf("operators: positions are %dx%d, want %dx%d",
			r, c, op.NumVertices, op.Dim)
	}
	var stacked mat.Dense
	stacked.Mul(op.Scatter, positions)

	out := make([]*mat.Dense, op.NumRotations)
	for i := range out {
		out[i] = mat.DenseCopyOf(stacked.Slice(i*op.Dim, (i+1)*op.Dim, 0, op.Dim))
	}
	return out, nil
}

// ExpandRotations redistributes per-group rotations back to the
// individual regions. Without grouping it returns the input unchanged.
func (op *EnergyOperators) ExpandRotations(rotations []*mat.Dense) []*mat.Dense {
	if op.regionGroups == nil {
		return rotations
	}
	out := make([]*mat.Dense, op.NumRegions)
	for r, g := range op.regionGroups {
		out[r] = rotations[g]
	}
	return out
}

// RHS maps one candidate rotation per region to the right-hand side of
// the global-step linear system (NumVertices x Dim). Multiplying
// candidate rotations through it reproduces the ARAP energy gradient
// with respect to positions.
func (op *EnergyOperators) RHS(rotations []*mat.Dense) (*mat.Dense, error) {
	if len(rotations) != op.NumRegions {
		return nil, fmt.Errorf("operators: got %d rotations for %d regions",
			len(rotations), op.NumRegions)
	}
	stacked := mat.NewDense(op.NumRegions*op.Dim, op.Dim, nil)
	for r, rot := range rotations {
		for a := 0; a < op.Dim; a++ {
			for b := 0; b < op.Dim; b++ {
				stacked.Set(r*op.Dim+a, b, rot.At(b, a))
			}
		}
	}
	out := mat.NewDense(op.NumVertices, op.Dim, nil)
	out.Mul(op.rhs, stacked)
	return out, nil
}
