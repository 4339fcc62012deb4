package arap

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Constraints pins a set of vertices to target positions. An empty set
// is valid; pair it with Options.RemoveRigid or a Tikhonov weight so
// the global step stays solvable.
type Constraints struct {
	// Indices are the constrained vertex indices, unique and in range
	Indices []int

	// Positions holds one target row per index, in the solve dimension
	Positions *mat.Dense
}

// Empty reports whether no vertices are constrained.
func (c Constraints) Empty() bool { return len(c.Indices) == 0 }

func (c Constraints) validate(numVertices, dim int) error {
	if c.Empty() {
		return nil
	}
	if c.Positions == nil {
		return fmt.Errorf("arap: %d constrained indices but no target positions", len(c.Indices))
	}
	r, d := c.Positions.Dims()
	if r != len(c.Indices) || d != dim {
		return fmt.Errorf("arap: constraint targets are %dx%d, want %dx%d",
			r, d, len(c.Indices), dim)
	}
	seen := make(map[int]bool, len(c.Indices))
	for _, i := range c.Indices {
		if i < 0 || i >= numVertices {
			return fmt.Errorf("arap: constrained vertex %d outside [0,%d)", i, numVertices)
		}
		if seen[i] {
			return fmt.Errorf("arap: vertex %d constrained twice", i)
		}
		seen[i] = true
	}
	return nil
}
