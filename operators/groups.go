package operators

import (
	"fmt"
)

// GroupStrategy defines how vertices are assigned to rigid groups when
// the caller does not supply an explicit assignment.
type GroupStrategy int

const (
	// BlockGroups assigns consecutive vertex runs to each group
	BlockGroups GroupStrategy = iota
	// RoundRobinGroups distributes vertices cyclically
	RoundRobinGroups
)

// AssignGroups produces a per-vertex group assignment for k groups
// using the given strategy. Helpful for piecewise-rigid experiments
// where no semantic grouping exists.
func AssignGroups(numVertices, k int, strategy GroupStrategy) []int {
	if k < 1 {
		k = 1
	}
	groups := make([]int, numVertices)
	switch strategy {
	case RoundRobinGroups:
		for i := range groups {
			groups[i] = i % k
		}
	default:
		per := (numVertices + k - 1) / k
		for i := range groups {
			groups[i] = i / per
			if groups[i] >= k {
				groups[i] = k - 1
			}
		}
	}
	return groups
}

// ValidateGroups checks a per-vertex assignment and returns the group
// count. Group ids must be non-negative and dense; the count is
// max(id)+1 and every smaller id must appear.
func ValidateGroups(groups []int, numVertices int) (int, error) {
	if len(groups) != numVertices {
		return 0, fmt.Errorf("operators: group assignment has %d entries for %d vertices",
			len(groups), numVertices)
	}
	k := 0
	for i, g := range groups {
		if g < 0 {
			return 0, fmt.Errorf("operators: vertex %d has negative group id %d", i, g)
		}
		if g+1 > k {
			k = g + 1
		}
	}
	used := make([]bool, k)
	for _, g := range groups {
		used[g] = true
	}
	for g, ok := range used {
		if !ok {
			return 0, fmt.Errorf("operators: group %d has no vertices", g)
		}
	}
	return k, nil
}

// ElementGroups derives a per-element assignment from a per-vertex one
// by majority vote over each element's vertices. Ties resolve to the
// smallest group id among the winners.
func ElementGroups(elements [][]int, vertexGroups []int, k int) []int {
	out := make([]int, len(elements))
	counts := make([]int, k)
	for e, elem := range elements {
		for i := range counts {
			counts[i] = 0
		}
		for _, v := range elem {
			counts[vertexGroups[v]]++
		}
		best := 0
		for g := 1; g < k; g++ {
			if counts[g] > counts[best] {
				best = g
			}
		}
		out[e] = best
	}
	return out
}
