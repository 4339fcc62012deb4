// Package arap implements the as-rigid-as-possible mesh deformation
// solver: a local/global iteration alternating per-region rotation
// fits with a constrained sparse linear solve.
package arap

import (
	"fmt"
	"log"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/mat"

	"github.com/deformlab/arap/mesh"
	"github.com/deformlab/arap/operators"
	"github.com/deformlab/arap/rotations"
	linsolve "github.com/deformlab/arap/solver"
)

// State is the iterator's lifecycle state.
type State uint8

const (
	// Iterating means more local/global passes may run
	Iterating State = iota
	// Converged means the position change fell below tolerance
	Converged
	// MaxItersReached means the iteration cap was hit; the last
	// computed positions are a valid, possibly non-converged result
	MaxItersReached
	// Failed means a mid-loop numerical failure aborted the solve;
	// the last valid positions are still available
	Failed
)

func (s State) String() string {
	switch s {
	case Iterating:
		return "iterating"
	case Converged:
		return "converged"
	case MaxItersReached:
		return "max-iterations-reached"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Result is the output of a solve, sufficient to warm-start a
// subsequent call on the same topology.
type Result struct {
	// Positions is the final n x dim deformed vertex table
	Positions *mat.Dense

	// Operators are the (possibly group-summed) energy operators,
	// reusable via Options.Operators
	Operators *operators.EnergyOperators

	// Covariances and Rotations are the last local-step inputs and
	// outputs, one per fitted rotation
	Covariances []*mat.Dense
	Rotations   []*mat.Dense

	// Iterations is the number of local/global passes executed
	Iterations int

	// Converged reports whether the tolerance was met before the
	// iteration cap
	Converged bool
}

// Solver drives the ARAP iteration one pass at a time, so a caller can
// interleave its own work (or stop early) between iterations without
// corrupting state.
type Solver struct {
	mesh *mesh.Mesh
	bc   Constraints
	opts Options

	ops *operators.EnergyOperators
	dim int

	positions *mat.Dense
	tolScale  float64
	maxIter   int

	fact    *linsolve.Factorization // joint solve
	dynTerm *mat.Dense              // constant inertial rhs term, nil without dynamics

	// Per-axis constraint machinery, active only under rigid-motion
	// removal where each axis has its own fixed set.
	axisFixed [][]int
	axisVals  []*mat.Dense
	axisFacts []*linsolve.Factorization

	covariances []*mat.Dense
	rotations   []*mat.Dense
	iter        int
	maxChange   float64
	state       State
}

// Solve runs the full iteration to a terminal state. On a mid-loop
// numerical failure it returns the last valid state alongside the
// error.
func Solve(m *mesh.Mesh, bc Constraints, opts Options) (*Result, error) {
	s, err := NewSolver(m, bc, opts)
	if err != nil {
		return nil, err
	}
	return s.Run()
}

// NewSolver validates inputs, builds or adopts the energy operators,
// chooses the initial guess, and prepares the constrained-system
// factorizations.
func NewSolver(m *mesh.Mesh, bc Constraints, opts Options) (*Solver, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	s := &Solver{mesh: m, bc: bc, opts: opts, state: Iterating}

	if opts.Operators != nil {
		if err := opts.Operators.CheckMesh(m); err != nil {
			return nil, err
		}
		if err := opts.Operators.CheckConfig(opts.Energy, opts.Groups, opts.Flatten); err != nil {
			return nil, err
		}
		s.ops = opts.Operators
	} else {
		ops, err := operators.Build(m, opts.Energy, opts.Groups, opts.Flatten)
		if err != nil {
			return nil, err
		}
		s.ops = ops
	}
	s.dim = s.ops.Dim

	if err := bc.validate(m.NumVertices(), s.dim); err != nil {
		return nil, err
	}

	tol := opts.Tolerance
	if tol <= 0 {
		tol = DefaultTolerance
	}
	s.tolScale = tol * m.AverageEdgeLength()
	if s.tolScale <= 0 {
		s.tolScale = tol
	}

	s.maxIter = opts.MaxIterations
	if s.maxIter <= 0 {
		if bc.Empty() {
			s.maxIter = UnconstrainedMaxIterations
		} else {
			s.maxIter = DefaultMaxIterations
		}
	}

	pos, err := s.initialPositions()
	if err != nil {
		return nil, err
	}
	s.positions = pos

	if opts.RemoveRigid && bc.Empty() {
		if err := s.setupRigidRemoval(); err != nil {
			return nil, err
		}
	}

	system := mat.Matrix(s.ops.Stiffness)
	if opts.Dynamics != nil {
		sys, term, err := s.dynamicsSystem(opts.Dynamics)
		if err != nil {
			return nil, err
		}
		system, s.dynTerm = sys, term
	}

	if s.axisFixed != nil {
		s.axisFacts = make([]*linsolve.Factorization, s.dim)
		for ax := 0; ax < s.dim; ax++ {
			f, err := linsolve.Precompute(system, s.axisFixed[ax], opts.Tikhonov)
			if err != nil {
				return nil, fmt.Errorf("arap: axis %d: %w", ax, err)
			}
			s.axisFacts[ax] = f
		}
	} else {
		f, err := linsolve.Precompute(system, bc.Indices, opts.Tikhonov)
		if err != nil {
			return nil, err
		}
		s.fact = f
	}

	return s, nil
}

// State returns the current lifecycle state.
func (s *Solver) State() State { return s.state }

// Iterations returns the number of local/global passes executed.
func (s *Solver) Iterations() int { return s.iter }

// Step performs one transition: it checks convergence against the
// previous pass (skipping the check before any pass has a
// predecessor), then either terminates or runs one local/global pass.
// A numerical failure moves the solver to Failed and leaves the last
// valid positions in place.
func (s *Solver) Step() error {
	if s.state != Iterating {
		return fmt.Errorf("arap: solver is terminal (%s)", s.state)
	}
	if s.iter > 0 && s.maxChange < s.tolScale {
		s.state = Converged
		return nil
	}
	if s.iter >= s.maxIter {
		s.state = MaxItersReached
		return nil
	}
	if err := s.iterate(); err != nil {
		s.state = Failed
		return err
	}
	s.iter++
	return nil
}

// Run steps until a terminal state, returning the last valid result
// and, for a failed solve, the diagnostic.
func (s *Solver) Run() (*Result, error) {
	for s.state == Iterating {
		if err := s.Step(); err != nil {
			return s.Result(), fmt.Errorf("arap: iteration %d: %w", s.iter+1, err)
		}
	}
	return s.Result(), nil
}

// Result snapshots the current positions and last local-step state.
func (s *Solver) Result() *Result {
	return &Result{
		Positions:   mat.DenseCopyOf(s.positions),
		Operators:   s.ops,
		Covariances: s.covariances,
		Rotations:   s.rotations,
		Iterations:  s.iter,
		Converged:   s.state == Converged,
	}
}

// iterate runs one local/global pass in place.
func (s *Solver) iterate() error {
	s.clamp()

	cov, err := s.ops.Covariances(s.positions)
	if err != nil {
		return err
	}
	rot, err := rotations.Fit(cov, s.opts.AllowReflections)
	if err != nil {
		return err
	}

	rhs, err := s.ops.RHS(s.ops.ExpandRotations(rot))
	if err != nil {
		return err
	}
	if s.dynTerm != nil {
		rhs.Add(rhs, s.dynTerm)
	}
	if s.opts.Tikhonov > 0 {
		// Regularization pulls toward the previous iterate, keeping
		// the rest state an exact fixed point.
		var pull mat.Dense
		pull.Scale(s.opts.Tikhonov, s.positions)
		rhs.Add(rhs, &pull)
	}

	prev := mat.DenseCopyOf(s.positions)
	if s.axisFacts != nil {
		if err := s.solvePerAxis(rhs); err != nil {
			return err
		}
	} else {
		x, err := s.fact.Solve(rhs, s.bc.Positions)
		if err != nil {
			return err
		}
		s.positions = x
	}

	s.covariances, s.rotations = cov, rot
	s.maxChange = maxAbsDiff(s.positions, prev)
	if s.opts.Verbose {
		log.Printf("arap: iteration %d change=%.3e (tol %.3e)", s.iter+1, s.maxChange, s.tolScale)
	}
	return nil
}

// clamp forces constrained positions onto their targets before the
// local step reads them.
func (s *Solver) clamp() {
	if s.axisFixed != nil {
		for ax, fixed := range s.axisFixed {
			for _, i := range fixed {
				s.positions.Set(i, ax, 0)
			}
		}
		return
	}
	for k, i := range s.bc.Indices {
		for d := 0; d < s.dim; d++ {
			s.positions.Set(i, d, s.bc.Positions.At(k, d))
		}
	}
}

// solvePerAxis runs one constrained solve per spatial axis; under
// rigid-motion removal each axis carries its own fixed set. The new
// iterate is committed only after every axis solves, so a failed axis
// leaves the previous positions intact.
func (s *Solver) solvePerAxis(rhs *mat.Dense) error {
	n, _ := rhs.Dims()
	next := mat.NewDense(n, s.dim, nil)
	for ax := 0; ax < s.dim; ax++ {
		col := mat.NewDense(n, 1, nil)
		for i := 0; i < n; i++ {
			col.Set(i, 0, rhs.At(i, ax))
		}
		x, err := s.axisFacts[ax].Solve(col, s.axisVals[ax])
		if err != nil {
			return fmt.Errorf("axis %d: %w", ax, err)
		}
		for i := 0; i < n; i++ {
			next.Set(i, ax, x.At(i, 0))
		}
	}
	s.positions = next
	return nil
}

// dynamicsSystem augments the stiffness operator with the lumped mass
// over the squared time step and precomputes the constant inertial
// right-hand-side term M/h^2 (P0 + h*v0) + F.
func (s *Solver) dynamicsSystem(dyn *Dynamics) (mat.Matrix, *mat.Dense, error) {
	if dyn.TimeStep <= 0 {
		return nil, nil, fmt.Errorf("arap: dynamics time step must be positive, got %g", dyn.TimeStep)
	}
	n := s.mesh.NumVertices()
	if dyn.Forces != nil {
		if r, c := dyn.Forces.Dims(); r != n || c != s.dim {
			return nil, nil, fmt.Errorf("arap: force field is %dx%d, want %dx%d", r, c, n, s.dim)
		}
	}
	if dyn.PrevPositions != nil {
		if r, c := dyn.PrevPositions.Dims(); r != n || c != s.dim {
			return nil, nil, fmt.Errorf("arap: previous positions are %dx%d, want %dx%d", r, c, n, s.dim)
		}
	}

	masses := operators.Massmatrix(s.mesh)
	h := dyn.TimeStep
	invH2 := 1 / (h * h)

	diag := make([]float64, n)
	for i := 0; i < n; i++ {
		diag[i] = masses.At(i, i) * invH2
	}
	system := addDiagonal(s.ops.Stiffness, diag)

	term := mat.NewDense(n, s.dim, nil)
	for i := 0; i < n; i++ {
		for d := 0; d < s.dim; d++ {
			p0 := s.positions.At(i, d)
			v0 := 0.0
			if dyn.PrevPositions != nil {
				v0 = (p0 - dyn.PrevPositions.At(i, d)) / h
			}
			v := diag[i] * (p0 + h*v0)
			if dyn.Forces != nil {
				v += dyn.Forces.At(i, d)
			}
			term.Set(i, d, v)
		}
	}
	return system, term, nil
}

// addDiagonal returns a copy of a sparse operator with extra diagonal
// mass.
func addDiagonal(a *sparse.CSR, diag []float64) *sparse.CSR {
	n, _ := a.Dims()
	dok := sparse.NewDOK(n, n)
	a.DoNonZero(func(i, j int, v float64) {
		dok.Set(i, j, v)
	})
	for i, d := range diag {
		if d != 0 {
			dok.Set(i, i, dok.At(i, i)+d)
		}
	}
	return dok.ToCSR()
}

func maxAbsDiff(a, b *mat.Dense) float64 {
	r, c := a.Dims()
	max := 0.0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			d := a.At(i, j) - b.At(i, j)
			if d < 0 {
				d = -d
			}
			if d > max {
				max = d
			}
		}
	}
	return max
}
