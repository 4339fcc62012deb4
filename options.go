package arap

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"github.com/deformlab/arap/operators"
)

const (
	// DefaultTolerance is the convergence tolerance, scaled by the
	// mesh's average edge length
	DefaultTolerance = 0.001

	// DefaultMaxIterations bounds a constrained solve
	DefaultMaxIterations = 10

	// UnconstrainedMaxIterations bounds solves with no explicit
	// constraints, which approach their fixed point more slowly
	UnconstrainedMaxIterations = 100
)

// Dynamics enables the inertial term of a time-stepping solve.
type Dynamics struct {
	// TimeStep is the implicit integration step h, required > 0
	TimeStep float64

	// Forces is an optional n x dim external force field
	Forces *mat.Dense

	// PrevPositions holds the positions at the previous time step;
	// together with the initial guess it defines the entry velocity.
	// Nil means zero initial velocity.
	PrevPositions *mat.Dense
}

// Options configures one ARAP solve. The zero value is usable;
// DefaultOptions spells out the defaults.
type Options struct {
	// Energy selects the rotation-region formulation
	Energy operators.Energy

	// InitialGuess overrides the default starting positions
	// (n x solve-dimension)
	InitialGuess *mat.Dense

	// Operators reuses energy operators cached from a previous solve
	// on the same topology, energy mode, and grouping
	Operators *operators.EnergyOperators

	// Groups optionally assigns each vertex to a rigid group so one
	// shared rotation is fitted per group
	Groups []int

	// Tolerance is the convergence tolerance relative to the average
	// rest edge length; 0 means DefaultTolerance
	Tolerance float64

	// MaxIterations caps the local/global passes; 0 means the default
	// for the constraint situation
	MaxIterations int

	// Dynamics, when non-nil, adds the mass-weighted inertial term
	Dynamics *Dynamics

	// Tikhonov, when positive, regularizes the system toward the
	// previous iterate, and is required to solve without constraints
	Tikhonov float64

	// Flatten solves in the reduced 2-D per-element basis
	// (elements energy on a 3-D triangle mesh only)
	Flatten bool

	// RemoveRigid derives auxiliary per-axis constraints pinning the
	// farthest-apart vertices when no explicit constraints are given
	RemoveRigid bool

	// AllowReflections lets the rotation fitter return improper
	// rotations
	AllowReflections bool

	// Verbose logs the per-iteration position change
	Verbose bool
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		Energy:        operators.Spokes,
		Tolerance:     DefaultTolerance,
		MaxIterations: DefaultMaxIterations,
	}
}

// optionsDoc is the YAML shape of Options; pointer fields distinguish
// "absent" from zero so defaults survive a partial document.
type optionsDoc struct {
	Energy           *operators.Energy `yaml:"energy"`
	Tolerance        *float64          `yaml:"tolerance"`
	MaxIterations    *int              `yaml:"max_iterations"`
	Tikhonov         *float64          `yaml:"tikhonov"`
	Flatten          *bool             `yaml:"flatten"`
	RemoveRigid      *bool             `yaml:"remove_rigid"`
	AllowReflections *bool             `yaml:"allow_reflections"`
	Verbose          *bool             `yaml:"verbose"`
	Groups           []int             `yaml:"groups"`
}

// ParseOptions decodes solver options from a YAML document, filling
// absent fields from DefaultOptions.
func ParseOptions(data []byte) (Options, error) {
	opts := DefaultOptions()
	var doc optionsDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return opts, fmt.Errorf("arap: parsing options: %w", err)
	}
	if doc.Energy != nil {
		opts.Energy = *doc.Energy
	}
	if doc.Tolerance != nil {
		opts.Tolerance = *doc.Tolerance
	}
	if doc.MaxIterations != nil {
		opts.MaxIterations = *doc.MaxIterations
	}
	if doc.Tikhonov != nil {
		opts.Tikhonov = *doc.Tikhonov
	}
	if doc.Flatten != nil {
		opts.Flatten = *doc.Flatten
	}
	if doc.RemoveRigid != nil {
		opts.RemoveRigid = *doc.RemoveRigid
	}
	if doc.AllowReflections != nil {
		opts.AllowReflections = *doc.AllowReflections
	}
	if doc.Verbose != nil {
		opts.Verbose = *doc.Verbose
	}
	if doc.Groups != nil {
		opts.Groups = doc.Groups
	}
	return opts, nil
}
