package operators

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Energy selects which local neighborhoods contribute to each fitted
// rotation's covariance.
type Energy uint8

const (
	// Spokes fits one rotation per vertex from its incident edges
	Spokes Energy = iota
	// Elements fits one rotation per element from its own edges
	Elements
	// SpokesAndRims fits one rotation per vertex from its incident
	// edges plus the opposite edges of its incident triangles
	SpokesAndRims
)

// ParseEnergy maps the configuration tokens {spokes, elements,
// spokes-and-rims} to an Energy.
func ParseEnergy(s string) (Energy, error) {
	switch s {
	case "spokes":
		return Spokes, nil
	case "elements":
		return Elements, nil
	case "spokes-and-rims":
		return SpokesAndRims, nil
	}
	return 0, fmt.Errorf("operators: unsupported energy mode %q", s)
}

func (e Energy) String() string {
	switch e {
	case Spokes:
		return "spokes"
	case Elements:
		return "elements"
	case SpokesAndRims:
		return "spokes-and-rims"
	}
	return fmt.Sprintf("Energy(%d)", uint8(e))
}

// UnmarshalYAML decodes an energy mode from its configuration token.
func (e *Energy) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseEnergy(s)
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}
