package board

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/gray-logic-iobridge/internal/zone"
)

// ErrInvalidScene is returned when a scene layout cannot be used.
var ErrInvalidScene = errors.New("board: invalid scene")

// IndicatorSpec describes one indicator in a scene layout.
type IndicatorSpec struct {
	// Name must match a zone name of the group's namespace.
	Name string `yaml:"name"`

	// Label is shown instead of Name when set.
	Label string `yaml:"label,omitempty"`
}

// Scene is the indicator layout, grouped by zone namespace.
//
// Example YAML:
//
//	touch:
//	  - name: A1
//	    label: Outer 1
//	button:
//	  - name: BA1
//	  - name: Select
type Scene struct {
	Touch  []IndicatorSpec `yaml:"touch"`
	Button []IndicatorSpec `yaml:"button"`
}

// DefaultScene returns a layout with one indicator per zone of both input
// namespaces.
func DefaultScene() *Scene {
	return &Scene{
		Touch:  specsFor(zone.TouchPanel),
		Button: specsFor(zone.ButtonRing),
	}
}

func specsFor(ns *zone.Namespace) []IndicatorSpec {
	out := make([]IndicatorSpec, 0, ns.Len())
	for _, id := range ns.Zones() {
		out = append(out, IndicatorSpec{Name: id.Name})
	}
	return out
}

// LoadScene reads a YAML scene layout. An empty path returns DefaultScene.
func LoadScene(path string) (*Scene, error) {
	if path == "" {
		return DefaultScene(), nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // path comes from trusted configuration
	if err != nil {
		return nil, fmt.Errorf("reading scene file: %w", err)
	}
	return ParseScene(data)
}

// ParseScene decodes and validates a YAML scene layout.
func ParseScene(data []byte) (*Scene, error) {
	var s Scene
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: parsing YAML: %v", ErrInvalidScene, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks that every indicator has a name. Coverage of the zone
// namespaces is checked when the board registers its indicators.
func (s *Scene) Validate() error {
	var errs []string
	check := func(group string, specs []IndicatorSpec) {
		for i, spec := range specs {
			if strings.TrimSpace(spec.Name) == "" {
				errs = append(errs, fmt.Sprintf("%s[%d].name is required", group, i))
			}
		}
	}
	check("touch", s.Touch)
	check("button", s.Button)
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidScene, strings.Join(errs, "; "))
	}
	return nil
}
