package wells

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Schedule lists the wells of a case and the report steps they are open in
type Schedule struct {
	Wells []WellSpec `yaml:"wells"`
}

// WellSpec describes one well. Nil pointer fields mean "not set in YAML".
type WellSpec struct {
	Name        string       `yaml:"name"`
	Type        string       `yaml:"type"` // injector or producer
	OpenStep    int          `yaml:"open_step"`
	ShutStep    *int         `yaml:"shut_step"` // first step the well is shut, nil keeps it open
	Completions []Completion `yaml:"completions"`
	BHPTarget   float64      `yaml:"bhp_target"`
	RateTarget  float64      `yaml:"rate_target"`
	Phase       int          `yaml:"phase"` // injected phase
	Radius      *float64     `yaml:"radius"`
	Skin        float64      `yaml:"skin"`
}

// Completion perforates cells (I, J, K1) through (I, J, K2)
type Completion struct {
	I  int `yaml:"i"`
	J  int `yaml:"j"`
	K1 int `yaml:"k1"`
	K2 int `yaml:"k2"`
}

// DefaultRadius is the wellbore radius used when none is given
const DefaultRadius = 0.1

// ValidWellTypes is the set of recognized well type names
var ValidWellTypes = map[string]WellType{"injector": Injector, "producer": Producer}

// LoadSchedule reads and parses a YAML well schedule file
func LoadSchedule(path string) (*Schedule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading well schedule: %w", err)
	}
	var s Schedule
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing well schedule: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks names, types and completion ranges
func (s *Schedule) Validate() error {
	seen := make(map[string]bool, len(s.Wells))
	for i, w := range s.Wells {
		if w.Name == "" {
			return fmt.Errorf("well %d has no name", i)
		}
		if seen[w.Name] {
			return fmt.Errorf("well %q defined twice", w.Name)
		}
		seen[w.Name] = true
		if _, ok := ValidWellTypes[w.Type]; !ok {
			return fmt.Errorf("well %q: unknown type %q", w.Name, w.Type)
		}
		if len(w.Completions) == 0 {
			return fmt.Errorf("well %q has no completions", w.Name)
		}
		for _, c := range w.Completions {
			if c.K1 > c.K2 {
				return fmt.Errorf("well %q: completion k1 %d above k2 %d", w.Name, c.K1, c.K2)
			}
		}
		if w.ShutStep != nil && *w.ShutStep <= w.OpenStep {
			return fmt.Errorf("well %q shuts at step %d before opening at %d",
				w.Name, *w.ShutStep, w.OpenStep)
		}
		if w.Radius != nil && *w.Radius <= 0 {
			return fmt.Errorf("well %q: radius must be positive, got %g", w.Name, *w.Radius)
		}
		if w.Phase < 0 {
			return fmt.Errorf("well %q: negative phase %d", w.Name, w.Phase)
		}
	}
	return nil
}

// IsOpen reports whether the well produces or injects during reportStep
func (w *WellSpec) IsOpen(reportStep int) bool {
	if reportStep < w.OpenStep {
		return false
	}
	return w.ShutStep == nil || reportStep < *w.ShutStep
}

func (w *WellSpec) radius() float64 {
	if w.Radius == nil {
		return DefaultRadius
	}
	return *w.Radius
}
