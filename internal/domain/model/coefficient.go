package model

import "fmt"

// CoefficientSpec is the static definition of one tunable parameter of the
// firing solver. Specs are loaded once at startup and never mutated; their
// position in the loaded list defines the tuning order.
type CoefficientSpec struct {
	Name         string  `yaml:"name"`
	Min          float64 `yaml:"min"`
	Max          float64 `yaml:"max"`
	Initial      float64 `yaml:"initial"`
	TelemetryKey string  `yaml:"telemetry_key"`
}

// Clamp constrains v to the spec's safety bounds.
func (s CoefficientSpec) Clamp(v float64) float64 {
	if v < s.Min {
		return s.Min
	}
	if v > s.Max {
		return s.Max
	}
	return v
}

// Validate checks the spec invariants. A failing spec is a fatal
// configuration error; the tuner never guesses a replacement value.
func (s CoefficientSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("coefficient name is required")
	}
	if s.TelemetryKey == "" {
		return fmt.Errorf("coefficient %s: telemetry_key is required", s.Name)
	}
	if s.Min >= s.Max {
		return fmt.Errorf("coefficient %s: min %v must be below max %v", s.Name, s.Min, s.Max)
	}
	if s.Initial < s.Min || s.Initial > s.Max {
		return fmt.Errorf("coefficient %s: initial %v outside bounds [%v, %v]", s.Name, s.Initial, s.Min, s.Max)
	}
	return nil
}
