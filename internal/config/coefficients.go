package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mmarchjr/MLtune/internal/domain/model"
)

// coefficientFile is the on-disk layout of the coefficient definition file.
// The list order is the tuning order.
type coefficientFile struct {
	Coefficients []model.CoefficientSpec `yaml:"coefficients"`
}

// LoadCoefficients reads and validates the ordered coefficient list. Any
// violation (bad bounds, duplicate name, initial outside bounds) fails the
// whole load; the tuner must not start with a partially valid set.
func LoadCoefficients(path string) ([]model.CoefficientSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read coefficient file %s: %w", path, err)
	}

	var file coefficientFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse coefficient file %s: %w", path, err)
	}
	if len(file.Coefficients) == 0 {
		return nil, fmt.Errorf("coefficient file %s defines no coefficients", path)
	}

	seen := make(map[string]bool, len(file.Coefficients))
	for _, spec := range file.Coefficients {
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("coefficient file %s: %w", path, err)
		}
		if seen[spec.Name] {
			return nil, fmt.Errorf("coefficient file %s: duplicate coefficient %s", path, spec.Name)
		}
		seen[spec.Name] = true
	}

	return file.Coefficients, nil
}
