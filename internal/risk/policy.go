package risk

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Default thresholds. Scores below MediumFrom are low; scores at or above
// HighFrom are high.
const (
	DefaultMediumFrom = 30
	DefaultHighFrom   = 70
)

// Policy holds the category thresholds.
type Policy struct {
	MediumFrom int `yaml:"medium_from" json:"mediumFrom"`
	HighFrom   int `yaml:"high_from" json:"highFrom"`
}

// DefaultPolicy returns the standard 30/70 policy.
func DefaultPolicy() Policy {
	return Policy{MediumFrom: DefaultMediumFrom, HighFrom: DefaultHighFrom}
}

// Validate checks 0 < MediumFrom <= HighFrom <= MaxScore.
func (p Policy) Validate() error {
	if p.MediumFrom <= MinScore {
		return fmt.Errorf("%w: medium_from must be > %d, got %d", ErrInvalidPolicy, MinScore, p.MediumFrom)
	}
	if p.HighFrom < p.MediumFrom {
		return fmt.Errorf("%w: high_from (%d) must be >= medium_from (%d)", ErrInvalidPolicy, p.HighFrom, p.MediumFrom)
	}
	if p.HighFrom > MaxScore {
		return fmt.Errorf("%w: high_from must be <= %d, got %d", ErrInvalidPolicy, MaxScore, p.HighFrom)
	}
	return nil
}

// policyFile is the on-disk layout:
//
//	thresholds:
//	  medium_from: 30
//	  high_from: 70
type policyFile struct {
	Thresholds Policy `yaml:"thresholds"`
}

// ParsePolicy decodes a YAML policy document. Missing thresholds fall back
// to the defaults.
func ParsePolicy(data []byte) (Policy, error) {
	pf := policyFile{Thresholds: DefaultPolicy()}
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return Policy{}, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	if err := pf.Thresholds.Validate(); err != nil {
		return Policy{}, err
	}
	return pf.Thresholds, nil
}

// LoadPolicy reads a YAML policy file. An empty path yields the default policy.
func LoadPolicy(path string) (Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
	if err != nil {
		return Policy{}, fmt.Errorf("read risk policy: %w", err)
	}
	return ParsePolicy(data)
}
