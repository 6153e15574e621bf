package risk

import "strings"

// Classifier maps fraud scores to categories. It holds no mutable state and
// is safe for concurrent use.
type Classifier struct {
	policy Policy
}

// NewClassifier creates a classifier with the default policy.
func NewClassifier() *Classifier {
	return &Classifier{policy: DefaultPolicy()}
}

// NewClassifierWithPolicy creates a classifier with a validated custom policy.
func NewClassifierWithPolicy(p Policy) (*Classifier, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Classifier{policy: p}, nil
}

// Policy returns the thresholds in use.
func (c *Classifier) Policy() Policy {
	return c.policy
}

// Category returns the category for an in-range score.
func (c *Classifier) Category(score int) (Category, error) {
	if !ValidScore(score) {
		return "", &InvalidScoreError{Score: score}
	}
	switch {
	case score >= c.policy.HighFrom:
		return CategoryHigh, nil
	case score >= c.policy.MediumFrom:
		return CategoryMedium, nil
	default:
		return CategoryLow, nil
	}
}

// Classify returns the category for score together with the merged factor
// list: explicit factors first in their original order, then labels derived
// from the score, with blanks and duplicates dropped.
func (c *Classifier) Classify(score int, explicit []string) (Classification, error) {
	cat, err := c.Category(score)
	if err != nil {
		return Classification{}, err
	}

	factors := make([]string, 0, len(explicit)+1)
	seen := make(map[string]struct{}, len(explicit)+1)
	add := func(f string) {
		f = strings.TrimSpace(f)
		if f == "" {
			return
		}
		if _, dup := seen[f]; dup {
			return
		}
		seen[f] = struct{}{}
		factors = append(factors, f)
	}

	for _, f := range explicit {
		add(f)
	}
	switch cat {
	case CategoryHigh:
		add(FactorHighFraudScore)
	case CategoryMedium:
		add(FactorElevatedFraudScore)
	case CategoryLow:
	}

	return Classification{Score: score, Category: cat, Factors: factors}, nil
}
