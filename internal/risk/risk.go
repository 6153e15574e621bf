// Package risk classifies identity-document fraud scores into risk categories.
//
// A fraud score is an integer in [0, 100] produced by an external scoring
// service. The classifier maps it to one of three categories using a pair of
// thresholds and merges caller-supplied risk factors with labels derived from
// the score. Classification is pure: the same score always yields the same
// category.
package risk

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidScore  = errors.New("fraud score out of range")
	ErrInvalidPolicy = errors.New("invalid risk policy")
)

// Category is the risk bucket a record falls into.
type Category string

const (
	CategoryLow    Category = "low"
	CategoryMedium Category = "medium"
	CategoryHigh   Category = "high"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryLow, CategoryMedium, CategoryHigh:
		return true
	}
	return false
}

// Rank orders categories so callers can compare severities.
func (c Category) Rank() int {
	switch c {
	case CategoryLow:
		return 1
	case CategoryMedium:
		return 2
	case CategoryHigh:
		return 3
	}
	return 0
}

// ParseCategory converts a string into a Category.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown risk category %q", s)
	}
	return c, nil
}

// Score bounds.
const (
	MinScore = 0
	MaxScore = 100
)

// Derived factor labels appended after caller-supplied factors.
const (
	FactorHighFraudScore     = "high-fraud-score"
	FactorElevatedFraudScore = "elevated-fraud-score"
)

// Classification is the result of classifying a single score.
type Classification struct {
	Score    int      `json:"score"`
	Category Category `json:"category"`
	Factors  []string `json:"factors"`
}

// InvalidScoreError reports a score outside [MinScore, MaxScore].
type InvalidScoreError struct {
	Score int
}

func (e *InvalidScoreError) Error() string {
	return fmt.Sprintf("fraud score %d out of range [%d, %d]", e.Score, MinScore, MaxScore)
}

func (e *InvalidScoreError) Unwrap() error { return ErrInvalidScore }

// ValidScore reports whether score is within bounds.
func ValidScore(score int) bool {
	return score >= MinScore && score <= MaxScore
}
