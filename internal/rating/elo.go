package rating

import (
	"math"

	"github.com/model-arena/model-arena/pkg/models"
)

// DefaultKFactor is the standard update step size
const DefaultKFactor = 32.0

// Expected returns A's expected score against B under the ELO model
func Expected(ratingA, ratingB float64) float64 {
	return 1.0 / (1.0 + math.Pow(10, (ratingB-ratingA)/400.0))
}

// Deltas returns the rating adjustments for both sides of a vote.
// both_bad judges neither model better, so it moves nothing.
func Deltas(ratingA, ratingB float64, outcome models.Outcome, k float64) (deltaA, deltaB float64) {
	var actualA, actualB float64
	switch outcome {
	case models.OutcomeAWins:
		actualA, actualB = 1, 0
	case models.OutcomeBWins:
		actualA, actualB = 0, 1
	case models.OutcomeTie:
		actualA, actualB = 0.5, 0.5
	default: // both_bad
		return 0, 0
	}

	expectedA := Expected(ratingA, ratingB)
	expectedB := Expected(ratingB, ratingA)

	return k * (actualA - expectedA), k * (actualB - expectedB)
}
