package rating

import (
	"math"
	"testing"

	"github.com/model-arena/model-arena/pkg/models"
)

func TestExpected_EqualRatings(t *testing.T) {
	if e := Expected(1500, 1500); math.Abs(e-0.5) > 1e-9 {
		t.Errorf("expected 0.5, got %v", e)
	}
}

func TestExpected_Asymmetric(t *testing.T) {
	// 400 points of advantage gives ~10:1 odds
	e := Expected(1900, 1500)
	if math.Abs(e-10.0/11.0) > 1e-9 {
		t.Errorf("expected %v, got %v", 10.0/11.0, e)
	}

	// Both sides always sum to 1
	if sum := Expected(1700, 1450) + Expected(1450, 1700); math.Abs(sum-1) > 1e-9 {
		t.Errorf("expected scores should sum to 1, got %v", sum)
	}
}

func TestDeltas_WinAtEqualRatings(t *testing.T) {
	deltaA, deltaB := Deltas(1500, 1500, models.OutcomeAWins, 32)

	if math.Abs(deltaA-16) > 0.001 {
		t.Errorf("expected +16 for winner, got %v", deltaA)
	}
	if math.Abs(deltaB+16) > 0.001 {
		t.Errorf("expected -16 for loser, got %v", deltaB)
	}
}

func TestDeltas_LossMirrorsWin(t *testing.T) {
	winA, winB := Deltas(1600, 1400, models.OutcomeAWins, 32)
	lossA, lossB := Deltas(1600, 1400, models.OutcomeBWins, 32)

	// Favorite winning gains little; favorite losing costs a lot
	if winA >= -lossA {
		t.Errorf("favorite's win gain %v should be smaller than loss cost %v", winA, -lossA)
	}
	if math.Abs(winA+winB) > 1e-9 || math.Abs(lossA+lossB) > 1e-9 {
		t.Error("deltas must be zero-sum")
	}
}

func TestDeltas_TieAtEqualRatingsIsZero(t *testing.T) {
	deltaA, deltaB := Deltas(1500, 1500, models.OutcomeTie, 32)
	if deltaA != 0 || deltaB != 0 {
		t.Errorf("tie at equal ratings should move nothing, got %v/%v", deltaA, deltaB)
	}
}

func TestDeltas_TieMovesUnequalRatings(t *testing.T) {
	deltaA, deltaB := Deltas(1600, 1400, models.OutcomeTie, 32)
	if deltaA >= 0 {
		t.Errorf("favorite should lose points on a tie, got %v", deltaA)
	}
	if deltaB <= 0 {
		t.Errorf("underdog should gain points on a tie, got %v", deltaB)
	}
}

func TestDeltas_BothBadIsNoop(t *testing.T) {
	deltaA, deltaB := Deltas(1700, 1300, models.OutcomeBothBad, 32)
	if deltaA != 0 || deltaB != 0 {
		t.Errorf("both_bad must not move ratings, got %v/%v", deltaA, deltaB)
	}
}
