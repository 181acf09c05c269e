package level

import (
	"math"
	"testing"
)

const tankHeight = 27.94 // cm

func TestReading_NominalConversion(t *testing.T) {
	e := NewEstimator(tankHeight)

	r := e.Reading(8.0)
	if !closeTo(r.LevelCm, 19.94, 0.001) {
		t.Fatalf("level: got %.4f, want 19.94", r.LevelCm)
	}
	if !closeTo(r.PercentFull, 71.367, 0.01) {
		t.Fatalf("percent: got %.4f, want ~71.37", r.PercentFull)
	}
	if r.DistanceCm != 8.0 {
		t.Fatalf("distance must pass through, got %.2f", r.DistanceCm)
	}
	if r.TankHeightCm != tankHeight {
		t.Fatalf("tank height must pass through, got %.2f", r.TankHeightCm)
	}
}

func TestReading_ClampsBeyondTankHeight(t *testing.T) {
	e := NewEstimator(tankHeight)

	for _, dist := range []float64{tankHeight, tankHeight + 0.01, 100, 400} {
		r := e.Reading(dist)
		if r.LevelCm != 0 {
			t.Fatalf("distance %.2f: level got %.4f, want 0", dist, r.LevelCm)
		}
		if r.PercentFull != 0 {
			t.Fatalf("distance %.2f: percent got %.4f, want 0", dist, r.PercentFull)
		}
	}
}

func TestReading_ClampsFaultDistances(t *testing.T) {
	e := NewEstimator(tankHeight)

	for _, dist := range []float64{0, -1, -50} {
		r := e.Reading(dist)
		if r.LevelCm != tankHeight {
			t.Fatalf("distance %.2f: level got %.4f, want tank height", dist, r.LevelCm)
		}
		if r.PercentFull != 100 {
			t.Fatalf("distance %.2f: percent got %.4f, want 100", dist, r.PercentFull)
		}
	}
}

func closeTo(got, want, tol float64) bool {
	return math.Abs(got-want) <= tol
}
