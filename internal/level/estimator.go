package level

import "watertank_node/internal/models"

// Estimator converts a validated surface distance into tank quantities.
// Pure computation, no I/O, no failure mode: physically impossible inputs
// are clamped, never propagated.
type Estimator struct {
	tankHeightCm float64
}

func NewEstimator(tankHeightCm float64) *Estimator {
	return &Estimator{tankHeightCm: tankHeightCm}
}

// Reading derives {level, percent full} from the distance between the
// transducer and the water surface. A distance beyond the tank height clamps
// to empty; a zero or negative distance (sensor fault edge) clamps to full.
func (e *Estimator) Reading(distanceCm float64) models.LevelReading {
	levelCm := e.tankHeightCm - distanceCm
	if levelCm < 0 {
		levelCm = 0
	}
	if levelCm > e.tankHeightCm {
		levelCm = e.tankHeightCm
	}

	percent := levelCm / e.tankHeightCm * 100
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	return models.LevelReading{
		DistanceCm:   distanceCm,
		LevelCm:      levelCm,
		PercentFull:  percent,
		TankHeightCm: e.tankHeightCm,
	}
}
