package models

// LevelReading is the set of derived quantities for one validated distance
// estimate. Values are already clamped to physical bounds by the estimator.
type LevelReading struct {
	DistanceCm   float64 `json:"distance_cm"`    // transducer-to-surface, cm
	LevelCm      float64 `json:"water_level_cm"` // [0, tank height]
	PercentFull  float64 `json:"percent_full"`   // [0, 100]
	TankHeightCm float64 `json:"tank_height_cm"` // site calibration constant
}
