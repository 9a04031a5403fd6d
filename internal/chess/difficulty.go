package chess

import "math"

const (
	MinDifficulty     = 1
	MaxDifficulty     = 20
	DefaultDifficulty = 10

	minRating = 1100
	maxRating = 3000
)

// EngineConfig is the strength configuration derived from a difficulty dial.
type EngineConfig struct {
	Difficulty    int
	SkillLevel    int
	TargetElo     int
	LimitStrength bool
}

// ClampDifficulty folds any input into [MinDifficulty, MaxDifficulty].
func ClampDifficulty(d int) int {
	if d < MinDifficulty {
		return MinDifficulty
	}
	if d > MaxDifficulty {
		return MaxDifficulty
	}
	return d
}

// MapDifficulty never fails: out-of-range input is clamped, not rejected.
func MapDifficulty(difficulty int) EngineConfig {
	d := ClampDifficulty(difficulty)
	step := float64(maxRating-minRating) / float64(MaxDifficulty-MinDifficulty)
	return EngineConfig{
		Difficulty:    d,
		SkillLevel:    d - 1,
		TargetElo:     int(math.Round(minRating + float64(d-1)*step)),
		LimitStrength: true,
	}
}
