package perf

import "strings"

type Level string

const (
	LevelLow    Level = "LOW"
	LevelMedium Level = "MEDIUM"
	LevelHigh   Level = "HIGH"
	LevelUltra  Level = "ULTRA"
	LevelAuto   Level = "AUTO"
)

// Levels lists the concrete levels from least to most aggressive.
func Levels() []Level {
	return []Level{LevelLow, LevelMedium, LevelHigh, LevelUltra}
}

// CanonicalizeLevel maps free-form input onto a level. Empty or unknown values yield AUTO.
func CanonicalizeLevel(value any) Level {
	switch v := value.(type) {
	case Level:
		return CanonicalizeLevel(string(v))
	case string:
		s := Level(strings.ToUpper(strings.TrimSpace(v)))
		switch s {
		case LevelLow, LevelMedium, LevelHigh, LevelUltra, LevelAuto:
			return s
		default:
			return LevelAuto
		}
	default:
		return LevelAuto
	}
}

// Preset is the concrete configuration a level stands for.
type Preset struct {
	MaxVisibleElements    int
	ClusteringEnabled     bool
	VirtualizationEnabled bool
}

var presets = map[Level]Preset{
	LevelLow:    {MaxVisibleElements: 10000},
	LevelMedium: {MaxVisibleElements: 5000, ClusteringEnabled: true},
	LevelHigh:   {MaxVisibleElements: 2000, ClusteringEnabled: true, VirtualizationEnabled: true},
	LevelUltra:  {MaxVisibleElements: 1000, ClusteringEnabled: true, VirtualizationEnabled: true},
}

// PresetFor returns the preset of a concrete level; AUTO has none.
func PresetFor(level Level) (Preset, bool) {
	p, ok := presets[level]
	return p, ok
}

// LevelForScore picks the level AUTO mode applies for a performance score: the worse the
// score, the more aggressive the optimization.
func LevelForScore(score float64) Level {
	switch {
	case score >= 80:
		return LevelLow
	case score >= 60:
		return LevelMedium
	case score >= 40:
		return LevelHigh
	default:
		return LevelUltra
	}
}
