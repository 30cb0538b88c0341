package enhance

import (
	"errors"
	"fmt"
)

// ErrNotMono is returned when enhancement is asked to process a multi-channel asset.
var ErrNotMono = errors.New("enhancement requires a mono asset")

// Config is one point of the enhancement parameter space. Every field is in [0, 1]
// and a zero value disables its stage.
type Config struct {
	NoiseReduction      float64 `json:"noise_reduction"`
	VoiceClarity        float64 `json:"voice_clarity"`
	NormalizationTarget float64 `json:"normalization_target"` // peak amplitude
}

// Strength is the total amount of processing a config applies
func (c Config) Strength() float64 {
	return c.NoiseReduction + c.VoiceClarity + c.NormalizationTarget
}

// IsZero reports whether the config leaves the signal untouched
func (c Config) IsZero() bool {
	return c.NoiseReduction == 0 && c.VoiceClarity == 0 && c.NormalizationTarget == 0
}

// String formats the config for logs and transformation records
func (c Config) String() string {
	return fmt.Sprintf("nr=%.2f vc=%.2f norm=%.2f", c.NoiseReduction, c.VoiceClarity, c.NormalizationTarget)
}

// Clamp returns the config with every field limited to [0, 1]
func (c Config) Clamp() Config {
	return Config{
		NoiseReduction:      clamp01(c.NoiseReduction),
		VoiceClarity:        clamp01(c.VoiceClarity),
		NormalizationTarget: clamp01(c.NormalizationTarget),
	}
}

// SearchOptions controls the grid search scoring
type SearchOptions struct {
	// CorrelationWeight w weighs correlation against contrast improvement:
	// score = w*correlation + (1-w)*improvement/ContrastScaleDB
	CorrelationWeight  float64
	ContrastScaleDB    float64
	TieTolerance       float64
	MinScore           float64
	MaxAnalysisSeconds float64
}

// DefaultSearchOptions returns the default scoring parameters
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{
		CorrelationWeight:  0.5,
		ContrastScaleDB:    10,
		TieTolerance:       0.01,
		MinScore:           0.25,
		MaxAnalysisSeconds: 60,
	}
}

// Candidate is one evaluated grid point
type Candidate struct {
	Config      Config  `json:"config"`
	Correlation float64 `json:"correlation"`
	Improvement float64 `json:"contrast_improvement_db"`
	Score       float64 `json:"score"`
}

// SearchResult is the outcome of a grid search
type SearchResult struct {
	Config Config `json:"config"`
	Score  float64 `json:"score"`
	// Accepted is false when no candidate reached the minimum score and the zero
	// config was returned instead.
	Accepted   bool        `json:"accepted"`
	Candidates []Candidate `json:"candidates,omitempty"`
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
