package enhance

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/yegors/diarscribe/internal/audio"
	"github.com/yegors/diarscribe/pkg/logger"
)

// Enhancer applies the enhancement chain and searches for its parameters
type Enhancer struct {
	options SearchOptions
	logger  *logger.Logger
}

// NewEnhancer creates a new enhancer
func NewEnhancer(options SearchOptions, logger *logger.Logger) *Enhancer {
	def := DefaultSearchOptions()
	if options.CorrelationWeight < 0 || options.CorrelationWeight > 1 {
		options.CorrelationWeight = def.CorrelationWeight
	}
	if options.ContrastScaleDB <= 0 {
		options.ContrastScaleDB = def.ContrastScaleDB
	}
	if options.TieTolerance < 0 {
		options.TieTolerance = def.TieTolerance
	}
	if options.MaxAnalysisSeconds <= 0 {
		options.MaxAnalysisSeconds = def.MaxAnalysisSeconds
	}
	return &Enhancer{
		options: options,
		logger:  logger.Named("enhance"),
	}
}

// Options returns the scoring options in effect
func (e *Enhancer) Options() SearchOptions {
	return e.options
}

// DefaultGrid returns the bounded default candidate grid in a fixed order
func DefaultGrid() []Config {
	var grid []Config
	for _, nr := range []float64{0, 0.25, 0.5, 0.75} {
		for _, vc := range []float64{0, 0.25, 0.5} {
			for _, norm := range []float64{0, 0.9} {
				grid = append(grid, Config{NoiseReduction: nr, VoiceClarity: vc, NormalizationTarget: norm})
			}
		}
	}
	return grid
}

// Enhance returns a new asset with noise reduction, voice clarity and normalization
// applied in that order. A zero config returns the input asset unchanged.
func (e *Enhancer) Enhance(asset *audio.Asset, cfg Config) (*audio.Asset, error) {
	if asset.Channels != 1 {
		return nil, fmt.Errorf("%w: got %d channels", ErrNotMono, asset.Channels)
	}
	cfg = cfg.Clamp()
	if cfg.IsZero() {
		return asset, nil
	}

	out := asset.Clone()
	out.Samples = toFloat32(process(toFloat64(asset.Samples), asset.SampleRate, cfg))
	out.Record(audio.OpEnhance, "none", cfg.String())

	e.logger.Debug("Enhanced asset",
		logger.String("asset_id", asset.ID),
		logger.String("config", cfg.String()))

	return out, nil
}

// SearchBestConfig scores every grid candidate on a working copy of the asset and
// returns the best one. Among candidates within the tie tolerance of the best score
// the least aggressive wins, then the earliest in grid order. If no candidate reaches
// the minimum score the zero config is returned.
func (e *Enhancer) SearchBestConfig(asset *audio.Asset, grid []Config) (SearchResult, error) {
	if asset.Channels != 1 {
		return SearchResult{}, fmt.Errorf("%w: got %d channels", ErrNotMono, asset.Channels)
	}
	if len(grid) == 0 {
		grid = DefaultGrid()
	}

	work := toFloat64(asset.Samples)
	if limit := int(e.options.MaxAnalysisSeconds * float64(asset.SampleRate)); limit > 0 && len(work) > limit {
		work = work[:limit]
	}
	baseContrast := spectralContrast(work, asset.SampleRate)

	candidates := make([]Candidate, len(grid))
	best := math.Inf(-1)
	for i, raw := range grid {
		cfg := raw.Clamp()
		processed := process(work, asset.SampleRate, cfg)
		corr := correlation(work, processed)
		improvement := spectralContrast(processed, asset.SampleRate) - baseContrast
		s := score(corr, improvement, e.options)
		candidates[i] = Candidate{Config: cfg, Correlation: corr, Improvement: improvement, Score: s}
		if s > best {
			best = s
		}
	}

	if best < e.options.MinScore {
		e.logger.Info("No enhancement candidate reached the minimum score",
			logger.Float64("best_score", best),
			logger.Float64("min_score", e.options.MinScore))
		return SearchResult{Config: Config{}, Score: best, Accepted: false, Candidates: candidates}, nil
	}

	chosen := -1
	for i, c := range candidates {
		if c.Score < best-e.options.TieTolerance {
			continue
		}
		if chosen < 0 || c.Config.Strength() < candidates[chosen].Config.Strength() {
			chosen = i
		}
	}

	result := SearchResult{
		Config:     candidates[chosen].Config,
		Score:      candidates[chosen].Score,
		Accepted:   true,
		Candidates: candidates,
	}

	e.logger.Info("Selected enhancement config",
		logger.String("config", result.Config.String()),
		logger.Float64("score", result.Score),
		logger.Int("candidates", len(grid)))

	return result, nil
}

// GridKey identifies a grid and scoring options for caching search results
func (e *Enhancer) GridKey(grid []Config) string {
	if len(grid) == 0 {
		grid = DefaultGrid()
	}
	h := sha256.New()
	fmt.Fprintf(h, "w=%g scale=%g tol=%g min=%g max=%g;",
		e.options.CorrelationWeight, e.options.ContrastScaleDB, e.options.TieTolerance,
		e.options.MinScore, e.options.MaxAnalysisSeconds)
	for _, c := range grid {
		fmt.Fprintf(h, "%g,%g,%g;", c.NoiseReduction, c.VoiceClarity, c.NormalizationTarget)
	}
	return hex.EncodeToString(h.Sum(nil))
}
