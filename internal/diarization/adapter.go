package diarization

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/yegors/diarscribe/internal/audio"
	"github.com/yegors/diarscribe/pkg/logger"
)

// Adapter runs a diarization collaborator on canonical audio and normalizes its output
type Adapter struct {
	model  Model
	store  *audio.Store
	config Config
	logger *logger.Logger
}

// NewAdapter creates a new diarization adapter
func NewAdapter(model Model, store *audio.Store, config Config, logger *logger.Logger) *Adapter {
	if config.SampleRate <= 0 {
		config.SampleRate = 16000
	}
	return &Adapter{
		model:  model,
		store:  store,
		config: config,
		logger: logger.Named("diarization"),
	}
}

// Diarize converts the asset to canonical mono if needed, runs the collaborator and
// returns ordered, non-overlapping turns.
func (a *Adapter) Diarize(ctx context.Context, asset *audio.Asset) ([]Turn, error) {
	canonical, err := a.store.Convert(ctx, asset, a.config.SampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare audio for diarization: %w", err)
	}

	start := time.Now()
	raw, err := a.model.Diarize(ctx, canonical.Samples, canonical.SampleRate)
	if err != nil {
		if errors.Is(err, ErrDiarizationUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to diarize: %w", err)
	}

	turns := Normalize(raw, canonical.Duration(), a.config.MergeGapSeconds)

	a.logger.Info("Diarization complete",
		logger.String("asset_id", asset.ID),
		logger.Int("raw_turns", len(raw)),
		logger.Int("turns", len(turns)),
		logger.Int("speakers", countSpeakers(turns)),
		logger.Duration("elapsed", time.Since(start)))

	return turns, nil
}

// Normalize turns collaborator output into a strictly ordered, non-overlapping turn
// sequence. Invalid turns are dropped and valid ones clamped to [0, duration] (a
// non-positive duration disables the upper clamp). Where turns overlap the most
// recently started one owns the overlap. Same-speaker neighbours separated by less
// than mergeGap seconds are merged.
func Normalize(raw []RawTurn, duration, mergeGap float64) []Turn {
	valid := make([]Turn, 0, len(raw))
	for _, r := range raw {
		if math.IsNaN(r.Start) || math.IsNaN(r.End) || math.IsInf(r.Start, 0) || math.IsInf(r.End, 0) {
			continue
		}
		t := Turn{Start: math.Max(0, r.Start), End: r.End, Speaker: r.Speaker}
		if duration > 0 {
			t.End = math.Min(t.End, duration)
		}
		if t.End <= t.Start {
			continue
		}
		valid = append(valid, t)
	}
	if len(valid) == 0 {
		return nil
	}

	pieces := resolveOverlaps(valid)
	return mergeSameSpeaker(pieces, mergeGap)
}

// resolveOverlaps splits the timeline at every turn boundary and assigns each
// elementary interval to one active turn.
func resolveOverlaps(turns []Turn) []Turn {
	bounds := make([]float64, 0, 2*len(turns))
	for _, t := range turns {
		bounds = append(bounds, t.Start, t.End)
	}
	sort.Float64s(bounds)
	bounds = uniqueSorted(bounds)

	var out []Turn
	for i := 0; i+1 < len(bounds); i++ {
		lo, hi := bounds[i], bounds[i+1]
		owner := -1
		for j, t := range turns {
			if t.Start > lo || t.End < hi {
				continue
			}
			if owner < 0 || outranks(t, turns[owner]) {
				owner = j
			}
		}
		if owner < 0 {
			continue
		}
		speaker := turns[owner].Speaker
		if n := len(out); n > 0 && out[n-1].Speaker == speaker && out[n-1].End == lo {
			out[n-1].End = hi
			continue
		}
		out = append(out, Turn{Start: lo, End: hi, Speaker: speaker})
	}
	return out
}

// outranks reports whether a should own an interval that b also covers
func outranks(a, b Turn) bool {
	if a.Start != b.Start {
		return a.Start > b.Start
	}
	if a.End != b.End {
		return a.End < b.End
	}
	return a.Speaker < b.Speaker
}

func mergeSameSpeaker(turns []Turn, gap float64) []Turn {
	out := make([]Turn, 0, len(turns))
	for _, t := range turns {
		if n := len(out); n > 0 && out[n-1].Speaker == t.Speaker && t.Start-out[n-1].End < gap {
			out[n-1].End = math.Max(out[n-1].End, t.End)
			continue
		}
		out = append(out, t)
	}
	return out
}

func uniqueSorted(xs []float64) []float64 {
	out := xs[:0]
	for _, x := range xs {
		if len(out) == 0 || x != out[len(out)-1] {
			out = append(out, x)
		}
	}
	return out
}

func countSpeakers(turns []Turn) int {
	seen := make(map[string]struct{})
	for _, t := range turns {
		seen[t.Speaker] = struct{}{}
	}
	return len(seen)
}
