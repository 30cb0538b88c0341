package diarization

import (
	"context"
	"fmt"

	"github.com/yegors/diarscribe/internal/audio"
	"github.com/yegors/diarscribe/pkg/logger"
)

const (
	energyFrameSeconds  = 0.03
	energyBridgeSeconds = 0.25
	energyMinSeconds    = 0.1
)

// EnergyDiarizer is an offline heuristic collaborator. It finds voiced regions by
// frame energy and alternates between two speakers whenever the silence between
// regions reaches SpeakerGapSeconds. It needs no credentials or network.
type EnergyDiarizer struct {
	config EnergyConfig
	logger *logger.Logger
}

// NewEnergyDiarizer creates a new energy-based diarizer
func NewEnergyDiarizer(config EnergyConfig, logger *logger.Logger) *EnergyDiarizer {
	if config.SilenceThreshold <= 0 {
		config.SilenceThreshold = 0.02
	}
	if config.SpeakerGapSeconds <= 0 {
		config.SpeakerGapSeconds = 1.5
	}
	return &EnergyDiarizer{
		config: config,
		logger: logger.Named("energy"),
	}
}

// Diarize implements Model
func (e *EnergyDiarizer) Diarize(ctx context.Context, pcm []float32, sampleRate int) ([]RawTurn, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	frame := int(energyFrameSeconds * float64(sampleRate))
	if frame < 1 {
		frame = 1
	}

	type region struct{ start, end float64 }
	var regions []region
	inVoice := false
	var regionStart float64

	for off := 0; off < len(pcm); off += frame {
		if off%(frame*1000) == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		end := min(off+frame, len(pcm))
		t0 := float64(off) / float64(sampleRate)
		t1 := float64(end) / float64(sampleRate)
		voiced := audio.RMS(pcm[off:end]) >= e.config.SilenceThreshold

		switch {
		case voiced && !inVoice:
			inVoice = true
			regionStart = t0
			if n := len(regions); n > 0 && t0-regions[n-1].end < energyBridgeSeconds {
				regionStart = regions[n-1].start
				regions = regions[:n-1]
			}
		case !voiced && inVoice:
			inVoice = false
			regions = append(regions, region{regionStart, t0})
		}
		if voiced && end == len(pcm) {
			regions = append(regions, region{regionStart, t1})
		}
	}

	var turns []RawTurn
	speaker := 0
	var lastEnd float64
	for _, r := range regions {
		if r.end-r.start < energyMinSeconds {
			continue
		}
		if len(turns) > 0 && r.start-lastEnd >= e.config.SpeakerGapSeconds {
			speaker = 1 - speaker
		}
		turns = append(turns, RawTurn{
			Start:   r.start,
			End:     r.end,
			Speaker: fmt.Sprintf("SPEAKER_%02d", speaker),
		})
		lastEnd = r.end
	}

	e.logger.Debug("Energy diarization complete",
		logger.Int("regions", len(regions)),
		logger.Int("turns", len(turns)))
	return turns, nil
}
