package diarization

import (
	"context"
	"errors"
	"fmt"
)

// ErrDiarizationUnavailable is returned when the diarization collaborator cannot be
// reached, authenticated, or configured. It is a configuration problem and is not retried.
var ErrDiarizationUnavailable = errors.New("diarization unavailable")

// Turn is one speaker turn. Start < End, in seconds from the start of the asset.
// Speaker is an opaque cluster label that is only meaningful within one run.
type Turn struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

// Duration returns the turn length in seconds
func (t Turn) Duration() float64 {
	return t.End - t.Start
}

func (t Turn) String() string {
	return fmt.Sprintf("%.3f-%.3f %s", t.Start, t.End, t.Speaker)
}

// RawTurn is a turn as reported by a collaborator, possibly unordered, overlapping
// or invalid.
type RawTurn struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

// Model is a diarization collaborator. It receives mono PCM at sampleRate.
type Model interface {
	Diarize(ctx context.Context, pcm []float32, sampleRate int) ([]RawTurn, error)
}

// Config represents the adapter configuration
type Config struct {
	SampleRate      int
	MergeGapSeconds float64
}

// PyannoteConfig configures the pyannote service client
type PyannoteConfig struct {
	URL            string
	Token          string
	TimeoutSeconds int
}

// TranscribeConfig configures the AWS Transcribe speaker-label collaborator
type TranscribeConfig struct {
	Region       string
	Bucket       string
	LanguageCode string
	MaxSpeakers  int
	PollSeconds  int
}

// EnergyConfig configures the offline energy-based collaborator
type EnergyConfig struct {
	SilenceThreshold  float64
	SpeakerGapSeconds float64
}
