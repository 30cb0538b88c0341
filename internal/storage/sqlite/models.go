package sqlite

import (
	"errors"
	"time"
)

// timeFormat sorts lexically; rows are read back with time.RFC3339Nano
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("record not found")

// TranscriptRecord is the summary row of a stored transcript
type TranscriptRecord struct {
	ID           string    `json:"id"`
	Source       string    `json:"source"`
	Duration     float64   `json:"duration"`
	SegmentCount int       `json:"segment_count"`
	SpeakerCount int       `json:"speaker_count"`
	FailedCount  int       `json:"failed_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// EnhancementRecord is a cached enhancement search result. Key combines the audio
// content hash and the search grid hash.
type EnhancementRecord struct {
	Key                 string    `json:"key"`
	NoiseReduction      float64   `json:"noise_reduction"`
	VoiceClarity        float64   `json:"voice_clarity"`
	NormalizationTarget float64   `json:"normalization_target"`
	Score               float64   `json:"score"`
	Accepted            bool      `json:"accepted"`
	CreatedAt           time.Time `json:"created_at"`
}
