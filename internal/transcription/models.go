package transcription

import (
	"errors"
	"time"

	"github.com/yegors/diarscribe/internal/stt"
)

// ErrTranscriptionFailure marks turns whose batch could not be transcribed after the retry
var ErrTranscriptionFailure = errors.New("transcription failed")

// BatchEvent reports the outcome of one batch
type BatchEvent struct {
	Batch     int       // 1-based batch number
	Batches   int       // Total batches planned
	Turns     int       // Turns in the batch
	Failed    int       // Turns that could not be transcribed
	Retried   bool      // Whether the batch was split and retried
	Timestamp time.Time // When the batch finished
}

// Config represents the configuration for the transcription engine
type Config struct {
	Model           stt.ModelSize
	Language        string
	MaxBatchSeconds float64
	SliceGapSeconds float64
	MergeGapSeconds float64
	BatchTimeout    time.Duration
}

// DefaultConfig returns the engine defaults
func DefaultConfig() Config {
	return Config{
		Model:           stt.ModelBase,
		MaxBatchSeconds: 30,
		SliceGapSeconds: 0.5,
		MergeGapSeconds: 1.0,
		BatchTimeout:    2 * time.Minute,
	}
}

// slot is the position of one turn slice inside a batch buffer
type slot struct {
	turn     int     // index into the sorted turns
	offset   float64 // start of the slice in the batch buffer, seconds
	duration float64 // slice length, seconds
}

// batch is the concatenated audio of a group of turns
type batch struct {
	slots []slot
	pcm   []float32
}

// turnText is the recognized text attributed to one turn
type turnText struct {
	parts      []string
	confidence float64 // duration-weighted sum
	weight     float64
	failed     bool
	err        error
}
