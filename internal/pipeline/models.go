package pipeline

import (
	"time"

	"github.com/yegors/diarscribe/internal/diarization"
	"github.com/yegors/diarscribe/internal/enhance"
	"github.com/yegors/diarscribe/internal/speakers"
	"github.com/yegors/diarscribe/internal/stt"
	"github.com/yegors/diarscribe/internal/transcript"
	"github.com/yegors/diarscribe/internal/transcription"
)

// Stage names reported in events
const (
	StageLoad       = "load"
	StageConvert    = "convert"
	StageEnhance    = "enhance"
	StageDiarize    = "diarize"
	StageTranscribe = "transcribe"
	StageName       = "name"
	StageStore      = "store"
	StagePersist    = "persist"
	StageDone       = "done"
	StageFailed     = "failed"
)

// EnhanceMode selects how the enhancement stage is configured
type EnhanceMode string

const (
	EnhanceOff    EnhanceMode = "off"
	EnhanceFixed  EnhanceMode = "fixed"
	EnhanceSearch EnhanceMode = "search"
)

// Config represents the pipeline configuration
type Config struct {
	SampleRate    int
	Diarization   diarization.Config
	Transcription transcription.Config
}

// Options controls a single run
type Options struct {
	SessionID string
	// Source overrides the source name recorded on the transcript
	Source string

	Enhance       EnhanceMode
	EnhanceConfig enhance.Config   // used with EnhanceFixed
	Grid          []enhance.Config // used with EnhanceSearch; empty means the default grid

	// Model overrides the configured recognizer model size
	Model stt.ModelSize

	// Prompter names speakers after transcription. Nil keeps the placeholders.
	Prompter speakers.Prompter

	Store      bool
	OutputPath string
}

// Result is the outcome of a run
type Result struct {
	SessionID   string                 `json:"session_id"`
	Transcript  *transcript.Transcript `json:"transcript"`
	Enhancement enhance.Config         `json:"enhancement"`
	OutputPath  string                 `json:"output_path,omitempty"`
	Stored      bool                   `json:"stored"`
	Elapsed     time.Duration          `json:"elapsed"`
}

// Event reports pipeline progress
type Event struct {
	SessionID string                 `json:"session_id"`
	Stage     string                 `json:"stage"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// EventSink receives pipeline events. Emit must not block for long.
type EventSink interface {
	Emit(Event)
}

// SinkFunc adapts a function to EventSink
type SinkFunc func(Event)

// Emit calls f(e)
func (f SinkFunc) Emit(e Event) {
	f(e)
}
