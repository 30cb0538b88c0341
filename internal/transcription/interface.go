package transcription

import (
	"context"

	"github.com/yegors/diarscribe/internal/audio"
	"github.com/yegors/diarscribe/internal/diarization"
	"github.com/yegors/diarscribe/internal/transcript"
)

// Transcriber turns diarized audio into a speaker-attributed transcript
type Transcriber interface {
	Transcribe(ctx context.Context, asset *audio.Asset, turns []diarization.Turn) (*transcript.Transcript, error)
}

// Ensure the engine implements the interface
var _ Transcriber = (*Engine)(nil)
