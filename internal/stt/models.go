package stt

import (
	"context"
	"fmt"
	"strings"
)

// ModelSize selects the speed/accuracy trade-off of the recognizer
type ModelSize string

const (
	ModelTiny   ModelSize = "tiny"
	ModelBase   ModelSize = "base"
	ModelSmall  ModelSize = "small"
	ModelMedium ModelSize = "medium"
	ModelLarge  ModelSize = "large"
)

// ModelSizes lists the sizes from fastest to most accurate
var ModelSizes = []ModelSize{ModelTiny, ModelBase, ModelSmall, ModelMedium, ModelLarge}

// ParseModelSize parses a model size name
func ParseModelSize(s string) (ModelSize, error) {
	size := ModelSize(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range ModelSizes {
		if size == known {
			return size, nil
		}
	}
	return "", fmt.Errorf("unknown model size %q (want tiny, base, small, medium or large)", s)
}

// Request is one recognition call over a mono PCM buffer
type Request struct {
	PCM        []float32
	SampleRate int
	Model      ModelSize
	Language   string
}

// Duration returns the length of the request audio in seconds
func (r Request) Duration() float64 {
	if r.SampleRate <= 0 {
		return 0
	}
	return float64(len(r.PCM)) / float64(r.SampleRate)
}

// Segment is a span of recognized text with times relative to the request buffer
type Segment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Result is the output of one recognition call. Segments is empty when the
// recognizer returned untimed text only.
type Result struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments,omitempty"`
	Language string    `json:"language,omitempty"`
}

// Timed reports whether the result carries segment timing
func (r *Result) Timed() bool {
	return len(r.Segments) > 0
}

// Recognizer turns speech audio into text. Silence yields an empty result, not an error.
type Recognizer interface {
	Recognize(ctx context.Context, req Request) (*Result, error)
}

// Config represents recognizer configuration
type Config struct {
	Backend        string // openai, local
	APIKey         string
	BaseURL        string
	Language       string
	MaxRetries     int
	TimeoutSeconds int
	// Models overrides the model name used for a size
	Models map[string]string
}
