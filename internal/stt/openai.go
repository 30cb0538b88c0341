package stt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/tidwall/gjson"

	"github.com/yegors/diarscribe/internal/audio"
	"github.com/yegors/diarscribe/pkg/logger"
)

const (
	// buffers quieter than this are treated as silence without calling the API
	silenceRMS = 1e-4

	// whisper's own no-speech heuristic
	noSpeechThreshold = 0.6
	logprobThreshold  = -1.0
)

// ErrMissingAPIKey is returned when the hosted backend is used without a key
var ErrMissingAPIKey = errors.New("openai api key is not configured")

// localModels maps sizes to faster-whisper models served by OpenAI-compatible servers
var localModels = map[ModelSize]string{
	ModelTiny:   "Systran/faster-whisper-tiny",
	ModelBase:   "Systran/faster-whisper-base",
	ModelSmall:  "Systran/faster-whisper-small",
	ModelMedium: "Systran/faster-whisper-medium",
	ModelLarge:  "Systran/faster-whisper-large-v3",
}

// OpenAIRecognizer transcribes audio through the OpenAI audio API or any server that
// implements it.
type OpenAIRecognizer struct {
	client openai.Client
	config Config
	logger *logger.Logger
}

// NewOpenAIRecognizer creates a recognizer for the configured backend
func NewOpenAIRecognizer(config Config, logger *logger.Logger) (*OpenAIRecognizer, error) {
	var opts []option.RequestOption

	switch config.Backend {
	case "", "openai":
		if config.APIKey == "" {
			return nil, ErrMissingAPIKey
		}
		opts = append(opts, option.WithAPIKey(config.APIKey))
		if config.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(config.BaseURL))
		}
	case "local":
		if config.BaseURL == "" {
			return nil, fmt.Errorf("local recognizer requires a base url")
		}
		key := config.APIKey
		if key == "" {
			key = "local"
		}
		opts = append(opts, option.WithAPIKey(key), option.WithBaseURL(config.BaseURL))
	default:
		return nil, fmt.Errorf("unsupported recognizer backend: %s", config.Backend)
	}

	if config.MaxRetries >= 0 {
		opts = append(opts, option.WithMaxRetries(config.MaxRetries))
	}
	if config.TimeoutSeconds > 0 {
		opts = append(opts, option.WithRequestTimeout(time.Duration(config.TimeoutSeconds)*time.Second))
	}

	return &OpenAIRecognizer{
		client: openai.NewClient(opts...),
		config: config,
		logger: logger.Named("stt"),
	}, nil
}

// ModelName returns the model name requested for a size
func (r *OpenAIRecognizer) ModelName(size ModelSize) string {
	if name, ok := r.config.Models[string(size)]; ok && name != "" {
		return name
	}
	if r.config.Backend == "local" {
		if name, ok := localModels[size]; ok {
			return name
		}
		return localModels[ModelBase]
	}
	// The hosted API serves a single whisper model for every size
	return openai.AudioModelWhisper1
}

// Recognize sends the buffer as a WAV file and parses the verbose JSON response
func (r *OpenAIRecognizer) Recognize(ctx context.Context, req Request) (*Result, error) {
	if len(req.PCM) == 0 || audio.RMS(req.PCM) < silenceRMS {
		return &Result{}, nil
	}

	var wav bytes.Buffer
	if err := audio.EncodeWAV(&wav, req.PCM, req.SampleRate, 1); err != nil {
		return nil, fmt.Errorf("failed to encode request audio: %w", err)
	}

	model := r.ModelName(req.Model)
	params := openai.AudioTranscriptionNewParams{
		File:                   openai.File(bytes.NewReader(wav.Bytes()), "batch.wav", "audio/wav"),
		Model:                  openai.AudioModel(model),
		ResponseFormat:         openai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []string{"segment"},
		Temperature:            openai.Float(0),
	}
	language := req.Language
	if language == "" {
		language = r.config.Language
	}
	if language != "" {
		params.Language = openai.String(language)
	}

	start := time.Now()
	resp, err := r.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to transcribe audio: %w", err)
	}

	result := parseVerboseJSON(resp.RawJSON())
	if result.Text == "" && !result.Timed() {
		result.Text = strings.TrimSpace(resp.Text)
	}

	r.logger.Debug("Recognized batch",
		logger.String("model", model),
		logger.Float64("audio_seconds", req.Duration()),
		logger.Int("segments", len(result.Segments)),
		logger.Duration("elapsed", time.Since(start)))

	return result, nil
}

// parseVerboseJSON extracts timed segments from a verbose_json transcription body.
// Segments whisper itself considers non-speech are dropped.
func parseVerboseJSON(raw string) *Result {
	result := &Result{}
	if raw == "" || !gjson.Valid(raw) {
		return result
	}
	body := gjson.Parse(raw)
	result.Text = strings.TrimSpace(body.Get("text").String())
	result.Language = body.Get("language").String()

	body.Get("segments").ForEach(func(_, seg gjson.Result) bool {
		text := strings.TrimSpace(seg.Get("text").String())
		noSpeech := seg.Get("no_speech_prob").Float()
		avgLogprob := seg.Get("avg_logprob").Float()
		if text == "" || (noSpeech > noSpeechThreshold && avgLogprob < logprobThreshold) {
			return true
		}

		confidence := 1.0
		if seg.Get("avg_logprob").Exists() {
			confidence = math.Exp(avgLogprob) * (1 - noSpeech)
		}
		result.Segments = append(result.Segments, Segment{
			Start:      seg.Get("start").Float(),
			End:        seg.Get("end").Float(),
			Text:       text,
			Confidence: math.Max(0, math.Min(1, confidence)),
		})
		return true
	})

	// Every segment was silence: report no text at all.
	if body.Get("segments").IsArray() && len(body.Get("segments").Array()) > 0 && len(result.Segments) == 0 {
		result.Text = ""
	}
	return result
}
