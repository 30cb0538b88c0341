package stt

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/yegors/diarscribe/pkg/logger"
)

func tone(seconds float64) []float32 {
	n := int(seconds * 16000)
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.3 * math.Sin(2*math.Pi*300*float64(i)/16000))
	}
	return out
}

func TestParseModelSize(t *testing.T) {
	t.Parallel()

	size, err := ParseModelSize(" Medium ")
	if err != nil || size != ModelMedium {
		t.Fatalf("unexpected parse result: %v %v", size, err)
	}
	if _, err := ParseModelSize("huge"); err == nil {
		t.Fatalf("expected error for unknown size")
	}
}

func TestParseVerboseJSONDropsNonSpeech(t *testing.T) {
	t.Parallel()

	raw := `{
		"text": " hello there  general",
		"language": "english",
		"segments": [
			{"start": 0.0, "end": 1.2, "text": " hello there", "avg_logprob": -0.1, "no_speech_prob": 0.05},
			{"start": 1.5, "end": 2.0, "text": " um", "avg_logprob": -1.6, "no_speech_prob": 0.9},
			{"start": 2.2, "end": 3.0, "text": " general", "avg_logprob": -0.3, "no_speech_prob": 0.1}
		]
	}`
	res := parseVerboseJSON(raw)
	if len(res.Segments) != 2 {
		t.Fatalf("expected 2 speech segments, got %+v", res.Segments)
	}
	if res.Segments[0].Text != "hello there" || res.Segments[1].Start != 2.2 {
		t.Fatalf("unexpected segments: %+v", res.Segments)
	}
	want := math.Exp(-0.1) * 0.95
	if math.Abs(res.Segments[0].Confidence-want) > 1e-9 {
		t.Fatalf("unexpected confidence: %v", res.Segments[0].Confidence)
	}
}

func TestParseVerboseJSONAllSilence(t *testing.T) {
	t.Parallel()

	raw := `{"text": " you", "segments": [{"start": 0, "end": 2, "text": " you", "avg_logprob": -2.0, "no_speech_prob": 0.95}]}`
	res := parseVerboseJSON(raw)
	if res.Text != "" || res.Timed() {
		t.Fatalf("expected empty result, got %+v", res)
	}
}

func TestRecognizeAgainstCompatibleServer(t *testing.T) {
	t.Parallel()

	models := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			http.Error(w, "unexpected path "+r.URL.Path, http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		models <- r.FormValue("model")
		if _, _, err := r.FormFile("file"); err != nil {
			http.Error(w, "missing file", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"text": "good morning",
			"segments": []map[string]any{
				{"start": 0.1, "end": 0.9, "text": " good morning", "avg_logprob": -0.2, "no_speech_prob": 0.01},
			},
		})
	}))
	defer server.Close()

	rec, err := NewOpenAIRecognizer(Config{Backend: "local", BaseURL: server.URL + "/v1/", MaxRetries: 0}, logger.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res, err := rec.Recognize(context.Background(), Request{PCM: tone(1), SampleRate: 16000, Model: ModelSmall})
	if err != nil {
		t.Fatalf("recognize failed: %v", err)
	}
	if gotModel := <-models; gotModel != "Systran/faster-whisper-small" {
		t.Fatalf("unexpected model sent: %q", gotModel)
	}
	if len(res.Segments) != 1 || res.Segments[0].Text != "good morning" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRecognizeSilenceSkipsServer(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "should not be called", http.StatusInternalServerError)
	}))
	defer server.Close()

	rec, err := NewOpenAIRecognizer(Config{Backend: "local", BaseURL: server.URL + "/v1/"}, logger.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res, err := rec.Recognize(context.Background(), Request{PCM: make([]float32, 16000), SampleRate: 16000})
	if err != nil {
		t.Fatalf("silence should not error: %v", err)
	}
	if res.Text != "" || res.Timed() || calls.Load() != 0 {
		t.Fatalf("expected empty result without a request, got %+v after %d calls", res, calls.Load())
	}
}

func TestNewOpenAIRecognizerRequiresKey(t *testing.T) {
	t.Parallel()

	if _, err := NewOpenAIRecognizer(Config{Backend: "openai"}, logger.NewNop()); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestModelNameOverrides(t *testing.T) {
	t.Parallel()

	rec, err := NewOpenAIRecognizer(Config{Backend: "openai", APIKey: "k", Models: map[string]string{"large": "gpt-4o-transcribe"}}, logger.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := rec.ModelName(ModelLarge); got != "gpt-4o-transcribe" {
		t.Fatalf("unexpected override: %q", got)
	}
	if got := rec.ModelName(ModelTiny); got != "whisper-1" {
		t.Fatalf("unexpected default: %q", got)
	}
}
