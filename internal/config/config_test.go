package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWhenNoFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("DIARSCRIBE_CONFIG", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("HF_TOKEN", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.Audio.SampleRate != 16000 || cfg.Audio.Channels != 1 {
		t.Fatalf("unexpected canonical format: %+v", cfg.Audio)
	}
	if cfg.Enhancement.CorrelationWeight != 0.5 {
		t.Fatalf("unexpected correlation weight: %v", cfg.Enhancement.CorrelationWeight)
	}
	if cfg.Transcription.MaxBatchSeconds != 30 || cfg.Transcription.ModelSize != "base" {
		t.Fatalf("unexpected transcription defaults: %+v", cfg.Transcription)
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
[logging]
level = "debug"

[enhancement]
correlation_weight = 0.8
noise_reduction = 3.0

[diarization]
backend = "energy"
merge_gap_seconds = 3.0

[transcription]
model_size = "small"
max_batch_seconds = -5

[transcription.models]
small = "whisper-small-custom"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("HF_TOKEN", "hf_test")
	t.Setenv("DIARSCRIBE_MODEL_SIZE", "medium")
	t.Setenv("DIARSCRIBE_PORT", "9090")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected log level: %q", cfg.Logging.Level)
	}
	if cfg.Enhancement.CorrelationWeight != 0.8 {
		t.Fatalf("unexpected correlation weight: %v", cfg.Enhancement.CorrelationWeight)
	}
	if cfg.Enhancement.NoiseReduction != 1 {
		t.Fatalf("expected noise reduction clamped to 1, got %v", cfg.Enhancement.NoiseReduction)
	}
	if cfg.Diarization.Backend != "energy" || cfg.Diarization.MergeGapSeconds != 3 {
		t.Fatalf("unexpected diarization config: %+v", cfg.Diarization)
	}
	if cfg.Diarization.Token != "hf_test" {
		t.Fatalf("expected HF_TOKEN override, got %q", cfg.Diarization.Token)
	}
	if cfg.Transcription.ModelSize != "medium" {
		t.Fatalf("expected env model size, got %q", cfg.Transcription.ModelSize)
	}
	if cfg.Transcription.MaxBatchSeconds != 30 {
		t.Fatalf("expected invalid batch ceiling to fall back, got %v", cfg.Transcription.MaxBatchSeconds)
	}
	if cfg.Transcription.Models["small"] != "whisper-small-custom" {
		t.Fatalf("unexpected model mapping: %v", cfg.Transcription.Models)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("unexpected port: %d", cfg.Server.Port)
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("[diarization]\nbackend = \"magic\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("DIARSCRIBE_DIARIZATION_BACKEND", "")

	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatalf("expected error for missing explicit config file")
	}
}
