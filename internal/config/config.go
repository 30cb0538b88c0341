package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config represents the application configuration
type Config struct {
	Logging       LoggingConfig       `toml:"logging"`
	Audio         AudioConfig         `toml:"audio"`
	Enhancement   EnhancementConfig   `toml:"enhancement"`
	Diarization   DiarizationConfig   `toml:"diarization"`
	Transcription TranscriptionConfig `toml:"transcription"`
	Storage       StorageConfig       `toml:"storage"`
	Server        ServerConfig        `toml:"server"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// AudioConfig represents the canonical audio format and decoding tools
type AudioConfig struct {
	SampleRate int    `toml:"sample_rate"`
	Channels   int    `toml:"channels"`
	WorkDir    string `toml:"work_dir"`
	FFmpegPath string `toml:"ffmpeg_path"`
	// Capture device passed to ffmpeg, e.g. "default" for pulse or ":0" for avfoundation
	CaptureFormat string `toml:"capture_format"`
	CaptureDevice string `toml:"capture_device"`
}

// EnhancementConfig represents the enhancement stage and its parameter search
type EnhancementConfig struct {
	Enabled             bool    `toml:"enabled"`
	Search              bool    `toml:"search"`
	CorrelationWeight   float64 `toml:"correlation_weight"`
	ContrastScaleDB     float64 `toml:"contrast_scale_db"`
	TieTolerance        float64 `toml:"tie_tolerance"`
	MinScore            float64 `toml:"min_score"`
	MaxAnalysisSeconds  float64 `toml:"max_analysis_seconds"`
	NoiseReduction      float64 `toml:"noise_reduction"`
	VoiceClarity        float64 `toml:"voice_clarity"`
	NormalizationTarget float64 `toml:"normalization_target"`
}

// DiarizationConfig represents the diarization collaborator settings
type DiarizationConfig struct {
	Backend         string  `toml:"backend"` // pyannote, aws, energy
	URL             string  `toml:"url"`
	Token           string  `toml:"token"`
	MergeGapSeconds float64 `toml:"merge_gap_seconds"`
	TimeoutSeconds  int     `toml:"timeout_seconds"`

	// AWS Transcribe speaker labels
	AWSRegion      string `toml:"aws_region"`
	AWSBucket      string `toml:"aws_bucket"`
	AWSLanguage    string `toml:"aws_language"`
	AWSMaxSpeakers int    `toml:"aws_max_speakers"`
	PollSeconds    int    `toml:"poll_seconds"`

	// Energy fallback
	SilenceThreshold  float64 `toml:"silence_threshold"`
	SpeakerGapSeconds float64 `toml:"speaker_gap_seconds"`
}

// TranscriptionConfig represents the speech-to-text collaborator and batching settings
type TranscriptionConfig struct {
	Backend             string            `toml:"backend"` // openai, local
	APIKey              string            `toml:"api_key"`
	BaseURL             string            `toml:"base_url"`
	ModelSize           string            `toml:"model_size"`
	Language            string            `toml:"language"`
	MaxBatchSeconds     float64           `toml:"max_batch_seconds"`
	MergeGapSeconds     float64           `toml:"merge_gap_seconds"`
	SliceGapSeconds     float64           `toml:"slice_gap_seconds"`
	BatchTimeoutSeconds int               `toml:"batch_timeout_seconds"`
	MaxRetries          int               `toml:"max_retries"`
	Models              map[string]string `toml:"models"`
}

// StorageConfig represents storage configuration
type StorageConfig struct {
	DatabasePath string `toml:"database_path"`
	OutputDir    string `toml:"output_dir"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host               string   `toml:"host"`
	Port               int      `toml:"port"`
	MaxConnections     int      `toml:"max_connections"`
	MaxUploadMB        int64    `toml:"max_upload_mb"`
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`
}

// Default returns a configuration with every key set to its default value.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "console"},
		Audio: AudioConfig{
			SampleRate:    16000,
			Channels:      1,
			WorkDir:       filepath.Join(os.TempDir(), "diarscribe"),
			FFmpegPath:    "ffmpeg",
			CaptureFormat: defaultCaptureFormat(),
			CaptureDevice: "default",
		},
		Enhancement: EnhancementConfig{
			Enabled:            false,
			Search:             true,
			CorrelationWeight:  0.5,
			ContrastScaleDB:    10,
			TieTolerance:       0.01,
			MinScore:           0.25,
			MaxAnalysisSeconds: 60,
		},
		Diarization: DiarizationConfig{
			Backend:           "pyannote",
			URL:               "http://127.0.0.1:8765/diarize",
			MergeGapSeconds:   0.5,
			TimeoutSeconds:    600,
			AWSLanguage:       "en-US",
			AWSMaxSpeakers:    10,
			PollSeconds:       5,
			SilenceThreshold:  0.02,
			SpeakerGapSeconds: 1.5,
		},
		Transcription: TranscriptionConfig{
			Backend:             "openai",
			ModelSize:           "base",
			MaxBatchSeconds:     30,
			MergeGapSeconds:     1.0,
			SliceGapSeconds:     0.5,
			BatchTimeoutSeconds: 120,
			MaxRetries:          2,
			Models:              map[string]string{},
		},
		Storage: StorageConfig{
			DatabasePath: defaultDataPath("diarscribe.db"),
			OutputDir:    ".",
		},
		Server: ServerConfig{
			Host:               "127.0.0.1",
			Port:               8080,
			MaxConnections:     64,
			MaxUploadMB:        512,
			CORSAllowedOrigins: []string{"*"},
		},
	}
}

// Load reads the configuration file at path, or the default location when path is
// empty, then applies environment overrides. A missing default file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = FilePath()
	}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
			}
		} else if explicit {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FilePath resolves the config file location from $DIARSCRIBE_CONFIG or the XDG
// config directory.
func FilePath() string {
	if v := os.Getenv("DIARSCRIBE_CONFIG"); v != "" {
		return expandTilde(v)
	}
	var configDir string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		configDir = filepath.Join(xdg, "diarscribe")
	} else if home, err := os.UserHomeDir(); err == nil {
		configDir = filepath.Join(home, ".config", "diarscribe")
	} else {
		return ""
	}
	return filepath.Join(configDir, "config.toml")
}

// Validate checks values that cannot be repaired by falling back to a default.
func (c *Config) Validate() error {
	switch c.Diarization.Backend {
	case "pyannote", "aws", "energy":
	default:
		return fmt.Errorf("unsupported diarization backend: %s", c.Diarization.Backend)
	}
	switch c.Transcription.Backend {
	case "openai", "local":
	default:
		return fmt.Errorf("unsupported transcription backend: %s", c.Transcription.Backend)
	}
	switch c.Transcription.ModelSize {
	case "tiny", "base", "small", "medium", "large":
	default:
		return fmt.Errorf("unsupported model size: %s", c.Transcription.ModelSize)
	}
	if c.Transcription.Backend == "local" && c.Transcription.BaseURL == "" {
		return fmt.Errorf("transcription backend local requires base_url")
	}
	if c.Diarization.Backend == "aws" && c.Diarization.AWSBucket == "" {
		return fmt.Errorf("diarization backend aws requires aws_bucket")
	}
	return nil
}

// normalize clamps out-of-range numbers back to their defaults.
func (c *Config) normalize() {
	def := Default()

	c.Audio.WorkDir = expandTilde(c.Audio.WorkDir)
	c.Storage.DatabasePath = expandTilde(c.Storage.DatabasePath)
	c.Storage.OutputDir = expandTilde(c.Storage.OutputDir)

	if c.Audio.SampleRate <= 0 {
		c.Audio.SampleRate = def.Audio.SampleRate
	}
	if c.Audio.Channels <= 0 {
		c.Audio.Channels = def.Audio.Channels
	}
	if c.Audio.FFmpegPath == "" {
		c.Audio.FFmpegPath = def.Audio.FFmpegPath
	}

	e := &c.Enhancement
	if e.CorrelationWeight < 0 || e.CorrelationWeight > 1 {
		e.CorrelationWeight = def.Enhancement.CorrelationWeight
	}
	if e.ContrastScaleDB <= 0 {
		e.ContrastScaleDB = def.Enhancement.ContrastScaleDB
	}
	if e.TieTolerance < 0 {
		e.TieTolerance = def.Enhancement.TieTolerance
	}
	if e.MaxAnalysisSeconds <= 0 {
		e.MaxAnalysisSeconds = def.Enhancement.MaxAnalysisSeconds
	}
	e.NoiseReduction = clamp01(e.NoiseReduction)
	e.VoiceClarity = clamp01(e.VoiceClarity)
	e.NormalizationTarget = clamp01(e.NormalizationTarget)

	d := &c.Diarization
	d.Backend = strings.ToLower(strings.TrimSpace(d.Backend))
	if d.MergeGapSeconds < 0 {
		d.MergeGapSeconds = def.Diarization.MergeGapSeconds
	}
	if d.TimeoutSeconds <= 0 {
		d.TimeoutSeconds = def.Diarization.TimeoutSeconds
	}
	if d.AWSMaxSpeakers < 2 {
		d.AWSMaxSpeakers = def.Diarization.AWSMaxSpeakers
	}
	if d.PollSeconds <= 0 {
		d.PollSeconds = def.Diarization.PollSeconds
	}
	if d.SilenceThreshold <= 0 || d.SilenceThreshold >= 1 {
		d.SilenceThreshold = def.Diarization.SilenceThreshold
	}
	if d.SpeakerGapSeconds <= 0 {
		d.SpeakerGapSeconds = def.Diarization.SpeakerGapSeconds
	}

	t := &c.Transcription
	t.Backend = strings.ToLower(strings.TrimSpace(t.Backend))
	t.ModelSize = strings.ToLower(strings.TrimSpace(t.ModelSize))
	if t.MaxBatchSeconds <= 0 {
		t.MaxBatchSeconds = def.Transcription.MaxBatchSeconds
	}
	if t.MergeGapSeconds < 0 {
		t.MergeGapSeconds = def.Transcription.MergeGapSeconds
	}
	if t.SliceGapSeconds < 0 {
		t.SliceGapSeconds = def.Transcription.SliceGapSeconds
	}
	if t.BatchTimeoutSeconds <= 0 {
		t.BatchTimeoutSeconds = def.Transcription.BatchTimeoutSeconds
	}
	if t.MaxRetries < 0 {
		t.MaxRetries = def.Transcription.MaxRetries
	}
	if t.Models == nil {
		t.Models = map[string]string{}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		c.Server.Port = def.Server.Port
	}
	if c.Server.MaxConnections <= 0 {
		c.Server.MaxConnections = def.Server.MaxConnections
	}
	if c.Server.MaxUploadMB <= 0 {
		c.Server.MaxUploadMB = def.Server.MaxUploadMB
	}
}

func applyEnvOverrides(cfg *Config) {
	// Provider-standard variables first so the prefixed ones win.
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Transcription.APIKey = v
	}
	if v := os.Getenv("HF_TOKEN"); v != "" {
		cfg.Diarization.Token = v
	}

	setString(&cfg.Logging.Level, "DIARSCRIBE_LOG_LEVEL")
	setString(&cfg.Logging.Format, "DIARSCRIBE_LOG_FORMAT")
	setString(&cfg.Audio.WorkDir, "DIARSCRIBE_WORK_DIR")
	setString(&cfg.Audio.FFmpegPath, "DIARSCRIBE_FFMPEG_PATH")
	setBool(&cfg.Enhancement.Enabled, "DIARSCRIBE_ENHANCE")
	setFloat(&cfg.Enhancement.CorrelationWeight, "DIARSCRIBE_CORRELATION_WEIGHT")
	setString(&cfg.Diarization.Backend, "DIARSCRIBE_DIARIZATION_BACKEND")
	setString(&cfg.Diarization.URL, "DIARSCRIBE_DIARIZATION_URL")
	setString(&cfg.Diarization.Token, "DIARSCRIBE_DIARIZATION_TOKEN")
	setFloat(&cfg.Diarization.MergeGapSeconds, "DIARSCRIBE_DIARIZATION_MERGE_GAP")
	setString(&cfg.Diarization.AWSRegion, "DIARSCRIBE_AWS_REGION")
	setString(&cfg.Diarization.AWSBucket, "DIARSCRIBE_AWS_BUCKET")
	setString(&cfg.Transcription.Backend, "DIARSCRIBE_TRANSCRIPTION_BACKEND")
	setString(&cfg.Transcription.APIKey, "DIARSCRIBE_OPENAI_API_KEY")
	setString(&cfg.Transcription.BaseURL, "DIARSCRIBE_STT_BASE_URL")
	setString(&cfg.Transcription.ModelSize, "DIARSCRIBE_MODEL_SIZE")
	setString(&cfg.Transcription.Language, "DIARSCRIBE_LANGUAGE")
	setFloat(&cfg.Transcription.MaxBatchSeconds, "DIARSCRIBE_MAX_BATCH_SECONDS")
	setFloat(&cfg.Transcription.MergeGapSeconds, "DIARSCRIBE_MERGE_GAP")
	setString(&cfg.Storage.DatabasePath, "DIARSCRIBE_DB_PATH")
	setString(&cfg.Storage.OutputDir, "DIARSCRIBE_OUTPUT_DIR")
	setString(&cfg.Server.Host, "DIARSCRIBE_HOST")
	setInt(&cfg.Server.Port, "DIARSCRIBE_PORT")
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func defaultCaptureFormat() string {
	if runtime.GOOS == "darwin" {
		return "avfoundation"
	}
	return "pulse"
}

func defaultDataPath(name string) string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "diarscribe", name)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "diarscribe", name)
	}
	return filepath.Join(".", name)
}

func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
