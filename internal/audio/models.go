package audio

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"math"
	"time"
)

var (
	// ErrUnsupportedFormat is returned when a source cannot be decoded.
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	// ErrIOFailure is returned when a source cannot be read or an intermediate file cannot be written.
	ErrIOFailure = errors.New("audio i/o failure")
)

// Encoding and container names recorded on assets
const (
	FormatWAV = "wav"
	FormatRaw = "raw"

	EncodingPCM8    = "pcm_u8"
	EncodingPCM16   = "pcm_s16le"
	EncodingPCM24   = "pcm_s24le"
	EncodingPCM32   = "pcm_s32le"
	EncodingFloat32 = "pcm_f32le"
)

// Transformation operations
const (
	OpDecode   = "decode"
	OpDownmix  = "downmix"
	OpResample = "resample"
	OpFormat   = "format"
	OpEnhance  = "enhance"
)

// Transformation is one entry of an asset's processing log
type Transformation struct {
	Operation string `json:"operation"`
	Before    string `json:"before"`
	After     string `json:"after"`
}

// Asset is a decoded audio recording. Samples are interleaved and normalized to [-1, 1].
type Asset struct {
	ID              string           `json:"id"`
	Source          string           `json:"source"`
	Path            string           `json:"path,omitempty"`
	Format          string           `json:"format"`
	Encoding        string           `json:"encoding"`
	SampleRate      int              `json:"sample_rate"`
	Channels        int              `json:"channels"`
	Samples         []float32        `json:"-"`
	Transformations []Transformation `json:"transformations"`
}

// Frames returns the number of sample frames
func (a *Asset) Frames() int {
	if a.Channels <= 0 {
		return 0
	}
	return len(a.Samples) / a.Channels
}

// Duration returns the asset length in seconds
func (a *Asset) Duration() float64 {
	if a.SampleRate <= 0 {
		return 0
	}
	return float64(a.Frames()) / float64(a.SampleRate)
}

// IsCanonical reports whether the asset already has the given layout as 16-bit WAV.
func (a *Asset) IsCanonical(sampleRate, channels int) bool {
	return a.SampleRate == sampleRate &&
		a.Channels == channels &&
		a.Format == FormatWAV &&
		a.Encoding == EncodingPCM16
}

// Clone returns a deep copy that shares nothing with the receiver
func (a *Asset) Clone() *Asset {
	c := *a
	c.Samples = append([]float32(nil), a.Samples...)
	c.Transformations = append([]Transformation(nil), a.Transformations...)
	return &c
}

// Fingerprint returns a content hash of the sample data and layout.
func (a *Asset) Fingerprint() string {
	h := sha256.New()
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(a.SampleRate))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(a.Channels))
	h.Write(hdr[:])

	buf := make([]byte, 4*4096)
	for i := 0; i < len(a.Samples); i += 4096 {
		end := min(i+4096, len(a.Samples))
		n := 0
		for _, s := range a.Samples[i:end] {
			binary.LittleEndian.PutUint32(buf[n:], math.Float32bits(s))
			n += 4
		}
		h.Write(buf[:n])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Record appends an entry to the transformation log
func (a *Asset) Record(op, before, after string) {
	a.Transformations = append(a.Transformations, Transformation{Operation: op, Before: before, After: after})
}

// Metadata is a read-only snapshot of an asset
type Metadata struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Source          string        `json:"source"`
	Format          string        `json:"format"`
	Encoding        string        `json:"encoding"`
	SampleRate      int           `json:"sample_rate"`
	Channels        int           `json:"channels"`
	Duration        time.Duration `json:"duration"`
	SizeBytes       int64         `json:"size_bytes"`
	Transformations int           `json:"transformations"`
}

// StoreConfig represents AudioStore configuration
type StoreConfig struct {
	WorkDir    string
	FFmpegPath string
}

// CaptureOptions represents microphone capture settings
type CaptureOptions struct {
	InputFormat string
	InputDevice string
	SampleRate  int
	Channels    int
	// MaxDuration stops the capture on its own; zero records until the context ends.
	MaxDuration time.Duration
	// OnLevel receives the RMS level of every captured chunk.
	OnLevel func(rms float64)
}
