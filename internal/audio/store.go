package audio

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yegors/diarscribe/pkg/logger"
)

// containerFormats are decoded through ffmpeg
var containerFormats = map[string]bool{
	"mp3": true, "m4a": true, "mp4": true, "aac": true, "ogg": true, "oga": true,
	"opus": true, "flac": true, "webm": true, "wma": true, "mkv": true, "mov": true,
	"aiff": true, "aif": true,
}

// IsSupported reports whether path has an extension Load can decode
func IsSupported(path string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	return ext == FormatWAV || ext == "wave" || containerFormats[ext]
}

// Store loads, converts and describes audio assets
type Store struct {
	config  StoreConfig
	decoder *FFmpeg
	logger  *logger.Logger
}

// NewStore creates a new audio store
func NewStore(config StoreConfig, logger *logger.Logger) *Store {
	return &Store{
		config:  config,
		decoder: NewFFmpeg(config.FFmpegPath),
		logger:  logger.Named("audio"),
	}
}

// FFmpeg returns the ffmpeg wrapper used by the store
func (s *Store) FFmpeg() *FFmpeg {
	return s.decoder
}

// Load decodes the file at source into an asset. WAV is parsed natively, other known
// containers go through ffmpeg into an intermediate WAV in the work directory.
func (s *Store) Load(ctx context.Context, source string) (*Asset, error) {
	info, err := os.Stat(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrIOFailure, source)
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(source)), ".")
	id := uuid.NewString()

	switch {
	case ext == FormatWAV || ext == "wave":
		asset, err := s.loadWAV(source)
		if err != nil {
			return nil, err
		}
		asset.ID = id
		asset.Source = source
		s.logger.Debug("Loaded wav asset",
			logger.String("source", source),
			logger.Int("sample_rate", asset.SampleRate),
			logger.Int("channels", asset.Channels),
			logger.Float64("duration", asset.Duration()))
		return asset, nil

	case containerFormats[ext]:
		if err := s.ensureWorkDir(); err != nil {
			return nil, err
		}
		intermediate := filepath.Join(s.config.WorkDir, id+".decoded.wav")
		if err := s.decoder.Decode(ctx, source, intermediate); err != nil {
			return nil, err
		}
		asset, err := s.loadWAV(intermediate)
		if err != nil {
			return nil, err
		}
		asset.ID = id
		asset.Source = source
		asset.Record(OpDecode, ext, FormatWAV+"/"+asset.Encoding)
		s.logger.Debug("Decoded container through ffmpeg",
			logger.String("source", source),
			logger.String("format", ext),
			logger.String("intermediate", intermediate))
		return asset, nil

	default:
		// Unknown extension: accept it only if the content is a WAV stream.
		asset, err := s.loadWAV(source)
		if err != nil {
			if errors.Is(err, ErrUnsupportedFormat) {
				return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Base(source))
			}
			return nil, err
		}
		asset.ID = id
		asset.Source = source
		return asset, nil
	}
}

func (s *Store) loadWAV(path string) (*Asset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	defer f.Close()

	pcm, err := DecodeWAV(f)
	if err != nil {
		return nil, err
	}
	return &Asset{
		Path:       path,
		Format:     FormatWAV,
		Encoding:   pcm.Encoding,
		SampleRate: pcm.SampleRate,
		Channels:   pcm.Channels,
		Samples:    pcm.Samples,
	}, nil
}

// FromPCM wraps an in-memory buffer of interleaved float samples as an asset.
func (s *Store) FromPCM(name string, samples []float32, sampleRate, channels int) *Asset {
	return &Asset{
		ID:         uuid.NewString(),
		Source:     "memory:" + name,
		Format:     FormatRaw,
		Encoding:   EncodingFloat32,
		SampleRate: sampleRate,
		Channels:   channels,
		Samples:    samples,
	}
}

// Convert returns an asset with the requested layout as 16-bit WAV. An asset already in
// that layout is returned as is with no new transformation record. Otherwise a new asset
// is returned with one record per changed property and, when a work directory is
// configured, the converted audio is written there.
func (s *Store) Convert(ctx context.Context, asset *Asset, sampleRate, channels int) (*Asset, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("invalid conversion target: %d Hz, %d channels", sampleRate, channels)
	}
	if asset.IsCanonical(sampleRate, channels) {
		return asset, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := asset.Clone()
	out.ID = uuid.NewString()

	if out.Channels != channels {
		out.Samples = remix(out.Samples, out.Channels, channels)
		out.Record(OpDownmix, fmt.Sprintf("%dch", out.Channels), fmt.Sprintf("%dch", channels))
		out.Channels = channels
	}
	if out.SampleRate != sampleRate {
		out.Samples = resample(out.Samples, out.Channels, out.SampleRate, sampleRate)
		out.Record(OpResample, fmt.Sprintf("%dHz", out.SampleRate), fmt.Sprintf("%dHz", sampleRate))
		out.SampleRate = sampleRate
	}
	if out.Format != FormatWAV || out.Encoding != EncodingPCM16 {
		quantizePCM16(out.Samples)
		out.Record(OpFormat, out.Format+"/"+out.Encoding, FormatWAV+"/"+EncodingPCM16)
		out.Format = FormatWAV
		out.Encoding = EncodingPCM16
	}

	out.Path = ""
	if s.config.WorkDir != "" {
		path, err := s.writeIntermediate(out)
		if err != nil {
			return nil, err
		}
		out.Path = path
	}

	s.logger.Debug("Converted asset",
		logger.String("source", asset.Source),
		logger.Int("sample_rate", out.SampleRate),
		logger.Int("channels", out.Channels),
		logger.Int("transformations", len(out.Transformations)))

	return out, nil
}

func (s *Store) writeIntermediate(asset *Asset) (string, error) {
	if err := s.ensureWorkDir(); err != nil {
		return "", err
	}
	path := filepath.Join(s.config.WorkDir, asset.ID+".wav")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("%w: failed to create intermediate file: %v", ErrIOFailure, err)
	}
	if err := EncodeWAV(f, asset.Samples, asset.SampleRate, asset.Channels); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("%w: failed to close intermediate file: %v", ErrIOFailure, err)
	}
	return path, nil
}

func (s *Store) ensureWorkDir() error {
	if s.config.WorkDir == "" {
		return fmt.Errorf("%w: no work directory configured", ErrIOFailure)
	}
	if err := os.MkdirAll(s.config.WorkDir, 0o755); err != nil {
		return fmt.Errorf("%w: failed to create work directory: %v", ErrIOFailure, err)
	}
	return nil
}

// Describe returns a metadata snapshot of the asset without modifying it
func (s *Store) Describe(asset *Asset) Metadata {
	size := int64(asset.Frames() * asset.Channels * bytesPerSample(asset.Encoding))
	if asset.Path != "" {
		if info, err := os.Stat(asset.Path); err == nil {
			size = info.Size()
		} else if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Debug("Failed to stat asset path", logger.Error(err))
		}
	}

	name := asset.Source
	if !strings.HasPrefix(name, "memory:") {
		name = filepath.Base(name)
	}

	return Metadata{
		ID:              asset.ID,
		Name:            name,
		Source:          asset.Source,
		Format:          asset.Format,
		Encoding:        asset.Encoding,
		SampleRate:      asset.SampleRate,
		Channels:        asset.Channels,
		Duration:        time.Duration(math.Round(asset.Duration() * float64(time.Second))),
		SizeBytes:       size,
		Transformations: len(asset.Transformations),
	}
}

// Slice returns the mono samples between start and end seconds, clamped to the asset.
func Slice(asset *Asset, start, end float64) []float32 {
	frames := asset.Frames()
	from := clampFrame(start, asset.SampleRate, frames)
	to := clampFrame(end, asset.SampleRate, frames)
	if to <= from {
		return nil
	}
	return mono(asset.Samples[from*asset.Channels:to*asset.Channels], asset.Channels)
}

// Mono returns the whole asset as a single channel
func Mono(asset *Asset) []float32 {
	return mono(asset.Samples, asset.Channels)
}

func clampFrame(t float64, rate, frames int) int {
	f := int(math.Round(t * float64(rate)))
	if f < 0 {
		return 0
	}
	if f > frames {
		return frames
	}
	return f
}

// Cleanup removes intermediate files the store created for asset
func (s *Store) Cleanup(asset *Asset) {
	if asset == nil || asset.Path == "" || s.config.WorkDir == "" {
		return
	}
	if filepath.Dir(asset.Path) != filepath.Clean(s.config.WorkDir) {
		return
	}
	if err := os.Remove(asset.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("Failed to remove intermediate file", logger.String("path", asset.Path), logger.Error(err))
	}
}
