package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/yegors/diarscribe/pkg/logger"
)

const captureChunkMs = 100

// Capture records from the microphone through ffmpeg until ctx ends or MaxDuration
// elapses, and returns the recording as a finished in-memory asset.
func (s *Store) Capture(ctx context.Context, opts CaptureOptions) (*Asset, error) {
	if opts.SampleRate <= 0 {
		opts.SampleRate = 16000
	}
	if opts.Channels <= 0 {
		opts.Channels = 1
	}
	if opts.InputFormat == "" {
		opts.InputFormat = "pulse"
	}
	if opts.InputDevice == "" {
		opts.InputDevice = "default"
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", opts.InputFormat,
		"-i", opts.InputDevice,
		"-ac", strconv.Itoa(opts.Channels),
		"-ar", strconv.Itoa(opts.SampleRate),
	}
	if opts.MaxDuration > 0 {
		args = append(args, "-t", strconv.FormatFloat(opts.MaxDuration.Seconds(), 'f', 3, 64))
	}
	args = append(args, "-f", "s16le", "-")

	// Not CommandContext: cancellation must interrupt ffmpeg so it flushes what it has.
	cmd := exec.Command(s.decoder.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: failed to start ffmpeg: %v", ErrIOFailure, err)
	}

	s.logger.Info("Recording started",
		logger.String("input_format", opts.InputFormat),
		logger.String("device", opts.InputDevice),
		logger.Duration("max_duration", opts.MaxDuration))

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = cmd.Process.Signal(os.Interrupt)
			select {
			case <-done:
			case <-time.After(2 * time.Second):
				_ = cmd.Process.Kill()
			}
		case <-done:
		}
	}()

	chunker := NewAudioChunker(opts.SampleRate, opts.Channels, captureChunkMs)
	var samples []float32
	buf := make([]byte, 32*1024)
	var readErr error
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			chunks, cerr := chunker.ProcessChunk(buf[:n])
			if cerr != nil {
				readErr = cerr
				break
			}
			for _, chunk := range chunks {
				samples = append(samples, chunk...)
				if opts.OnLevel != nil {
					opts.OnLevel(RMS(chunk))
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				readErr = err
			}
			break
		}
	}
	samples = append(samples, chunker.Flush()...)

	waitErr := cmd.Wait()
	close(done)

	if readErr != nil {
		return nil, fmt.Errorf("%w: failed to read capture stream: %v", ErrIOFailure, readErr)
	}
	if waitErr != nil && ctx.Err() == nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) || len(samples) == 0 {
			return nil, fmt.Errorf("%w: ffmpeg capture failed: %v: %s", ErrIOFailure, waitErr, strings.TrimSpace(stderr.String()))
		}
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no audio captured", ErrIOFailure)
	}

	name := "recording_" + time.Now().Format("20060102_150405")
	asset := s.FromPCM(name, samples, opts.SampleRate, opts.Channels)
	asset.Encoding = EncodingPCM16

	s.logger.Info("Recording finished",
		logger.String("name", name),
		logger.Float64("duration", asset.Duration()))

	return asset, nil
}

// SaveWAV writes the asset as a 16-bit WAV file at path
func SaveWAV(asset *Asset, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	if err := EncodeWAV(f, asset.Samples, asset.SampleRate, asset.Channels); err != nil {
		f.Close()
		return fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	return nil
}
