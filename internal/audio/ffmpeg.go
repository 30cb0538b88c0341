package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// FFmpeg wraps the ffmpeg binary used for container decoding and microphone capture
type FFmpeg struct {
	command string
}

// NewFFmpeg creates a new ffmpeg wrapper
func NewFFmpeg(command string) *FFmpeg {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFmpeg{command: command}
}

// Check verifies that the ffmpeg binary can be found
func (f *FFmpeg) Check() error {
	if _, err := exec.LookPath(f.command); err != nil {
		return fmt.Errorf("ffmpeg not found (%s): %w", f.command, err)
	}
	return nil
}

// Decode converts src into a WAV file at dst, keeping the source rate and channels.
func (f *FFmpeg) Decode(ctx context.Context, src, dst string) error {
	if err := f.Check(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	cmd := exec.CommandContext(ctx, f.command,
		"-nostdin",
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-i", src,
		"-vn",
		"-acodec", "pcm_s16le",
		"-f", "wav",
		dst,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		os.Remove(dst)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("%w: ffmpeg could not decode %s: %s", ErrUnsupportedFormat, src, strings.TrimSpace(stderr.String()))
		}
		return fmt.Errorf("%w: failed to run ffmpeg: %v", ErrIOFailure, err)
	}
	return nil
}
