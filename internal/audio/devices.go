package audio

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"github.com/yegors/diarscribe/pkg/logger"
)

// Device is a capture input ffmpeg can record from. ID is the value to pass as
// CaptureOptions.InputDevice.
type Device struct {
	ID          string
	Description string
	Default     bool
}

var (
	// [AVFoundation indev @ 0x7f8] [0] MacBook Pro Microphone
	avfoundationDevice = regexp.MustCompile(`^\[[^\]]*\] \[(\d+)\] (.+)$`)
	// [dshow @ 000001] "Microphone (Realtek Audio)" (audio)
	dshowDevice = regexp.MustCompile(`^\[[^\]]*\] "([^"]+)" \(audio\)`)
	// * alsa_input.pci-0000_00_1f.3.analog-stereo [Built-in Audio Analog Stereo]
	sourceDevice = regexp.MustCompile(`^(\*)?\s*(\S+)(?:\s+\[(.*)\])?$`)
)

// Devices lists the audio inputs available for inputFormat. avfoundation and dshow
// are enumerated with -list_devices; every other format uses -sources.
func (s *Store) Devices(ctx context.Context, inputFormat string) ([]Device, error) {
	if inputFormat == "" {
		inputFormat = "pulse"
	}
	if err := s.decoder.Check(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIOFailure, err)
	}

	var args []string
	switch inputFormat {
	case "avfoundation", "dshow":
		args = []string{"-hide_banner", "-f", inputFormat, "-list_devices", "true", "-i", ""}
	default:
		args = []string{"-hide_banner", "-sources", inputFormat}
	}

	cmd := exec.CommandContext(ctx, s.decoder.command, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	runErr := cmd.Run()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	devices := parseDevices(inputFormat, out.String())
	if len(devices) == 0 {
		// -list_devices always exits non-zero, so the error only matters without output
		var exitErr *exec.ExitError
		if runErr != nil && !errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("%w: failed to run ffmpeg: %v", ErrIOFailure, runErr)
		}
		s.logger.Debug("ffmpeg listed no input devices",
			logger.String("input_format", inputFormat),
			logger.String("output", strings.TrimSpace(out.String())))
	}
	return devices, nil
}

func parseDevices(inputFormat, output string) []Device {
	var devices []Device
	sc := bufio.NewScanner(strings.NewReader(output))
	switch inputFormat {
	case "avfoundation":
		inAudio := false
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			switch {
			case strings.Contains(line, "audio devices:"):
				inAudio = true
				continue
			case strings.Contains(line, "video devices:"):
				inAudio = false
				continue
			}
			if m := avfoundationDevice.FindStringSubmatch(line); inAudio && m != nil {
				devices = append(devices, Device{ID: ":" + m[1], Description: m[2]})
			}
		}
	case "dshow":
		for sc.Scan() {
			if m := dshowDevice.FindStringSubmatch(strings.TrimSpace(sc.Text())); m != nil {
				devices = append(devices, Device{ID: "audio=" + m[1], Description: m[1]})
			}
		}
	default:
		listing := false
		for sc.Scan() {
			raw := sc.Text()
			line := strings.TrimSpace(raw)
			if strings.HasPrefix(line, "Auto-detected sources") {
				listing = true
				continue
			}
			if !listing || line == "" {
				continue
			}
			// entries are indented; anything else ends the listing
			if !strings.HasPrefix(raw, " ") && !strings.HasPrefix(raw, "*") {
				listing = false
				continue
			}
			if m := sourceDevice.FindStringSubmatch(line); m != nil {
				devices = append(devices, Device{ID: m[2], Description: m[3], Default: m[1] == "*"})
			}
		}
	}
	return devices
}
