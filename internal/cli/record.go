package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yegors/diarscribe/internal/audio"
	"github.com/yegors/diarscribe/internal/output"
	"github.com/yegors/diarscribe/internal/pipeline"
)

func NewRecordCmd(deps *Dependencies) *cobra.Command {
	var flags runFlags
	var duration time.Duration
	var name string
	var saveAudio bool
	var listDevices bool

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record from the microphone and transcribe",
		Long:  "Record audio from the configured capture device until Ctrl+C or --duration,\nthen transcribe the recording.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := output.NewFormatter(deps.ErrOut)
			cfg := deps.Config

			if listDevices {
				devices, err := deps.App.Store.Devices(cmd.Context(), cfg.Audio.CaptureFormat)
				if err != nil {
					return err
				}
				output.NewFormatter(deps.Out).Devices(cfg.Audio.CaptureFormat, devices)
				return nil
			}

			if name == "" {
				name = "recording_" + time.Now().Format("20060102_150405")
			}
			opts, err := flags.options(deps, name)
			if err != nil {
				return err
			}
			opts.Source = name

			// the first interrupt only ends the capture
			captureCtx, stopCapture := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			formatter.RecordingStarted(duration)
			start := time.Now()
			asset, err := deps.App.Store.Capture(captureCtx, audio.CaptureOptions{
				InputFormat: cfg.Audio.CaptureFormat,
				InputDevice: cfg.Audio.CaptureDevice,
				SampleRate:  cfg.Audio.SampleRate,
				Channels:    cfg.Audio.Channels,
				MaxDuration: duration,
			})
			stopCapture()
			if err != nil {
				return err
			}
			formatter.RecordingStopped(time.Since(start))

			if saveAudio {
				wavPath := filepath.Join(cfg.Storage.OutputDir, name+".wav")
				if err := audio.SaveWAV(asset, wavPath); err != nil {
					return err
				}
				formatter.Success(fmt.Sprintf("Audio saved: %s", wavPath))
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runPipeline(ctx, deps, formatter, func(ctx context.Context, p *pipeline.Pipeline) (*pipeline.Result, error) {
				return p.RunAsset(ctx, asset, opts)
			}, flags.print)
		},
	}
	flags.register(cmd)
	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "Stop recording after this long (default: until Ctrl+C)")
	cmd.Flags().StringVarP(&name, "name", "n", "", "Recording name (used in file names)")
	cmd.Flags().BoolVar(&saveAudio, "save-audio", false, "Keep the recording as WAV next to the transcript")
	cmd.Flags().BoolVar(&listDevices, "list-devices", false, "List capture devices for the configured input format and exit")

	return cmd
}
