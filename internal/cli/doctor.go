package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yegors/diarscribe/internal/diarization"
	"github.com/yegors/diarscribe/internal/output"
)

func NewDoctorCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check prerequisites",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := output.NewFormatter(deps.Out)
			cfg := deps.Config
			ok := true

			if err := deps.App.Store.FFmpeg().Check(); err != nil {
				f.SetupCheck("ffmpeg", false, "not found. Install ffmpeg or set audio.ffmpeg_path")
				ok = false
			} else {
				f.SetupCheck("ffmpeg", true, "installed")
			}

			switch {
			case cfg.Transcription.Backend == "local":
				f.SetupCheck("Speech-to-text", true, "local server at "+cfg.Transcription.BaseURL)
			case cfg.Transcription.APIKey != "":
				f.SetupCheck("Speech-to-text", true, "OpenAI API key configured")
			default:
				f.SetupCheck("Speech-to-text", false, "not configured. Set OPENAI_API_KEY or add transcription.api_key to config")
				ok = false
			}

			_, err := deps.App.Diarizer.Acquire(cmd.Context())
			switch {
			case err == nil:
				f.SetupCheck("Diarization", true, cfg.Diarization.Backend+" ready")
				if err := deps.App.Diarizer.Release(); err != nil {
					return err
				}
			case errors.Is(err, diarization.ErrDiarizationUnavailable):
				f.SetupCheck("Diarization", false, fmt.Sprintf("%s unavailable: %v", cfg.Diarization.Backend, err))
				ok = false
			default:
				return err
			}

			f.SetupCheck("Database", true, cfg.Storage.DatabasePath)
			f.SetupCheck("Output directory", true, cfg.Storage.OutputDir)

			if ok {
				f.Success("\nAll prerequisites met. Ready to transcribe!")
			} else {
				f.Warning("\nSome prerequisites are missing.")
			}
			return nil
		},
	}
}
