package cli

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yegors/diarscribe/internal/audio"
	"github.com/yegors/diarscribe/internal/output"
	"github.com/yegors/diarscribe/internal/pipeline"
	"github.com/yegors/diarscribe/internal/transcript"
	"github.com/yegors/diarscribe/pkg/logger"
)

func NewTranscribeAllCmd(deps *Dependencies) *cobra.Command {
	var flags runFlags
	var outputDir string

	cmd := &cobra.Command{
		Use:   "transcribe-all <dir>",
		Short: "Transcribe every recording in a directory",
		Long: "Transcribe every supported audio file in a directory. A file that fails is\n" +
			"reported and skipped; the remaining files are still transcribed.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := output.NewFormatter(deps.ErrOut)
			dir := args[0]
			if outputDir == "" {
				outputDir = deps.Config.Storage.OutputDir
			}

			entries, err := os.ReadDir(dir)
			if err != nil {
				return fmt.Errorf("failed to read directory: %w", err)
			}
			var files []string
			for _, e := range entries {
				if e.Type().IsRegular() && audio.IsSupported(e.Name()) {
					files = append(files, filepath.Join(dir, e.Name()))
				}
			}
			if len(files) == 0 {
				formatter.Info(fmt.Sprintf("No audio files found in %s", dir))
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p := deps.App.Pipeline
			p.AddSink(pipeline.SinkFunc(formatter.Stage))
			log := deps.Logger.Named("batch")

			failed := 0
			for i, file := range files {
				if err := ctx.Err(); err != nil {
					return err
				}
				formatter.Info(fmt.Sprintf("[%d/%d] %s", i+1, len(files), filepath.Base(file)))

				opts, err := flags.options(deps, file)
				if err != nil {
					return err
				}
				opts.OutputPath = transcript.DefaultPath(file, outputDir)

				result, err := p.Run(ctx, file, opts)
				if err != nil {
					failed++
					log.Warn("Failed to transcribe file", logger.String("file", file), logger.Error(err))
					formatter.Error(fmt.Sprintf("Failed to transcribe %s: %v", filepath.Base(file), err))
					continue
				}
				formatter.TranscriptSaved(result.OutputPath)
				if result.Stored {
					formatter.TranscriptStored(result.Transcript.ID)
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d files could not be transcribed", failed, len(files))
			}
			formatter.Success(fmt.Sprintf("Transcribed %d files", len(files)))
			return nil
		},
	}
	flags.registerSession(cmd)
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "Directory for transcript files (default from config)")

	return cmd
}
