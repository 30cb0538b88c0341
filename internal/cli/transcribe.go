package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yegors/diarscribe/internal/output"
	"github.com/yegors/diarscribe/internal/pipeline"
	"github.com/yegors/diarscribe/internal/speakers"
	"github.com/yegors/diarscribe/internal/stt"
	"github.com/yegors/diarscribe/internal/transcript"
)

// runFlags are the flags shared by transcribe and record
type runFlags struct {
	output   string
	model    string
	enhance  string
	noPrompt bool
	noStore  bool
	print    bool

	// one console per command so consecutive files share the input reader
	console *speakers.Console
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "Transcript file (default <output_dir>/<name>_transcript.txt)")
	cmd.Flags().BoolVar(&f.print, "print", false, "Print the transcript to stdout")
	f.registerSession(cmd)
}

// registerSession registers the flags that apply to every file of a run
func (f *runFlags) registerSession(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.model, "model", "m", "", "Model size: tiny, base, small, medium, large")
	cmd.Flags().StringVar(&f.enhance, "enhance", "", "Enhancement: off, fixed, search (default from config)")
	cmd.Flags().BoolVar(&f.noPrompt, "no-prompt", false, "Keep placeholder speaker names")
	cmd.Flags().BoolVar(&f.noStore, "no-store", false, "Do not save the transcript to the database")
}

func (f *runFlags) options(deps *Dependencies, source string) (pipeline.Options, error) {
	opts := deps.App.Options()
	opts.Store = !f.noStore

	if f.model != "" {
		size, err := stt.ParseModelSize(f.model)
		if err != nil {
			return opts, err
		}
		opts.Model = size
	}
	switch pipeline.EnhanceMode(f.enhance) {
	case "":
	case pipeline.EnhanceOff, pipeline.EnhanceFixed, pipeline.EnhanceSearch:
		opts.Enhance = pipeline.EnhanceMode(f.enhance)
	default:
		return opts, fmt.Errorf("unknown enhancement mode %q (want off, fixed or search)", f.enhance)
	}

	opts.OutputPath = f.output
	if opts.OutputPath == "" {
		opts.OutputPath = transcript.DefaultPath(source, deps.Config.Storage.OutputDir)
	}
	if !f.noPrompt {
		if f.console == nil {
			f.console = speakers.NewConsole(deps.In, deps.Out)
		}
		opts.Prompter = f.console
	}
	return opts, nil
}

func NewTranscribeCmd(deps *Dependencies) *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "transcribe <file>",
		Short: "Transcribe a recording with speaker labels",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := output.NewFormatter(deps.ErrOut)
			source := args[0]

			opts, err := flags.options(deps, source)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runPipeline(ctx, deps, formatter, func(ctx context.Context, p *pipeline.Pipeline) (*pipeline.Result, error) {
				return p.Run(ctx, source, opts)
			}, flags.print)
		},
	}
	flags.register(cmd)

	return cmd
}

// runPipeline runs one session with a progress sink on the formatter and reports
// the outcome.
func runPipeline(ctx context.Context, deps *Dependencies, formatter *output.Formatter, run func(context.Context, *pipeline.Pipeline) (*pipeline.Result, error), printText bool) error {
	p := deps.App.Pipeline
	p.AddSink(pipeline.SinkFunc(formatter.Stage))

	result, err := run(ctx, p)
	if err != nil {
		return err
	}

	t := result.Transcript
	if n := t.FailedCount(); n > 0 {
		formatter.Warning(fmt.Sprintf("%d segments could not be transcribed and are marked %s", n, transcript.FailedMarker))
	}
	if result.OutputPath != "" {
		formatter.TranscriptSaved(result.OutputPath)
	}
	if result.Stored {
		formatter.TranscriptStored(t.ID)
	}
	if printText {
		fmt.Fprint(deps.Out, transcript.Render(t))
	}
	return nil
}
