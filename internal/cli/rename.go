package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yegors/diarscribe/internal/output"
	"github.com/yegors/diarscribe/internal/speakers"
	"github.com/yegors/diarscribe/internal/transcript"
)

func NewRenameCmd(deps *Dependencies) *cobra.Command {
	var write string

	cmd := &cobra.Command{
		Use:   "rename <id> <ordinal> <name>",
		Short: "Name a speaker of a stored transcript",
		Long:  "Name a speaker of a stored transcript. The ordinal is the N of \"Speaker N\".",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			ordinal, err := strconv.Atoi(args[1])
			if err != nil || ordinal <= 0 {
				return fmt.Errorf("ordinal must be a positive integer, got %q", args[1])
			}

			storage := deps.App.Transcripts
			t, err := storage.GetTranscript(cmd.Context(), id)
			if err != nil {
				return err
			}
			name, err := speakers.CheckName(t, ordinal, strings.Join(args[2:], " "))
			if err != nil {
				return err
			}
			if err := storage.RenameSpeaker(cmd.Context(), id, ordinal, name); err != nil {
				return err
			}
			if t, err = storage.GetTranscript(cmd.Context(), id); err != nil {
				return err
			}

			formatter := output.NewFormatter(deps.ErrOut)
			formatter.Success(fmt.Sprintf("Speaker %d is now %s", ordinal, name))
			if write != "" {
				if err := transcript.Persist(t, write); err != nil {
					return err
				}
				formatter.TranscriptSaved(write)
				return nil
			}
			fmt.Fprint(deps.Out, transcript.Render(t))
			return nil
		},
	}
	cmd.Flags().StringVarP(&write, "write", "w", "", "Rewrite the transcript file at this path instead of printing it")

	return cmd
}
