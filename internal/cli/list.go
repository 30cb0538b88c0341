package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yegors/diarscribe/internal/output"
	"github.com/yegors/diarscribe/internal/transcript"
)

func NewListCmd(deps *Dependencies) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored transcripts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := deps.App.Transcripts.ListTranscripts(cmd.Context(), limit)
			if err != nil {
				return err
			}
			output.NewFormatter(deps.Out).TranscriptList(records)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "Maximum number of transcripts")

	return cmd
}

func NewShowCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a stored transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := deps.App.Transcripts.GetTranscript(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprint(deps.Out, transcript.Render(t))
			return nil
		},
	}
}
