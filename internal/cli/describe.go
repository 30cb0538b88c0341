package cli

import (
	"github.com/spf13/cobra"

	"github.com/yegors/diarscribe/internal/output"
)

func NewDescribeCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "describe <file>",
		Short: "Show the format and length of a recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := deps.App.Store
			asset, err := store.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer store.Cleanup(asset)

			output.NewFormatter(deps.Out).Metadata(store.Describe(asset))
			return nil
		},
	}
}
