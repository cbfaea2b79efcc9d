package cli

import (
	"github.com/spf13/cobra"
)

func NewConfigCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			f := newFormatter(out)
			if deps.Config.Source != "" {
				f.Comment("loaded from " + deps.Config.Source)
			} else {
				f.Comment("no config file found, showing defaults and environment overrides")
			}
			return deps.Config.Encode(out)
		},
	}
}
