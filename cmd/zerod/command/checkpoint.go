package command

import (
	"github.com/spf13/cobra"
)

func newCheckpointCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoint",
		Short: "Writes a checkpoint and sweeps dirty pages to disk",
		Run: func(cmd *cobra.Command, args []string) {
			v, _, err := openVolume()
			if err != nil {
				exitWithError(err)
			}
			defer v.Shutdown()
			if err := v.Checkpoint(); err != nil {
				exitWithError(err)
			}
		},
	}
}
