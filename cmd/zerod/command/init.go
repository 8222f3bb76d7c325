package command

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JABClari/zero/pkg/volume"
)

func newInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init-volume",
		Short: "Creates a brand-new, empty volume at --data-dir",
		Run: func(cmd *cobra.Command, args []string) {
			log, err := buildLogger()
			if err != nil {
				exitWithError(err)
			}
			v, err := volume.Create(dataDir, cfg, log)
			if err != nil {
				exitWithError(err)
			}
			defer v.Shutdown()
			fmt.Println(v.ID())
		},
	}
}
