package command

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCreateStoreCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "create-store",
		Short: "Creates a new, empty B-tree store within the volume",
		Run: func(cmd *cobra.Command, args []string) {
			v, _, err := openVolume()
			if err != nil {
				exitWithError(err)
			}
			defer v.Shutdown()

			id, err := v.CreateStore()
			if err != nil {
				exitWithError(err)
			}
			fmt.Println(uint32(id))
		},
	}
}
