// Package command implements zerod's cobra command tree, grounded on
// etcdutl's offline-tool layout (etcdutl/etcdutl/*_command.go): a root
// command carrying shared persistent flags, one file per leaf command,
// and a small common.go of helpers every leaf shares.
package command

import (
	"github.com/spf13/cobra"

	"github.com/JABClari/zero/pkg/config"
)

const (
	cliName        = "zerod"
	cliDescription = "An administrative command line tool for a zero storage volume."
)

var cfg = config.Default()

var dataDir string

// Root returns the top-level zerod command, with every leaf registered.
func Root() *cobra.Command {
	root := &cobra.Command{
		Use:          cliName,
		Short:        cliDescription,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "", "volume directory (required)")
	root.MarkPersistentFlagRequired("data-dir")
	cfg.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		newInitCommand(),
		newCreateStoreCommand(),
		newPutCommand(),
		newUpdateCommand(),
		newOverwriteCommand(),
		newGetCommand(),
		newRemoveCommand(),
		newScanCommand(),
		newCheckpointCommand(),
	)
	return root
}
