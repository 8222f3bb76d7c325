// Command zerod is an offline control surface over a zero storage volume,
// in the spirit of etcdutl: every invocation opens the volume named by
// --data-dir, performs exactly one operation (replaying the log first if
// the volume wasn't cleanly shut down), and closes it again before
// exiting. There is no long-running server process and no network
// surface, matching spec.md's single-process embedded-engine scope.
package main

import (
	"fmt"
	"os"

	"github.com/JABClari/zero/cmd/zerod/command"
)

func main() {
	if err := command.Root().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
