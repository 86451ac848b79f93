// Command statekit validates operation catalogs, runs scenarios against the
// state engine and inspects the journal it writes.
package main

import (
	"os"

	"github.com/roach88/statekit/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	os.Exit(cli.GetExitCode(err))
}
