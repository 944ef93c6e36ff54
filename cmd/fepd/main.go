// Command fepd is the host binary that embeds the FEP core: it wires
// channel configuration, metrics and logging around the dual-channel
// endpoint, pending-request registry, connection manager and
// transaction pipeline, none of which expose a CLI of their own.
package main

import (
	"fmt"
	"os"

	"github.com/nilm987521/fep/cmd/fepd/commands"
)

var (
	version = "dev"
)

func main() {
	commands.Version = version
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
