// Command zynd runs the zyn file service: a single orchestrator process
// serving authenticated clients over a TLS listener, backed by an encrypted
// on-disk workdir.
package main

import (
	"fmt"
	"os"

	"github.com/marmos91/dittofs/cmd/zynd/commands"
)

// Version information injected at build time via -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.Date = date

	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
