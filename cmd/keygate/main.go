// Command keygate issues API keys and serves the endpoints they protect.
package main

import (
	"fmt"
	"os"

	"github.com/keygate/keygate/cmd/keygate/cli"
)

// Overridden with -ldflags "-X main.version=..." by release builds.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := cli.Execute(version, commit, date); err != nil {
		fmt.Fprintf(os.Stderr, "keygate: %v\n", err)
		os.Exit(1)
	}
}
