// Command ipprism analyses the IPv4 addresses found in logs and other text
// against two reputation services and stores the results.
package main

import (
	"github.com/anstrom/ipprism/cmd/cli"
)

// Set by -ldflags "-X main.version=... -X main.commit=... -X main.buildTime=...".
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildTime)
	cli.Execute()
}
