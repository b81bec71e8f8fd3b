package main

import (
	"os"

	"github.com/aurora-dev/aurora/cmd/aurora/cmd"
)

// Version information - set by goreleaser at build time
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cmd.SetVersion(version, commit, date)

	if err := cmd.Execute(); err != nil {
		code := 1
		if exitErr, ok := err.(*cmd.ExitError); ok {
			code = exitErr.Code
		}
		os.Exit(code)
	}
}
