package main

import (
	"os"

	"github.com/droverdev/drover/cmd/drover/commands"
)

// Version information - set during build
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, date)

	// Errors are already printed with color formatting by the printer package
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
