package main

import (
	"os"

	"github.com/wonny/captrack/cmd/captrack/commands"
)

// main is the entry point for the captrack CLI.
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
