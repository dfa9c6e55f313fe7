// Package main is the entry point for the parleyd chat service.
//
// Usage:
//
//	parleyd [flags] <command>
//
// Commands:
//
//	serve      - Run the HTTP chat service
//	chat       - Interactive terminal chat against a local orchestrator
//	version    - Show version information
package main

import (
	"fmt"
	"os"

	"github.com/parleyhq/parley/cmd/parleyd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
