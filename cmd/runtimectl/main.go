// Package main provides the entry point for runtimectl, the one-shot
// headless CLI counterpart to runtimed.
package main

import (
	"fmt"
	"os"

	"github.com/super-agent/runtime/cmd/runtimectl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
