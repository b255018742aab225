// Package main provides the entry point for micros, a cycle-level RISC-V
// processor simulator.
package main

import (
	"fmt"
	"os"

	"github.com/tebeka/atexit"
)

func main() {
	cmd := newCommand(os.Stdin, os.Stderr)

	if err := cmd.root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		atexit.Exit(1)
	}

	atexit.Exit(cmd.exitCode)
}
