// Package main provides the entry point for micros.
// micros is a cycle-level RISC-V processor simulator built on Akita.
//
// For the full CLI, use: go run ./cmd/micros
package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Println("micros - RISC-V Microarchitecture Simulator")
	fmt.Println("Built on Akita simulation framework")
	fmt.Println("")
	fmt.Println("Usage: micros [host options] <target program> [target options]")
	fmt.Println("")
	fmt.Println("Common options:")
	fmt.Println("  -p N          Number of cores")
	fmt.Println("  -s N          Skip N instructions functionally before timing")
	fmt.Println("  -c NAME       Restore from checkpoint NAME")
	fmt.Println("  --checker     Check every commit against a functional reference")
	fmt.Println("  --mode MODE   functional or pipelined")
	fmt.Println("")
	fmt.Println("Run 'go run ./cmd/micros --help' for the full CLI.")

	if len(os.Args) > 1 {
		fmt.Println("\nNote: You provided arguments. Use 'go run ./cmd/micros' instead.")
	}
}
