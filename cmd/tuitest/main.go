// Package main is the entry point for tuitest.
package main

import (
	"os"

	"github.com/GeorgePearse/mcp-tui-test/cmd/tuitest/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
