// Package main is the entry point for the agentfloor monitoring client.
package main

import (
	"os"

	"github.com/agentfloor/agentfloor/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
