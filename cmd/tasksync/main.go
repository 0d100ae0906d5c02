// Package main provides the entry point for the tasksync CLI.
package main

import (
	"os"

	"github.com/randalmurphal/tasksync/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
