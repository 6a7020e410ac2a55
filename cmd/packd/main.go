// Package main is the entry point for the packd application.
package main

import (
	"os"

	"github.com/jmylchreest/packd/cmd/packd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
