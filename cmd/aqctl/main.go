// Package main provides aqctl, a command line client that runs the AirPulse
// pipeline in-process.
package main

import (
	"fmt"
	"os"
)

// Version is set at compile time via ldflags.
var Version = "dev"

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
