package config

import (
	"fmt"
	"os"
)

// Exitf prints a formatted line to stderr and terminates with status 1.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// ExitOnError terminates the process when a startup step fails.
func ExitOnError(step string, err error) {
	if err != nil {
		Exitf("%s: %v", step, err)
	}
}
