package util

import (
	"fmt"
	"os"
)

// Exit codes shared with the orchestration scripts that invoke the runner.
// 123 means "skip this workload and keep going"; 255 fails the whole job.
const (
	ExitCodeSkip = 123
	ExitCodeFail = 255
)

// ExitWithSkipCode reports a benchmark this build cannot run and exits 123.
func ExitWithSkipCode(msg string) {
	fmt.Fprintf(os.Stderr, "Skipping benchmark - %s\n", msg)
	os.Exit(ExitCodeSkip)
}

// ExitWithError reports a fatal benchmark failure and exits 255.
func ExitWithError(msg string) {
	fmt.Fprintf(os.Stderr, "FAIL - %s\n", msg)
	os.Exit(ExitCodeFail)
}
