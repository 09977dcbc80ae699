// Package cliutil provides exit-code plumbing shared by the wormhole
// binaries (wrap, digger, autoprofile, daemon), : 0 for
// success, 1 for a runtime failure, 2 for a usage error.
package cliutil

import (
	"errors"
	"fmt"
	"log"
	"os"
)

// ExitCode is an error that carries a specific process exit code.
type ExitCode int

func (e ExitCode) Error() string {
	return fmt.Sprintf("exit code %d", int(e))
}

// UsageError wraps an error that should produce exit code 2.
func UsageError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ExitCode(2), err)
}

// Exit terminates the process based on err: nil exits 0, an error wrapping
// ExitCode exits with that code, any other error is logged to the operator
// and exits 1. Exit never returns; deferred calls in main do not run.
func Exit(err error) {
	var code ExitCode
	if errors.As(err, &code) {
		if code != 2 {
			log.Printf("FATAL: %v", err)
		}
		os.Exit(int(code))
	}
	if err != nil {
		log.Printf("FATAL: %v", err)
		os.Exit(1)
	}
	os.Exit(0)
}
