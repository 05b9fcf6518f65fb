package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/agrawalpuran/uds-refresh-sub000/shared/common"
)

// Exit codes
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// exitError carries an explicit exit code. A nil err means the message
// has already been reported (a failed verdict or a summary with errors).
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func withExitCode(code int, err error) error {
	return &exitError{code: code, err: err}
}

// exitCode maps a command error to the process exit code. Misuse (bad
// flags, unknown collections, write intent on a read-only command) is 2;
// everything else that failed is 1.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}

	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}

	if common.HasErrorCode(err, common.ErrCodeInvalidInput) || common.HasErrorCode(err, common.ErrCodeForbidden) {
		return exitUsage
	}

	return exitFailure
}

func printError(w io.Writer, err error) {
	var exitErr *exitError
	if errors.As(err, &exitErr) && exitErr.err == nil {
		return
	}
	fmt.Fprintf(w, "Error: %v\n", err)
}
