package cmd

import "errors"

// Process exit codes. Partial failure gets a dedicated code so schedulers
// can tell "some records failed" from "the run aborted".
const (
	ExitOK             = 0
	ExitRunError       = 1
	ExitConfigError    = 2
	ExitPartialFailure = 3
)

// exitError tags an error with the process exit code it should produce.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

// Exit wraps err with an explicit exit code.
func Exit(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

// ExitCode maps an error returned by Execute to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return ExitRunError
}
