package cmderr

import (
	"errors"
	"fmt"
	"os"
)

// ExitErr carries the exit code a command failed with.
type ExitErr struct {
	Code  int
	Cause error
}

func (x ExitErr) Error() string { return x.Cause.Error() }

func (x ExitErr) Unwrap() error { return x.Cause }

// WithCode returns err that makes ExitOnErr exit with code. Nil err stays nil.
func WithCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return ExitErr{Code: code, Cause: err}
}

// ExitOnErr writes error to os.Stderr and calls os.Exit with passed exit code or by default 1.
// Does nothing if err is nil.
func ExitOnErr(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var e ExitErr
	if errors.As(err, &e) && e.Code != 0 {
		return e.Code
	}
	return 1
}
