package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"

	"github.com/3leaps/forcedphot/pkg/atlas"
	"github.com/3leaps/forcedphot/pkg/photometry"
)

// Exit codes the foundry catalog has no entry for. Values follow sysexits(3).
const (
	// ExitDataError marks a result table that could not be decoded.
	ExitDataError = 65

	// ExitTimeout marks a job that outlived the poll budget.
	ExitTimeout = 75

	// ExitAuthFailed marks rejected service credentials.
	ExitAuthFailed = 77

	// ExitConfigError marks an unusable configuration or cache backend.
	ExitConfigError = 78
)

// ExitError carries the exit code a failed command wants.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s (exit code %d)", e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %v (exit code %d)", e.Message, e.Err, e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return &ExitError{Code: code, Message: message, Err: err}
}

// exitCode extracts the exit code for err.
func exitCode(err error) int {
	if err == nil {
		return foundry.ExitSuccess
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return foundry.ExitFailure
}

// fetchExitCode maps a pipeline failure to an exit code.
func fetchExitCode(err error) int {
	switch {
	case err == nil:
		return foundry.ExitSuccess
	case errors.Is(err, context.Canceled):
		return foundry.ExitSignalInt
	case errors.Is(err, photometry.ErrInvalidRequest):
		return foundry.ExitInvalidArgument
	case atlas.IsAuth(err):
		return ExitAuthFailed
	case atlas.IsTimeout(err):
		return ExitTimeout
	case atlas.IsParse(err):
		return ExitDataError
	case atlas.IsQueue(err), atlas.IsPoll(err), atlas.IsDownload(err):
		return foundry.ExitExternalServiceUnavailable
	default:
		return foundry.ExitFailure
	}
}
