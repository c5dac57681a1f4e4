package atlas

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/3leaps/forcedphot/pkg/photometry"
)

// Sentinel error kinds for fetch stages.
var (
	// ErrAuth indicates the credentials were rejected or the token endpoint failed.
	ErrAuth = errors.New("authentication failed")

	// ErrQueue indicates the job could not be submitted.
	ErrQueue = errors.New("queue request failed")

	// ErrPoll indicates the task status could not be read or resolved.
	ErrPoll = errors.New("status check failed")

	// ErrTimeout indicates the job did not finish within the poll budget.
	ErrTimeout = errors.New("job timed out")

	// ErrDownload indicates the result file could not be retrieved.
	ErrDownload = errors.New("download failed")

	// ErrParse indicates the result file could not be decoded.
	ErrParse = errors.New("result parse failed")
)

// Machine-readable codes returned by ErrorCode.
const (
	CodeAuthFailed     = "AUTH_FAILED"
	CodeQueueFailed    = "QUEUE_FAILED"
	CodePollFailed     = "POLL_FAILED"
	CodeTimeout        = "TIMEOUT"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeParseFailed    = "PARSE_FAILED"
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeCanceled       = "CANCELED"
	CodeInternal       = "INTERNAL"
)

// maxBodySnippet bounds the upstream body kept on an Error.
const maxBodySnippet = 500

// Error is a terminal failure of one fetch stage.
type Error struct {
	// Op is the stage that failed (e.g., "authenticate", "submit").
	Op string

	// Kind is one of the sentinel errors above.
	Kind error

	// StatusCode is the upstream HTTP status, if a response was received.
	StatusCode int

	// Body is a prefix of the upstream response body.
	Body string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("atlas ")
	b.WriteString(e.Op)
	b.WriteString(": ")
	switch {
	case e.Message != "":
		b.WriteString(e.Message)
	case e.Kind != nil:
		b.WriteString(e.Kind.Error())
	default:
		b.WriteString("failed")
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if e.Body != "" {
		b.WriteString(" - ")
		b.WriteString(e.Body)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

func newError(op string, kind error, msg string) *Error {
	return &Error{Op: op, Kind: kind, Message: msg}
}

func (e *Error) withStatus(status int, body []byte) *Error {
	e.StatusCode = status
	e.Body = snippet(body)
	return e
}

func (e *Error) withCause(err error) *Error {
	e.Err = err
	return e
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxBodySnippet {
		s = s[:maxBodySnippet] + "..."
	}
	return s
}

// IsAuth returns true if the error is an authentication failure.
func IsAuth(err error) bool { return errors.Is(err, ErrAuth) }

// IsQueue returns true if the error is a submission failure.
func IsQueue(err error) bool { return errors.Is(err, ErrQueue) }

// IsPoll returns true if the error is a status polling failure.
func IsPoll(err error) bool { return errors.Is(err, ErrPoll) }

// IsTimeout returns true if the job exceeded the poll budget.
func IsTimeout(err error) bool { return errors.Is(err, ErrTimeout) }

// IsDownload returns true if the result file could not be retrieved.
func IsDownload(err error) bool { return errors.Is(err, ErrDownload) }

// IsParse returns true if the result file could not be decoded.
func IsParse(err error) bool { return errors.Is(err, ErrParse) }

// ErrorCode maps err to a stable machine-readable code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return CodeCanceled
	case errors.Is(err, photometry.ErrInvalidRequest):
		return CodeInvalidRequest
	case errors.Is(err, ErrAuth):
		return CodeAuthFailed
	case errors.Is(err, ErrQueue):
		return CodeQueueFailed
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	case errors.Is(err, ErrPoll):
		return CodePollFailed
	case errors.Is(err, ErrDownload):
		return CodeDownloadFailed
	case errors.Is(err, ErrParse):
		return CodeParseFailed
	default:
		return CodeInternal
	}
}
