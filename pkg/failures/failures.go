package failures

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the closed set of error categories shared by every component.
type Kind string

const (
	KindConfig       Kind = "config_error"
	KindAuth         Kind = "auth_error"
	KindNetwork      Kind = "network_transient"
	KindTimeout      Kind = "response_timeout"
	KindParse        Kind = "parse_error"
	KindEmpty        Kind = "empty_log"
	KindStorage      Kind = "storage_error"
	KindModelMissing Kind = "model_missing"
	KindAbort        Kind = "abort_requested"
	KindValidation   Kind = "validation_error"
	KindConflict     Kind = "conflict"
	KindNotFound     Kind = "not_found"
	KindInternal     Kind = "internal_error"
)

// ErrMissingEnv marks a configuration error caused by an absent required key.
var ErrMissingEnv = errors.New("missing required environment variable")

// Error carries the kind and the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap returns err tagged with kind. A nil err stays nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds a tagged error from a format string.
func Newf(kind Kind, op string, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost tagged error in the chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps a kind to the status code the HTTP surfaces answer with.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation, KindParse, KindEmpty:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindAbort:
		return http.StatusConflict
	case KindAuth, KindNetwork, KindTimeout:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ExitInterrupted is the exit code after a SIGINT or SIGTERM shutdown.
const ExitInterrupted = 130

// ExitCode maps a startup or run error to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrMissingEnv):
		return 1
	case Is(err, KindConfig):
		return 2
	case Is(err, KindAbort):
		return ExitInterrupted
	default:
		return 1
	}
}
