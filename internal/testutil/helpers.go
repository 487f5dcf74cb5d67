package testutil

import (
	"errors"

	"tzlogs/pkg/failures"
)

const DatabaseError = "database error occurred"

// Result is a mocked call outcome.
type Result[T any] struct {
	Data T
	Err  error
}

// StorageFailure is the outcome of a repository call that hit a database error.
func StorageFailure[T any](op string) Result[T] {
	return Result[T]{Err: failures.Wrap(failures.KindStorage, op, errors.New(DatabaseError))}
}

// Success wraps data into a successful outcome.
func Success[T any](data T) Result[T] {
	return Result[T]{Data: data}
}
