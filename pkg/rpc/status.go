package rpc

import (
	"errors"

	"tzlogs/pkg/failures"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var kindCodes = map[failures.Kind]codes.Code{
	failures.KindValidation: codes.InvalidArgument,
	failures.KindConflict:   codes.AlreadyExists,
	failures.KindAbort:      codes.Aborted,
	failures.KindNotFound:   codes.NotFound,
	failures.KindConfig:     codes.FailedPrecondition,
	failures.KindNetwork:    codes.Unavailable,
	failures.KindTimeout:    codes.DeadlineExceeded,
	failures.KindStorage:    codes.Internal,
}

// ToStatus converts a tagged error into a grpc status error.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	code, ok := kindCodes[failures.KindOf(err)]
	if !ok {
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}

// FromStatus converts a grpc status error back into a tagged error.
func FromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return failures.Wrap(failures.KindNetwork, "rpc", err)
	}

	for kind, code := range kindCodes {
		if code == st.Code() && kind != failures.KindStorage {
			return failures.Wrap(kind, "rpc", errors.New(st.Message()))
		}
	}
	return failures.Wrap(failures.KindInternal, "rpc", errors.New(st.Message()))
}
