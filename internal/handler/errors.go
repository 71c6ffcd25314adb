package handler

import (
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pesio-ai/be-plt-approvals/internal/platform/errors"
)

const internalMessage = "internal error"

// grpcCode maps an application error code onto a gRPC status code.
func grpcCode(code errors.Code) codes.Code {
	switch code {
	case errors.ErrCodeNotFound:
		return codes.NotFound
	case errors.ErrCodeConflict:
		return codes.Aborted
	case errors.ErrCodeForbidden:
		return codes.PermissionDenied
	case errors.ErrCodeUnauthenticated:
		return codes.Unauthenticated
	case errors.ErrCodeInvalidArgument:
		return codes.InvalidArgument
	case errors.ErrCodeInvalidOperation, errors.ErrCodeInvalidConfiguration:
		return codes.FailedPrecondition
	default:
		return codes.Internal
	}
}

func mapErrorToGRPC(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	code := errors.CodeOf(err)
	if code == errors.ErrCodeInternal {
		return status.Error(codes.Internal, internalMessage)
	}
	return status.Error(grpcCode(code), err.Error())
}

func httpStatus(code errors.Code) int {
	switch code {
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeConflict:
		return http.StatusConflict
	case errors.ErrCodeForbidden:
		return http.StatusForbidden
	case errors.ErrCodeUnauthenticated:
		return http.StatusUnauthorized
	case errors.ErrCodeInvalidArgument:
		return http.StatusBadRequest
	case errors.ErrCodeInvalidOperation, errors.ErrCodeInvalidConfiguration:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
