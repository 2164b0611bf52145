package api

import (
	"net/http"

	"rentmarket/internal/domain"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var httpStatusByKind = map[domain.Kind]int{
	domain.KindValidation:      http.StatusBadRequest,
	domain.KindAuthorization:   http.StatusForbidden,
	domain.KindNotFound:        http.StatusNotFound,
	domain.KindInvalidState:    http.StatusConflict,
	domain.KindConflict:        http.StatusConflict,
	domain.KindItemUnavailable: http.StatusConflict,
	domain.KindAlreadyPaid:     http.StatusConflict,
	domain.KindItemInUse:       http.StatusConflict,
	domain.KindSelfBooking:     http.StatusUnprocessableEntity,
	domain.KindNotEligible:     http.StatusUnprocessableEntity,
}

var grpcCodeByKind = map[domain.Kind]codes.Code{
	domain.KindValidation:      codes.InvalidArgument,
	domain.KindAuthorization:   codes.PermissionDenied,
	domain.KindNotFound:        codes.NotFound,
	domain.KindInvalidState:    codes.FailedPrecondition,
	domain.KindConflict:        codes.Aborted,
	domain.KindItemUnavailable: codes.FailedPrecondition,
	domain.KindAlreadyPaid:     codes.AlreadyExists,
	domain.KindItemInUse:       codes.FailedPrecondition,
	domain.KindSelfBooking:     codes.FailedPrecondition,
	domain.KindNotEligible:     codes.FailedPrecondition,
}

// httpError maps a service error to a status and a client-safe message.
func httpError(err error) (int, domain.Kind, string) {
	kind := domain.KindOf(err)
	if code, ok := httpStatusByKind[kind]; ok {
		return code, kind, err.Error()
	}
	return http.StatusInternalServerError, domain.KindInternal, "internal error"
}

// grpcError converts a service error to a gRPC status. Errors that already
// carry a status pass through.
func grpcError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	kind := domain.KindOf(err)
	if code, ok := grpcCodeByKind[kind]; ok {
		return status.Errorf(code, "%s: %v", kind, err)
	}
	return status.Error(codes.Internal, "internal error")
}
