package handler

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/johndoe6345789/pyracms-core/internal/identity/service"
	userrepo "github.com/johndoe6345789/pyracms-core/internal/user/repository"
)

// classify maps a service error to its HTTP status, gRPC code and client-safe
// message. Unknown errors become a generic internal error so storage details
// never reach clients.
func classify(err error) (int, codes.Code, string) {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, codes.Unauthenticated, "invalid credentials"
	case errors.Is(err, service.ErrUnauthenticated):
		return http.StatusUnauthorized, codes.Unauthenticated, "unauthenticated"
	case errors.Is(err, service.ErrInvalidArgument):
		return http.StatusBadRequest, codes.InvalidArgument, err.Error()
	case errors.Is(err, userrepo.ErrUserExists):
		return http.StatusConflict, codes.AlreadyExists, "user already exists"
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, codes.PermissionDenied, "forbidden"
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, codes.NotFound, "not found"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, codes.DeadlineExceeded, "deadline exceeded"
	case errors.Is(err, context.Canceled):
		return 499, codes.Canceled, "request canceled"
	default:
		return http.StatusInternalServerError, codes.Internal, "internal error"
	}
}

func grpcError(err error) error {
	_, code, msg := classify(err)
	return status.Error(code, msg)
}
