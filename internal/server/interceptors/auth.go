package interceptors

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/johndoe6345789/pyracms-core/internal/identity/service"
)

const bearerPrefix = "bearer "

// Authenticator resolves a bearer token to a caller. *service.AuthService implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*service.Identity, error)
}

// AuthUnary returns a unary server interceptor that authenticates the Bearer
// token from gRPC metadata through auth and sets user_id, session_id and token
// in context for protected RPCs. publicMethods is the set of full method names
// that run without authentication (e.g. AuthService Login, Register, Logout;
// grpc.health.v1.Health/Check).
func AuthUnary(auth Authenticator, publicMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if publicMethods[info.FullMethod] {
			return handler(ctx, req)
		}
		token := BearerToken(ctx)
		if token == "" || auth == nil {
			return nil, status.Error(codes.Unauthenticated, "unauthenticated")
		}
		id, err := auth.Authenticate(ctx, token)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "unauthenticated")
		}
		ctx = WithIdentity(ctx, id.UserID, id.SessionID, token)
		return handler(ctx, req)
	}
}

// BearerToken returns the Bearer token from ctx metadata, or "" if missing or malformed.
func BearerToken(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return ""
	}
	return ParseBearer(vals[0])
}

// ParseBearer extracts the token from an Authorization header value. The
// scheme is case-insensitive; anything other than Bearer yields "".
func ParseBearer(v string) string {
	v = strings.TrimSpace(v)
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
