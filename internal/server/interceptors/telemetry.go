package interceptors

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/johndoe6345789/pyracms-core/internal/metrics"
)

// TelemetryUnary returns a unary server interceptor that logs each RPC and
// records its latency. m may be nil. skipMethods is the set of full method
// names that are neither logged nor measured (e.g. health checks).
func TelemetryUnary(log zerolog.Logger, m *metrics.Metrics, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if skipMethods[info.FullMethod] {
			return resp, err
		}
		elapsed := time.Since(start)
		code := status.Code(err)
		m.ObserveRequest("grpc", info.FullMethod, code.String(), elapsed)

		ev := log.Info()
		if err != nil {
			ev = log.Warn()
		}
		ev = ev.Str("method", info.FullMethod).
			Str("code", code.String()).
			Dur("duration", elapsed).
			Str("client_ip", ClientIP(ctx))
		if userID, ok := GetUserID(ctx); ok {
			ev = ev.Str("user_id", userID)
		}
		ev.Msg("grpc request")
		return resp, err
	}
}

// ClientIP returns the client IP from gRPC metadata (x-forwarded-for, x-real-ip) or peer, or "unknown".
func ClientIP(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get("x-forwarded-for"); len(vals) > 0 {
			if s := strings.TrimSpace(vals[0]); s != "" {
				if i := strings.Index(s, ","); i > 0 {
					s = strings.TrimSpace(s[:i])
				}
				return s
			}
		}
		if vals := md.Get("x-real-ip"); len(vals) > 0 {
			if s := strings.TrimSpace(vals[0]); s != "" {
				return s
			}
		}
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		if host, _, err := net.SplitHostPort(p.Addr.String()); err == nil {
			return host
		}
		return p.Addr.String()
	}
	return "unknown"
}
