package server

import (
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	healthhandler "github.com/johndoe6345789/pyracms-core/internal/health/handler"
	identityhandler "github.com/johndoe6345789/pyracms-core/internal/identity/handler"
	identityservice "github.com/johndoe6345789/pyracms-core/internal/identity/service"
	"github.com/johndoe6345789/pyracms-core/internal/metrics"
	"github.com/johndoe6345789/pyracms-core/internal/server/interceptors"
)

// Deps holds the dependencies shared by the gRPC and HTTP servers.
type Deps struct {
	// Auth is the identity façade. If nil, auth RPCs return Unimplemented and HTTP auth routes are not mounted.
	Auth *identityservice.AuthService
	// Health backs readiness for both transports. If nil, readiness always passes.
	Health *healthhandler.Server
	// Metrics records request latency and is served on /metrics. May be nil.
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

// PublicMethods are the RPCs that run without a bearer token.
func PublicMethods() map[string]bool {
	return map[string]bool{
		identityhandler.LoginMethod:          true,
		identityhandler.LogoutMethod:         true,
		identityhandler.RegisterMethod:       true,
		healthpb.Health_Check_FullMethodName: true,
		healthpb.Health_Watch_FullMethodName: true,
	}
}

// NewGRPCServer builds a gRPC server with tracing, request logging and bearer
// authentication, and registers every service on it. The returned health
// server starts NOT_SERVING until the caller syncs it.
func NewGRPCServer(deps Deps) (*grpc.Server, *health.Server) {
	var auth interceptors.Authenticator
	if deps.Auth != nil {
		auth = deps.Auth
	}
	quiet := map[string]bool{
		healthpb.Health_Check_FullMethodName: true,
		healthpb.Health_Watch_FullMethodName: true,
	}
	s := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			interceptors.TelemetryUnary(deps.Logger, deps.Metrics, quiet),
			interceptors.AuthUnary(auth, PublicMethods()),
		),
	)
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(identityhandler.AuthServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	RegisterServices(s, deps, hs)
	return s, hs
}

// RegisterServices registers the gRPC services with the given registrar.
//
//   - pyracms.auth.v1.AuthService → internal/identity/handler
//   - grpc.health.v1.Health       → google.golang.org/grpc/health, fed by internal/health/handler
func RegisterServices(s grpc.ServiceRegistrar, deps Deps, hs healthpb.HealthServer) {
	identityhandler.RegisterAuthServiceServer(s, identityhandler.NewAuthServer(deps.Auth))
	if hs != nil {
		healthpb.RegisterHealthServer(s, hs)
	}
}
