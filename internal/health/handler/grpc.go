package handler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const defaultCheckTimeout = 2 * time.Second

// Pinger is a backing store that can report reachability (db.Pinger, *repository.RedisStore).
type Pinger interface {
	Ping(ctx context.Context) error
}

// Pingers checks every member and joins their errors.
type Pingers []Pinger

func (ps Pingers) Ping(ctx context.Context) error {
	var errs []error
	for _, p := range ps {
		if p == nil {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PolicyChecker reports whether the login policy engine can evaluate (e.g. OPA evaluator).
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server answers readiness for the identity service and mirrors it into the
// standard grpc.health.v1 service.
type Server struct {
	pinger  Pinger
	policy  PolicyChecker
	timeout time.Duration
	log     zerolog.Logger
}

// NewServer returns a health Server. Either dependency may be nil, in which case its check is skipped.
func NewServer(pinger Pinger, policyChecker PolicyChecker) *Server {
	return &Server{pinger: pinger, policy: policyChecker, timeout: defaultCheckTimeout, log: zerolog.Nop()}
}

// WithLogger sets the logger used to report failed checks.
func (s *Server) WithLogger(log zerolog.Logger) *Server {
	s.log = log
	return s
}

// Check returns nil when the stores answer and the policy engine evaluates.
func (s *Server) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if s.pinger != nil {
		if err := s.pinger.Ping(ctx); err != nil {
			return fmt.Errorf("store: %w", err)
		}
	}
	if s.policy != nil {
		if err := s.policy.HealthCheck(ctx); err != nil {
			return fmt.Errorf("policy: %w", err)
		}
	}
	return nil
}

// Status runs Check and maps the result to a grpc.health.v1 serving status.
func (s *Server) Status(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	if err := s.Check(ctx); err != nil {
		s.log.Warn().Err(err).Msg("health check failed")
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	return healthpb.HealthCheckResponse_SERVING
}

// Sync runs one check and publishes the result for the overall server and each of services.
func (s *Server) Sync(ctx context.Context, hs *health.Server, services ...string) healthpb.HealthCheckResponse_ServingStatus {
	st := s.Status(ctx)
	hs.SetServingStatus("", st)
	for _, name := range services {
		hs.SetServingStatus(name, st)
	}
	return st
}

// Run calls Sync every interval until ctx is done, then marks everything NOT_SERVING.
func (s *Server) Run(ctx context.Context, hs *health.Server, interval time.Duration, services ...string) {
	s.Sync(ctx, hs, services...)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-ticker.C:
			s.Sync(ctx, hs, services...)
		}
	}
}
