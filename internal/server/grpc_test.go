package server

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	healthhandler "github.com/johndoe6345789/pyracms-core/internal/health/handler"
	identityhandler "github.com/johndoe6345789/pyracms-core/internal/identity/handler"
	identityservice "github.com/johndoe6345789/pyracms-core/internal/identity/service"
	"github.com/johndoe6345789/pyracms-core/internal/metrics"
	"github.com/johndoe6345789/pyracms-core/internal/security"
	"github.com/johndoe6345789/pyracms-core/internal/session"
	sessionrepo "github.com/johndoe6345789/pyracms-core/internal/session/repository"
	userrepo "github.com/johndoe6345789/pyracms-core/internal/user/repository"
)

// mockServiceRegistrar implements grpc.ServiceRegistrar for testing.
type mockServiceRegistrar struct {
	services []string
}

func (m *mockServiceRegistrar) RegisterService(desc *grpc.ServiceDesc, _ interface{}) {
	m.services = append(m.services, desc.ServiceName)
}

func newAuth(t *testing.T) *identityservice.AuthService {
	t.Helper()
	tokens, err := security.NewTestTokenProvider(time.Hour, 0)
	require.NoError(t, err)
	keyer, err := security.NewSessionKeyer([]byte(security.TestSecret))
	require.NoError(t, err)
	svc, err := identityservice.NewAuthService(userrepo.NewMemoryRepository(), security.NewTestHasher(), tokens,
		session.NewManager(sessionrepo.NewMemoryStore(), keyer))
	require.NoError(t, err)
	return svc
}

func TestRegisterServices(t *testing.T) {
	reg := &mockServiceRegistrar{}
	_, hs := NewGRPCServer(Deps{Logger: zerolog.Nop()})
	RegisterServices(reg, Deps{}, hs)
	require.Equal(t, []string{identityhandler.AuthServiceName, "grpc.health.v1.Health"}, reg.services)
}

func TestRegisterServices_NoHealth(t *testing.T) {
	reg := &mockServiceRegistrar{}
	RegisterServices(reg, Deps{}, nil)
	require.Equal(t, []string{identityhandler.AuthServiceName}, reg.services)
}

func TestNewGRPCServer_EndToEnd(t *testing.T) {
	svc := newAuth(t)
	_, err := svc.Register(context.Background(), "alice", "alice@example.com", "Correct-Horse-9")
	require.NoError(t, err)

	deps := Deps{Auth: svc, Health: healthhandler.NewServer(nil, nil), Metrics: metrics.New(), Logger: zerolog.Nop()}
	s, hs := NewGRPCServer(deps)
	lis := bufconn.Listen(1 << 20)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cc.Close() })
	ctx := context.Background()

	hc := healthpb.NewHealthClient(cc)
	resp, err := hc.Check(ctx, &healthpb.HealthCheckRequest{Service: identityhandler.AuthServiceName})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())

	deps.Health.Sync(ctx, hs, identityhandler.AuthServiceName)
	resp, err = hc.Check(ctx, &healthpb.HealthCheckRequest{Service: identityhandler.AuthServiceName})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	client := identityhandler.NewAuthServiceClient(cc)
	_, err = client.Authenticate(ctx, &identityhandler.AuthenticateRequest{})
	require.Equal(t, codes.Unauthenticated, status.Code(err))

	login, err := client.Login(ctx, &identityhandler.LoginRequest{Username: "alice", Password: "Correct-Horse-9"})
	require.NoError(t, err)
	require.NotEmpty(t, login.Token)
}

func TestNewHTTPHandler(t *testing.T) {
	m := metrics.New()
	h := NewHTTPHandler(Deps{Auth: newAuth(t), Metrics: m, Logger: zerolog.Nop()})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"username":"nobody","password":"x"}`)))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, `pyracms_request_duration_seconds_count{code="401",route="POST /api/auth/login",transport="http"} 1`)
	require.Contains(t, body, `route="GET /healthz"`)
}

func TestNewHTTPHandler_Unmatched(t *testing.T) {
	m := metrics.New()
	h := NewHTTPHandler(Deps{Metrics: m, Logger: zerolog.Nop()})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Contains(t, rec.Body.String(), `route="unmatched"`)
}
