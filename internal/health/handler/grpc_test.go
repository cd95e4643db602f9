package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// mockPinger implements Pinger for tests.
type mockPinger struct {
	pingErr error
	calls   int
}

func (m *mockPinger) Ping(context.Context) error {
	m.calls++
	return m.pingErr
}

// mockPolicyChecker implements PolicyChecker for tests.
type mockPolicyChecker struct {
	healthErr error
}

func (m *mockPolicyChecker) HealthCheck(context.Context) error {
	return m.healthErr
}

func TestStatus_NilDependencies(t *testing.T) {
	srv := NewServer(nil, nil)
	if got := srv.Status(context.Background()); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status = %v, want SERVING", got)
	}
}

func TestStatus_PingerSuccess(t *testing.T) {
	p := &mockPinger{}
	srv := NewServer(p, nil)
	if got := srv.Status(context.Background()); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status = %v, want SERVING", got)
	}
	if p.calls != 1 {
		t.Errorf("ping calls = %d, want 1", p.calls)
	}
}

func TestStatus_PingerFailure(t *testing.T) {
	srv := NewServer(&mockPinger{pingErr: errors.New("connection refused")}, nil)
	if got := srv.Status(context.Background()); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("status = %v, want NOT_SERVING", got)
	}
}

func TestStatus_PolicyCheckerFailure(t *testing.T) {
	srv := NewServer(nil, &mockPolicyChecker{healthErr: errors.New("rego compile failed")})
	if got := srv.Status(context.Background()); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("status = %v, want NOT_SERVING", got)
	}
}

func TestStatus_BothChecksPolicyFails(t *testing.T) {
	srv := NewServer(&mockPinger{}, &mockPolicyChecker{healthErr: errors.New("policy error")})
	if got := srv.Status(context.Background()); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("status = %v, want NOT_SERVING", got)
	}
}

func TestPingers_JoinsErrors(t *testing.T) {
	ok := &mockPinger{}
	down := &mockPinger{pingErr: errors.New("redis down")}
	ps := Pingers{ok, nil, down}
	err := ps.Ping(context.Background())
	if err == nil || err.Error() != "redis down" {
		t.Fatalf("Ping = %v, want redis down", err)
	}
	if ok.calls != 1 || down.calls != 1 {
		t.Errorf("calls = %d/%d, want 1/1", ok.calls, down.calls)
	}
}

func TestSync_PublishesStatus(t *testing.T) {
	hs := health.NewServer()
	p := &mockPinger{pingErr: errors.New("down")}
	srv := NewServer(p, nil)
	const svc = "pyracms.auth.v1.AuthService"

	srv.Sync(context.Background(), hs, svc)
	for _, name := range []string{"", svc} {
		resp, err := hs.Check(context.Background(), &healthpb.HealthCheckRequest{Service: name})
		if err != nil {
			t.Fatalf("Check(%q): %v", name, err)
		}
		if resp.GetStatus() != healthpb.HealthCheckResponse_NOT_SERVING {
			t.Errorf("Check(%q) = %v, want NOT_SERVING", name, resp.GetStatus())
		}
	}

	p.pingErr = nil
	srv.Sync(context.Background(), hs, svc)
	resp, err := hs.Check(context.Background(), &healthpb.HealthCheckRequest{Service: svc})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status = %v, want SERVING", resp.GetStatus())
	}
}

func TestHTTPHealthEndpoints(t *testing.T) {
	p := &mockPinger{}
	srv := NewServer(p, nil)
	mux := http.NewServeMux()
	srv.Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("healthz = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("readyz = %d, want 200", rec.Code)
	}

	p.pingErr = errors.New("down")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz = %d, want 503", rec.Code)
	}
	if got := rec.Body.String(); got != "{\"status\":\"not_serving\"}\n" {
		t.Errorf("body = %q", got)
	}
}
