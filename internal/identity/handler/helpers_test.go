package handler

import (
	"context"
	"testing"
	"time"

	"github.com/johndoe6345789/pyracms-core/internal/identity/service"
	"github.com/johndoe6345789/pyracms-core/internal/metrics"
	"github.com/johndoe6345789/pyracms-core/internal/security"
	"github.com/johndoe6345789/pyracms-core/internal/session"
	sessionrepo "github.com/johndoe6345789/pyracms-core/internal/session/repository"
	userdomain "github.com/johndoe6345789/pyracms-core/internal/user/domain"
	userrepo "github.com/johndoe6345789/pyracms-core/internal/user/repository"
)

const testPassword = "Correct-Horse-9"

func newTestAuth(t *testing.T) (*service.AuthService, *metrics.Metrics) {
	t.Helper()
	tokens, err := security.NewTestTokenProvider(time.Hour, 0)
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	keyer, err := security.NewSessionKeyer([]byte(security.TestSecret))
	if err != nil {
		t.Fatalf("NewSessionKeyer: %v", err)
	}
	m := metrics.New()
	manager := session.NewManager(sessionrepo.NewMemoryStore(), keyer)
	svc, err := service.NewAuthService(userrepo.NewMemoryRepository(), security.NewTestHasher(), tokens, manager,
		service.WithMetrics(m))
	if err != nil {
		t.Fatalf("NewAuthService: %v", err)
	}
	return svc, m
}

func mustRegister(t *testing.T, svc *service.AuthService, username string) *userdomain.User {
	t.Helper()
	u, err := svc.Register(context.Background(), username, username+"@example.com", testPassword)
	if err != nil {
		t.Fatalf("Register %s: %v", username, err)
	}
	return u
}

func mustLogin(t *testing.T, svc *service.AuthService, username string) *service.AuthResult {
	t.Helper()
	res, err := svc.Login(context.Background(), username, testPassword)
	if err != nil {
		t.Fatalf("Login %s: %v", username, err)
	}
	return res
}
