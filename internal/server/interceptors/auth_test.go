package interceptors

import (
	"context"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/johndoe6345789/pyracms-core/internal/identity/service"
)

type stubAuthenticator struct {
	tokens map[string]*service.Identity
	calls  int
}

func (s *stubAuthenticator) Authenticate(_ context.Context, token string) (*service.Identity, error) {
	s.calls++
	if id, ok := s.tokens[token]; ok {
		return id, nil
	}
	return nil, service.ErrUnauthenticated
}

func bearerCtx(v string) context.Context {
	return metadata.NewIncomingContext(context.Background(), metadata.New(map[string]string{
		"authorization": v,
	}))
}

func echoIdentity(ctx context.Context, _ interface{}) (interface{}, error) {
	userID, _ := GetUserID(ctx)
	return userID, nil
}

func TestAuthUnary_PublicMethod(t *testing.T) {
	auth := &stubAuthenticator{}
	interceptor := AuthUnary(auth, map[string]bool{"/test.Service/PublicMethod": true})

	resp, err := interceptor(bearerCtx("Bearer junk"), "request", &grpc.UnaryServerInfo{
		FullMethod: "/test.Service/PublicMethod",
	}, func(ctx context.Context, req interface{}) (interface{}, error) {
		return "success", nil
	})
	if err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	if resp != "success" {
		t.Errorf("response = %v, want %q", resp, "success")
	}
	if auth.calls != 0 {
		t.Errorf("public methods must not authenticate, calls = %d", auth.calls)
	}
}

func TestAuthUnary_ProtectedMethod(t *testing.T) {
	auth := &stubAuthenticator{tokens: map[string]*service.Identity{
		"good": {UserID: "user-1", SessionID: "session-1"},
	}}
	interceptor := AuthUnary(auth, map[string]bool{})
	info := &grpc.UnaryServerInfo{FullMethod: "/test.Service/ProtectedMethod"}

	resp, err := interceptor(bearerCtx("Bearer good"), "request", info, echoIdentity)
	if err != nil {
		t.Fatalf("valid token: %v", err)
	}
	if resp != "user-1" {
		t.Errorf("user_id in handler = %v, want user-1", resp)
	}

	for name, ctx := range map[string]context.Context{
		"no metadata":  context.Background(),
		"wrong scheme": bearerCtx("Basic good"),
		"bad token":    bearerCtx("Bearer bad"),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := interceptor(ctx, "request", info, echoIdentity)
			if status.Code(err) != codes.Unauthenticated {
				t.Fatalf("code = %v, want Unauthenticated", status.Code(err))
			}
		})
	}
}

func TestAuthUnary_SetsTokenAndSession(t *testing.T) {
	auth := &stubAuthenticator{tokens: map[string]*service.Identity{
		"good": {UserID: "user-1", SessionID: "session-1"},
	}}
	interceptor := AuthUnary(auth, nil)
	_, err := interceptor(bearerCtx("Bearer good"), nil, &grpc.UnaryServerInfo{FullMethod: "/x/Y"},
		func(ctx context.Context, _ interface{}) (interface{}, error) {
			if v, _ := GetSessionID(ctx); v != "session-1" {
				t.Errorf("session_id = %q", v)
			}
			if v, _ := GetToken(ctx); v != "good" {
				t.Errorf("token = %q", v)
			}
			return nil, nil
		})
	if err != nil {
		t.Fatalf("interceptor: %v", err)
	}
}

func TestAuthUnary_NilAuthenticator(t *testing.T) {
	interceptor := AuthUnary(nil, nil)
	_, err := interceptor(bearerCtx("Bearer good"), nil, &grpc.UnaryServerInfo{FullMethod: "/x/Y"}, echoIdentity)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("code = %v, want Unauthenticated", status.Code(err))
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"Bearer token123":       "token123",
		"bearer token123":       "token123",
		"  Bearer   token123  ": "token123",
		"Basic token123":        "",
		"Bearer":                "",
		"":                      "",
	}
	for in, want := range cases {
		if got := BearerToken(bearerCtx(in)); got != want {
			t.Errorf("BearerToken(%q) = %q, want %q", in, got, want)
		}
	}
	if got := BearerToken(context.Background()); got != "" {
		t.Errorf("BearerToken without metadata = %q, want empty", got)
	}
}
