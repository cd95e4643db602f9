package handler

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/johndoe6345789/pyracms-core/internal/identity/service"
	"github.com/johndoe6345789/pyracms-core/internal/server/interceptors"
)

// AuthServiceName is the fully qualified gRPC service name.
const AuthServiceName = "pyracms.auth.v1.AuthService"

// Full method names, for interceptor allow-lists.
const (
	LoginMethod        = "/" + AuthServiceName + "/Login"
	LogoutMethod       = "/" + AuthServiceName + "/Logout"
	AuthenticateMethod = "/" + AuthServiceName + "/Authenticate"
	RegisterMethod     = "/" + AuthServiceName + "/Register"
	LogoutAllMethod    = "/" + AuthServiceName + "/LogoutAll"
)

// LoginRequest identifies the user by Username or Email.
type LoginRequest struct {
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
}

// LogoutRequest carries the token to end; when empty the Bearer metadata is used.
type LogoutRequest struct {
	Token string `json:"token,omitempty"`
}

type LogoutResponse struct{}

// AuthenticateRequest is empty; the token travels as Bearer metadata.
type AuthenticateRequest struct{}

type AuthenticateResponse struct {
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterResponse struct {
	User UserResponse `json:"user"`
}

type LogoutAllRequest struct{}

type LogoutAllResponse struct {
	Invalidated int `json:"invalidated"`
}

// AuthServiceServer is the server API for pyracms.auth.v1.AuthService.
type AuthServiceServer interface {
	Login(context.Context, *LoginRequest) (*LoginResponse, error)
	Logout(context.Context, *LogoutRequest) (*LogoutResponse, error)
	Authenticate(context.Context, *AuthenticateRequest) (*AuthenticateResponse, error)
	Register(context.Context, *RegisterRequest) (*RegisterResponse, error)
	LogoutAll(context.Context, *LogoutAllRequest) (*LogoutAllResponse, error)
}

// AuthServiceDesc describes pyracms.auth.v1.AuthService for grpc.Server.
var AuthServiceDesc = grpc.ServiceDesc{
	ServiceName: AuthServiceName,
	HandlerType: (*AuthServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Login", Handler: unaryHandler(LoginMethod, AuthServiceServer.Login)},
		{MethodName: "Logout", Handler: unaryHandler(LogoutMethod, AuthServiceServer.Logout)},
		{MethodName: "Authenticate", Handler: unaryHandler(AuthenticateMethod, AuthServiceServer.Authenticate)},
		{MethodName: "Register", Handler: unaryHandler(RegisterMethod, AuthServiceServer.Register)},
		{MethodName: "LogoutAll", Handler: unaryHandler(LogoutAllMethod, AuthServiceServer.LogoutAll)},
	},
	Metadata: "pyracms/auth/v1",
}

// RegisterAuthServiceServer registers srv on s.
func RegisterAuthServiceServer(s grpc.ServiceRegistrar, srv AuthServiceServer) {
	s.RegisterService(&AuthServiceDesc, srv)
}

// unaryHandler adapts a typed method to grpc.MethodDesc.Handler, running the
// server's interceptor chain like generated code does.
func unaryHandler[Req, Resp any](fullMethod string, call func(AuthServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AuthServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AuthServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// AuthServer implements AuthServiceServer on the auth service.
type AuthServer struct {
	auth *service.AuthService
}

// NewAuthServer returns a new Auth gRPC server. With a nil auth service every RPC returns Unimplemented.
func NewAuthServer(auth *service.AuthService) *AuthServer {
	return &AuthServer{auth: auth}
}

func (s *AuthServer) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	if s.auth == nil {
		return nil, status.Error(codes.Unimplemented, "method Login not implemented")
	}
	identifier := req.Username
	if identifier == "" {
		identifier = req.Email
	}
	res, err := s.auth.Login(ctx, identifier, req.Password)
	if err != nil {
		return nil, grpcError(err)
	}
	return &LoginResponse{Token: res.Token, ExpiresAt: res.ExpiresAt, UserID: res.UserID, SessionID: res.SessionID}, nil
}

// Logout always succeeds once the service is configured.
func (s *AuthServer) Logout(ctx context.Context, req *LogoutRequest) (*LogoutResponse, error) {
	if s.auth == nil {
		return nil, status.Error(codes.Unimplemented, "method Logout not implemented")
	}
	token := req.Token
	if token == "" {
		token = interceptors.BearerToken(ctx)
	}
	_ = s.auth.Logout(ctx, token)
	return &LogoutResponse{}, nil
}

// Authenticate validates the Bearer metadata token. When the auth interceptor
// already did so, the identity it stored is reused.
func (s *AuthServer) Authenticate(ctx context.Context, _ *AuthenticateRequest) (*AuthenticateResponse, error) {
	if s.auth == nil {
		return nil, status.Error(codes.Unimplemented, "method Authenticate not implemented")
	}
	token, ok := interceptors.GetToken(ctx)
	if !ok {
		token = interceptors.BearerToken(ctx)
	}
	id, err := s.auth.Authenticate(ctx, token)
	if err != nil {
		return nil, grpcError(err)
	}
	return &AuthenticateResponse{UserID: id.UserID, SessionID: id.SessionID, ExpiresAt: id.ExpiresAt}, nil
}

func (s *AuthServer) Register(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error) {
	if s.auth == nil {
		return nil, status.Error(codes.Unimplemented, "method Register not implemented")
	}
	u, err := s.auth.Register(ctx, req.Username, req.Email, req.Password)
	if err != nil {
		return nil, grpcError(err)
	}
	return &RegisterResponse{User: toUserResponse(u)}, nil
}

func (s *AuthServer) LogoutAll(ctx context.Context, _ *LogoutAllRequest) (*LogoutAllResponse, error) {
	if s.auth == nil {
		return nil, status.Error(codes.Unimplemented, "method LogoutAll not implemented")
	}
	token, ok := interceptors.GetToken(ctx)
	if !ok {
		token = interceptors.BearerToken(ctx)
	}
	n, err := s.auth.LogoutAll(ctx, token)
	if err != nil {
		return nil, grpcError(err)
	}
	return &LogoutAllResponse{Invalidated: n}, nil
}

// AuthServiceClient calls pyracms.auth.v1.AuthService with the JSON codec.
type AuthServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewAuthServiceClient(cc grpc.ClientConnInterface) *AuthServiceClient {
	return &AuthServiceClient{cc: cc}
}

func (c *AuthServiceClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, method, in, out, opts...)
}

func (c *AuthServiceClient) Login(ctx context.Context, in *LoginRequest, opts ...grpc.CallOption) (*LoginResponse, error) {
	out := new(LoginResponse)
	if err := c.invoke(ctx, LoginMethod, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AuthServiceClient) Logout(ctx context.Context, in *LogoutRequest, opts ...grpc.CallOption) (*LogoutResponse, error) {
	out := new(LogoutResponse)
	if err := c.invoke(ctx, LogoutMethod, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AuthServiceClient) Authenticate(ctx context.Context, in *AuthenticateRequest, opts ...grpc.CallOption) (*AuthenticateResponse, error) {
	out := new(AuthenticateResponse)
	if err := c.invoke(ctx, AuthenticateMethod, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AuthServiceClient) Register(ctx context.Context, in *RegisterRequest, opts ...grpc.CallOption) (*RegisterResponse, error) {
	out := new(RegisterResponse)
	if err := c.invoke(ctx, RegisterMethod, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AuthServiceClient) LogoutAll(ctx context.Context, in *LogoutAllRequest, opts ...grpc.CallOption) (*LogoutAllResponse, error) {
	out := new(LogoutAllResponse)
	if err := c.invoke(ctx, LogoutAllMethod, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}
