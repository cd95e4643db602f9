// Package service is the authentication façade: login, authenticate, logout
// and the account operations built on them.
package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/johndoe6345789/pyracms-core/internal/metrics"
	"github.com/johndoe6345789/pyracms-core/internal/policy/engine"
	"github.com/johndoe6345789/pyracms-core/internal/security"
	"github.com/johndoe6345789/pyracms-core/internal/session"
	sessiondomain "github.com/johndoe6345789/pyracms-core/internal/session/domain"
	"github.com/johndoe6345789/pyracms-core/internal/telemetry"
	telemetrydomain "github.com/johndoe6345789/pyracms-core/internal/telemetry/domain"
	userdomain "github.com/johndoe6345789/pyracms-core/internal/user/domain"
	userrepo "github.com/johndoe6345789/pyracms-core/internal/user/repository"
)

// Sentinel errors for the auth service; handlers map them to status codes.
var (
	// ErrInvalidCredentials is the only login failure callers ever see.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnauthenticated is the only authentication failure callers ever see.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrInvalidArgument wraps input validation failures.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrForbidden is returned when an authenticated caller acts on another account.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound is returned when the target user does not exist.
	ErrNotFound = errors.New("not found")
)

// Session policies.
const (
	SessionPolicyMultiple = "multiple"
	SessionPolicySingle   = "single"
	SessionPolicyLimit    = "limit"
)

const tracerName = "github.com/johndoe6345789/pyracms-core/internal/identity/service"

// AuthResult is the outcome of a successful Login.
type AuthResult struct {
	Token     string
	ExpiresAt time.Time
	UserID    string
	SessionID string
}

// Identity is the caller established by Authenticate.
type Identity struct {
	UserID    string
	SessionID string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// AuthService implements login, authenticate, logout and registration.
// It is safe for concurrent use.
type AuthService struct {
	users    userrepo.Repository
	hasher   *security.Hasher
	tokens   *security.TokenProvider
	sessions *session.Manager

	policy        engine.Evaluator
	sessionPolicy string
	maxSessions   int

	emitter telemetry.EventEmitter
	metrics *metrics.Metrics
	log     zerolog.Logger
	tracer  trace.Tracer
	clock   func() time.Time

	dummyHash string
}

// Option configures an AuthService.
type Option func(*AuthService)

// WithLoginPolicy sets the admission policy consulted after the password is verified.
func WithLoginPolicy(p engine.Evaluator) Option {
	return func(s *AuthService) { s.policy = p }
}

// WithSessionPolicy selects the concurrent-session policy. max applies to SessionPolicyLimit.
func WithSessionPolicy(policy string, max int) Option {
	return func(s *AuthService) {
		s.sessionPolicy = policy
		s.maxSessions = max
	}
}

// WithEmitter sets where identity events go.
func WithEmitter(e telemetry.EventEmitter) Option {
	return func(s *AuthService) { s.emitter = e }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *AuthService) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *AuthService) { s.log = l }
}

// WithTracer overrides the tracer obtained from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(s *AuthService) { s.tracer = t }
}

// WithClock sets the time source.
func WithClock(clock func() time.Time) Option {
	return func(s *AuthService) { s.clock = clock }
}

// NewAuthService returns an AuthService. It hashes a random password once so
// that logins for unknown users spend the same work as real verifications.
func NewAuthService(
	users userrepo.Repository,
	hasher *security.Hasher,
	tokens *security.TokenProvider,
	sessions *session.Manager,
	opts ...Option,
) (*AuthService, error) {
	if users == nil || hasher == nil || tokens == nil || sessions == nil {
		return nil, errors.New("auth service: users, hasher, tokens and sessions are required")
	}
	s := &AuthService{
		users:         users,
		hasher:        hasher,
		tokens:        tokens,
		sessions:      sessions,
		sessionPolicy: SessionPolicyMultiple,
		log:           zerolog.Nop(),
		clock:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	switch s.sessionPolicy {
	case SessionPolicyMultiple, SessionPolicySingle:
	case SessionPolicyLimit:
		if s.maxSessions < 1 {
			return nil, errors.New("auth service: limit policy needs at least one session")
		}
	default:
		return nil, fmt.Errorf("auth service: unknown session policy %q", s.sessionPolicy)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	dummy, err := hasher.Hash(context.Background(), []byte(hex.EncodeToString(buf)))
	if err != nil {
		return nil, fmt.Errorf("auth service: dummy hash: %w", err)
	}
	s.dummyHash = dummy
	return s, nil
}

// Login verifies identifier (username or email) and password, issues a token
// and records its session. Every credential or policy failure returns
// ErrInvalidCredentials; other errors are storage or signing failures.
func (s *AuthService) Login(ctx context.Context, identifier, password string) (*AuthResult, error) {
	ctx, span := s.tracer.Start(ctx, "AuthService.Login")
	defer span.End()

	res, reason, err := s.login(ctx, identifier, password)
	switch {
	case err == nil:
		s.metrics.Login(metrics.LoginSuccess)
		span.SetAttributes(attribute.String("user.id", res.UserID))
		s.emit(ctx, telemetrydomain.EventLoginSucceeded, res.UserID, res.SessionID, "")
		s.log.Info().Str("user_id", res.UserID).Str("session_id", res.SessionID).Msg("login succeeded")
		return res, nil
	case errors.Is(err, ErrInvalidCredentials):
		result := metrics.LoginFailure
		if reason == "policy_denied" || reason == "policy_error" {
			result = metrics.LoginDenied
		}
		s.metrics.Login(result)
		span.SetAttributes(attribute.String("auth.reason", reason))
		s.emit(ctx, telemetrydomain.EventLoginFailed, "", "", reason)
		s.log.Info().Str("reason", reason).Msg("login rejected")
		return nil, err
	default:
		s.metrics.Login(metrics.LoginError)
		span.RecordError(err)
		span.SetStatus(codes.Error, "login failed")
		s.log.Error().Err(err).Msg("login failed")
		return nil, err
	}
}

func (s *AuthService) login(ctx context.Context, identifier, password string) (*AuthResult, string, error) {
	identifier = strings.TrimSpace(identifier)
	var user *userdomain.User
	var err error
	switch {
	case identifier == "":
	case strings.Contains(identifier, "@"):
		user, err = s.users.GetByEmail(ctx, userdomain.NormalizeEmail(identifier))
	default:
		user, err = s.users.GetByUsername(ctx, identifier)
	}
	if err != nil {
		return nil, "", fmt.Errorf("login: lookup user: %w", err)
	}

	stored := s.dummyHash
	if user != nil && user.PasswordHash != "" {
		stored = user.PasswordHash
	}
	start := time.Now()
	ok := s.hasher.Verify(ctx, []byte(password), stored)
	s.metrics.ObserveVerify(time.Since(start))
	if !ok {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}
	}
	switch {
	case user == nil:
		return nil, "unknown_user", ErrInvalidCredentials
	case !ok:
		return nil, "wrong_password", ErrInvalidCredentials
	case !user.IsActive:
		return nil, "inactive", ErrInvalidCredentials
	}

	now := s.clock()
	if reason, err := s.admit(ctx, user, now); err != nil {
		return nil, reason, err
	}

	issued, err := s.tokens.Issue(user.ID, now)
	if err != nil {
		return nil, "", fmt.Errorf("login: issue token: %w", err)
	}
	sess, err := s.sessions.Create(ctx, user.ID, issued.Token, issued.ExpiresAt, now)
	if err != nil {
		return nil, "", fmt.Errorf("login: create session: %w", err)
	}
	s.metrics.SessionCreated()

	if err := s.enforceSessionPolicy(ctx, user.ID, sess, now); err != nil {
		// The login is failing; do not leave its session live.
		if ierr := s.sessions.InvalidateSession(context.WithoutCancel(ctx), sess); ierr != nil {
			s.log.Error().Err(ierr).Str("session_id", sess.ID).Msg("invalidate session after failed login")
		}
		return nil, "", fmt.Errorf("login: session policy: %w", err)
	}

	s.rehashIfNeeded(ctx, user, password)

	return &AuthResult{
		Token:     issued.Token,
		ExpiresAt: sess.ExpiresAt,
		UserID:    user.ID,
		SessionID: sess.ID,
	}, "", nil
}

// admit consults the login policy. Evaluation errors deny.
func (s *AuthService) admit(ctx context.Context, user *userdomain.User, now time.Time) (string, error) {
	if s.policy == nil {
		return "", nil
	}
	live, err := s.sessions.ListLive(ctx, user.ID, now)
	if err != nil {
		return "", fmt.Errorf("login: list sessions: %w", err)
	}
	decision, err := s.policy.EvaluateLogin(ctx, engine.LoginInput{
		UserID:         user.ID,
		Username:       user.Username,
		Email:          user.Email,
		IsActive:       user.IsActive,
		ActiveSessions: len(live),
		SessionPolicy:  s.sessionPolicy,
		MaxSessions:    s.maxSessions,
		Now:            now,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", user.ID).Msg("login policy evaluation failed")
		return "policy_error", ErrInvalidCredentials
	}
	if !decision.Allow {
		s.log.Info().Str("user_id", user.ID).Str("policy_reason", decision.Reason).Msg("login denied by policy")
		return "policy_denied", ErrInvalidCredentials
	}
	return "", nil
}

// enforceSessionPolicy invalidates the sessions that the new session supersedes.
func (s *AuthService) enforceSessionPolicy(ctx context.Context, userID string, current *sessiondomain.Session, now time.Time) error {
	if s.sessionPolicy == SessionPolicyMultiple {
		return nil
	}
	live, err := s.sessions.ListLive(ctx, userID, now)
	if err != nil {
		return err
	}
	// Only sessions older than current are candidates, so concurrent logins
	// never evict each other and the newest session always survives.
	older := make([]*sessiondomain.Session, 0, len(live))
	for _, ls := range live {
		if ls.ID != current.ID && sessionBefore(ls, current) {
			older = append(older, ls)
		}
	}
	sort.Slice(older, func(i, j int) bool { return sessionBefore(older[i], older[j]) })
	var evict []*sessiondomain.Session
	switch s.sessionPolicy {
	case SessionPolicySingle:
		evict = older
	case SessionPolicyLimit:
		if excess := len(older) + 1 - s.maxSessions; excess > 0 {
			evict = older[:excess]
		}
	}
	for _, old := range evict {
		if err := s.sessions.InvalidateSession(ctx, old); err != nil {
			return err
		}
		s.emit(ctx, telemetrydomain.EventSessionEvicted, userID, old.ID, s.sessionPolicy)
	}
	s.metrics.SessionsInvalidated(metrics.InvalidatedPolicy, len(evict))
	return nil
}

// sessionBefore orders sessions by creation time, then by their ULID. Times are
// compared at millisecond resolution, the precision every store keeps.
func sessionBefore(a, b *sessiondomain.Session) bool {
	at, bt := a.CreatedAt.Truncate(time.Millisecond), b.CreatedAt.Truncate(time.Millisecond)
	if !at.Equal(bt) {
		return at.Before(bt)
	}
	return a.ID < b.ID
}

// rehashIfNeeded upgrades a stored hash to the configured algorithm and cost.
// Failures are logged; the login has already succeeded.
func (s *AuthService) rehashIfNeeded(ctx context.Context, user *userdomain.User, password string) {
	if !s.hasher.NeedsRehash(user.PasswordHash) {
		return
	}
	hash, err := s.hasher.Hash(ctx, []byte(password))
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", user.ID).Msg("rehash password")
		return
	}
	if err := s.users.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		s.log.Warn().Err(err).Str("user_id", user.ID).Msg("store rehashed password")
		return
	}
	s.log.Info().Str("user_id", user.ID).Msg("password hash upgraded")
}

// Authenticate returns the identity for token when its signature and expiry
// are valid, its session is live and the session belongs to the token subject.
// Every failure is ErrUnauthenticated; the reason is logged and counted.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*Identity, error) {
	ctx, span := s.tracer.Start(ctx, "AuthService.Authenticate")
	defer span.End()

	id, reason := s.authenticate(ctx, token)
	if reason != "" {
		s.metrics.AuthRejected(reason)
		span.SetAttributes(attribute.String("auth.reason", reason))
		s.emit(ctx, telemetrydomain.EventAuthenticateRejected, "", "", reason)
		s.log.Debug().Str("reason", reason).Msg("authenticate rejected")
		return nil, ErrUnauthenticated
	}
	span.SetAttributes(attribute.String("user.id", id.UserID))
	return id, nil
}

func (s *AuthService) authenticate(ctx context.Context, token string) (*Identity, string) {
	if token == "" {
		return nil, "token_missing"
	}
	now := s.clock()
	vt, err := s.tokens.Verify(token, now)
	switch {
	case errors.Is(err, security.ErrTokenExpired):
		return nil, "token_expired"
	case errors.Is(err, security.ErrTokenBadSignature):
		return nil, "token_bad_signature"
	case err != nil:
		return nil, "token_malformed"
	}
	sess, err := s.sessions.Validate(ctx, token, now)
	if err != nil {
		s.log.Error().Err(err).Msg("session lookup failed")
		return nil, "session_store_error"
	}
	if sess == nil {
		return nil, "session_not_live"
	}
	if sess.UserID != vt.Subject {
		s.log.Warn().Str("session_id", sess.ID).Msg("session subject does not match token")
		return nil, "subject_mismatch"
	}
	return &Identity{
		UserID:    vt.Subject,
		SessionID: sess.ID,
		TokenID:   vt.ID,
		IssuedAt:  vt.IssuedAt,
		ExpiresAt: sess.ExpiresAt,
	}, ""
}

// Logout invalidates the session bound to token. It always returns nil:
// unknown, invalid and already logged-out tokens are a no-op for the caller.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	ctx, span := s.tracer.Start(ctx, "AuthService.Logout")
	defer span.End()

	if token == "" {
		return nil
	}
	sess, err := s.sessions.Validate(ctx, token, s.clock())
	if err != nil {
		s.log.Warn().Err(err).Msg("logout: session lookup failed")
	}
	if err := s.sessions.Invalidate(ctx, token); err != nil {
		s.log.Error().Err(err).Msg("logout: invalidate session")
		return nil
	}
	if sess != nil {
		s.metrics.SessionsInvalidated(metrics.InvalidatedLogout, 1)
		s.emit(ctx, telemetrydomain.EventLogout, sess.UserID, sess.ID, "")
	}
	return nil
}

// LogoutAll invalidates every live session of the caller, including the one
// bound to token, and returns how many were invalidated.
func (s *AuthService) LogoutAll(ctx context.Context, token string) (int, error) {
	ctx, span := s.tracer.Start(ctx, "AuthService.LogoutAll")
	defer span.End()

	id, err := s.Authenticate(ctx, token)
	if err != nil {
		return 0, err
	}
	n, err := s.sessions.InvalidateUser(ctx, id.UserID)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("logout all: %w", err)
	}
	s.metrics.SessionsInvalidated(metrics.InvalidatedLogoutAll, n)
	s.emit(ctx, telemetrydomain.EventLogoutAll, id.UserID, id.SessionID, "")
	return n, nil
}

// Sessions lists the caller's live sessions, oldest first.
func (s *AuthService) Sessions(ctx context.Context, token string) ([]*sessiondomain.Session, error) {
	id, err := s.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.sessions.ListLive(ctx, id.UserID, s.clock())
}

// Register creates an active user with a hashed password.
// Taken usernames or emails return userrepo.ErrUserExists.
func (s *AuthService) Register(ctx context.Context, username, email, password string) (*userdomain.User, error) {
	ctx, span := s.tracer.Start(ctx, "AuthService.Register")
	defer span.End()

	username = strings.TrimSpace(username)
	email = userdomain.NormalizeEmail(email)
	if err := userdomain.ValidateUsername(username); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if err := userdomain.ValidateEmail(email); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if err := validatePassword(password); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if err := s.ensureAvailable(ctx, "", username, email); err != nil {
		return nil, err
	}

	hash, err := s.hashPassword(ctx, password)
	if err != nil {
		return nil, err
	}
	now := s.clock().UTC()
	u := &userdomain.User{
		ID:           newUserID(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := u.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("user.id", u.ID))
	s.emit(ctx, telemetrydomain.EventUserRegistered, u.ID, "", "")
	s.log.Info().Str("user_id", u.ID).Str("username", u.Username).Msg("user registered")
	return u, nil
}

func (s *AuthService) hashPassword(ctx context.Context, password string) (string, error) {
	hash, err := s.hasher.Hash(ctx, []byte(password))
	if errors.Is(err, security.ErrPasswordTooLong) {
		return "", fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return hash, err
}

// ensureAvailable returns ErrUserExists when username or email belongs to a
// user other than selfID.
func (s *AuthService) ensureAvailable(ctx context.Context, selfID, username, email string) error {
	if username != "" {
		u, err := s.users.GetByUsername(ctx, username)
		if err != nil {
			return err
		}
		if u != nil && u.ID != selfID {
			return userrepo.ErrUserExists
		}
	}
	if email != "" {
		u, err := s.users.GetByEmail(ctx, email)
		if err != nil {
			return err
		}
		if u != nil && u.ID != selfID {
			return userrepo.ErrUserExists
		}
	}
	return nil
}

func (s *AuthService) emit(ctx context.Context, typ telemetrydomain.EventType, userID, sessionID, reason string) {
	telemetry.EmitAsync(s.emitter, ctx, &telemetrydomain.Event{
		Type:      typ,
		UserID:    userID,
		SessionID: sessionID,
		Reason:    reason,
		Source:    "identity",
	})
}

func validatePassword(password string) error {
	if len(password) < 12 {
		return errors.New("password must be at least 12 characters")
	}
	var hasUpper, hasLower, hasNumber, hasSymbol bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= '0' && r <= '9':
			hasNumber = true
		default:
			hasSymbol = true
		}
	}
	if !hasUpper {
		return errors.New("password must contain at least one uppercase letter")
	}
	if !hasLower {
		return errors.New("password must contain at least one lowercase letter")
	}
	if !hasNumber {
		return errors.New("password must contain at least one number")
	}
	if !hasSymbol {
		return errors.New("password must contain at least one symbol")
	}
	return nil
}
