package engine

import (
	"context"
	"time"
)

// LoginInput is what a login admission policy sees about the attempt. It is
// built only after the password has been verified.
type LoginInput struct {
	UserID         string
	Username       string
	Email          string
	IsActive       bool
	ActiveSessions int
	SessionPolicy  string
	MaxSessions    int
	Now            time.Time
}

// LoginDecision is the policy outcome. Reason is for logs only and never reaches clients.
type LoginDecision struct {
	Allow  bool
	Reason string
}

// Evaluator decides whether a credential-verified login may proceed.
type Evaluator interface {
	// EvaluateLogin returns the decision for in. Evaluation errors must be
	// treated by callers as a denial.
	EvaluateLogin(ctx context.Context, in LoginInput) (LoginDecision, error)
}
