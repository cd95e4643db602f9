package engine

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

const (
	loginPolicyPackage = "data.pyracms.login"
	loginPolicyModule  = "login.rego"
)

// DefaultLoginPolicy admits active users only.
const DefaultLoginPolicy = `package pyracms.login

default allow := false

allow if {
	input.user.is_active
}

reason := "user inactive" if {
	not input.user.is_active
}
`

// ErrNoDecision is returned when the policy does not define data.pyracms.login.
var ErrNoDecision = errors.New("login policy returned no decision")

// OPAEvaluator evaluates the login admission policy with OPA Rego. The query
// is prepared once; EvaluateLogin is safe for concurrent use.
type OPAEvaluator struct {
	query rego.PreparedEvalQuery
}

// NewOPAEvaluator compiles source, which must declare package pyracms.login.
// An empty source selects DefaultLoginPolicy.
func NewOPAEvaluator(ctx context.Context, source string) (*OPAEvaluator, error) {
	if source == "" {
		source = DefaultLoginPolicy
	}
	compiler, err := ast.CompileModules(map[string]string{loginPolicyModule: source})
	if err != nil {
		return nil, fmt.Errorf("compile login policy: %w", err)
	}
	if pkg := compiler.Modules[loginPolicyModule].Package.Path.String(); pkg != loginPolicyPackage {
		return nil, fmt.Errorf("login policy must declare package pyracms.login, got %s", pkg)
	}
	query, err := rego.New(
		rego.Query(loginPolicyPackage),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare login policy: %w", err)
	}
	return &OPAEvaluator{query: query}, nil
}

// NewOPAEvaluatorFromFile reads a rego file and compiles it. An empty path
// selects DefaultLoginPolicy.
func NewOPAEvaluatorFromFile(ctx context.Context, path string) (*OPAEvaluator, error) {
	if path == "" {
		return NewOPAEvaluator(ctx, "")
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read login policy: %w", err)
	}
	return NewOPAEvaluator(ctx, string(src))
}

// EvaluateLogin evaluates the policy against in. Undefined or non-boolean
// allow values deny.
func (e *OPAEvaluator) EvaluateLogin(ctx context.Context, in LoginInput) (LoginDecision, error) {
	rs, err := e.query.Eval(ctx, rego.EvalInput(buildInput(in)))
	if err != nil {
		return LoginDecision{}, fmt.Errorf("eval login policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return LoginDecision{}, ErrNoDecision
	}
	doc, ok := rs[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return LoginDecision{}, ErrNoDecision
	}
	var out LoginDecision
	out.Allow, _ = doc["allow"].(bool)
	out.Reason, _ = doc["reason"].(string)
	if !out.Allow && out.Reason == "" {
		out.Reason = "denied by policy"
	}
	return out, nil
}

// HealthCheck evaluates the prepared policy against a fixed active-user input.
// Returns nil when the engine produces a decision.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	_, err := e.EvaluateLogin(ctx, LoginInput{UserID: "healthcheck", IsActive: true})
	return err
}

func buildInput(in LoginInput) map[string]interface{} {
	now := in.Now.UTC()
	return map[string]interface{}{
		"user": map[string]interface{}{
			"id":        in.UserID,
			"username":  in.Username,
			"email":     in.Email,
			"is_active": in.IsActive,
		},
		"sessions": map[string]interface{}{
			"active": in.ActiveSessions,
			"policy": in.SessionPolicy,
			"max":    in.MaxSessions,
		},
		"now":      now.Format("2006-01-02T15:04:05Z07:00"),
		"now_unix": now.Unix(),
	}
}
