package identity

import (
	"context"
	"fmt"

	"github.com/santedb/santedb-server-sub007/internal/auth"
)

// Verdict is the decision of an Interceptor on an authentication attempt.
type Verdict int

const (
	// Continue passes the attempt to the next interceptor.
	Continue Verdict = iota
	// Allow ends the interceptor chain; authentication proceeds.
	Allow
	// Deny cancels the attempt.
	Deny
)

func (v Verdict) String() string {
	switch v {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	default:
		return "continue"
	}
}

// Attempt describes an authentication attempt before credentials are checked.
type Attempt struct {
	Kind   auth.IdentityKind
	Name   string
	Method string
}

// Interceptor runs before every authentication attempt.
type Interceptor interface {
	Authenticating(ctx context.Context, attempt Attempt) (Verdict, error)
}

// InterceptorFunc adapts a function to Interceptor.
type InterceptorFunc func(ctx context.Context, attempt Attempt) (Verdict, error)

func (f InterceptorFunc) Authenticating(ctx context.Context, attempt Attempt) (Verdict, error) {
	return f(ctx, attempt)
}

// ExpressionInterceptor denies attempts matching a go-bexpr expression over
// the attributes name, kind and method.
//
// Example: kind == "device" and name matches "^TEST"
type ExpressionInterceptor struct {
	expr string
}

// NewExpressionInterceptor compiles expr and returns an interceptor for it.
func NewExpressionInterceptor(expr string) (*ExpressionInterceptor, error) {
	if _, err := auth.CompileExpression(expr); err != nil {
		return nil, err
	}
	return &ExpressionInterceptor{expr: expr}, nil
}

// ExpressionInterceptors compiles one interceptor per expression.
func ExpressionInterceptors(exprs []string) ([]Interceptor, error) {
	out := make([]Interceptor, 0, len(exprs))
	for _, expr := range exprs {
		i, err := NewExpressionInterceptor(expr)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, nil
}

func (e *ExpressionInterceptor) Authenticating(_ context.Context, attempt Attempt) (Verdict, error) {
	matched, err := auth.EvaluateExpression(e.expr, map[string]any{
		"name":   attempt.Name,
		"kind":   string(attempt.Kind),
		"method": attempt.Method,
	})
	if err != nil {
		return Continue, err
	}
	if matched {
		return Deny, nil
	}
	return Continue, nil
}

// RunInterceptors evaluates interceptors in order. The first Deny yields a
// Cancelled authentication error; the first Allow stops evaluation.
func RunInterceptors(ctx context.Context, interceptors []Interceptor, attempt Attempt) error {
	for _, i := range interceptors {
		verdict, err := i.Authenticating(ctx, attempt)
		if err != nil {
			return fmt.Errorf("authentication interceptor: %w", err)
		}
		switch verdict {
		case Deny:
			return auth.NewAuthenticationError(auth.ReasonCancelled, attempt.Name, nil)
		case Allow:
			return nil
		}
	}
	return nil
}
