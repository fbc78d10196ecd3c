package auth

import (
	"fmt"
	"strings"
	"sync"

	"github.com/hashicorp/go-bexpr"
)

// bexprCache stores compiled go-bexpr evaluators
// Key: expression string, Value: *bexpr.Evaluator
var bexprCache = &sync.Map{}

// CompileExpression validates and caches a go-bexpr expression.
func CompileExpression(expr string) (*bexpr.Evaluator, error) {
	if cached, ok := bexprCache.Load(expr); ok {
		return cached.(*bexpr.Evaluator), nil
	}

	evaluator, err := bexpr.CreateEvaluator(expr)
	if err != nil {
		return nil, fmt.Errorf("compile expression %q: %w", expr, err)
	}
	bexprCache.Store(expr, evaluator)
	return evaluator, nil
}

// EvaluateExpression evaluates expr against the given attributes.
// An empty expression never matches. Evaluation errors (e.g. a missing
// attribute) are reported as no match.
func EvaluateExpression(expr string, attrs map[string]any) (bool, error) {
	if strings.TrimSpace(expr) == "" {
		return false, nil
	}

	evaluator, err := CompileExpression(expr)
	if err != nil {
		return false, err
	}

	matches, err := evaluator.Evaluate(attrs)
	if err != nil {
		return false, nil
	}
	return matches, nil
}
