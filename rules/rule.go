package rules

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/expr-lang/expr/vm"

	"github.com/expr-lang/expr"
)

// Evaluator defines the interface for evaluating rule expressions.
type Evaluator interface {
	Evaluate(expression string, env map[string]interface{}) (bool, error)
}

// ExprEvaluator is an implementation of Evaluator using expr-lang/expr.
type ExprEvaluator struct {
	cache       map[string]*vm.Program
	mu          sync.RWMutex
	optionsFunc map[string]func(map[string]interface{}) interface{}
}

// NewExprEvaluator creates a new ExprEvaluator with an initialized cache.
func NewExprEvaluator() *ExprEvaluator {
	return &ExprEvaluator{
		cache:       make(map[string]*vm.Program),
		optionsFunc: make(map[string]func(map[string]interface{}) interface{}),
	}
}

// AddOptionFunc registers a derived variable computed from the environment
// before every evaluation.
func (e *ExprEvaluator) AddOptionFunc(name string, f func(map[string]interface{}) interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.optionsFunc[name] = f
}

// cacheKey identifies a compiled program by its expression and the variable
// names it was checked against.
func cacheKey(expression string, scope map[string]interface{}) string {
	names := make([]string, 0, len(scope))
	for k := range scope {
		names = append(names, k)
	}
	sort.Strings(names)
	return expression + "\x00" + strings.Join(names, "\x00")
}

// Evaluate evaluates the given expression against the provided environment.
// The expression must evaluate to a boolean; otherwise, an error is returned.
// Referencing a variable missing from env is a compile error, so a rule never
// passes on absent input. env itself is never modified.
func (e *ExprEvaluator) Evaluate(expression string, env map[string]interface{}) (bool, error) {
	scope := make(map[string]interface{}, len(env)+len(e.optionsFunc))
	for k, v := range env {
		scope[k] = v
	}

	e.mu.RLock()
	for k, f := range e.optionsFunc {
		scope[k] = f(env)
	}
	key := cacheKey(expression, scope)
	program, ok := e.cache[key]
	e.mu.RUnlock()

	if !ok {
		// Compile with write lock
		e.mu.Lock()
		if program, ok = e.cache[key]; !ok {
			var err error
			program, err = expr.Compile(expression, expr.Env(scope))
			if err != nil {
				e.mu.Unlock()
				return false, err
			}
			e.cache[key] = program
		}
		e.mu.Unlock()
	}

	result, err := expr.Run(program, scope)
	if err != nil {
		return false, err
	}

	if boolResult, ok := result.(bool); ok {
		return boolResult, nil
	}
	return false, fmt.Errorf("expression '%s' did not evaluate to a boolean, got %T", expression, result)
}

// Validator decides whether a content item may move forward in its workflow.
type Validator interface {
	Validate(ctx context.Context, contentID string, attrs map[string]interface{}) (bool, error)
}

// AlwaysValid accepts every content item.
type AlwaysValid struct{}

// Validate implements Validator.
func (AlwaysValid) Validate(context.Context, string, map[string]interface{}) (bool, error) {
	return true, nil
}

// RuleValidator requires every configured expression to hold. Expressions see
// the transition attributes plus "contentId".
type RuleValidator struct {
	evaluator Evaluator
	rules     []string
}

// NewRuleValidator creates a RuleValidator. A nil evaluator selects a new ExprEvaluator.
func NewRuleValidator(evaluator Evaluator, rules ...string) *RuleValidator {
	if evaluator == nil {
		evaluator = NewExprEvaluator()
	}
	return &RuleValidator{evaluator: evaluator, rules: rules}
}

// Validate implements Validator. It stops at the first rule that fails.
func (v *RuleValidator) Validate(ctx context.Context, contentID string, attrs map[string]interface{}) (bool, error) {
	env := make(map[string]interface{}, len(attrs)+1)
	for k, val := range attrs {
		env[k] = val
	}
	env["contentId"] = contentID

	for _, rule := range v.rules {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		default:
		}
		ok, err := v.evaluator.Evaluate(rule, env)
		if err != nil {
			return false, fmt.Errorf("rule %q: %w", rule, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
