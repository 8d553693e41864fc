package policy

import (
	"fmt"
	"log/slog"

	"github.com/google/cel-go/cel"
)

// CompiledRule wraps a pre-compiled CEL program for fast repeated evaluation.
type CompiledRule struct {
	Name       string
	Expression string
	Effect     string
	Message    string
	program    cel.Program
}

// CELEvaluator compiles and evaluates custom-rule conditions against action
// context values. Expressions are compiled once when a policy is installed;
// evaluation is lock-free and safe for concurrent use.
type CELEvaluator struct {
	env    *cel.Env
	logger *slog.Logger
}

// NewCELEvaluator creates a CELEvaluator with the standard variable
// declarations available in custom-rule conditions.
func NewCELEvaluator(logger *slog.Logger) (*CELEvaluator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	env, err := cel.NewEnv(
		// action.*
		cel.Variable("action.kind", cel.StringType),
		cel.Variable("action.target", cel.StringType),
		cel.Variable("action.url", cel.StringType),
		cel.Variable("action.text", cel.StringType),
		cel.Variable("action.amount", cel.DoubleType),

		// session.*
		cel.Variable("session.id", cel.StringType),
		cel.Variable("session.trust", cel.DoubleType),
		cel.Variable("session.action_count", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &CELEvaluator{
		env:    env,
		logger: logger.With("component", "policy.CELEvaluator"),
	}, nil
}

// Compile parses and type-checks a custom rule's condition, returning a
// CompiledRule ready for evaluation. Called when a policy is installed, not
// in the hot path.
func (c *CELEvaluator) Compile(rule CustomRule) (CompiledRule, error) {
	ast, issues := c.env.Compile(rule.Condition)
	if issues != nil && issues.Err() != nil {
		return CompiledRule{}, fmt.Errorf("CEL compile error in %q: %w", rule.Condition, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return CompiledRule{}, fmt.Errorf("CEL expression %q must evaluate to bool, got %s", rule.Condition, ast.OutputType())
	}

	prg, err := c.env.Program(ast)
	if err != nil {
		return CompiledRule{}, fmt.Errorf("CEL program creation failed for %q: %w", rule.Condition, err)
	}

	c.logger.Debug("compiled custom rule", "rule", rule.Name, "condition", rule.Condition)

	return CompiledRule{
		Name:       rule.Name,
		Expression: rule.Condition,
		Effect:     rule.Effect,
		Message:    rule.Message,
		program:    prg,
	}, nil
}

// Evaluate runs a pre-compiled rule against the given action context.
// Returns true if the condition matches.
func (c *CELEvaluator) Evaluate(rule CompiledRule, action Action, session SessionContext) (bool, error) {
	vars := map[string]interface{}{
		"action.kind":   action.Kind,
		"action.target": action.Target,
		"action.url":    action.URL,
		"action.text":   action.Text,
		"action.amount": action.Amount,

		"session.id":           session.ID,
		"session.trust":        session.Trust,
		"session.action_count": int64(session.ActionCount),
	}

	out, _, err := rule.program.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("CEL evaluation error for %q: %w", rule.Expression, err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression %q returned non-bool: %T", rule.Expression, out.Value())
	}

	return result, nil
}
