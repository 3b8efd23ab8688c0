// Package celengine compiles and evaluates the CEL match expressions attached
// to auto-tracked campaign criteria.
package celengine

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"go.uber.org/zap"
)

var (
	envOnce sync.Once
	env     *cel.Env
	envErr  error

	programCache = sync.Map{}
)

// TrackingEnv declares the variables available to a match expression:
//
//	source       string               tracking source of the event
//	client_email string
//	attributes   map(string, dyn)     free-form event payload
func TrackingEnv() (*cel.Env, error) {
	envOnce.Do(func() {
		env, envErr = cel.NewEnv(
			cel.Variable("source", cel.StringType),
			cel.Variable("client_email", cel.StringType),
			cel.Variable("attributes", cel.MapType(cel.StringType, cel.DynType)),
		)
	})
	return env, envErr
}

// ValidateExpression compiles expr and checks that it yields a bool. An
// empty expression is valid and matches everything.
func ValidateExpression(expr string) error {
	if expr == "" {
		return nil
	}
	e, err := TrackingEnv()
	if err != nil {
		return err
	}
	ast, issues := e.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return issues.Err()
	}
	switch out := ast.OutputType().String(); out {
	case "bool", "dyn":
	default:
		return fmt.Errorf("expression must evaluate to bool, got %s", out)
	}
	return nil
}

func program(expr string) (cel.Program, error) {
	if v, ok := programCache.Load(expr); ok {
		return v.(cel.Program), nil
	}

	e, err := TrackingEnv()
	if err != nil {
		return nil, err
	}
	ast, issues := e.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	prg, err := e.Program(ast)
	if err != nil {
		return nil, err
	}

	programCache.Store(expr, prg)
	return prg, nil
}

// Evaluate runs expr against vars. An empty expression matches everything.
func Evaluate(expr string, vars map[string]any) (bool, error) {
	if expr == "" {
		return true, nil
	}

	prg, err := program(expr)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(vars)
	if err != nil {
		return false, err
	}

	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expected bool from expression, got %T (%v)", out.Value(), out.Value())
	}
	return b, nil
}

func StructToMap(s any) map[string]any {
	if s == nil {
		return map[string]any{}
	}

	b, err := json.Marshal(s)
	if err != nil {
		zap.L().Debug("failed StructToMap Marshal", zap.Error(err))
		return map[string]any{}
	}

	var result map[string]any
	if err := json.Unmarshal(b, &result); err != nil {
		zap.L().Debug("failed StructToMap Unmarshal", zap.Error(err))
		return map[string]any{}
	}
	if result == nil {
		return map[string]any{}
	}
	return result
}
