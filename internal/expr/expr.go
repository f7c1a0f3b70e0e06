// Package expr evaluates Starlark expressions over single rows. Constraint
// predicates and derived columns share this evaluator.
package expr

import (
	"fmt"
	"math"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"lakerun/internal/domain"
)

const (
	maxExecutionSteps = uint64(50_000)
	evalTimeout       = 2 * time.Second
)

// Check verifies that src parses as a single Starlark expression. Called at
// pipeline-definition time so malformed expressions are fatal before any run.
func Check(name, src string) error {
	if _, err := (&syntax.FileOptions{}).ParseExpr(name, src, 0); err != nil {
		return domain.ErrValidation("expression %q: %v", name, err)
	}
	return nil
}

// Eval evaluates src with the row's columns bound as globals and returns the
// resulting Go value.
func Eval(name, src string, row domain.Row) (any, error) {
	env := make(starlark.StringDict, len(row))
	for k, v := range row {
		sv, err := toStarlark(v)
		if err != nil {
			return nil, fmt.Errorf("expression %q: column %q: %w", name, k, err)
		}
		env[k] = sv
	}

	thread := &starlark.Thread{Name: "row-expr"}
	thread.SetMaxExecutionSteps(maxExecutionSteps)

	var result starlark.Value
	if err := runWithTimeout(thread, evalTimeout, func() error {
		v, err := starlark.EvalOptions(&syntax.FileOptions{}, thread, name, src, env)
		if err != nil {
			return err
		}
		result = v
		return nil
	}); err != nil {
		return nil, fmt.Errorf("expression %q: %w", name, err)
	}

	return fromStarlark(result)
}

// EvalBool evaluates src as a predicate over the row.
func EvalBool(name, src string, row domain.Row) (bool, error) {
	v, err := Eval(name, src, row)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, domain.ErrValidation("expression %q: expected bool result, got %T", name, v)
	}
	return b, nil
}

func runWithTimeout(thread *starlark.Thread, timeout time.Duration, fn func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		thread.Cancel("expression evaluation timed out")
		<-done
		return domain.ErrValidation("evaluation timed out after %s", timeout)
	}
}

func toStarlark(v any) (starlark.Value, error) {
	switch x := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(x), nil
	case string:
		return starlark.String(x), nil
	case int:
		return starlark.MakeInt(x), nil
	case int64:
		return starlark.MakeInt64(x), nil
	case float64:
		// JSON numbers arrive as float64; surface whole numbers as ints so
		// predicates like `x > 0` compare naturally against int literals.
		if x == math.Trunc(x) && !math.IsInf(x, 0) && math.Abs(x) < 1<<53 {
			return starlark.MakeInt64(int64(x)), nil
		}
		return starlark.Float(x), nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

func fromStarlark(v starlark.Value) (any, error) {
	switch x := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(x), nil
	case starlark.String:
		return string(x), nil
	case starlark.Int:
		i, ok := x.Int64()
		if !ok {
			return nil, fmt.Errorf("integer result out of range: %s", x)
		}
		return i, nil
	case starlark.Float:
		return float64(x), nil
	default:
		return nil, fmt.Errorf("unsupported result type %s", v.Type())
	}
}
