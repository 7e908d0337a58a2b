package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/itchyny/gojq"
)

// ruleEngine evaluates custom-rule conditions written in expr. Compiled
// programs are cached and shared across runs.
type ruleEngine struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

func newRuleEngine() *ruleEngine {
	return &ruleEngine{cache: make(map[string]*vm.Program)}
}

// Eval runs a boolean expression with the ticket fields as environment.
func (e *ruleEngine) Eval(expression string, env map[string]any) (bool, error) {
	prg, err := e.compile(expression)
	if err != nil {
		return false, err
	}

	out, err := vm.Run(prg, env)
	if err != nil {
		return false, fmt.Errorf("%w: evaluating %q: %w", ErrInvalidCondition, expression, err)
	}

	result, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %q yields %T, not bool", ErrInvalidCondition, expression, out)
	}

	return result, nil
}

// compile type-checks against an empty map environment so that programs are
// not pinned to the field types of the first ticket they ran against.
func (e *ruleEngine) compile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	if prg, ok := e.cache[expression]; ok {
		e.mu.RUnlock()

		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}

	prg, err := expr.Compile(expression,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: compiling %q: %w", ErrInvalidCondition, expression, err)
	}

	e.cache[expression] = prg

	return prg, nil
}

// queryEngine evaluates verification queries written in jq.
type queryEngine struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

func newQueryEngine() *queryEngine {
	return &queryEngine{cache: make(map[string]*gojq.Code)}
}

// Check runs the query against input and reports whether its first result
// is truthy in the jq sense (anything but false and null).
func (q *queryEngine) Check(ctx context.Context, query string, input map[string]any) (bool, error) {
	code, err := q.compile(query)
	if err != nil {
		return false, err
	}

	normalized, err := jsonValue(input)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrInvalidCondition, err)
	}

	iter := code.RunWithContext(ctx, normalized)

	v, ok := iter.Next()
	if !ok {
		return false, nil
	}

	if err, isErr := v.(error); isErr {
		return false, fmt.Errorf("%w: query %q: %w", ErrInvalidCondition, query, err)
	}

	switch value := v.(type) {
	case nil:
		return false, nil
	case bool:
		return value, nil
	default:
		return true, nil
	}
}

func (q *queryEngine) compile(query string) (*gojq.Code, error) {
	q.mu.RLock()
	if code, ok := q.cache[query]; ok {
		q.mu.RUnlock()

		return code, nil
	}
	q.mu.RUnlock()

	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing query %q: %w", ErrInvalidCondition, query, err)
	}

	code, err := gojq.Compile(parsed)
	if err != nil {
		return nil, fmt.Errorf("%w: compiling query %q: %w", ErrInvalidCondition, query, err)
	}

	q.mu.Lock()
	q.cache[query] = code
	q.mu.Unlock()

	return code, nil
}

// jsonValue converts arbitrary Go values into the plain JSON shapes gojq accepts.
func jsonValue(input map[string]any) (map[string]any, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}

	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}

	return out, nil
}
