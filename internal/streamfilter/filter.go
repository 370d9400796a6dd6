// Package streamfilter implements SelectStreams: a CEL expression filter
// over cached Stream Descriptor metadata. It never inspects stream
// payload bytes, only the name/listener_count/writer attributes the
// Client Session already tracks.
package streamfilter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/cel-go/cel"
)

// maxExpressionLength bounds the size of a SelectStreams expression.
const maxExpressionLength = 1024

// maxNestingDepth bounds parenthesis/bracket/brace nesting in an
// expression, defense against pathological inputs.
const maxNestingDepth = 50

// maxCostBudget bounds the CEL runtime cost of a single evaluation.
const maxCostBudget = 100_000

// evalTimeout bounds how long a single descriptor evaluation may run.
const evalTimeout = 2 * time.Second

// interruptCheckFrequency is how often, in comprehension iterations, a
// running program checks for the ContextEval deadline. Without this,
// evalTimeout only bounds a comprehension-free expression; an expression
// built around a CEL comprehension (e.g. an unrolled `exists`/`all` over
// a future list-typed variable) could otherwise run past its deadline
// between checks.
const interruptCheckFrequency = 100

// Descriptor is the subset of Stream Descriptor fields a SelectStreams
// expression may reference.
type Descriptor struct {
	Name          string
	ListenerCount int
	Writer        string
}

// Filter compiles and evaluates SelectStreams expressions against a set
// of Stream Descriptors, memoizing compiled programs by an xxhash digest
// of their source so a front-end can call SelectStreams repeatedly with
// the same expression (e.g. once per polling round) without re-compiling.
type Filter struct {
	env *cel.Env

	mu    sync.Mutex
	cache map[uint64]cel.Program
}

// New builds a Filter with the name/listener_count/writer variables bound.
func New() (*Filter, error) {
	env, err := cel.NewEnv(
		cel.Variable("name", cel.StringType),
		cel.Variable("listener_count", cel.IntType),
		cel.Variable("writer", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("streamfilter: build environment: %w", err)
	}
	return &Filter{env: env, cache: make(map[uint64]cel.Program)}, nil
}

// Select evaluates expr against every descriptor and returns the names of
// those for which it evaluates true. Descriptor iteration order is not
// guaranteed; callers that need deterministic output should sort the
// result.
func (f *Filter) Select(expr string, descriptors map[string]Descriptor) ([]string, error) {
	prg, err := f.compile(expr)
	if err != nil {
		return nil, err
	}

	var matches []string
	for name, d := range descriptors {
		ok, err := evaluate(prg, d)
		if err != nil {
			return nil, fmt.Errorf("streamfilter: evaluating %q against stream %q: %w", expr, name, err)
		}
		if ok {
			matches = append(matches, name)
		}
	}
	return matches, nil
}

// compile validates and compiles expr, returning the cached program if
// this exact expression has already been compiled.
func (f *Filter) compile(expr string) (cel.Program, error) {
	if err := validateExpression(expr); err != nil {
		return nil, err
	}

	key := xxhash.Sum64String(expr)

	f.mu.Lock()
	if prg, ok := f.cache[key]; ok {
		f.mu.Unlock()
		return prg, nil
	}
	f.mu.Unlock()

	ast, issues := f.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("streamfilter: compile %q: %w", expr, issues.Err())
	}
	prg, err := f.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFrequency),
	)
	if err != nil {
		return nil, fmt.Errorf("streamfilter: program %q: %w", expr, err)
	}

	f.mu.Lock()
	f.cache[key] = prg
	f.mu.Unlock()

	return prg, nil
}

// descriptorActivation binds a Descriptor's fields to the CEL variables
// declared in New, ready for ContextEval.
func descriptorActivation(d Descriptor) map[string]any {
	return map[string]any{
		"name":           d.Name,
		"listener_count": int64(d.ListenerCount),
		"writer":         d.Writer,
	}
}

func evaluate(prg cel.Program, d Descriptor) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()

	result, _, err := prg.ContextEval(ctx, descriptorActivation(d))
	if err != nil {
		return false, err
	}
	matched, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("streamfilter: expression produced a %T, want bool", result.Value())
	}
	return matched, nil
}

func validateExpression(expr string) error {
	if expr == "" {
		return errors.New("streamfilter: expression is empty")
	}
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("streamfilter: expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}
	if err := validateNesting(expr); err != nil {
		return err
	}
	return nil
}

// validateNesting rejects expressions whose bracket/paren/brace nesting
// exceeds maxNestingDepth, a cheap guard against pathological inputs
// before they ever reach the CEL parser.
func validateNesting(expr string) error {
	open := 0
	peak := 0
	for _, r := range expr {
		switch r {
		case '(', '[', '{':
			open++
			if open > peak {
				peak = open
			}
		case ')', ']', '}':
			open--
		}
	}
	if peak > maxNestingDepth {
		return fmt.Errorf("streamfilter: nesting depth %d exceeds max %d", peak, maxNestingDepth)
	}
	return nil
}
