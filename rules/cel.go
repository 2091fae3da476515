package rules

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/google/cel-go/cel"
	lru "github.com/hashicorp/golang-lru/v2"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// CELEvaluator implements Evaluator using Google's Common Expression Language.
// Each supplied variable is declared as a dynamic top-level identifier; nothing
// else is in scope.
type CELEvaluator struct {
	cache *lru.Cache[string, cel.Program]
}

// NewCELEvaluator creates a CEL evaluator with an empty, bounded program cache.
func NewCELEvaluator(opts ...Option) *CELEvaluator {
	return &CELEvaluator{
		cache: newProgramCache[cel.Program](opts),
	}
}

// Evaluate compiles (or retrieves from cache) a CEL expression and runs it
// against the supplied variables.
func (e *CELEvaluator) Evaluate(expression string, variables map[string]interface{}) (bool, error) {
	if strings.TrimSpace(expression) == "" {
		return false, ErrEmptyExpression
	}

	names := declaredNames(variables)
	prg, err := e.getOrCompile(expression, names)
	if err != nil {
		return false, err
	}

	activation := make(map[string]interface{}, len(names))
	for _, name := range names {
		activation[name] = variables[name]
	}

	out, _, err := prg.Eval(activation)
	if err != nil {
		return false, fmt.Errorf("CEL evaluation failed for '%s': %w", expression, err)
	}

	if b, ok := out.Value().(bool); ok {
		return b, nil
	}
	return false, fmt.Errorf("%w: '%s' got %T", ErrNotBoolean, expression, out.Value())
}

func (e *CELEvaluator) getOrCompile(expression string, names []string) (cel.Program, error) {
	key := strings.Join(names, ",") + "\x00" + expression

	if prg, ok := e.cache.Get(key); ok {
		return prg, nil
	}

	opts := []cel.EnvOption{cel.CrossTypeNumericComparisons(true)}
	for _, name := range names {
		opts = append(opts, cel.Variable(name, cel.DynType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	ast, iss := env.Compile(expression)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("CEL compile error in '%s': %w", expression, iss.Err())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("CEL program error in '%s': %w", expression, err)
	}

	e.cache.Add(key, prg)
	return prg, nil
}

// declaredNames returns the sorted variable names that are valid CEL identifiers.
func declaredNames(variables map[string]interface{}) []string {
	names := make([]string, 0, len(variables))
	for name := range variables {
		if identifierPattern.MatchString(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

var _ Evaluator = (*CELEvaluator)(nil)
