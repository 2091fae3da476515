package rules

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	lru "github.com/hashicorp/golang-lru/v2"
)

var (
	// ErrEmptyExpression is returned for blank condition expressions.
	ErrEmptyExpression = errors.New("expression is empty")
	// ErrNotBoolean is returned when an expression yields a non-boolean value.
	ErrNotBoolean = errors.New("expression did not evaluate to a boolean")
	// ErrUnknownEvaluator is returned by NewEvaluator for unsupported engine names.
	ErrUnknownEvaluator = errors.New("unknown evaluator")
)

// Evaluator defines the interface for evaluating condition expressions.
// Implementations must be side-effect free and see only the supplied variables.
type Evaluator interface {
	Evaluate(expression string, variables map[string]interface{}) (bool, error)
}

// NewEvaluator returns the evaluator registered under name ("expr" or "cel").
func NewEvaluator(name string) (Evaluator, error) {
	switch name {
	case "", "expr":
		return NewExprEvaluator(), nil
	case "cel":
		return NewCELEvaluator(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvaluator, name)
	}
}

// DefaultCacheSize is the number of compiled programs an evaluator keeps.
const DefaultCacheSize = 1024

// Option configures an evaluator.
type Option func(*options)

type options struct {
	cacheSize int
}

// WithCacheSize bounds the compiled-program cache. Sizes below one mean DefaultCacheSize.
func WithCacheSize(size int) Option {
	return func(o *options) {
		o.cacheSize = size
	}
}

func newProgramCache[V any](opts []Option) *lru.Cache[string, V] {
	o := options{cacheSize: DefaultCacheSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.cacheSize < 1 {
		o.cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, V](o.cacheSize)
	if err != nil {
		panic(err) // only for non-positive sizes
	}
	return cache
}

// ExprEvaluator is an implementation of Evaluator using expr-lang/expr.
// Expressions are compiled against the supplied variables only, with every
// built-in function disabled and a boolean result required. Compiled programs
// live in a bounded LRU cache.
type ExprEvaluator struct {
	cache *lru.Cache[string, *vm.Program]
}

// NewExprEvaluator creates a new ExprEvaluator.
func NewExprEvaluator(opts ...Option) *ExprEvaluator {
	return &ExprEvaluator{
		cache: newProgramCache[*vm.Program](opts),
	}
}

// Evaluate evaluates the given expression against the provided variables.
// Returns false and an error if compilation, execution, or type assertion fails.
func (e *ExprEvaluator) Evaluate(expression string, variables map[string]interface{}) (bool, error) {
	if strings.TrimSpace(expression) == "" {
		return false, ErrEmptyExpression
	}
	env := variables
	if env == nil {
		env = map[string]interface{}{}
	}

	// Programs are typed against the environment, so the key carries the variable signature.
	key := expression + "\x00" + signature(env)

	program, ok := e.cache.Get(key)
	if !ok {
		var err error
		program, err = expr.Compile(expression,
			expr.Env(env),
			expr.AsBool(),
			expr.DisableAllBuiltins(),
		)
		if err != nil {
			return false, fmt.Errorf("failed to compile expression '%s': %w", expression, err)
		}
		e.cache.Add(key, program)
	}

	result, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("failed to run expression '%s': %w", expression, err)
	}

	if boolResult, ok := result.(bool); ok {
		return boolResult, nil
	}
	return false, fmt.Errorf("%w: '%s' got %T", ErrNotBoolean, expression, result)
}

// signature describes variable names and dynamic types in a stable order.
func signature(variables map[string]interface{}) string {
	parts := make([]string, 0, len(variables))
	for name, value := range variables {
		parts = append(parts, fmt.Sprintf("%s:%T", name, value))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

var _ Evaluator = (*ExprEvaluator)(nil)
