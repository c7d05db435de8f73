package sdkplay

import "context"

// Callable is a compiled executable-kind parameter. It is handed to the SDK as
// an opaque function value; the engine never calls it itself.
//
// Implementations must be safe for concurrent use and must not reference any
// dispatcher state.
type Callable interface {
	// Arity is the number of parameters the function declares.
	Arity() int
	// Call runs the function. Arguments are Go values; the result is a Go value
	// (nil when the function returns nothing).
	Call(ctx context.Context, args ...any) (any, error)
}

// Evaluator compiles function source text into a Callable. Compile must not
// execute the function body. Syntax errors are returned from Compile.
type Evaluator interface {
	Compile(name, source string) (Callable, error)
}

// EvaluatorFunc adapts a function to the Evaluator interface.
type EvaluatorFunc func(name, source string) (Callable, error)

// Compile calls f(name, source).
func (f EvaluatorFunc) Compile(name, source string) (Callable, error) {
	return f(name, source)
}

// CallableFunc adapts a Go function of fixed arity to the Callable interface.
type CallableFunc struct {
	N  int
	Fn func(ctx context.Context, args ...any) (any, error)
}

func (c CallableFunc) Arity() int { return c.N }

func (c CallableFunc) Call(ctx context.Context, args ...any) (any, error) {
	return c.Fn(ctx, args...)
}
