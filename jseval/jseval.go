// Package jseval compiles JavaScript function source into callables using
// goja. Each compiled function runs in its own runtime, so callbacks supplied
// by the operator can neither see each other nor reach engine state.
package jseval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"

	"github.com/broady/sdkplay"
)

// Evaluator compiles function sources. It implements sdkplay.Evaluator.
//
// Accepted sources are a function expression, an arrow function or a bare
// function body. A bare body is wrapped in a parameterless function and reads
// its arguments through the arguments object.
type Evaluator struct {
	logger  *slog.Logger
	timeout time.Duration
}

// New returns an Evaluator.
func New() *Evaluator {
	return &Evaluator{}
}

// WithLogger sets the logger console.log and friends write to.
func (e *Evaluator) WithLogger(logger *slog.Logger) *Evaluator {
	e.logger = logger
	return e
}

// WithCallTimeout bounds every call of a compiled function. Zero means no
// bound beyond the caller's context.
func (e *Evaluator) WithCallTimeout(d time.Duration) *Evaluator {
	e.timeout = d
	return e
}

func (e *Evaluator) log() *slog.Logger {
	if e.logger == nil {
		return slog.Default()
	}
	return e.logger
}

// Compile parses source and returns a callable. Nothing in source runs.
func (e *Evaluator) Compile(name, source string) (sdkplay.Callable, error) {
	src := strings.TrimSpace(source)
	if src == "" {
		return nil, errors.New("empty function source")
	}
	wrapped := wrap(name, src)
	if err := checkSingleFunction(name, wrapped); err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}
	prog, err := goja.Compile(name, wrapped, false)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	logger := e.log().With(slog.String("function", name))
	if err := installConsole(vm, logger); err != nil {
		return nil, err
	}
	// The program is a single function expression; running it only creates
	// the function object.
	v, err := vm.RunProgram(prog)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil, fmt.Errorf("compile %s: source is not a function", name)
	}
	arity := int(v.ToObject(vm).Get("length").ToInteger())

	return &function{
		name:    name,
		vm:      vm,
		fn:      fn,
		arity:   arity,
		timeout: e.timeout,
	}, nil
}

// wrap returns src as a parenthesized function expression. Sources that
// already are a single function or arrow expression are kept as they are;
// anything else becomes the body of an anonymous function.
func wrap(name, src string) string {
	src = strings.TrimRight(src, "; \t\r\n")
	if isFunctionExpr(name, src) {
		return "(" + src + "\n)"
	}
	return "(function () {\n" + src + "\n})"
}

// checkSingleFunction requires the wrapped program to be exactly one
// function or arrow expression, so running it cannot execute source text.
// A body that closes the wrapper early yields extra statements and fails.
func checkSingleFunction(name, wrapped string) error {
	prog, err := parser.ParseFile(nil, name, wrapped, 0)
	if err != nil {
		return err
	}
	if len(prog.Body) != 1 {
		return errors.New("source must be a single function")
	}
	stmt, ok := prog.Body[0].(*ast.ExpressionStatement)
	if !ok {
		return errors.New("source must be a single function")
	}
	switch stmt.Expression.(type) {
	case *ast.FunctionLiteral, *ast.ArrowFunctionLiteral:
		return nil
	}
	return errors.New("source must be a single function")
}

// isFunctionExpr reports whether src parses as exactly one function or arrow
// expression when used as the right-hand side of an assignment.
func isFunctionExpr(name, src string) bool {
	prog, err := parser.ParseFile(nil, name, "__fn = "+src+"\n", 0)
	if err != nil || len(prog.Body) != 1 {
		return false
	}
	stmt, ok := prog.Body[0].(*ast.ExpressionStatement)
	if !ok {
		return false
	}
	assign, ok := stmt.Expression.(*ast.AssignExpression)
	if !ok {
		return false
	}
	switch assign.Right.(type) {
	case *ast.FunctionLiteral, *ast.ArrowFunctionLiteral:
		return true
	}
	return false
}

func installConsole(vm *goja.Runtime, logger *slog.Logger) error {
	console := vm.NewObject()
	for name, level := range map[string]slog.Level{
		"log":   slog.LevelInfo,
		"info":  slog.LevelInfo,
		"debug": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		err := console.Set(name, func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, a := range call.Arguments {
				parts[i] = a.String()
			}
			logger.Log(context.Background(), level, strings.Join(parts, " "), slog.String("source", "console"))
			return goja.Undefined()
		})
		if err != nil {
			return err
		}
	}
	return vm.Set("console", console)
}

// function is a compiled callable bound to its private runtime. A runtime is
// not safe for concurrent use, so calls are serialized.
type function struct {
	name    string
	mu      sync.Mutex
	vm      *goja.Runtime
	fn      goja.Callable
	arity   int
	timeout time.Duration
}

func (f *function) Arity() int { return f.arity }

func (f *function) String() string { return "jseval.function(" + f.name + ")" }

// Call runs the function with args converted to JavaScript values. The result
// is exported back to Go; undefined and null become nil. A settled promise is
// unwrapped; a pending one is an error.
func (f *function) Call(ctx context.Context, args ...any) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.vm.ClearInterrupt()
	stop := context.AfterFunc(ctx, func() {
		f.vm.Interrupt(context.Cause(ctx))
	})
	defer stop()

	in := make([]goja.Value, len(args))
	for i, a := range args {
		in[i] = f.vm.ToValue(a)
	}
	v, err := f.fn(goja.Undefined(), in...)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			if cause, ok := interrupted.Value().(error); ok {
				return nil, fmt.Errorf("%s: %w", f.name, cause)
			}
		}
		return nil, fmt.Errorf("%s: %w", f.name, err)
	}
	return f.export(v)
}

func (f *function) export(v goja.Value) (any, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	if p, ok := v.Export().(*goja.Promise); ok {
		switch p.State() {
		case goja.PromiseStateFulfilled:
			return f.export(p.Result())
		case goja.PromiseStateRejected:
			return nil, fmt.Errorf("%s: promise rejected: %s", f.name, p.Result())
		default:
			return nil, fmt.Errorf("%s: function returned a pending promise", f.name)
		}
	}
	return v.Export(), nil
}
