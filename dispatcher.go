package sdkplay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// InvocationRequest is one operator action: a descriptor plus the raw value of
// each parameter, keyed by parameter name. A parameter missing from Args takes
// its descriptor default.
type InvocationRequest struct {
	API  *APIDescriptor
	Args map[string]any
}

// InvocationResult is the settled outcome of an invocation.
type InvocationResult struct {
	ID       string        `json:"id"`
	Op       string        `json:"op"`
	Value    any           `json:"value,omitempty"`
	Stored   string        `json:"stored,omitempty"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// OK reports whether the invocation succeeded.
func (r *InvocationResult) OK() bool { return r.Err == nil }

// Dispatcher prepares and issues invocations against a Session.
//
// Each Invoke resolves the target instance, prepares every argument in
// declared order, calls the target and captures the result under the
// descriptor's return-binding name. Preparation failures abort before the
// target is called and never touch the session's variables.
type Dispatcher struct {
	session      *Session
	eval         Evaluator
	interceptors []Interceptor
	logger       *slog.Logger
}

// NewDispatcher returns a dispatcher over s.
func NewDispatcher(s *Session) *Dispatcher {
	return &Dispatcher{session: s}
}

// WithEvaluator sets the evaluator used for function-kind parameters.
// Without one, any non-empty function source fails with EvaluationError.
func (d *Dispatcher) WithEvaluator(e Evaluator) *Dispatcher {
	d.eval = e
	return d
}

// WithInterceptor appends interceptors around the underlying call.
// The first interceptor added is the outer-most one.
func (d *Dispatcher) WithInterceptor(i ...Interceptor) *Dispatcher {
	d.interceptors = append(d.interceptors, i...)
	return d
}

// WithLogger sets the logger. Defaults to slog.Default().
func (d *Dispatcher) WithLogger(logger *slog.Logger) *Dispatcher {
	d.logger = logger
	return d
}

// Session returns the session invocations run against.
func (d *Dispatcher) Session() *Session { return d.session }

func (d *Dispatcher) log() *slog.Logger {
	if d.logger == nil {
		return slog.Default()
	}
	return d.logger
}

// Prepare coerces the raw arguments of api in declared order, resolving
// placeholders and compiling function sources. It stops at the first failure.
func (d *Dispatcher) Prepare(api *APIDescriptor, raw map[string]any) ([]any, error) {
	c := NewCoercer(NewResolver(d.session.Vars), d.session.Files, d.eval)
	args := make([]any, 0, len(api.Params))
	for _, p := range api.Params {
		v, ok := raw[p.Name]
		if !ok {
			v = p.DefaultValue
		}
		arg, err := c.Coerce(p, v, api)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	return args, nil
}

type outcome struct {
	value any
	err   error
}

// Invoke runs req and blocks until the underlying call settles or ctx is done.
// When ctx is done first the call keeps running underneath; its eventual
// result is discarded and never stored.
func (d *Dispatcher) Invoke(ctx context.Context, req InvocationRequest) *InvocationResult {
	start := time.Now()
	res := &InvocationResult{ID: uuid.NewString()}
	api := req.API
	if api == nil {
		res.Err = errors.New("sdkplay: invocation without descriptor")
		return res
	}
	res.Op = api.Key()
	logger := d.log().With(slog.String("op", res.Op), slog.String("invocation", res.ID))

	finish := func(err error) *InvocationResult {
		res.Err = err
		res.Duration = time.Since(start)
		if err != nil {
			logger.Debug("invocation failed", slog.Any("error", err))
		}
		return res
	}

	epoch := d.session.Vars.Epoch()

	target, err := d.session.Router.Resolve(api.Instance)
	if err != nil {
		return finish(err)
	}
	args, err := d.Prepare(api, req.Args)
	if err != nil {
		return finish(err)
	}

	call := &Call{ID: res.ID, Op: res.Op, Method: api.Name, Instance: api.Instance, Args: args, API: api}
	// Target failures are classified before interceptors see them, so an
	// argument the target cannot convert is reported as a preparation error.
	handler := func(ctx context.Context, call *Call) (any, error) {
		v, err := target.Call(ctx, call.Method, call.Args)
		if err != nil {
			return nil, d.callError(api, call.Args, err)
		}
		return v, nil
	}
	if chained := chainInterceptors(d.interceptors); chained != nil {
		next := handler
		handler = func(ctx context.Context, call *Call) (any, error) {
			return chained(ctx, call, next)
		}
	}

	var abandoned atomic.Bool
	done := make(chan outcome, 1)
	go func() {
		o := d.call(withCall(ctx, call), call, handler, logger)
		if abandoned.Load() {
			logger.Debug("late completion discarded", slog.Bool("ok", o.err == nil))
		}
		done <- o
	}()

	var o outcome
	select {
	case o = <-done:
	case <-ctx.Done():
		abandoned.Store(true)
		return finish(fmt.Errorf("%s: invocation abandoned: %w", res.Op, ctx.Err()))
	}

	if o.err != nil {
		var callErr *UnderlyingCallError
		if IsPreparationError(o.err) || errors.As(o.err, &callErr) {
			return finish(o.err)
		}
		// Raised by an interceptor or a recovered panic.
		return finish(&UnderlyingCallError{Op: res.Op, Err: o.err})
	}

	res.Value = o.value
	if api.ReturnVar != "" {
		b := Binding{Name: api.ReturnVar, Value: o.value, Op: res.Op, ID: res.ID}
		if d.session.Vars.SetAt(epoch, b) {
			res.Stored = api.ReturnVar
		} else {
			logger.Debug("result not stored: session was reset", slog.String("var", api.ReturnVar))
		}
	}
	// Instances track the SDK's live objects, which a reset does not touch,
	// so the lifecycle applies even when the binding was dropped.
	d.applyLifecycle(api, o.value, logger)
	return finish(nil)
}

// InvokeAsync runs req in the background. The returned channel receives
// exactly one result and is then closed.
func (d *Dispatcher) InvokeAsync(ctx context.Context, req InvocationRequest) <-chan *InvocationResult {
	ch := make(chan *InvocationResult, 1)
	go func() {
		defer close(ch)
		ch <- d.Invoke(ctx, req)
	}()
	return ch
}

// call runs handler, converting a panic in the target into an error.
func (d *Dispatcher) call(ctx context.Context, call *Call, handler CallHandler, logger *slog.Logger) (o outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("PANIC recovered",
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())))
			o = outcome{err: fmt.Errorf("panic: %v", rec)}
		}
	}()
	v, err := handler(ctx, call)
	return outcome{value: v, err: err}
}

// callError maps a failure reported by the target. Argument conversion
// failures are preparation errors attributed to the declared parameter; every
// other failure came from the SDK.
func (d *Dispatcher) callError(api *APIDescriptor, args []any, err error) error {
	var argErr *ArgumentError
	if errors.As(err, &argErr) {
		param := fmt.Sprintf("#%d", argErr.Index)
		var kind Kind
		var value any
		if argErr.Index >= 0 && argErr.Index < len(api.Params) {
			param = api.Params[argErr.Index].Name
			kind = api.Params[argErr.Index].Type
			if argErr.Index < len(args) {
				value = args[argErr.Index]
			}
		}
		if errors.Is(argErr, ErrEvaluation) {
			return &EvaluationError{Param: param, Err: argErr}
		}
		return &CoercionError{Param: param, Kind: kind, Value: value, Reason: argErr.Error()}
	}
	return &UnderlyingCallError{Op: api.Key(), Err: err}
}

// applyLifecycle binds or unbinds instance tags after a successful call.
func (d *Dispatcher) applyLifecycle(api *APIDescriptor, value any, logger *slog.Logger) {
	router := d.session.Router
	if api.Releases != "" {
		router.Unbind(api.Releases)
	}
	if api.Provides == "" {
		return
	}
	var t Target
	switch v := value.(type) {
	case nil:
		logger.Warn("operation returned no instance", slog.String("instance", api.Provides))
		return
	case Target:
		t = v
	default:
		t = NewReflectTarget(v).WithLogger(d.logger)
	}
	if err := router.Bind(api.Provides, t); err != nil {
		logger.Warn("instance not bound", slog.String("instance", api.Provides), slog.Any("error", err))
	}
}
