package sdkplay

import "context"

// Call describes one underlying call about to be made by a Dispatcher.
type Call struct {
	// ID is the invocation id.
	ID string
	// Op is the operation key, "area.name".
	Op string
	// Method is the name the target is called with.
	Method string
	// Instance is the instance tag; empty for the default instance.
	Instance string
	// Args are the prepared arguments in declared order.
	Args []any
	// API is the descriptor being invoked.
	API *APIDescriptor
}

// CallHandler performs (or forwards) an underlying call.
type CallHandler func(ctx context.Context, call *Call) (any, error)

// Interceptor wraps the underlying call of every invocation. Interceptors run
// after argument preparation, so they only ever see calls that will reach a
// target unless they short-circuit by returning without calling next.
//
//	func timing(ctx context.Context, call *sdkplay.Call, next sdkplay.CallHandler) (any, error) {
//	    start := time.Now()
//	    res, err := next(ctx, call)
//	    log.Printf("%s took %v", call.Op, time.Since(start))
//	    return res, err
//	}
type Interceptor func(ctx context.Context, call *Call, next CallHandler) (any, error)

// chainInterceptors combines interceptors into one.
// The first interceptor in the slice is the outer-most one (runs first).
func chainInterceptors(interceptors []Interceptor) Interceptor {
	switch len(interceptors) {
	case 0:
		return nil
	case 1:
		return interceptors[0]
	}
	return func(ctx context.Context, call *Call, handler CallHandler) (any, error) {
		chain := handler
		for i := len(interceptors) - 1; i >= 0; i-- {
			current, next := interceptors[i], chain
			chain = func(ctx context.Context, call *Call) (any, error) {
				return current(ctx, call, next)
			}
		}
		return chain(ctx, call)
	}
}

type contextKey struct {
	name string
}

var callKey = &contextKey{"call"}

// CallFromContext returns the Call being made, when ctx was passed down from
// a Dispatcher to an interceptor or target.
func CallFromContext(ctx context.Context) (*Call, bool) {
	c, ok := ctx.Value(callKey).(*Call)
	return c, ok
}

func withCall(ctx context.Context, call *Call) context.Context {
	return context.WithValue(ctx, callKey, call)
}
