package rpc

import "context"

// HandlerFunc is the next step of an interceptor chain.
type HandlerFunc func(ctx context.Context, req any) (res any, err error)

// UnaryInterceptor wraps the execution of a unary endpoint. It may inspect or
// replace the request and response, or short-circuit by returning an error
// without calling handler.
type UnaryInterceptor func(ctx Context, req any, handler HandlerFunc) (res any, err error)

// chainInterceptors combines interceptors into one. The first interceptor is
// the outer-most.
func chainInterceptors(interceptors []UnaryInterceptor) UnaryInterceptor {
	switch len(interceptors) {
	case 0:
		return nil
	case 1:
		return interceptors[0]
	}
	return func(ctx Context, req any, handler HandlerFunc) (any, error) {
		chain := handler
		for i := len(interceptors) - 1; i >= 0; i-- {
			current, next := interceptors[i], chain
			chain = func(c context.Context, req any) (any, error) {
				return current(asContext(ctx, c), req, next)
			}
		}
		return chain(ctx, req)
	}
}

// asContext recovers the endpoint Context from a context an interceptor may
// have wrapped.
func asContext(base Context, ctx context.Context) Context {
	if rc, ok := base.(*rpcContext); ok {
		return rc.derive(ctx)
	}
	if c, ok := ctx.(Context); ok {
		return c
	}
	return base
}
