package rpc

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Context is the context handed to interceptors. It carries the endpoint
// identity and the underlying HTTP exchange.
type Context interface {
	context.Context

	// Service returns the service name, e.g. "Playground".
	Service() string
	// Method returns the method name, e.g. "Invoke".
	Method() string
	// EndpointID returns "Service.Method".
	EndpointID() string
	// HTTPRequest returns the request, or nil outside an HTTP exchange.
	HTTPRequest() *http.Request
	// HTTPWriter returns the response writer, or nil outside an HTTP exchange.
	HTTPWriter() http.ResponseWriter
}

type rpcContextKey struct{}

type rpcContext struct {
	context.Context
	writer  http.ResponseWriter
	request *http.Request
	service string
	method  string

	errorTransformer   ErrorTransformer
	maskInternalErrors bool
	interceptors       []UnaryInterceptor
	logger             *slog.Logger
	maxRequestBodySize uint64
	streamWriteTimeout time.Duration
	streamHeartbeat    time.Duration
}

func newContext(parent context.Context, w http.ResponseWriter, r *http.Request, service, method string) *rpcContext {
	return &rpcContext{Context: parent, writer: w, request: r, service: service, method: method}
}

// NewContext returns a Context for service and method with no HTTP exchange
// attached. It is meant for exercising interceptors outside an App.
func NewContext(parent context.Context, service, method string) Context {
	return newContext(parent, nil, nil, service, method)
}

func (c *rpcContext) Service() string                 { return c.service }
func (c *rpcContext) Method() string                  { return c.method }
func (c *rpcContext) EndpointID() string              { return c.service + "." + c.method }
func (c *rpcContext) HTTPRequest() *http.Request      { return c.request }
func (c *rpcContext) HTTPWriter() http.ResponseWriter { return c.writer }

func (c *rpcContext) Value(key any) any {
	if key == (rpcContextKey{}) {
		return c
	}
	return c.Context.Value(key)
}

// derive returns a copy of c whose parent is ctx. Interceptors may wrap the
// context they pass on; values and cancellation they add are kept.
func (c *rpcContext) derive(ctx context.Context) *rpcContext {
	if rc, ok := ctx.(*rpcContext); ok {
		return rc
	}
	cp := *c
	cp.Context = ctx
	return &cp
}

func (c *rpcContext) log() *slog.Logger {
	if c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

// FromContext returns the endpoint Context carried by ctx.
func FromContext(ctx context.Context) (Context, bool) {
	rc, ok := ctx.Value(rpcContextKey{}).(*rpcContext)
	return rc, ok
}
