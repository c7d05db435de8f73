// Package rpc is a small typed HTTP endpoint registry. Endpoints are
// registered under "Service.Method" and served at /Service/Method, with JSON
// envelopes for results and errors.
package rpc

import (
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"
)

const (
	// defaultStreamWriteTimeout bounds a single SSE event write so a stuck
	// client cannot pin the handler goroutine.
	defaultStreamWriteTimeout = 30 * time.Second

	// defaultStreamHeartbeat keeps idle streams alive through proxies.
	defaultStreamHeartbeat = 30 * time.Second
)

// App routes requests to registered endpoints.
// Use Handler() to get an http.Handler for use with http.Server.
type App struct {
	mu                 sync.RWMutex
	routes             map[string]endpointHandler
	errorTransformer   ErrorTransformer
	maskInternalErrors bool
	interceptors       []UnaryInterceptor
	middlewares        []func(http.Handler) http.Handler
	logger             *slog.Logger
	maxRequestBodySize uint64
	streamWriteTimeout time.Duration
	streamHeartbeat    time.Duration
}

// NewApp returns an App with a 1MB request body limit and 30s stream
// heartbeat and write timeout.
func NewApp() *App {
	return &App{
		routes:             make(map[string]endpointHandler),
		maxRequestBodySize: 1 << 20,
		streamWriteTimeout: defaultStreamWriteTimeout,
		streamHeartbeat:    defaultStreamHeartbeat,
	}
}

// WithErrorTransformer sets a transformer consulted before DefaultErrorTransformer.
func (a *App) WithErrorTransformer(fn ErrorTransformer) *App {
	a.errorTransformer = fn
	return a
}

// WithMaskInternalErrors replaces the message of internal errors with a
// generic one. Interceptors still see the original error.
func (a *App) WithMaskInternalErrors() *App {
	a.maskInternalErrors = true
	return a
}

// WithUnaryInterceptor adds a global interceptor.
//
// Interceptor execution order:
//  1. Global interceptors (App.WithUnaryInterceptor)
//  2. Service interceptors (Service.WithUnaryInterceptor)
//  3. Endpoint interceptors (Handler.WithUnaryInterceptor)
//  4. Handler function
func (a *App) WithUnaryInterceptor(i UnaryInterceptor) *App {
	a.interceptors = append(a.interceptors, i)
	return a
}

// WithMiddleware adds an HTTP middleware. The first added is outermost.
func (a *App) WithMiddleware(mw func(http.Handler) http.Handler) *App {
	a.middlewares = append(a.middlewares, mw)
	return a
}

// WithLogger sets the logger. Defaults to slog.Default().
func (a *App) WithLogger(logger *slog.Logger) *App {
	a.logger = logger
	return a
}

// WithMaxRequestBodySize sets the request body limit. 0 means no limit.
func (a *App) WithMaxRequestBodySize(size uint64) *App {
	a.maxRequestBodySize = size
	return a
}

// WithStreamWriteTimeout sets the per-event write timeout of streams.
// 0 disables it.
func (a *App) WithStreamWriteTimeout(d time.Duration) *App {
	a.streamWriteTimeout = d
	return a
}

// WithStreamHeartbeat sets the SSE heartbeat interval. 0 disables heartbeats.
func (a *App) WithStreamHeartbeat(d time.Duration) *App {
	a.streamHeartbeat = d
	return a
}

func (a *App) log() *slog.Logger {
	if a.logger == nil {
		return slog.Default()
	}
	return a.logger
}

// Handler returns the http.Handler serving every registered endpoint,
// wrapped in the configured middleware.
func (a *App) Handler() http.Handler {
	var h http.Handler = http.HandlerFunc(a.serveHTTP)
	for i := len(a.middlewares) - 1; i >= 0; i-- {
		h = a.middlewares[i](h)
	}
	return h
}

// Service returns a Service namespace.
func (a *App) Service(name string) *Service {
	return &Service{app: a, name: name}
}

// RouteInfo describes one registered endpoint.
type RouteInfo struct {
	Name       string `json:"name"`
	Primitive  string `json:"primitive"`
	HTTPMethod string `json:"httpMethod"`
	Path       string `json:"path"`
}

// Routes returns the registered endpoints sorted by name.
func (a *App) Routes() []RouteInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]RouteInfo, 0, len(a.routes))
	for _, key := range slices.Sorted(maps.Keys(a.routes)) {
		meta := a.routes[key].Metadata()
		out = append(out, RouteInfo{
			Name:       key,
			Primitive:  meta.Primitive,
			HTTPMethod: primitiveToHTTPMethod(meta.Primitive),
			Path:       "/" + strings.Replace(key, ".", "/", 1),
		})
	}
	return out
}

func primitiveToHTTPMethod(primitive string) string {
	if primitive == "query" {
		return http.MethodGet
	}
	return http.MethodPost
}

func (a *App) serveHTTP(w http.ResponseWriter, req *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			a.log().Error("PANIC recovered",
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())))
			writeError(w, NewError(CodeInternal, fmt.Sprintf("internal server error (panic): %v", rec)), a.logger)
		}
	}()

	// Path format: /{service}/{method}
	parts := strings.Split(strings.Trim(req.URL.Path, "/"), "/")
	if len(parts) != 2 {
		writeError(w, NewError(CodeNotFound, "route not found"), a.logger)
		return
	}
	service, method := parts[0], parts[1]

	a.mu.RLock()
	h, ok := a.routes[service+"."+method]
	a.mu.RUnlock()
	if !ok {
		writeError(w, NewError(CodeNotFound, "route not found"), a.logger)
		return
	}

	expected := primitiveToHTTPMethod(h.Metadata().Primitive)
	if req.Method != expected {
		w.Header().Set("Allow", expected)
		writeError(w, Errorf(CodeMethodNotAllowed, "method %s not allowed, expected %s", req.Method, expected), a.logger)
		return
	}

	ctx := newContext(req.Context(), w, req, service, method)
	ctx.errorTransformer = a.errorTransformer
	ctx.maskInternalErrors = a.maskInternalErrors
	ctx.interceptors = a.interceptors
	ctx.logger = a.logger
	ctx.maxRequestBodySize = a.maxRequestBodySize
	ctx.streamWriteTimeout = a.streamWriteTimeout
	ctx.streamHeartbeat = a.streamHeartbeat

	h.serveHTTP(ctx)
}

// Service groups endpoints under a common name.
type Service struct {
	app          *App
	name         string
	interceptors []UnaryInterceptor
}

// WithUnaryInterceptor adds an interceptor to every endpoint registered on
// this service after the call.
func (s *Service) WithUnaryInterceptor(i UnaryInterceptor) *Service {
	s.interceptors = append(s.interceptors, i)
	return s
}

// Register registers an endpoint. A second registration under the same name
// replaces the first and logs a warning.
func (s *Service) Register(name string, endpoint Endpoint) {
	h, ok := endpoint.(endpointHandler)
	if !ok {
		panic("rpc: endpoint must be created with Exec(), Query(), or Stream()")
	}

	key := s.name + "." + name
	s.app.mu.Lock()
	defer s.app.mu.Unlock()

	if _, exists := s.app.routes[key]; exists {
		s.app.log().Warn("duplicate route registration",
			slog.String("service", s.name),
			slog.String("method", name),
			slog.String("route", key))
	}
	s.app.routes[key] = &serviceEndpoint{inner: h, interceptors: slices.Clone(s.interceptors)}
}

type serviceEndpoint struct {
	inner        endpointHandler
	interceptors []UnaryInterceptor
}

func (h *serviceEndpoint) serveHTTP(ctx *rpcContext) {
	combined := make([]UnaryInterceptor, 0, len(ctx.interceptors)+len(h.interceptors))
	combined = append(combined, ctx.interceptors...)
	combined = append(combined, h.interceptors...)
	ctx.interceptors = combined
	h.inner.serveHTTP(ctx)
}

func (h *serviceEndpoint) Metadata() *Metadata { return h.inner.Metadata() }
