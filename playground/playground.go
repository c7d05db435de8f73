// Package playground assembles the invocation engine into a usable
// playground: a catalogue, a session over live SDK instances and a
// dispatcher, plus the HTTP service exposing them.
package playground

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/broady/sdkplay"
	"github.com/broady/sdkplay/internal/demosdk"
	"github.com/broady/sdkplay/jseval"
	"github.com/broady/sdkplay/middleware"
)

// ErrUnknownAPI is returned for an operation key absent from the catalogue.
var ErrUnknownAPI = errors.New("unknown api")

// Playground is one catalogue bound to one session.
type Playground struct {
	Catalog    *sdkplay.Catalog
	Dispatcher *sdkplay.Dispatcher
}

// New returns a Playground dispatching over d.
func New(catalog *sdkplay.Catalog, d *sdkplay.Dispatcher) *Playground {
	return &Playground{Catalog: catalog, Dispatcher: d}
}

// Session returns the session invocations run against.
func (p *Playground) Session() *sdkplay.Session { return p.Dispatcher.Session() }

// Lookup returns the descriptor for an "area.name" key.
func (p *Playground) Lookup(key string) (*sdkplay.APIDescriptor, error) {
	api, ok := p.Catalog.Lookup(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAPI, key)
	}
	return api, nil
}

// Invoke runs the operation named by key with args. The returned error
// reports an unknown key only; invocation failures are in the result.
func (p *Playground) Invoke(ctx context.Context, key string, args map[string]any) (*sdkplay.InvocationResult, error) {
	api, err := p.Lookup(key)
	if err != nil {
		return nil, err
	}
	return p.Dispatcher.Invoke(ctx, sdkplay.InvocationRequest{API: api, Args: args}), nil
}

// DemoOptions configures NewDemo.
type DemoOptions struct {
	Logger *slog.Logger
	// Latency is added to every SDK call that talks to the pretend server.
	Latency time.Duration
	// CallbackTimeout bounds each run of an operator-supplied function.
	// 0 means no bound.
	CallbackTimeout time.Duration
}

// NewDemo returns a Playground over the bundled demo SDK and its catalogue.
func NewDemo(opts DemoOptions) (*Playground, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cat := sdkplay.NewCatalog().WithLogger(logger)
	if err := cat.Load(demosdk.CatalogFS(), demosdk.CatalogPatterns...); err != nil {
		return nil, err
	}

	client := demosdk.New().WithLatency(opts.Latency)
	router := sdkplay.NewRouter(sdkplay.NewReflectTarget(client).WithLogger(logger), cat.Instances()...).
		WithLogger(logger)
	eval := jseval.New().WithLogger(logger)
	if opts.CallbackTimeout > 0 {
		eval = eval.WithCallTimeout(opts.CallbackTimeout)
	}
	d := sdkplay.NewDispatcher(sdkplay.NewSession(router)).
		WithEvaluator(eval).
		WithInterceptor(middleware.InvocationLogging(logger)).
		WithLogger(logger)
	return New(cat, d), nil
}
