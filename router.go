package sdkplay

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
)

// Target is a live API surface an operation can be called against.
type Target interface {
	Call(ctx context.Context, method string, args []any) (any, error)
}

// TargetFunc adapts a function to the Target interface.
type TargetFunc func(ctx context.Context, method string, args []any) (any, error)

// Call calls f(ctx, method, args).
func (f TargetFunc) Call(ctx context.Context, method string, args []any) (any, error) {
	return f(ctx, method, args)
}

// Router selects the target of an invocation from a closed set of instance
// tags. The empty tag always selects the default target. Declared tags start
// unbound and become ready when a target is bound to them.
type Router struct {
	mu       sync.RWMutex
	def      Target
	declared map[string]bool
	live     map[string]Target
	logger   *slog.Logger
}

// NewRouter returns a router with the given default target and declared tags.
// It panics if def is nil.
func NewRouter(def Target, tags ...string) *Router {
	if def == nil {
		panic("sdkplay: router needs a default target")
	}
	r := &Router{
		def:      def,
		declared: make(map[string]bool, len(tags)),
		live:     make(map[string]Target),
	}
	for _, t := range tags {
		if t != "" {
			r.declared[t] = true
		}
	}
	return r
}

// WithLogger sets the logger used for bind/unbind events.
func (r *Router) WithLogger(logger *slog.Logger) *Router {
	r.logger = logger
	return r
}

func (r *Router) log() *slog.Logger {
	if r.logger == nil {
		return slog.Default()
	}
	return r.logger
}

// Bind makes t the live target for tag, replacing any previous one.
func (r *Router) Bind(tag string, t Target) error {
	if tag == "" {
		return fmt.Errorf("sdkplay: cannot rebind the default instance")
	}
	if t == nil {
		return fmt.Errorf("sdkplay: nil target for instance %q", tag)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.declared[tag] {
		return &InstanceNotReadyError{Tag: tag, Known: false}
	}
	if _, exists := r.live[tag]; exists {
		r.log().Warn("instance replaced", slog.String("instance", tag))
	}
	r.live[tag] = t
	r.log().Debug("instance bound", slog.String("instance", tag))
	return nil
}

// Unbind drops the live target for tag. Unbinding an unbound tag is a no-op.
func (r *Router) Unbind(tag string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.live[tag]; ok {
		delete(r.live, tag)
		r.log().Debug("instance unbound", slog.String("instance", tag))
	}
}

// Resolve returns the target for tag.
func (r *Router) Resolve(tag string) (Target, error) {
	if tag == "" {
		return r.def, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.live[tag]; ok {
		return t, nil
	}
	return nil, &InstanceNotReadyError{Tag: tag, Known: r.declared[tag]}
}

// Ready reports whether tag resolves to a live target.
func (r *Router) Ready(tag string) bool {
	_, err := r.Resolve(tag)
	return err == nil
}

// Tags returns the declared tags, sorted.
func (r *Router) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.declared))
}
