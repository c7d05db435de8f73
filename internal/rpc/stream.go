package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"
)

// ErrStreamClosed is returned by Emitter.Send once the client is gone or the
// stream has ended. Handlers should return when they receive it.
var ErrStreamClosed = errors.New("stream closed")

// ErrWriteTimeout reports an event write that exceeded the write timeout.
var ErrWriteTimeout = errors.New("write timeout")

// Emitter sends events to a streaming client.
type Emitter[T any] interface {
	// Send sends an event. Every disconnect-related error satisfies
	// errors.Is(err, ErrStreamClosed).
	Send(event T) error

	// SendWithID sends an event with an SSE "id:" field.
	SendWithID(id string, event T) error

	// LastEventID returns the client's Last-Event-ID header, if any.
	LastEventID() string
}

type sseEvent struct {
	id    string
	event any
}

type emitter[T any] struct {
	ctx         context.Context
	events      chan<- sseEvent
	lastEventID string
}

func (e *emitter[T]) Send(event T) error { return e.SendWithID("", event) }

func (e *emitter[T]) SendWithID(id string, event T) error {
	select {
	case <-e.ctx.Done():
		return fmt.Errorf("%w: %w", ErrStreamClosed, context.Cause(e.ctx))
	default:
	}
	select {
	case e.events <- sseEvent{id: id, event: event}:
		return nil
	case <-e.ctx.Done():
		return fmt.Errorf("%w: %w", ErrStreamClosed, context.Cause(e.ctx))
	}
}

func (e *emitter[T]) LastEventID() string { return e.lastEventID }

// StreamHandler is a server-sent events endpoint.
type StreamHandler[Req any, Res any] struct {
	fn                 func(context.Context, Req, Emitter[Res]) error
	interceptors       []UnaryInterceptor
	skipValidation     bool
	maxRequestBodySize *uint64
	writeTimeout       time.Duration
	heartbeat          *time.Duration
}

// Stream creates a POST endpoint answering with an SSE stream. fn sends
// events through the Emitter until it returns. An error other than
// ErrStreamClosed is sent to the client as a final error event.
//
// Unary interceptors run once before the stream starts and may reject it.
func Stream[Req any, Res any](fn func(context.Context, Req, Emitter[Res]) error) *StreamHandler[Req, Res] {
	return &StreamHandler[Req, Res]{fn: fn}
}

// WithUnaryInterceptor adds an interceptor run during stream setup.
func (h *StreamHandler[Req, Res]) WithUnaryInterceptor(i UnaryInterceptor) *StreamHandler[Req, Res] {
	h.interceptors = append(h.interceptors, i)
	return h
}

// WithSkipValidation disables struct validation of the request.
func (h *StreamHandler[Req, Res]) WithSkipValidation() *StreamHandler[Req, Res] {
	h.skipValidation = true
	return h
}

// WithMaxRequestBodySize overrides the App body limit for this endpoint.
func (h *StreamHandler[Req, Res]) WithMaxRequestBodySize(size uint64) *StreamHandler[Req, Res] {
	h.maxRequestBodySize = &size
	return h
}

// WithWriteTimeout overrides the App per-event write timeout.
func (h *StreamHandler[Req, Res]) WithWriteTimeout(d time.Duration) *StreamHandler[Req, Res] {
	h.writeTimeout = d
	return h
}

// WithHeartbeat overrides the App heartbeat interval. 0 disables heartbeats.
func (h *StreamHandler[Req, Res]) WithHeartbeat(d time.Duration) *StreamHandler[Req, Res] {
	h.heartbeat = &d
	return h
}

// Metadata implements Endpoint.
func (h *StreamHandler[Req, Res]) Metadata() *Metadata {
	return &Metadata{
		Primitive: "stream",
		Request:   reflect.TypeFor[Req](),
		Response:  reflect.TypeFor[Res](),
	}
}

func (h *StreamHandler[Req, Res]) serveHTTP(ctx *rpcContext) {
	req, err := decodeBody[Req](ctx, h.maxRequestBodySize)
	if err == nil && !h.skipValidation {
		err = validateRequest(req)
	}
	if err == nil {
		err = h.runSetupInterceptors(ctx, req)
	}
	if err != nil {
		handleError(ctx, err)
		return
	}

	flusher, ok := ctx.writer.(http.Flusher)
	if !ok {
		handleError(ctx, NewError(CodeInternal, "streaming not supported"))
		return
	}

	hdr := ctx.writer.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")
	ctx.writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	streamCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(ErrStreamClosed)

	events := make(chan sseEvent)
	result := make(chan error, 1)
	em := &emitter[Res]{
		ctx:         streamCtx,
		events:      events,
		lastEventID: ctx.request.Header.Get("Last-Event-ID"),
	}
	go func() { result <- h.fn(streamCtx, req, em) }()

	interval := ctx.streamHeartbeat
	if h.heartbeat != nil {
		interval = *h.heartbeat
	}
	var heartbeat <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	writeTimeout := ctx.streamWriteTimeout
	if h.writeTimeout > 0 {
		writeTimeout = h.writeTimeout
	}
	var rc *http.ResponseController
	if writeTimeout > 0 {
		rc = http.NewResponseController(ctx.writer)
	}

	logger := ctx.log().With(slog.String("endpoint", ctx.EndpointID()))
	for {
		select {
		case <-ctx.request.Context().Done():
			return

		case <-heartbeat:
			if _, err := io.WriteString(ctx.writer, ": heartbeat\n\n"); err != nil {
				if !isClientDisconnect(err) {
					logger.Error("failed to write heartbeat", slog.Any("error", err))
				}
				return
			}
			flusher.Flush()

		case ev := <-events:
			if rc != nil {
				if err := rc.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
					logger.Debug("write deadline not supported", slog.Any("error", err))
					rc = nil
				}
			}
			if err := writeSSEEvent(ctx.writer, ev); err != nil {
				if isClientDisconnect(err) {
					logger.Debug("client disconnected during write")
				} else {
					logger.Error("failed to write SSE event", slog.Any("error", err))
				}
				return
			}
			if rc != nil {
				_ = rc.SetWriteDeadline(time.Time{})
			}
			flusher.Flush()

		case err := <-result:
			if err != nil && !errors.Is(err, ErrStreamClosed) {
				writeSSEError(ctx.writer, ctx.transformError(err), logger)
				flusher.Flush()
			}
			return
		}
	}
}

func (h *StreamHandler[Req, Res]) runSetupInterceptors(ctx *rpcContext, req Req) error {
	all := make([]UnaryInterceptor, 0, len(ctx.interceptors)+len(h.interceptors))
	all = append(all, ctx.interceptors...)
	all = append(all, h.interceptors...)
	chain := chainInterceptors(all)
	if chain == nil {
		return nil
	}
	_, err := chain(ctx, req, func(context.Context, any) (any, error) { return nil, nil })
	return err
}

func isClientDisconnect(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return errors.Is(err, context.Canceled) ||
		strings.Contains(s, "broken pipe") ||
		strings.Contains(s, "connection reset")
}

func writeSSEEvent(w io.Writer, ev sseEvent) error {
	data, err := json.Marshal(response{Result: ev.event})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if ev.id != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", ev.id); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

func writeSSEError(w io.Writer, svcErr *Error, logger *slog.Logger) {
	data, err := json.Marshal(errorResponse{Error: svcErr})
	if err != nil {
		logger.Error("failed to marshal SSE error", slog.Any("error", err))
		return
	}
	fmt.Fprintf(w, "event: error\ndata: %s\n\n", data)
}
