// Package middleware holds interceptors and HTTP middleware shared by the
// playground surfaces.
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/broady/sdkplay"
	"github.com/broady/sdkplay/internal/rpc"
)

// LoggingInterceptor logs the start and end of every endpoint call, with
// duration and error.
func LoggingInterceptor(logger *slog.Logger) rpc.UnaryInterceptor {
	if logger == nil {
		logger = slog.Default()
	}

	return func(ctx rpc.Context, req any, handler rpc.HandlerFunc) (any, error) {
		start := time.Now()
		logger.InfoContext(ctx, "request started", slog.String("endpoint", ctx.EndpointID()))

		res, err := handler(ctx, req)
		duration := time.Since(start)

		if err != nil {
			logger.ErrorContext(ctx, "request failed",
				slog.String("endpoint", ctx.EndpointID()),
				slog.Duration("duration", duration),
				slog.Any("error", err),
			)
		} else {
			logger.InfoContext(ctx, "request completed",
				slog.String("endpoint", ctx.EndpointID()),
				slog.Duration("duration", duration),
			)
		}
		return res, err
	}
}

// InvocationLogging logs every SDK call issued by a Dispatcher. Calls that
// fail inside the SDK are logged at warn level; the failure is the
// operator's to inspect, not a fault of the playground.
func InvocationLogging(logger *slog.Logger) sdkplay.Interceptor {
	if logger == nil {
		logger = slog.Default()
	}

	return func(ctx context.Context, call *sdkplay.Call, next sdkplay.CallHandler) (any, error) {
		attrs := []any{
			slog.String("op", call.Op),
			slog.String("invocation", call.ID),
		}
		if call.Instance != "" {
			attrs = append(attrs, slog.String("instance", call.Instance))
		}
		log := logger.With(attrs...)

		start := time.Now()
		log.DebugContext(ctx, "invocation started", slog.Int("args", len(call.Args)))

		res, err := next(ctx, call)
		duration := time.Since(start)

		switch {
		case err == nil:
			log.InfoContext(ctx, "invocation completed", slog.Duration("duration", duration))
		case sdkplay.IsPreparationError(err):
			// The target refused an argument; no SDK call happened.
			log.DebugContext(ctx, "invocation rejected", slog.Any("error", err))
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			log.InfoContext(ctx, "invocation abandoned",
				slog.Duration("duration", duration),
				slog.Any("error", err))
		default:
			log.WarnContext(ctx, "invocation failed",
				slog.Duration("duration", duration),
				slog.Any("error", err))
		}
		return res, err
	}
}
