package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/broady/sdkplay/devtools"
	"github.com/broady/sdkplay/internal/rpc"
	"github.com/broady/sdkplay/middleware"
	"github.com/broady/sdkplay/playground"
)

type ServeCmd struct {
	Addr            string        `help:"Address to listen on." default:"localhost:8080" short:"a" env:"SDKPLAY_ADDR"`
	CORSOrigins     []string      `help:"Allowed CORS origins. Empty allows any." name:"cors-origin" env:"SDKPLAY_CORS_ORIGINS"`
	MaskErrors      bool          `help:"Hide internal error messages from clients." env:"SDKPLAY_MASK_ERRORS"`
	Heartbeat       time.Duration `help:"Interval between SSE heartbeats." default:"30s"`
	ShutdownTimeout time.Duration `help:"Time allowed for in-flight requests on shutdown." default:"10s"`
}

func (c *ServeCmd) Run(g *Globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := g.Logger()
	pg, err := g.Playground()
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", c.Addr)
	if err != nil {
		return err
	}
	app := c.newApp(pg, logger, ln.Addr().String())

	// Streams never finish on their own, so request contexts end once
	// shutdown starts.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	srv := &http.Server{
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	srv.RegisterOnShutdown(cancelBase)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("serving playground", slog.String("addr", "http://"+ln.Addr().String()), slog.String("session", pg.Session().ID))
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", slog.Duration("timeout", c.ShutdownTimeout))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), c.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	group.Go(func() error {
		for ev := range pg.Session().Vars.Subscribe(gctx) {
			switch {
			case ev.Reset:
				logger.Debug("variables reset", slog.Uint64("epoch", ev.Epoch))
			case ev.Binding != nil:
				logger.Debug("variable bound", slog.String("name", ev.Binding.Name), slog.String("op", ev.Binding.Op))
			}
		}
		return nil
	})
	return group.Wait()
}

func (c *ServeCmd) newApp(pg *playground.Playground, logger *slog.Logger, addr string) *rpc.App {
	cors := &middleware.CORSConfig{
		AllowOrigins:  c.CORSOrigins,
		ExposeHeaders: []string{"X-Invocation-ID"},
	}

	app := rpc.NewApp().
		WithLogger(logger).
		WithErrorTransformer(playground.ErrorFor).
		WithUnaryInterceptor(middleware.LoggingInterceptor(logger)).
		WithMiddleware(middleware.CORS(cors)).
		WithStreamHeartbeat(c.Heartbeat)
	if c.MaskErrors {
		app = app.WithMaskInternalErrors()
	}
	playground.NewService(pg).WithLogger(logger).Register(app)
	devtools.New(app, addr, Version()).Register()
	return app
}
