package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/khuzaima-ocs/Synapse/internal/app"
	"github.com/khuzaima-ocs/Synapse/internal/config"
	"github.com/khuzaima-ocs/Synapse/internal/service/ports"
)

// gateway is one serve run: the opened store, the API server on top of it and
// the HTTP listener settings.
type gateway struct {
	cfg        config.Config
	repository ports.Repository
	app        *app.Server
	httpServer *http.Server
}

// newGateway opens and migrates the configured store unless deps already
// carries one. The store is closed by serve, or here when setup fails.
func newGateway(ctx context.Context, cfg config.Config, deps app.Dependencies) (*gateway, error) {
	if deps.Repository == nil {
		repository, err := app.OpenRepository(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("open %s store failed: %w", cfg.StoreDriver, err)
		}
		deps.Repository = repository
	}
	if err := app.MigrateRepository(ctx, deps.Repository); err != nil {
		_ = deps.Repository.Close()
		return nil, err
	}
	srv, err := app.NewServer(cfg, deps)
	if err != nil {
		_ = deps.Repository.Close()
		return nil, fmt.Errorf("init server failed: %w", err)
	}
	return &gateway{
		cfg:        cfg,
		repository: deps.Repository,
		app:        srv,
		httpServer: &http.Server{
			Handler:           srv.Handler(),
			ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
			ReadTimeout:       cfg.HTTP.ReadTimeout,
			WriteTimeout:      cfg.HTTP.WriteTimeout,
			IdleTimeout:       cfg.HTTP.IdleTimeout,
		},
	}, nil
}

// serve answers on ln until ctx is done, then drains in-flight chats within the
// shutdown timeout and closes the store.
func (g *gateway) serve(ctx context.Context, ln net.Listener) error {
	defer g.app.Close()

	errCh := make(chan error, 1)
	go func() {
		errCh <- g.httpServer.Serve(ln)
	}()
	log.Printf(
		"gateway listening on %s (store=%s serialize=%t max_rounds=%d write_timeout=%s shutdown_timeout=%s)",
		ln.Addr(), g.cfg.StoreDriver, g.cfg.SerializeConversations, g.cfg.MaxModelRounds, g.cfg.HTTP.WriteTimeout, g.cfg.HTTP.ShutdownTimeout,
	)

	select {
	case err := <-errCh:
		return fmt.Errorf("serve failed: %w", err)
	case <-ctx.Done():
	}

	log.Printf("shutdown requested, draining in-flight chats (timeout=%s)", g.cfg.HTTP.ShutdownTimeout)
	forced, err := g.shutdown()
	if err != nil {
		return err
	}
	if forced {
		log.Printf("gateway shutdown degraded: chats still running after %s were cut off", g.cfg.HTTP.ShutdownTimeout)
	} else {
		log.Printf("gateway shutdown complete")
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve failed during shutdown: %w", err)
	}
	return nil
}

// shutdown reports forced=true when the drain timed out and open connections
// had to be closed.
func (g *gateway) shutdown() (forced bool, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := g.httpServer.Shutdown(ctx); err != nil {
		if !errors.Is(err, context.DeadlineExceeded) {
			return false, fmt.Errorf("shutdown failed: %w", err)
		}
		if closeErr := g.httpServer.Close(); closeErr != nil {
			return true, fmt.Errorf("force close failed after shutdown timeout: %w", closeErr)
		}
		return true, nil
	}
	return false, nil
}

func runServe(ctx context.Context) error {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, err := newGateway(ctx, cfg, app.Dependencies{})
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		g.app.Close()
		return fmt.Errorf("listen on %s failed: %w", cfg.Addr(), err)
	}
	return g.serve(ctx, ln)
}
