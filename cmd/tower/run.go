package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/tau-tower/internal/config"
	"github.com/dgnsrekt/tau-tower/internal/ingest"
	"github.com/dgnsrekt/tau-tower/internal/relay"
	"github.com/dgnsrekt/tau-tower/internal/server"
	"github.com/dgnsrekt/tau-tower/internal/stream"
)

const shutdownTimeout = 10 * time.Second

// run wires the relay and blocks until ctx ends or a component fails.
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("configuration loaded",
		zap.String("sourceAddr", cfg.SourceAddr()),
		zap.String("mountAddr", cfg.MountAddr()),
		zap.String("mount", cfg.MountPath()),
		zap.Bool("udpEnabled", cfg.UDP.Enabled),
		zap.Int("busCapacity", cfg.Bus.Capacity),
		zap.Duration("headerTimeout", cfg.Mount.HeaderTimeout),
	)

	headers := relay.NewHeaderCache()
	bus := relay.NewBus(cfg.Bus.Capacity)
	router := relay.NewRouter(headers, bus, cfg.Source.WarnInterval, logger)

	handler, err := server.NewRouter(
		stream.NewHandler(headers, bus, cfg.Mount.HeaderTimeout, logger),
		server.Options{MountPath: cfg.MountPath(), StaticDir: cfg.Mount.StaticDir},
		logger,
	)
	if err != nil {
		return fmt.Errorf("building router: %w", err)
	}

	ln, err := net.Listen("tcp", cfg.MountAddr())
	if err != nil {
		return fmt.Errorf("listening for listeners on %s: %w", cfg.MountAddr(), err)
	}

	g, gctx := errgroup.WithContext(ctx)

	httpServer := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return gctx },
		ErrorLog:          zap.NewStdLog(logger),
	}

	g.Go(func() error {
		return ingest.NewWSSource(cfg.SourceAddr(), cfg.Credentials(), router, cfg.Source.Backoff, logger).Run(gctx)
	})

	if cfg.UDP.Enabled {
		g.Go(func() error {
			return ingest.NewUDPSource(cfg.UDPAddr(), cfg.UDP.MaxDatagram, router, logger).Run(gctx)
		})
	}

	g.Go(func() error {
		logger.Info("serving listeners", zap.String("addr", ln.Addr().String()), zap.String("mount", cfg.MountPath()))
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listener server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down relay...")

		// Closing the bus ends every listener session.
		bus.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("listener server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("relay stopped", zap.Error(err))
		return err
	}

	logger.Info("relay stopped", zap.Uint64("pagesPublished", bus.Published()))
	return nil
}
