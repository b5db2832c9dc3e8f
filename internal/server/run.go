package server

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

// Run serves HTTP on addr alongside session eviction and, if enabled, the
// content watcher. Cancelling ctx shuts everything down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return serve(ctx, httpSrv, func(eg *errgroup.Group, ctx context.Context) {
		eg.Go(func() error {
			return s.sessions.RunEvictionLoop(ctx, s.cfg.SessionIdleTTL, s.cfg.SessionEvictInterval)
		})
		if s.watcher != nil {
			eg.Go(func() error { return s.watcher.Run(ctx) })
		}
	})
}

// serve runs httpSrv until ctx is done, plus whatever background work extra
// starts on the group.
func serve(ctx context.Context, httpSrv *http.Server, extra func(eg *errgroup.Group, ctx context.Context)) error {
	eg, egCtx := errgroup.WithContext(ctx)

	if extra != nil {
		extra(eg, egCtx)
	}

	eg.Go(func() error {
		<-egCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
			return err
		}
		log.Info().Msg("server shutdown complete")
		return nil
	})

	eg.Go(func() error {
		log.Info().Str("addr", httpSrv.Addr).Msg("starting server")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server listen error")
			return err
		}
		return nil
	})

	return eg.Wait()
}

// Serve runs any handler with the same graceful shutdown as the chat server.
func Serve(ctx context.Context, addr string, h http.Handler) error {
	return serve(ctx, &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}, nil)
}
