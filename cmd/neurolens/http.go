package main

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"
)

// connectionCloser closes hijacked streaming connections and waits for them
type connectionCloser interface {
	Shutdown(ctx context.Context) error
}

// handleHTTPServer starts the HTTP server on addr and shuts it down when ctx
// is cancelled. Listener errors are sent on errc.
func handleHTTPServer(ctx context.Context, addr string, handler http.Handler, streams connectionCloser, shutdownTimeout time.Duration, wg *sync.WaitGroup, errc chan<- error) {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 60 * time.Second}

	wg.Add(1)
	go func() {
		defer wg.Done()

		go func() {
			logger.Info("HTTP server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
		}()

		<-ctx.Done()
		logger.Info("shutting down HTTP server", "addr", addr)

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("failed to shutdown", "error", err)
		}
		// Hijacked WebSocket connections are not tracked by srv.Shutdown
		if err := streams.Shutdown(ctx); err != nil {
			logger.Warn("streaming connections did not finish", "error", err)
		}
	}()
}
