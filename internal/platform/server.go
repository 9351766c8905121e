package platform

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// ListenAndServe starts the engine and serves its handler on addr until ctx
// is cancelled, then shuts down gracefully.
func (e *Engine) ListenAndServe(ctx context.Context, addr string) error {
	if err := e.Start(ctx); err != nil {
		return err
	}
	defer e.Close()

	srv := &http.Server{
		Addr:              addr,
		Handler:           e.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		e.logger.Info("listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	// viewers hold hijacked connections that Shutdown does not wait for
	e.Hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
