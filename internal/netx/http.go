// Package netx runs the small HTTP surfaces of the daemon.
package netx

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/logging"
)

const shutdownTimeout = 5 * time.Second

// Serve listens on addr and serves h until ctx is done.
func Serve(ctx context.Context, addr string, h http.Handler, log logging.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ServeListener(ctx, ln, h, log)
}

// ServeListener serves h on ln until ctx is done, then shuts the server down
// gracefully. A clean shutdown returns nil.
func ServeListener(ctx context.Context, ln net.Listener, h http.Handler, log logging.Logger) error {
	if log == nil {
		log = logging.Nop()
	}
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		log.Info(ctx, "stopping http server", "address", ln.Addr().String())

		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Warn(ctx, "http shutdown", "error", err)
		}
	}()

	log.Info(ctx, "starting http server", "address", ln.Addr().String())

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-stopped
	return nil
}
