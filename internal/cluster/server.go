package cluster

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// ShutdownTimeout bounds graceful shutdown of a node's HTTP server.
const ShutdownTimeout = 5 * time.Second

// NewHTTPServer returns an http.Server with the timeouts every node uses.
// There is no write timeout since object responses stream for as long as
// the client keeps reading.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second, // Prevent slowloris attacks
		IdleTimeout:       120 * time.Second,
	}
}

// Serve runs srv until ctx is cancelled, then shuts it down gracefully.
// When certFile and keyFile are both set the server speaks HTTPS.
// It returns nil after a clean shutdown.
func Serve(ctx context.Context, srv *http.Server, certFile, keyFile string, logger zerolog.Logger) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}
	return ServeListener(ctx, srv, ln, certFile, keyFile, logger)
}

// ServeListener is Serve on an existing listener.
func ServeListener(ctx context.Context, srv *http.Server, ln net.Listener, certFile, keyFile string, logger zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		tls := certFile != "" && keyFile != ""
		logger.Info().Str("addr", ln.Addr().String()).Bool("tls", tls).Msg("listening")
		var err error
		if tls {
			err = srv.ServeTLS(ln, certFile, keyFile)
		} else {
			err = srv.Serve(ln)
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("server shutdown")
		return err
	}
	<-errCh
	return nil
}
