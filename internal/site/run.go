package site

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"amber-go/internal/amber"
)

// Readiness probing: five attempts with exponential backoff from 100ms.
const (
	readyRetries = 4
	readyBackoff = 100 * time.Millisecond
)

// Running is a started HTTP server.
type Running struct {
	srv  *http.Server
	addr string
	errc chan error
}

// Start listens on addr and serves handler in the background. Use
// "127.0.0.1:0" for a free loopback port.
func Start(handler http.Handler, addr string) (*Running, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}

	r := &Running{
		srv:  &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second},
		addr: ln.Addr().String(),
		errc: make(chan error, 1),
	}
	go func() {
		err := r.srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		r.errc <- err
	}()
	return r, nil
}

// Addr returns the address the server is listening on.
func (r *Running) Addr() string { return r.addr }

// URL returns the base URL of the server.
func (r *Running) URL() string { return "http://" + r.addr + "/" }

// Shutdown stops the server, waiting for in-flight requests.
func (r *Running) Shutdown(ctx context.Context) error {
	if err := r.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return <-r.errc
}

// Serve runs handler on addr until ctx is cancelled.
func Serve(ctx context.Context, handler http.Handler, addr string, logger amber.Logger) error {
	r, err := Start(handler, addr)
	if err != nil {
		return err
	}
	logger.Info("serving", "url", r.URL())

	select {
	case err := <-r.errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return r.Shutdown(shutdownCtx)
}

// WaitReady polls url until it answers with a 2xx status.
func WaitReady(ctx context.Context, client *http.Client, url string) error {
	if client == nil {
		client = http.DefaultClient
	}

	b := retry.WithMaxRetries(readyRetries, retry.NewExponential(readyBackoff))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return retry.RetryableError(fmt.Errorf("status %d", resp.StatusCode))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("waiting for %s: %w", url, err)
	}
	return nil
}
