package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ConfigError reports an invalid bind address or a failure to acquire the
// listening socket. Unlike per-connection errors this is fatal: the process
// has nothing to serve, and the caller should exit non-zero.
type ConfigError struct {
	Reason string
	Cause  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s: %v", e.Reason, e.Cause)
}

func (e *ConfigError) Unwrap() error { return e.Cause }

// Server binds a listening socket and spawns one handler per accepted
// connection, using an errgroup so that a context cancellation and a fatal
// accept error both converge on a clean shutdown.
type Server struct {
	Addr    string
	Handler *Handler

	wg sync.WaitGroup
}

// NewServer returns a Server bound to addr (not yet listening) that
// dispatches accepted connections to handler.
func NewServer(addr string, handler *Handler) *Server {
	return &Server{Addr: addr, Handler: handler}
}

// ListenAndServe binds Addr and serves until ctx is canceled or a fatal
// accept error occurs. It returns nil on clean shutdown (ctx canceled) and
// a non-nil error otherwise — the caller is expected to exit non-zero on a
// *ConfigError or other accept failure.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return &ConfigError{Reason: "bind failed", Cause: err}
	}
	return s.Serve(ctx, ln)
}

// Serve runs the accept loop over an already-bound listener. Splitting this
// out from ListenAndServe lets tests bind to 127.0.0.1:0 and discover the
// chosen port before calling Serve.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		return ln.Close()
	})

	g.Go(func() error {
		return s.acceptLoop(gctx, ln)
	})

	err := g.Wait()
	s.wg.Wait()

	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.Handler.Handle(ctx, conn)
		}()
	}
}
