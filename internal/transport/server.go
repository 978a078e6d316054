package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/msgpass/internal/message"
	"github.com/roach88/msgpass/internal/node"
)

// Server accepts inbound connections and decodes messages from them.
type Server struct {
	ln     net.Listener
	logger *slog.Logger

	mu      sync.Mutex
	conns   map[net.Conn]struct{}
	closing bool
}

// Listen opens a TCP listener on addr.
func Listen(addr string, logger *slog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{ln: ln, logger: logger, conns: make(map[net.Conn]struct{})}, nil
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Serve accepts connections until ctx is cancelled, running one read loop
// per connection. Each decoded message is passed to handle. A read error
// ends only that connection. Serve returns ctx.Err() after shutdown.
func (s *Server) Serve(ctx context.Context, handle node.Handler) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		s.ln.Close()
		s.closeConns()
		return nil
	})

	g.Go(func() error {
		var wg sync.WaitGroup
		defer wg.Wait()
		for {
			conn, err := s.ln.Accept()
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				return err
			}
			if !s.track(conn) {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.readLoop(gctx, conn, handle)
			}()
		}
	})

	return g.Wait()
}

func (s *Server) readLoop(ctx context.Context, conn net.Conn, handle node.Handler) {
	defer s.untrack(conn)
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	s.logger.Debug("connection accepted", "remote", remote)
	dec := NewDecoder(conn)
	for {
		m, err := dec.Decode()
		switch {
		case err == nil:
			handle(ctx, m)
		case IsFrameError(err):
			s.logger.Warn("malformed frame skipped", "remote", remote, "error", err)
		case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
			s.logger.Debug("connection closed", "remote", remote)
			return
		default:
			s.logger.Warn("connection failed", "remote", remote, "error", err)
			return
		}
	}
}

// track registers c for shutdown. It closes c and returns false once
// shutdown has begun.
func (s *Server) track(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		c.Close()
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closing = true
	for c := range s.conns {
		c.Close()
	}
}

// Close stops accepting connections.
func (s *Server) Close() error {
	return s.ln.Close()
}

// Collect is a Handler that forwards messages to ch, for callers that
// prefer a channel. It drops nothing: it blocks until ch accepts or ctx
// is done.
func Collect(ch chan<- message.TimedMessage) node.Handler {
	return func(ctx context.Context, m message.TimedMessage) {
		select {
		case ch <- m:
		case <-ctx.Done():
		}
	}
}
