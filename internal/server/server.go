// Package server accepts protocol connections and runs each one on a
// fixed-size worker pool.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

var ErrServerClosed = errors.New("server closed")

type Config struct {
	Addr      string
	Workers   int
	QueueSize int
}

// Server is the connection acceptor. Accepted connections wait in a
// bounded queue until one of Workers goroutines is free.
type Server struct {
	cfg     Config
	handler *Handler
	log     *slog.Logger

	mu       sync.Mutex
	ln       net.Listener
	queue    chan net.Conn
	active   map[*Connection]struct{}
	closing  bool
	done     chan struct{}
	ready    chan struct{}
	workers  sync.WaitGroup
	stopOnce sync.Once
}

func New(cfg Config, handler *Handler, logger *slog.Logger) (*Server, error) {
	if handler == nil {
		return nil, fmt.Errorf("connection handler is required")
	}
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("workers must be > 0")
	}
	if cfg.QueueSize < 0 {
		return nil, fmt.Errorf("queue size must be >= 0")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		handler: handler,
		log:     logger,
		active:  make(map[*Connection]struct{}),
		done:    make(chan struct{}),
		ready:   make(chan struct{}),
	}, nil
}

// ListenAndServe binds cfg.Addr and serves until Shutdown.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts on ln until it is closed. It returns ErrServerClosed after
// Shutdown and the accept error otherwise. Handlers run on a context that
// is not cancelled with ctx, so in-flight requests finish during drain.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.ln != nil {
		s.mu.Unlock()
		return fmt.Errorf("server already serving")
	}
	if s.closing {
		s.mu.Unlock()
		_ = ln.Close()
		return ErrServerClosed
	}
	s.ln = ln
	s.queue = make(chan net.Conn, s.cfg.QueueSize)
	s.workers.Add(s.cfg.Workers)
	s.mu.Unlock()
	close(s.ready)

	connCtx := context.WithoutCancel(ctx)
	for i := 0; i < s.cfg.Workers; i++ {
		go s.worker(connCtx)
	}
	s.log.Info("protocol server listening",
		"addr", ln.Addr().String(),
		"workers", s.cfg.Workers,
		"queue_size", s.cfg.QueueSize,
	)

	err := s.acceptLoop(ln)
	close(s.queue)
	if s.isClosing() {
		return ErrServerClosed
	}
	return err
}

func (s *Server) acceptLoop(ln net.Listener) error {
	var backoff time.Duration
	for {
		nc, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || s.isClosing() {
				return err
			}
			backoff = nextBackoff(backoff)
			s.log.Warn("accept failed", "err", err, "retry_in", backoff)
			select {
			case <-time.After(backoff):
				continue
			case <-s.done:
				return ErrServerClosed
			}
		}
		backoff = 0

		select {
		case s.queue <- nc:
		case <-s.done:
			_ = nc.Close()
			return ErrServerClosed
		}
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	if d *= 2; d > time.Second {
		d = time.Second
	}
	return d
}

func (s *Server) worker(ctx context.Context) {
	defer s.workers.Done()
	for nc := range s.queue {
		c := newConnection(nc)
		if !s.track(c) {
			_ = nc.Close()
			continue
		}
		s.handler.Serve(ctx, c)
		s.untrack(c)
	}
}

// track registers c unless shutdown has begun; queued connections are not
// served once the server is closing.
func (s *Server) track(c *Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.active[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *Connection) {
	s.mu.Lock()
	delete(s.active, c)
	s.mu.Unlock()
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// Addr returns the bound address once Serve has started, or nil.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// ActiveConnections reports connections currently owned by a worker.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Shutdown stops accepting and waits for workers to finish their current
// connections. When ctx expires first, the remaining connections are closed
// so their handlers run teardown, and ctx.Err() is returned.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		ln := s.ln
		s.mu.Unlock()
		close(s.done)
		if ln != nil {
			_ = ln.Close()
		}
	})

	drained := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
	}

	s.mu.Lock()
	open := make([]*Connection, 0, len(s.active))
	for c := range s.active {
		open = append(open, c)
	}
	s.mu.Unlock()
	s.log.Warn("shutdown timeout, closing connections", "count", len(open))
	for _, c := range open {
		_ = c.Close()
	}
	<-drained
	return ctx.Err()
}
