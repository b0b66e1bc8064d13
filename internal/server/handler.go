package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"runtime/debug"
	"time"

	"bankanalysis/ratio-server/internal/auth"
	"bankanalysis/ratio-server/internal/dispatch"
	"bankanalysis/ratio-server/internal/protocol"
	"bankanalysis/ratio-server/internal/ratelimit"
)

// FrameHandler turns one request line into one response.
type FrameHandler interface {
	Handle(ctx context.Context, conn dispatch.Conn, line []byte) protocol.Response
}

// TokenRemover is the part of the session store used at teardown.
type TokenRemover interface {
	RemoveByToken(ctx context.Context, token string) (auth.Principal, bool, error)
}

// ConnObserver receives connection lifecycle counts.
type ConnObserver interface {
	ConnectionOpened()
	ConnectionClosed()
	RateLimited()
}

type HandlerConfig struct {
	MaxFrameBytes int
	ReadTimeout   time.Duration
}

type HandlerDeps struct {
	Frames   FrameHandler
	Sessions TokenRemover
	Limiter  *ratelimit.Limiter
	Observer ConnObserver
	Logger   *slog.Logger
}

// Handler runs the read, dispatch, write loop of one connection.
type Handler struct {
	cfg      HandlerConfig
	frames   FrameHandler
	sessions TokenRemover
	limiter  *ratelimit.Limiter
	observer ConnObserver
	log      *slog.Logger
	now      func() time.Time
}

func NewHandler(cfg HandlerConfig, deps HandlerDeps) (*Handler, error) {
	if deps.Frames == nil {
		return nil, fmt.Errorf("frame handler is required")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = protocol.DefaultMaxFrameBytes
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		cfg:      cfg,
		frames:   deps.Frames,
		sessions: deps.Sessions,
		limiter:  deps.Limiter,
		observer: deps.Observer,
		log:      logger,
		now:      time.Now,
	}, nil
}

var (
	respTooLarge    = protocol.Failure(protocol.StatusBadRequest, "request too large")
	respRateLimited = protocol.Failure(protocol.StatusError, "rate limit exceeded")
	respInternal    = protocol.Failure(protocol.StatusError, "internal error")
)

// Serve processes requests strictly in order until the peer goes away,
// then removes the tokens issued on this connection.
func (h *Handler) Serve(ctx context.Context, c *Connection) {
	log := h.log.With("conn_id", c.ID(), "remote", c.RemoteAddr())
	log.Info("connection opened")
	if h.observer != nil {
		h.observer.ConnectionOpened()
	}
	defer func() {
		h.teardown(ctx, c, log)
		if h.observer != nil {
			h.observer.ConnectionClosed()
		}
	}()

	reader := protocol.NewFrameReader(c.nc, h.cfg.MaxFrameBytes)
	writer := protocol.NewFrameWriter(c.nc)
	for {
		if h.cfg.ReadTimeout > 0 {
			_ = c.nc.SetReadDeadline(h.now().Add(h.cfg.ReadTimeout))
		}
		line, err := reader.ReadFrame()
		var resp protocol.Response
		switch {
		case errors.Is(err, protocol.ErrFrameTooLarge):
			log.Warn("oversized frame discarded", "max_bytes", h.cfg.MaxFrameBytes)
			resp = respTooLarge
		case err != nil:
			h.logReadEnd(log, err)
			return
		case len(line) == 0 || isBlank(line):
			continue
		case !h.limiter.AllowAddr(c.RemoteAddr(), h.now()):
			if h.observer != nil {
				h.observer.RateLimited()
			}
			resp = respRateLimited
		default:
			resp = h.handleFrame(ctx, c, line, log)
		}

		if err := writer.WriteResponse(resp); err != nil {
			if errors.Is(err, protocol.ErrUnencodable) {
				log.Error("response dropped", "err", err)
				continue
			}
			log.Info("write failed, closing connection", "err", err)
			return
		}
	}
}

func (h *Handler) handleFrame(ctx context.Context, c *Connection, line []byte, log *slog.Logger) (resp protocol.Response) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("request processing panicked", "panic", r, "stack", string(debug.Stack()))
			resp = respInternal
		}
	}()
	return h.frames.Handle(ctx, c, line)
}

func (h *Handler) teardown(ctx context.Context, c *Connection, log *slog.Logger) {
	_ = c.Close()
	removed := 0
	for _, token := range c.Tokens() {
		if _, ok, err := h.sessions.RemoveByToken(ctx, token); err != nil {
			log.Warn("session cleanup failed", "err", err)
			continue
		} else if ok {
			removed++
		}
		c.Release(token)
	}
	log.Info("connection closed", "sessions_removed", removed)
}

func (h *Handler) logReadEnd(log *slog.Logger, err error) {
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		log.Debug("peer closed connection")
	case errors.As(err, &netErr) && netErr.Timeout():
		log.Info("read timed out", "timeout", h.cfg.ReadTimeout)
	default:
		log.Info("read failed", "err", err)
	}
}

func isBlank(line []byte) bool {
	for _, b := range line {
		if b != ' ' && b != '\t' && b != '\r' {
			return false
		}
	}
	return true
}
