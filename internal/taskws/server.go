// Package taskws carries the task protocol over a websocket: clients send
// taskdto.Request frames and receive the task's events as JSON frames.
package taskws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/park285/runenkrieg/internal/task"
	"github.com/park285/runenkrieg/pkg/taskdto"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	defaultPingInterval = 30 * time.Second
	writeTimeout        = 10 * time.Second
	outboxSize          = 64
)

type Server struct {
	runner       *task.Runner
	origins      []string
	pingInterval time.Duration
	logger       *zap.Logger
}

type ServerOption func(*Server)

// WithOrigins sets the accepted Origin host patterns (path.Match syntax).
func WithOrigins(patterns []string) ServerOption {
	return func(s *Server) { s.origins = patterns }
}

func WithPingInterval(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.pingInterval = d
		}
	}
}

func WithServerLogger(l *zap.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewServer(runner *task.Runner, opts ...ServerOption) *Server {
	s := &Server{runner: runner, pingInterval: defaultPingInterval, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler serves the websocket on /ws and a liveness probe on /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", s)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// ServeHTTP upgrades the request and serves task frames until the peer
// leaves. Tasks started on a connection are canceled when it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  s.origins,
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		s.logger.Warn("ws_accept_failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	s.logger.Info("ws_connected", zap.String("remote", r.RemoteAddr))

	outbox := make(chan taskdto.Event, outboxSize)
	emit := func(ev taskdto.Event) {
		select {
		case outbox <- ev:
		case <-ctx.Done():
		}
	}
	go s.writeLoop(ctx, cancel, conn, outbox)
	go s.pingLoop(ctx, cancel, conn)

	for {
		var req taskdto.Request
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			if status := websocket.CloseStatus(err); status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				s.logger.Info("ws_disconnected", zap.String("remote", r.RemoteAddr))
			} else {
				s.logger.Warn("ws_read_failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
			}
			return
		}
		id := s.runner.Submit(ctx, req, emit)
		s.logger.Debug("ws_request", zap.String("id", id), zap.String("action", string(req.Action)))
	}
}

func (s *Server) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, outbox <-chan taskdto.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-outbox:
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, ev)
			wcancel()
			if err != nil {
				s.logger.Warn("ws_write_failed", zap.String("id", ev.ID), zap.Error(err))
				cancel()
				return
			}
		}
	}
}

func (s *Server) pingLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	t := time.NewTicker(s.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, pcancel := context.WithTimeout(ctx, 3*time.Second)
			err := conn.Ping(pctx)
			pcancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				s.logger.Warn("ws_ping_failed", zap.Error(err))
				cancel()
				return
			}
		}
	}
}
