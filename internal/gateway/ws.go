package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cheese-chess-server/internal/session"
	"github.com/park285/cheese-chess-server/pkg/chessdto"
)

// Authenticator resolves the verified player identity of a request.
type Authenticator interface {
	Authenticate(r *http.Request) (session.Identity, error)
}

type ServerConfig struct {
	OriginPatterns []string
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadLimit      int64
}

// Server upgrades HTTP requests to websocket connections served by a Hub.
type Server struct {
	hub    *Hub
	auth   Authenticator
	cfg    ServerConfig
	logger *zap.Logger
}

func NewServer(hub *Hub, auth Authenticator, cfg ServerConfig) *Server {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = 64 << 10
	}
	return &Server{hub: hub, auth: auth, cfg: cfg, logger: hub.logger}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := s.auth.Authenticate(r)
	if err != nil {
		http.Error(w, `{"code":"`+chessdto.CodeUnauthorized+`"}`, http.StatusUnauthorized)
		return
	}
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  s.cfg.OriginPatterns,
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		s.logger.Warn("ws_accept_failed", zap.Error(err))
		return
	}
	ws.SetReadLimit(s.cfg.ReadLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := s.hub.NewConn(id)
	s.logger.Info("ws_connected", zap.String("conn_id", c.ID), zap.String("identity", string(id)))

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ctx, cancel, ws, c)
	}()
	go s.pingLoop(ctx, cancel, ws)

	s.readLoop(ctx, ws, c)

	// disconnect only cancels subscriptions; in-flight moves finish
	s.hub.Disconnect(context.WithoutCancel(ctx), c)
	cancel()
	<-writerDone
	_ = ws.Close(websocket.StatusNormalClosure, "bye")
}

func (s *Server) readLoop(ctx context.Context, ws *websocket.Conn, c *Conn) {
	for {
		var msg chessdto.ClientMessage
		if err := wsjson.Read(ctx, ws, &msg); err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && !errors.Is(err, context.Canceled) {
				s.logger.Debug("ws_read_failed", zap.String("conn_id", c.ID), zap.Error(err))
			}
			return
		}
		_ = s.hub.Dispatch(ctx, c, msg)
	}
}

func (s *Server) writeLoop(ctx context.Context, cancel context.CancelFunc, ws *websocket.Conn, c *Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-c.Outbound():
			if !ok {
				return
			}
			wctx, wcancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
			err := ws.Write(wctx, websocket.MessageText, payload)
			wcancel()
			if err != nil {
				s.logger.Debug("ws_write_failed", zap.String("conn_id", c.ID), zap.Error(err))
				cancel()
				return
			}
		}
	}
}

func (s *Server) pingLoop(ctx context.Context, cancel context.CancelFunc, ws *websocket.Conn) {
	t := time.NewTicker(s.cfg.PingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, pcancel := context.WithTimeout(ctx, 3*time.Second)
			err := ws.Ping(pctx)
			pcancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				cancel()
				return
			}
		}
	}
}
