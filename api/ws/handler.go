// Package ws pushes loot change events to WebSocket observers.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/kasuganosora/raidloot/server/config"
	mw "github.com/kasuganosora/raidloot/server/middleware"
	"github.com/kasuganosora/raidloot/server/raid/notify"
	"go.uber.org/zap"
)

// Subscriber yields decoded change events until cancel is called.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan notify.Event, func(), error)
}

// Handler is the Gin handler for GET /ws.
type Handler struct {
	events   Subscriber
	router   *Router
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket Handler.
// sec.AllowedOrigins controls which WebSocket origins are accepted.
// An empty slice permits all origins (development only).
func NewHandler(events Subscriber, sec config.SecurityConfig, logger *zap.Logger) *Handler {
	h := &Handler{
		events: events,
		router: NewRouter(logger),
		logger: logger,
	}
	allowed := sec.AllowedOrigins
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, o := range allowed {
				if o == origin {
					return true
				}
			}
			return false
		},
	}
	h.router.On("subscribe", h.handleSubscribe)
	h.router.On("ping", func(_ context.Context, s *Session, _ json.RawMessage) error {
		s.Send("pong", struct{}{})
		return nil
	})
	return h
}

// Router exposes the message router so callers can add message types.
func (h *Handler) Router() *Router { return h.router }

func (h *Handler) handleSubscribe(ctx context.Context, s *Session, payload json.RawMessage) error {
	var f notify.Filter
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &f); err != nil {
			return err
		}
	}
	s.SetFilter(f)
	h.logger.Debug("ws filter set",
		zap.String("member_id", s.MemberID),
		zap.String("trace_id", TraceIDFromCtx(ctx)),
		zap.String("filter_member_id", f.MemberID),
		zap.Int("kinds", len(f.Kinds)))
	s.Send("subscribed", f)
	return nil
}

// ServeWS handles GET /ws. The route must sit behind the auth middleware;
// browsers pass access_token in the query.
func (h *Handler) ServeWS(c *gin.Context) {
	memberID := ""
	if m := mw.CurrentMember(c); m != nil {
		memberID = m.ID
	}

	subCtx, subCancel := context.WithCancel(context.Background())
	events, unsub, err := h.events.Subscribe(subCtx)
	if err != nil {
		subCancel()
		h.logger.Error("ws subscribe failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "subscribe failed"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		unsub()
		subCancel()
		h.logger.Error("ws upgrade failed", zap.Error(err))
		return
	}

	s := NewSession(memberID, conn)
	h.logger.Info("ws observer connected", zap.String("member_id", memberID))

	go h.writePump(s)
	go h.forward(s, events)

	h.readPump(s)

	unsub()
	subCancel()
	h.logger.Info("ws observer disconnected", zap.String("member_id", memberID))
}

// forward copies matching events into the session until either side ends.
func (h *Handler) forward(s *Session, events <-chan notify.Event) {
	for {
		select {
		case e, ok := <-events:
			if !ok {
				s.Close()
				return
			}
			if s.Filter().Match(e) {
				if !s.Send("event", e) {
					h.logger.Debug("ws event dropped", zap.String("member_id", s.MemberID))
				}
			}
		case <-s.Done:
			return
		}
	}
}

// readPump reads messages from the WebSocket connection and dispatches them.
func (h *Handler) readPump(s *Session) {
	defer s.Close()

	s.SetReadDeadline()
	s.Conn.SetPongHandler(func(string) error {
		s.SetReadDeadline()
		return nil
	})

	for {
		_, raw, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived) {
				h.logger.Warn("ws unexpected close",
					zap.String("member_id", s.MemberID),
					zap.Error(err))
			}
			return
		}
		s.SetReadDeadline()
		h.router.Dispatch(s, raw)
	}
}

// writePump is the only writer on the connection.
func (h *Handler) writePump(s *Session) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg := <-s.SendChan:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.Close()
				return
			}
		case <-ticker.C:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}
		case <-s.Done:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.Conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
