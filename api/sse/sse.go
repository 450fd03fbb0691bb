// Package sse streams loot change events to browsers as server-sent events.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	mw "github.com/kasuganosora/raidloot/server/middleware"
	"github.com/kasuganosora/raidloot/server/raid/notify"
	"go.uber.org/zap"
)

const keepaliveInterval = 30 * time.Second

// Subscriber yields decoded change events until cancel is called.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan notify.Event, func(), error)
}

// Handler handles the SSE endpoint.
type Handler struct {
	events    Subscriber
	keepalive time.Duration
	logger    *zap.Logger
}

// NewHandler creates a new SSE Handler.
func NewHandler(events Subscriber, logger *zap.Logger) *Handler {
	return &Handler{events: events, keepalive: keepaliveInterval, logger: logger}
}

// ServeSSE handles GET /sse?member_id=&kinds=a,b. The route must sit behind
// the auth middleware; EventSource clients pass access_token in the query.
func (h *Handler) ServeSSE(c *gin.Context) {
	filter := notify.Filter{MemberID: c.Query("member_id")}
	if raw := c.Query("kinds"); raw != "" {
		for _, k := range strings.Split(raw, ",") {
			filter.Kinds = append(filter.Kinds, notify.Kind(strings.TrimSpace(k)))
		}
	}

	subCtx, subCancel := context.WithCancel(c.Request.Context())
	defer subCancel()

	events, unsub, err := h.events.Subscribe(subCtx)
	if err != nil {
		h.logger.Error("sse subscribe failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "subscribe failed"})
		return
	}
	defer unsub()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	memberID := ""
	if m := mw.CurrentMember(c); m != nil {
		memberID = m.ID
	}
	h.logger.Debug("sse client connected", zap.String("member_id", memberID))

	fmt.Fprintf(c.Writer, "event: connected\ndata: {}\n\n")
	c.Writer.Flush()

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			if !filter.Match(e) {
				continue
			}
			payload, err := json.Marshal(e)
			if err != nil {
				continue
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", e.Kind, payload)
			c.Writer.Flush()

		case <-ticker.C:
			fmt.Fprintf(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()

		case <-c.Request.Context().Done():
			h.logger.Debug("sse client disconnected", zap.String("member_id", memberID))
			return
		}
	}
}
