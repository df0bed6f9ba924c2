package server

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type realtimeEventPayload struct {
	Source    string      `json:"source"`
	Timestamp time.Time   `json:"timestamp"`
	Notice    *MintNotice `json:"notice,omitempty"`
}

// handleUserEvents streams mint-processed events for one wallet as server-sent events.
func (h *httpHandler) handleUserEvents(c *gin.Context) {
	address, ok := h.walletParam(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx, address.String())
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(realtimeHeartbeatInterval)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, open := <-stream:
			if !open {
				return false
			}
			notice := message.Notice
			c.SSEvent(message.EventType, realtimeEventPayload{
				Source:    realtimeSourceBackend,
				Timestamp: message.Timestamp,
				Notice:    &notice,
			})
			return true
		case tick := <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, realtimeEventPayload{
				Source:    realtimeSourceBackend,
				Timestamp: tick.UTC(),
			})
			return true
		}
	})
}
