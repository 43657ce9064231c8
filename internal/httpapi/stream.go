package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	ginsse "github.com/gin-contrib/sse"

	"tryffel.net/go/airwave/internal/sse"
)

// statusStream serves the SSE status feed: an initial "connected" frame,
// a status frame on every debounced change plus the 1 Hz playing tick,
// and a comment-only heartbeat every 30s to keep idle connections alive
// through proxies that time out on silence.
func (s *Server) statusStream(c *gin.Context) {
	w := c.Writer
	flusher, ok := w.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ch, activate, unsubscribe := s.bcast.Subscribe()
	defer unsubscribe()

	if err := ginsse.Encode(w, ginsse.Event{Event: "connected", Data: gin.H{"status": "connected"}}); err != nil {
		return
	}
	flusher.Flush()
	activate()

	heartbeat := time.NewTicker(sse.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case doc, open := <-ch:
			if !open {
				return
			}
			if err := ginsse.Encode(w, sse.Event(doc)); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ":heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
