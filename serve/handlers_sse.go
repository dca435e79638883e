package serve

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// handleSSE streams worker lifecycle events as Server-Sent Events.
func (s *Server) handleSSE(c *gin.Context) {
	ch := s.broker.Subscribe()
	if ch == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "too many subscribers"})
		return
	}
	defer s.broker.Unsubscribe(ch)

	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	// Initial comment so EventSource fires onopen
	fmt.Fprintf(w, ": connected\n\n")
	w.Flush()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			w.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			w.Flush()
		}
	}
}
