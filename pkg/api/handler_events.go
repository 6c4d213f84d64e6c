package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// handleExecutionEvents streams one execution's events as server-sent
// events. The subscription is created before the snapshot check so no event
// slips through the gap; the stream ends when the client disconnects or the
// bus closes.
func (s *Server) handleExecutionEvents(c *gin.Context) {
	if s.bus == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event streaming is not enabled"})
		return
	}

	id := c.Param("id")
	sub := s.bus.SubscribeExecution(id)
	defer sub.Close()

	if _, err := s.executor.Status(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	// Flush the headers right away so clients see the stream open even
	// before the first event arrives.
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	clientGone := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case evt, ok := <-sub.Events():
			if !ok {
				return false
			}
			c.SSEvent(evt.Type, evt.Payload)
			return true
		case <-clientGone:
			return false
		}
	})
}
