package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"jobkit/internal/scheduler"
)

// handleStream follows one job as server-sent events. Each tick with a state
// change emits the full record; the stream closes after the terminal event,
// or with a {"status":"deleted"} event if the record vanishes mid-stream.
func (s *Server) handleStream(c *gin.Context) {
	id, ok := s.jobID(c)
	if !ok {
		return
	}
	if _, err := s.sched.Record(id); err != nil {
		s.fail(c, err)
		return
	}

	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)

	ticker := time.NewTicker(s.cfg.streamInterval())
	defer ticker.Stop()

	var last scheduler.Record
	sent := false
	for {
		rec, err := s.sched.Record(id)
		if errors.Is(err, scheduler.ErrNotFound) {
			writeSSE(c, []byte(`{"status":"deleted"}`))
			return
		}
		if err != nil {
			return
		}

		if !sent || rec.Status != last.Status {
			body, err := json.Marshal(rec)
			if err != nil {
				return
			}
			writeSSE(c, body)
			sent = true
			last = rec
		}
		if rec.Status.Terminal() {
			return
		}

		select {
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func writeSSE(c *gin.Context, data []byte) {
	fmt.Fprintf(c.Writer, "data: %s\n\n", data)
	c.Writer.Flush()
}
