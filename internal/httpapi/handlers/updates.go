package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/lovely-prompts/internal/common"
	"github.com/suPer8Hu/lovely-prompts/internal/project"
)

// Updates streams the update events of one project as server-sent events.
func (h *Handler) Updates(c *gin.Context) {
	name := projectParam(c)
	if !project.ValidName(name) {
		common.Fail(c, http.StatusBadRequest, 10007, "invalid project name")
		return
	}
	if !h.Projects.Exists(name) {
		common.Fail(c, http.StatusNotFound, 40401, "project not found")
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		common.Fail(c, http.StatusInternalServerError, 50003, "streaming not supported")
		return
	}

	events, unsubscribe := h.Hub.Subscribe(name)
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	flusher.Flush()

	write := func(event string, data []byte) {
		fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, data)
		flusher.Flush()
	}

	// heartbeat ticker (keeps connections alive)
	ticker := time.NewTicker(h.PingInterval)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return
			}
			write(string(evt.Type), evt.Data)

		case <-ticker.C:
			write("ping", fmt.Appendf(nil, `{"ts":%d}`, time.Now().Unix()))

		case <-ctx.Done():
			return
		}
	}
}
