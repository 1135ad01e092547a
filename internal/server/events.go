package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/quoteshelf/quoteshelf/internal/paging"
)

const (
	catalogChangeEventName = "catalog-change"
	heartbeatInterval      = 25 * time.Second
)

type changeEventPayload struct {
	Origin     string   `json:"origin"`
	Section    string   `json:"section"`
	EntityKeys []string `json:"entity_keys"`
	Timestamp  int64    `json:"timestamp_ms"`
}

// handleEvents streams committed catalog changes as server-sent events.
// Clients use it to re-read their materialized windows without polling.
func (h *httpHandler) handleEvents(c *gin.Context) {
	if h.dispatcher == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "events_unavailable"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	events, cancel := h.dispatcher.Subscribe(ctx, paging.SubscribeAllOrigins)
	defer cancel()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			payload := changeEventPayload{
				Origin:     event.OriginKey,
				Section:    event.Section,
				EntityKeys: event.EntityKeys,
				Timestamp:  event.Timestamp.UnixMilli(),
			}
			encoded, err := json.Marshal(payload)
			if err != nil {
				continue
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", catalogChangeEventName, encoded)
			c.Writer.Flush()
		case <-heartbeat.C:
			fmt.Fprint(c.Writer, ": heartbeat\n\n")
			c.Writer.Flush()
		}
	}
}
