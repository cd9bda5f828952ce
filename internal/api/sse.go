package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// heartbeatInterval keeps idle SSE connections from being reaped by
// proxies.
const heartbeatInterval = 30 * time.Second

// handleEvents streams the notification bus over server-sent events. Each
// client gets its own bus subscriptions; a slow client loses batches
// rather than stalling intake or deletion.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	added, cancelAdded := s.bus.SubscribeAdded()
	defer cancelAdded()
	deleted, cancelDeleted := s.bus.SubscribeDeleted()
	defer cancelDeleted()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case messages := <-added:
			nodes := make([]messageJSON, 0, len(messages))
			for _, m := range messages {
				nodes = append(nodes, toMessageJSON(m))
			}
			if err := writeEvent(w, "messagesAdded", nodes); err != nil {
				return
			}
			flusher.Flush()

		case ids := <-deleted:
			if err := writeEvent(w, "messagesDeleted", map[string][]string{"ids": ids}); err != nil {
				return
			}
			flusher.Flush()

		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
