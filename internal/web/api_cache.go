package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"photocal/internal/imagecache"
	appLog "photocal/internal/log"
)

const sseKeepAlive = 25 * time.Second

// handleCacheMessage queues a cache worker message, e.g.
// {"type":"CACHE_IMAGES","payload":["https://..."]}. The outcome arrives on
// /api/cache/events.
func (s *Server) handleCacheMessage(w http.ResponseWriter, r *http.Request) {
	if s.deps.Worker == nil {
		writeError(w, http.StatusServiceUnavailable, "image cache disabled")
		return
	}
	var msg imagecache.Message
	if err := decodeJSON(w, r, &msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid message")
		return
	}
	if err := s.deps.Worker.Post(r.Context(), msg); err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, imagecache.ErrUnknownMessage) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleCacheEvents streams every worker response to the client as
// server-sent events until the client disconnects.
func (s *Server) handleCacheEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Worker == nil {
		writeError(w, http.StatusServiceUnavailable, "image cache disabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	msgs, cancel := s.deps.Worker.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				appLog.Error("web: encode cache event failed", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Type, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
