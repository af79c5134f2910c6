package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/newshack/newshack/internal/progress"
)

// handleChannelProgress bridges one progress stream onto Server-Sent Events.
// Retained history is replayed first, then live events; the connection closes
// after the terminal event, on eviction, or when the client goes away. A
// `: ping` comment keeps intermediaries from dropping idle connections.
func (s *Server) handleChannelProgress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	requestID := r.URL.Query().Get("requestId")
	if requestID == "" {
		writeError(w, http.StatusBadRequest, "requestId is required")
		return
	}

	sub, err := s.cfg.Bus.Subscribe(requestID)
	if errors.Is(err, progress.ErrUnknownRequest) {
		writeError(w, http.StatusNotFound, "unknown request id")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer s.cfg.Bus.Unsubscribe(sub)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.SSESubscribers.Add(r.Context(), 1)
		defer s.cfg.Metrics.SSESubscribers.Add(r.Context(), -1)
	}
	s.log.Debug("sse subscriber attached", "request_id", requestID)

	keepalive := time.NewTicker(s.cfg.Keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev, open := <-sub.Ch():
			if !open {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				s.log.Error("sse event marshal failed", "request_id", requestID, "error", err)
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
			if ev.Terminal {
				return
			}
		}
	}
}
