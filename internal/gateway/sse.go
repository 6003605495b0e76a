// ABOUTME: Server-sent event framing for the outbound event stream
// ABOUTME: Writes event-name/data frames and flushes after each one

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/strandworks/strand-gateway/internal/event"
)

// sseWriter frames events onto a streaming HTTP response.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// newSSEWriter verifies streaming support and sets the SSE headers.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	return &sseWriter{w: w, flusher: flusher}, nil
}

// writeEvent emits one event as "event: <kind>\ndata: <json>\n\n" and
// flushes immediately.
func (s *sseWriter) writeEvent(ev *event.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", ev.Kind, payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
