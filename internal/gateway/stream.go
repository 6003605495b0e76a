// ABOUTME: Long-lived SSE handler relaying broker events to one client per conversation
// ABOUTME: Heartbeats when idle; eviction by a newer stream; disconnect never cancels the orchestrator

package gateway

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/strandworks/strand-gateway/internal/auth"
	"github.com/strandworks/strand-gateway/internal/broker"
	"github.com/strandworks/strand-gateway/internal/event"
)

// handleStreamEvents handles GET /api/messages/{id}/events. It subscribes to
// the message's channel and relays events until the terminal event, client
// disconnect, or eviction by a newer stream for the same (owner,
// conversation).
func (g *Gateway) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	// Extract message ID from path: /api/messages/{id}/events
	path := r.URL.Path
	prefix := "/api/messages/"
	suffix := "/events"
	if !strings.HasPrefix(path, prefix) || !strings.HasSuffix(path, suffix) {
		g.sendJSONError(w, http.StatusBadRequest, "invalid path")
		return
	}
	messageID := strings.TrimSuffix(strings.TrimPrefix(path, prefix), suffix)
	if messageID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "message_id is required")
		return
	}

	id := auth.MustFromContext(r.Context())

	info, err := g.broker.Info(messageID)
	if errors.Is(err, broker.ErrNoChannel) {
		g.sendJSONError(w, http.StatusNotFound, "unknown message")
		return
	}
	if err != nil {
		g.logger.Error("channel lookup failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	// Admission first: evict any prior stream for this pair before touching
	// the channel, so two relays never interleave on one conversation.
	lease := g.guard.Admit(id.PrincipalID, info.ConversationID)
	defer lease.Release()

	events, err := g.broker.Subscribe(r.Context(), messageID, id.PrincipalID)
	if errors.Is(err, broker.ErrUnauthorized) {
		g.sendJSONError(w, http.StatusForbidden, "not the message owner")
		return
	}
	if err != nil {
		g.logger.Error("subscribe failed", "error", err, "message_id", messageID)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	heartbeat := time.NewTicker(g.heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			// Client disconnect tears down the transport only; the
			// orchestrator keeps running and the terminal event stays
			// available to any future subscriber.
			return

		case <-lease.Evicted():
			superseded := event.NewError(messageID, id.CorrelationID,
				event.CodeSuperseded, "stream superseded by a newer connection")
			if err := sse.writeEvent(superseded); err != nil {
				g.logger.Debug("write to evicted stream failed", "error", err)
			}
			return

		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := sse.writeEvent(ev); err != nil {
				g.logger.Debug("stream write failed", "error", err, "message_id", messageID)
				return
			}
			heartbeat.Reset(g.heartbeatInterval)
			if ev.Terminal() {
				return
			}

		case <-heartbeat.C:
			if err := sse.writeEvent(event.NewHeartbeat(messageID, id.CorrelationID)); err != nil {
				return
			}
		}
	}
}
