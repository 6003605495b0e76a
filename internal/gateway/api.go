// ABOUTME: JSON API handlers for message creation and mapping/credential administration
// ABOUTME: Admin writes go through the store and invalidate the registry snapshot

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/strandworks/strand-gateway/internal/dialect"
	"github.com/strandworks/strand-gateway/internal/orchestrator"
	"github.com/strandworks/strand-gateway/internal/store"
)

// CreateMessageRequest is the JSON request body for POST /api/messages.
// Tools is a pointer so an explicit empty list (opt out of defaults) is
// distinguishable from an absent field (inject defaults).
type CreateMessageRequest struct {
	Text           string                `json:"text,omitempty"`
	Messages       []dialect.Message     `json:"messages,omitempty"`
	ConversationID string                `json:"conversation_id,omitempty"`
	Model          string                `json:"model"`
	OutputMode     string                `json:"output_mode,omitempty"`
	SystemPrompt   string                `json:"system_prompt,omitempty"`
	Tools          *[]dialect.ToolSchema `json:"tools,omitempty"`
	Metadata       map[string]string     `json:"metadata,omitempty"`
}

// MappingBody is the JSON shape for model mappings in the admin API.
type MappingBody struct {
	LogicalKey    string `json:"logical_key"`
	Dialect       string `json:"dialect"`
	VendorModelID string `json:"vendor_model_id"`
	CredentialRef string `json:"credential_ref"`
	Active        bool   `json:"active"`
	UpdatedAt     string `json:"updated_at,omitempty"`
}

// UpsertCredentialRequest is the JSON request body for PUT /api/credentials/{ref}.
type UpsertCredentialRequest struct {
	APIKey    string `json:"api_key"`
	BaseURL   string `json:"base_url,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"` // RFC3339
	Offline   bool   `json:"offline,omitempty"`
}

// HealthResponse is the JSON response for GET /healthz.
type HealthResponse struct {
	Status      string `json:"status"`
	Channels    int    `json:"channels"`
	OpenStreams int    `json:"open_streams"`
	SnapshotAge string `json:"snapshot_age"`
}

// handleCreateMessage handles POST /api/messages. It accepts the message and
// returns ids immediately; resolution and the upstream call run in the
// background and surface on the event stream.
func (g *Gateway) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req CreateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Model == "" {
		g.sendJSONError(w, http.StatusBadRequest, "model is required")
		return
	}
	if req.Text == "" && len(req.Messages) == 0 {
		g.sendJSONError(w, http.StatusBadRequest, "text or messages is required")
		return
	}

	oreq := &orchestrator.Request{
		Text:            req.Text,
		Messages:        req.Messages,
		ConversationID:  req.ConversationID,
		LogicalModelKey: req.Model,
		OutputMode:      orchestrator.OutputMode(req.OutputMode),
		SystemPrompt:    req.SystemPrompt,
		Metadata:        req.Metadata,
	}
	if req.Tools != nil {
		oreq.Tools = *req.Tools
		oreq.ToolsSet = true
	}

	receipt, err := g.orchestrator.CreateMessage(r.Context(), oreq)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(receipt)
}

// handleMappings routes mapping admin requests by HTTP method.
func (g *Gateway) handleMappings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		g.handleListMappings(w, r)
	case http.MethodPut:
		g.handleUpsertMapping(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleListMappings handles GET /api/mappings.
func (g *Gateway) handleListMappings(w http.ResponseWriter, r *http.Request) {
	mappings, err := g.store.ListMappings(r.Context())
	if err != nil {
		g.logger.Error("failed to list mappings", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := make([]MappingBody, len(mappings))
	for i, m := range mappings {
		response[i] = MappingBody{
			LogicalKey:    m.LogicalKey,
			Dialect:       m.Dialect,
			VendorModelID: m.VendorModelID,
			CredentialRef: m.CredentialRef,
			Active:        m.Active,
			UpdatedAt:     m.UpdatedAt.Format(time.RFC3339),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleUpsertMapping handles PUT /api/mappings. The write goes through the
// store, then the registry snapshot is invalidated so the next resolution
// sees it.
func (g *Gateway) handleUpsertMapping(w http.ResponseWriter, r *http.Request) {
	var req MappingBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.LogicalKey == "" || req.VendorModelID == "" || req.CredentialRef == "" {
		g.sendJSONError(w, http.StatusBadRequest, "logical_key, vendor_model_id, and credential_ref are required")
		return
	}
	if _, err := dialect.ForName(req.Dialect); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	m := &store.ModelMapping{
		LogicalKey:    req.LogicalKey,
		Dialect:       req.Dialect,
		VendorModelID: req.VendorModelID,
		CredentialRef: req.CredentialRef,
		Active:        req.Active,
	}
	if err := g.store.UpsertMapping(r.Context(), m); err != nil {
		g.logger.Error("failed to upsert mapping", "error", err, "logical_key", req.LogicalKey)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if err := g.registry.Invalidate(r.Context()); err != nil {
		g.logger.Error("snapshot invalidation failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteMapping handles DELETE /api/mappings/{key}.
func (g *Gateway) handleDeleteMapping(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	key := strings.TrimPrefix(r.URL.Path, "/api/mappings/")
	if key == "" {
		g.sendJSONError(w, http.StatusBadRequest, "logical key is required")
		return
	}

	err := g.store.DeleteMapping(r.Context(), key)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "mapping not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to delete mapping", "error", err, "logical_key", key)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if err := g.registry.Invalidate(r.Context()); err != nil {
		g.logger.Error("snapshot invalidation failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleUpsertCredential handles PUT /api/credentials/{ref}.
func (g *Gateway) handleUpsertCredential(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ref := strings.TrimPrefix(r.URL.Path, "/api/credentials/")
	if ref == "" {
		g.sendJSONError(w, http.StatusBadRequest, "credential ref is required")
		return
	}

	var req UpsertCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.APIKey == "" {
		g.sendJSONError(w, http.StatusBadRequest, "api_key is required")
		return
	}

	cred := &store.Credential{
		Ref:     ref,
		APIKey:  req.APIKey,
		BaseURL: req.BaseURL,
		Offline: req.Offline,
	}
	if req.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			g.sendJSONError(w, http.StatusBadRequest, "expires_at must be RFC3339")
			return
		}
		cred.ExpiresAt = &t
	}

	if err := g.store.UpsertCredential(r.Context(), cred); err != nil {
		g.logger.Error("failed to upsert credential", "error", err, "ref", ref)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if err := g.registry.Invalidate(r.Context()); err != nil {
		g.logger.Error("snapshot invalidation failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleHealthz handles GET /healthz.
func (g *Gateway) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := g.store.Ping(r.Context()); err != nil {
		g.logger.Error("store ping failed", "error", err)
		g.sendJSONError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}

	stats := g.broker.Stats()
	response := HealthResponse{
		Status:      "ok",
		Channels:    stats.Channels,
		OpenStreams: g.guard.Active(),
		SnapshotAge: g.registry.SnapshotAge().Round(time.Second).String(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
