// ABOUTME: Closed set of upstream wire-protocol adapters and the canonical request/delta types
// ABOUTME: Each dialect builds a provider wire request and normalizes its stream into canonical deltas

package dialect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Dialect names. The set is closed: adding a provider protocol means adding
// a variant here and a ForName case, never growing a conditional chain in
// callers.
const (
	NameChatCompletions = "openai-chat"
	NameResponses       = "openai-responses"
	NameMessages        = "anthropic"
	NameGenerateContent = "gemini"
)

// Message is a canonical conversation turn.
type Message struct {
	Role    string `json:"role"` // "system" | "user" | "assistant"
	Content string `json:"content"`
}

// ToolSchema describes one tool offered to the upstream model.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Request is the canonical upstream request, independent of wire format.
type Request struct {
	VendorModelID string
	System        string
	Messages      []Message
	Tools         []ToolSchema
	MaxTokens     int
}

// Delta is one normalized streaming fragment. Final marks the dialect's
// explicit completion marker. UpstreamID carries the provider's own
// correlation id when the wire exposes one (typically on the first frame).
type Delta struct {
	Text       string
	Final      bool
	UpstreamID string
}

// Credential is the resolved access material for one upstream call.
type Credential struct {
	APIKey  string
	BaseURL string
}

// Dialect adapts one provider wire protocol. BuildRequest produces the
// provider-specific HTTP request; ParseStream consumes the response body —
// a lazy, finite, non-restartable sequence — invoking emit once per
// normalized fragment. A stream that ends without the dialect's completion
// marker returns an *UpstreamError with code "malformed_stream"; adapters
// never let a raw wire-level failure escape unclassified.
type Dialect interface {
	Name() string
	BuildRequest(ctx context.Context, req *Request, cred Credential) (*http.Request, error)
	ParseStream(body io.Reader, emit func(Delta)) error
}

// ForName returns the dialect variant for a registered name.
func ForName(name string) (Dialect, error) {
	switch name {
	case NameChatCompletions:
		return &ChatCompletions{}, nil
	case NameResponses:
		return &Responses{}, nil
	case NameMessages:
		return &Messages{}, nil
	case NameGenerateContent:
		return &GenerateContent{}, nil
	default:
		return nil, fmt.Errorf("unknown dialect %q", name)
	}
}

// Names returns all registered dialect names.
func Names() []string {
	return []string{NameChatCompletions, NameResponses, NameMessages, NameGenerateContent}
}

// newJSONRequest marshals a wire body and builds a POST request with JSON
// content type. Shared by all dialects.
func newJSONRequest(ctx context.Context, url string, body any) (*http.Request, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding wire request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building wire request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	return req, nil
}
