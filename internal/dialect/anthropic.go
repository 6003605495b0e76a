// ABOUTME: Message-exchange dialect speaking the Anthropic /v1/messages SSE wire format
// ABOUTME: Frames deltas as content_block_delta events ended by message_stop

package dialect

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	defaultMessagesBaseURL   = "https://api.anthropic.com"
	anthropicVersionHeader   = "2023-06-01"
	defaultMessagesMaxTokens = 4096
)

// Messages implements the message-exchange API dialect. Distinctive wire
// traits: system prompt is a top-level field, max_tokens is mandatory, auth
// uses x-api-key plus a version header, and deltas arrive as typed
// content-block events.
type Messages struct{}

type messagesWireRequest struct {
	Model     string                `json:"model"`
	System    string                `json:"system,omitempty"`
	Messages  []messagesWireMessage `json:"messages"`
	MaxTokens int                   `json:"max_tokens"`
	Stream    bool                  `json:"stream"`
	Tools     []messagesWireTool    `json:"tools,omitempty"`
}

type messagesWireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// messagesWireTool renames the parameter schema to input_schema.
type messagesWireTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

func (d *Messages) Name() string { return NameMessages }

// BuildRequest maps a canonical request onto the messages wire shape.
// System messages in the canonical list are folded into the top-level system
// field, which this protocol requires.
func (d *Messages) BuildRequest(ctx context.Context, req *Request, cred Credential) (*http.Request, error) {
	base := cred.BaseURL
	if base == "" {
		base = defaultMessagesBaseURL
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMessagesMaxTokens
	}

	body := messagesWireRequest{
		Model:     req.VendorModelID,
		System:    req.System,
		MaxTokens: maxTokens,
		Stream:    true,
	}
	for _, m := range req.Messages {
		if m.Role == "system" {
			if body.System == "" {
				body.System = m.Content
			} else {
				body.System += "\n\n" + m.Content
			}
			continue
		}
		body.Messages = append(body.Messages, messagesWireMessage{Role: m.Role, Content: m.Content})
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, messagesWireTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}

	httpReq, err := newJSONRequest(ctx, strings.TrimSuffix(base, "/")+"/v1/messages", body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("x-api-key", cred.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersionHeader)
	return httpReq, nil
}

// ParseStream consumes the SSE body. Text arrives on content_block_delta
// events carrying a text_delta; the completion marker is message_stop.
func (d *Messages) ParseStream(body io.Reader, emit func(Delta)) error {
	sawStop := false
	var failure *UpstreamError

	err := scanSSE(body, func(event, data string) error {
		payload := gjson.Parse(data)

		switch event {
		case "message_start":
			emit(Delta{UpstreamID: payload.Get("message.id").String()})

		case "content_block_delta":
			if payload.Get("delta.type").String() == "text_delta" {
				if text := payload.Get("delta.text").String(); text != "" {
					emit(Delta{Text: text})
				}
			}

		case "message_stop":
			sawStop = true
			emit(Delta{Final: true})
			return errStopScan

		case "error":
			failure = &UpstreamError{
				Dialect: d.Name(),
				Code:    payload.Get("error.type").String(),
				Message: payload.Get("error.message").String(),
			}
			if failure.Code == "" {
				failure.Code = "upstream_failure"
			}
			return errStopScan
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopScan) {
		return err
	}
	if failure != nil {
		return failure
	}
	if !sawStop {
		return malformedStream(d.Name(), "stream ended without message_stop event")
	}
	return nil
}
