// ABOUTME: Responses-style dialect speaking the OpenAI /responses SSE wire format
// ABOUTME: Frames deltas as named response.output_text.delta events ended by response.completed

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

const defaultResponsesBaseURL = "https://api.openai.com/v1"

// Responses implements the responses-style API dialect. Unlike the
// chat-completions framing, every SSE frame is a named event and the text
// delta is a top-level field of the event payload.
type Responses struct{}

type responsesWireRequest struct {
	Model           string              `json:"model"`
	Input           []responsesWireItem `json:"input"`
	Instructions    string              `json:"instructions,omitempty"`
	Stream          bool                `json:"stream"`
	MaxOutputTokens int                 `json:"max_output_tokens,omitempty"`
	Tools           []responsesWireTool `json:"tools,omitempty"`
}

type responsesWireItem struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// responsesWireTool flattens the function schema to the top level, unlike
// the chat-completions nesting.
type responsesWireTool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

func (d *Responses) Name() string { return NameResponses }

// BuildRequest maps a canonical request onto the responses wire shape. The
// system prompt travels in the dedicated instructions field rather than as a
// message.
func (d *Responses) BuildRequest(ctx context.Context, req *Request, cred Credential) (*http.Request, error) {
	base := cred.BaseURL
	if base == "" {
		base = defaultResponsesBaseURL
	}

	body := responsesWireRequest{
		Model:           req.VendorModelID,
		Instructions:    req.System,
		Stream:          true,
		MaxOutputTokens: req.MaxTokens,
	}
	for _, m := range req.Messages {
		body.Input = append(body.Input, responsesWireItem{Role: m.Role, Content: m.Content})
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, responsesWireTool{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}

	httpReq, err := newJSONRequest(ctx, strings.TrimSuffix(base, "/")+"/responses", body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+cred.APIKey)
	return httpReq, nil
}

// ParseStream consumes the SSE body, dispatching on event names. The
// completion marker is the response.completed event; response.failed and
// error events classify as upstream failures.
func (d *Responses) ParseStream(body io.Reader, emit func(Delta)) error {
	sawCompleted := false
	var failure *UpstreamError

	err := scanSSE(body, func(event, data string) error {
		payload := gjson.Parse(data)

		switch event {
		case "response.created":
			emit(Delta{UpstreamID: payload.Get("response.id").String()})

		case "response.output_text.delta":
			if text := payload.Get("delta").String(); text != "" {
				emit(Delta{Text: text})
			}

		case "response.completed":
			sawCompleted = true
			emit(Delta{Final: true})
			return errStopScan

		case "response.failed", "error":
			failure = &UpstreamError{
				Dialect: d.Name(),
				Code:    "upstream_failure",
				Message: payload.Get("response.error.message").String(),
			}
			if failure.Message == "" {
				failure.Message = payload.Get("message").String()
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
	if !sawCompleted {
		return malformedStream(d.Name(), "stream ended without response.completed event")
	}
	return nil
}
