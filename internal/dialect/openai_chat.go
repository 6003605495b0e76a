// ABOUTME: Chat-completions dialect speaking the OpenAI /chat/completions SSE wire format
// ABOUTME: Frames deltas as choices[0].delta.content chunks terminated by a [DONE] sentinel

package dialect

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

const defaultChatCompletionsBaseURL = "https://api.openai.com/v1"

// ChatCompletions implements the completions-style chat API dialect.
type ChatCompletions struct{}

// chatWireRequest is the provider request body. The system prompt travels as
// a leading message with role "system"; tools use the nested function shape.
type chatWireRequest struct {
	Model     string            `json:"model"`
	Messages  []chatWireMessage `json:"messages"`
	Stream    bool              `json:"stream"`
	MaxTokens int               `json:"max_tokens,omitempty"`
	Tools     []chatWireTool    `json:"tools,omitempty"`
}

type chatWireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatWireTool struct {
	Type     string     `json:"type"`
	Function ToolSchema `json:"function"`
}

func (d *ChatCompletions) Name() string { return NameChatCompletions }

// BuildRequest maps a canonical request onto the chat-completions wire shape.
func (d *ChatCompletions) BuildRequest(ctx context.Context, req *Request, cred Credential) (*http.Request, error) {
	base := cred.BaseURL
	if base == "" {
		base = defaultChatCompletionsBaseURL
	}

	body := chatWireRequest{
		Model:     req.VendorModelID,
		Stream:    true,
		MaxTokens: req.MaxTokens,
	}
	if req.System != "" {
		body.Messages = append(body.Messages, chatWireMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, chatWireMessage{Role: m.Role, Content: m.Content})
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, chatWireTool{Type: "function", Function: t})
	}

	httpReq, err := newJSONRequest(ctx, strings.TrimSuffix(base, "/")+"/chat/completions", body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+cred.APIKey)
	return httpReq, nil
}

// ParseStream consumes the SSE body. Each data frame is a chunk object; the
// stream's completion marker is the literal "[DONE]" data frame.
func (d *ChatCompletions) ParseStream(body io.Reader, emit func(Delta)) error {
	sawDone := false

	err := scanSSE(body, func(_, data string) error {
		if data == "[DONE]" {
			sawDone = true
			emit(Delta{Final: true})
			return errStopScan
		}

		chunk := gjson.Parse(data)
		delta := Delta{
			Text:       chunk.Get("choices.0.delta.content").String(),
			UpstreamID: chunk.Get("id").String(),
		}
		if delta.Text != "" || delta.UpstreamID != "" {
			emit(delta)
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopScan) {
		return err
	}

	if !sawDone {
		return malformedStream(d.Name(), "stream ended without [DONE] marker")
	}
	return nil
}
