// ABOUTME: Generate-content dialect speaking the Gemini streamGenerateContent SSE wire format
// ABOUTME: Frames deltas as candidate content parts; a finishReason on a candidate ends the stream

package dialect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

const defaultGenerateContentBaseURL = "https://generativelanguage.googleapis.com"

// GenerateContent implements the generate-content-style streaming dialect.
// Distinctive wire traits: the model id is part of the URL path, roles use
// "model" instead of "assistant", text lives under nested content parts, and
// there is no explicit done sentinel — completion is a finishReason field on
// the last candidate.
type GenerateContent struct{}

type generateWireRequest struct {
	Contents          []generateWireContent `json:"contents"`
	SystemInstruction *generateWireContent  `json:"systemInstruction,omitempty"`
	GenerationConfig  *generateWireConfig   `json:"generationConfig,omitempty"`
	Tools             []generateWireTools   `json:"tools,omitempty"`
}

type generateWireContent struct {
	Role  string             `json:"role,omitempty"`
	Parts []generateWirePart `json:"parts"`
}

type generateWirePart struct {
	Text string `json:"text"`
}

type generateWireConfig struct {
	MaxOutputTokens int `json:"maxOutputTokens,omitempty"`
}

type generateWireTools struct {
	FunctionDeclarations []generateWireFunction `json:"functionDeclarations"`
}

type generateWireFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

func (d *GenerateContent) Name() string { return NameGenerateContent }

// BuildRequest maps a canonical request onto the generate-content wire
// shape. Auth travels in the x-goog-api-key header; the vendor model id is
// embedded in the request path.
func (d *GenerateContent) BuildRequest(ctx context.Context, req *Request, cred Credential) (*http.Request, error) {
	base := cred.BaseURL
	if base == "" {
		base = defaultGenerateContentBaseURL
	}

	body := generateWireRequest{}
	if req.System != "" {
		body.SystemInstruction = &generateWireContent{
			Parts: []generateWirePart{{Text: req.System}},
		}
	}
	for _, m := range req.Messages {
		role := m.Role
		if role == "assistant" {
			role = "model"
		}
		body.Contents = append(body.Contents, generateWireContent{
			Role:  role,
			Parts: []generateWirePart{{Text: m.Content}},
		})
	}
	if req.MaxTokens > 0 {
		body.GenerationConfig = &generateWireConfig{MaxOutputTokens: req.MaxTokens}
	}
	if len(req.Tools) > 0 {
		tools := generateWireTools{}
		for _, t := range req.Tools {
			tools.FunctionDeclarations = append(tools.FunctionDeclarations, generateWireFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			})
		}
		body.Tools = []generateWireTools{tools}
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse",
		strings.TrimSuffix(base, "/"), req.VendorModelID)

	httpReq, err := newJSONRequest(ctx, url, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("x-goog-api-key", cred.APIKey)
	return httpReq, nil
}

// ParseStream consumes the SSE body. Each data frame holds a candidate; a
// frame whose candidate carries finishReason is the completion marker.
func (d *GenerateContent) ParseStream(body io.Reader, emit func(Delta)) error {
	sawFinish := false

	err := scanSSE(body, func(_, data string) error {
		payload := gjson.Parse(data)

		delta := Delta{
			Text:       payload.Get("candidates.0.content.parts.0.text").String(),
			UpstreamID: payload.Get("responseId").String(),
		}
		if delta.Text != "" || delta.UpstreamID != "" {
			emit(delta)
		}

		if payload.Get("candidates.0.finishReason").String() != "" {
			sawFinish = true
			emit(Delta{Final: true})
			return errStopScan
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopScan) {
		return err
	}

	if !sawFinish {
		return malformedStream(d.Name(), "stream ended without a finishReason")
	}
	return nil
}
