// ABOUTME: Tests for the wire-protocol dialect adapters
// ABOUTME: Covers request framing, stream normalization, and failure classification per dialect

package dialect

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func testRequest() *Request {
	return &Request{
		VendorModelID: "test-model",
		System:        "be helpful",
		Messages: []Message{
			{Role: "user", Content: "hello"},
			{Role: "assistant", Content: "hi there"},
			{Role: "user", Content: "continue"},
		},
		Tools: []ToolSchema{
			{Name: "lookup", Description: "find things", Parameters: []byte(`{"type":"object"}`)},
		},
		MaxTokens: 512,
	}
}

func buildAndDecode(t *testing.T, d Dialect, req *Request, cred Credential) (*http.Request, gjson.Result) {
	t.Helper()
	httpReq, err := d.BuildRequest(context.Background(), req, cred)
	require.NoError(t, err)

	body, err := io.ReadAll(httpReq.Body)
	require.NoError(t, err)
	return httpReq, gjson.ParseBytes(body)
}

// parse runs ParseStream over a literal SSE body and returns the deltas.
func parse(t *testing.T, d Dialect, body string) ([]Delta, error) {
	t.Helper()
	var got []Delta
	err := d.ParseStream(strings.NewReader(body), func(delta Delta) {
		got = append(got, delta)
	})
	return got, err
}

func TestForName(t *testing.T) {
	for _, name := range Names() {
		d, err := ForName(name)
		require.NoError(t, err)
		assert.Equal(t, name, d.Name())
	}

	_, err := ForName("grpc")
	assert.Error(t, err)
}

func TestChatCompletions_BuildRequest(t *testing.T) {
	httpReq, body := buildAndDecode(t, &ChatCompletions{}, testRequest(), Credential{APIKey: "sk-1"})

	assert.Equal(t, "https://api.openai.com/v1/chat/completions", httpReq.URL.String())
	assert.Equal(t, "Bearer sk-1", httpReq.Header.Get("Authorization"))
	assert.Equal(t, "application/json", httpReq.Header.Get("Content-Type"))

	assert.Equal(t, "test-model", body.Get("model").String())
	assert.True(t, body.Get("stream").Bool())
	assert.Equal(t, int64(512), body.Get("max_tokens").Int())

	// System prompt leads the message list.
	assert.Equal(t, "system", body.Get("messages.0.role").String())
	assert.Equal(t, "be helpful", body.Get("messages.0.content").String())
	assert.Equal(t, "user", body.Get("messages.1.role").String())
	require.Equal(t, int64(4), body.Get("messages.#").Int())

	// Tools use the nested function shape.
	assert.Equal(t, "function", body.Get("tools.0.type").String())
	assert.Equal(t, "lookup", body.Get("tools.0.function.name").String())
}

func TestChatCompletions_BaseURLOverride(t *testing.T) {
	httpReq, _ := buildAndDecode(t, &ChatCompletions{}, testRequest(), Credential{APIKey: "k", BaseURL: "https://proxy.local/v1/"})
	assert.Equal(t, "https://proxy.local/v1/chat/completions", httpReq.URL.String())
}

func TestChatCompletions_ParseStream(t *testing.T) {
	stream := `data: {"id":"chatcmpl-1","choices":[{"delta":{"content":"Hel"}}]}

data: {"id":"chatcmpl-1","choices":[{"delta":{"content":"lo"}}]}

data: {"id":"chatcmpl-1","choices":[{"delta":{},"finish_reason":"stop"}]}

data: [DONE]

`
	got, err := parse(t, &ChatCompletions{}, stream)
	require.NoError(t, err)

	require.Len(t, got, 4)
	assert.Equal(t, "Hel", got[0].Text)
	assert.Equal(t, "chatcmpl-1", got[0].UpstreamID)
	assert.Equal(t, "lo", got[1].Text)
	assert.True(t, got[3].Final)
}

func TestChatCompletions_ParseStream_MissingDone(t *testing.T) {
	stream := `data: {"id":"chatcmpl-1","choices":[{"delta":{"content":"partial"}}]}

`
	_, err := parse(t, &ChatCompletions{}, stream)
	var uerr *UpstreamError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "malformed_stream", uerr.Code)
	assert.Equal(t, NameChatCompletions, uerr.Dialect)
}

func TestResponses_BuildRequest(t *testing.T) {
	httpReq, body := buildAndDecode(t, &Responses{}, testRequest(), Credential{APIKey: "sk-2"})

	assert.Equal(t, "https://api.openai.com/v1/responses", httpReq.URL.String())
	assert.Equal(t, "Bearer sk-2", httpReq.Header.Get("Authorization"))

	// System prompt travels as instructions, not as a message.
	assert.Equal(t, "be helpful", body.Get("instructions").String())
	require.Equal(t, int64(3), body.Get("input.#").Int())
	assert.Equal(t, "user", body.Get("input.0.role").String())
	assert.Equal(t, int64(512), body.Get("max_output_tokens").Int())

	// Tool schema is flattened to the top level.
	assert.Equal(t, "function", body.Get("tools.0.type").String())
	assert.Equal(t, "lookup", body.Get("tools.0.name").String())
	assert.False(t, body.Get("tools.0.function").Exists())
}

func TestResponses_ParseStream(t *testing.T) {
	stream := `event: response.created
data: {"response":{"id":"resp-9"}}

event: response.output_text.delta
data: {"delta":"Hello "}

event: response.output_text.delta
data: {"delta":"world"}

event: response.completed
data: {"response":{"id":"resp-9","status":"completed"}}

`
	got, err := parse(t, &Responses{}, stream)
	require.NoError(t, err)

	require.Len(t, got, 4)
	assert.Equal(t, "resp-9", got[0].UpstreamID)
	assert.Equal(t, "Hello ", got[1].Text)
	assert.Equal(t, "world", got[2].Text)
	assert.True(t, got[3].Final)
}

func TestResponses_ParseStream_Failed(t *testing.T) {
	stream := `event: response.failed
data: {"response":{"error":{"message":"rate limited"}}}

`
	_, err := parse(t, &Responses{}, stream)
	var uerr *UpstreamError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "upstream_failure", uerr.Code)
	assert.Equal(t, "rate limited", uerr.Message)
}

func TestMessages_BuildRequest(t *testing.T) {
	httpReq, body := buildAndDecode(t, &Messages{}, testRequest(), Credential{APIKey: "ak-3"})

	assert.Equal(t, "https://api.anthropic.com/v1/messages", httpReq.URL.String())
	assert.Equal(t, "ak-3", httpReq.Header.Get("x-api-key"))
	assert.Equal(t, anthropicVersionHeader, httpReq.Header.Get("anthropic-version"))
	assert.Empty(t, httpReq.Header.Get("Authorization"))

	// System is a top-level field; max_tokens is always present.
	assert.Equal(t, "be helpful", body.Get("system").String())
	assert.Equal(t, int64(512), body.Get("max_tokens").Int())
	require.Equal(t, int64(3), body.Get("messages.#").Int())

	// Tool parameter schema is renamed to input_schema.
	assert.Equal(t, "lookup", body.Get("tools.0.name").String())
	assert.True(t, body.Get("tools.0.input_schema").Exists())
	assert.False(t, body.Get("tools.0.parameters").Exists())
}

func TestMessages_BuildRequest_FoldsSystemMessages(t *testing.T) {
	req := &Request{
		VendorModelID: "m",
		Messages: []Message{
			{Role: "system", Content: "first rule"},
			{Role: "system", Content: "second rule"},
			{Role: "user", Content: "hi"},
		},
	}
	_, body := buildAndDecode(t, &Messages{}, req, Credential{APIKey: "k"})

	assert.Equal(t, "first rule\n\nsecond rule", body.Get("system").String())
	require.Equal(t, int64(1), body.Get("messages.#").Int())
	assert.Equal(t, int64(defaultMessagesMaxTokens), body.Get("max_tokens").Int())
}

func TestMessages_ParseStream(t *testing.T) {
	stream := `event: message_start
data: {"message":{"id":"msg-7"}}

event: content_block_delta
data: {"delta":{"type":"text_delta","text":"Hi"}}

event: content_block_delta
data: {"delta":{"type":"input_json_delta","partial_json":"{}"}}

event: message_stop
data: {}

`
	got, err := parse(t, &Messages{}, stream)
	require.NoError(t, err)

	// The non-text delta is skipped.
	require.Len(t, got, 3)
	assert.Equal(t, "msg-7", got[0].UpstreamID)
	assert.Equal(t, "Hi", got[1].Text)
	assert.True(t, got[2].Final)
}

func TestMessages_ParseStream_ErrorEvent(t *testing.T) {
	stream := `event: error
data: {"error":{"type":"overloaded_error","message":"overloaded"}}

`
	_, err := parse(t, &Messages{}, stream)
	var uerr *UpstreamError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "overloaded_error", uerr.Code)
	assert.Equal(t, "overloaded", uerr.Message)
}

func TestMessages_ParseStream_MissingStop(t *testing.T) {
	stream := `event: content_block_delta
data: {"delta":{"type":"text_delta","text":"cut off"}}

`
	_, err := parse(t, &Messages{}, stream)
	var uerr *UpstreamError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "malformed_stream", uerr.Code)
}

func TestGenerateContent_BuildRequest(t *testing.T) {
	httpReq, body := buildAndDecode(t, &GenerateContent{}, testRequest(), Credential{APIKey: "gk-4"})

	// Model id lives in the URL path, not the body.
	assert.Equal(t,
		"https://generativelanguage.googleapis.com/v1beta/models/test-model:streamGenerateContent?alt=sse",
		httpReq.URL.String())
	assert.Equal(t, "gk-4", httpReq.Header.Get("x-goog-api-key"))
	assert.False(t, body.Get("model").Exists())

	assert.Equal(t, "be helpful", body.Get("systemInstruction.parts.0.text").String())
	assert.Equal(t, int64(512), body.Get("generationConfig.maxOutputTokens").Int())

	// Assistant turns are renamed to the "model" role.
	assert.Equal(t, "user", body.Get("contents.0.role").String())
	assert.Equal(t, "model", body.Get("contents.1.role").String())

	assert.Equal(t, "lookup", body.Get("tools.0.functionDeclarations.0.name").String())
}

func TestGenerateContent_ParseStream(t *testing.T) {
	stream := `data: {"responseId":"gen-5","candidates":[{"content":{"parts":[{"text":"Once"}]}}]}

data: {"candidates":[{"content":{"parts":[{"text":" upon"}]}}]}

data: {"candidates":[{"content":{"parts":[{"text":" a time"}]},"finishReason":"STOP"}]}

`
	got, err := parse(t, &GenerateContent{}, stream)
	require.NoError(t, err)

	require.Len(t, got, 4)
	assert.Equal(t, "Once", got[0].Text)
	assert.Equal(t, "gen-5", got[0].UpstreamID)
	assert.Equal(t, " upon", got[1].Text)
	assert.Equal(t, " a time", got[2].Text)
	assert.True(t, got[3].Final)
}

func TestGenerateContent_ParseStream_MissingFinishReason(t *testing.T) {
	stream := `data: {"candidates":[{"content":{"parts":[{"text":"truncated"}]}}]}

`
	_, err := parse(t, &GenerateContent{}, stream)
	var uerr *UpstreamError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "malformed_stream", uerr.Code)
}

func TestClassifyResponse(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantCode    string
		wantMessage string
	}{
		{
			name:        "openai envelope",
			status:      429,
			body:        `{"error":{"message":"rate limit exceeded","type":"rate_limit_error","code":"rate_limit_exceeded"}}`,
			wantCode:    "rate_limit_exceeded",
			wantMessage: "rate limit exceeded",
		},
		{
			name:        "anthropic envelope",
			status:      401,
			body:        `{"error":{"type":"authentication_error","message":"invalid api key"}}`,
			wantCode:    "authentication_error",
			wantMessage: "invalid api key",
		},
		{
			name:        "gemini array envelope",
			status:      400,
			body:        `[{"error":{"code":400,"status":"INVALID_ARGUMENT","message":"bad field"}}]`,
			wantCode:    "INVALID_ARGUMENT",
			wantMessage: "bad field",
		},
		{
			name:        "plain body fallback",
			status:      502,
			body:        "upstream proxy error",
			wantCode:    "upstream_failure",
			wantMessage: "upstream proxy error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{
				StatusCode: tt.status,
				Body:       io.NopCloser(strings.NewReader(tt.body)),
			}
			uerr := ClassifyResponse(NameChatCompletions, resp)
			assert.Equal(t, tt.status, uerr.StatusCode)
			assert.Equal(t, tt.wantCode, uerr.Code)
			assert.Equal(t, tt.wantMessage, uerr.Message)
		})
	}
}

func TestScanSSE_MultiLineDataAndComments(t *testing.T) {
	stream := `: keepalive
event: thing
data: line one
data: line two

data: tail frame without trailing blank`

	type frame struct{ event, data string }
	var frames []frame
	err := scanSSE(strings.NewReader(stream), func(event, data string) error {
		frames = append(frames, frame{event, data})
		return nil
	})
	require.NoError(t, err)

	require.Len(t, frames, 2)
	assert.Equal(t, "thing", frames[0].event)
	assert.Equal(t, "line one\nline two", frames[0].data)
	assert.Equal(t, "", frames[1].event)
	assert.Equal(t, "tail frame without trailing blank", frames[1].data)
}
