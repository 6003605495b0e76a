// ABOUTME: Upstream error classification carrying HTTP status and wire error codes
// ABOUTME: Translates non-2xx responses and malformed streams into a single typed error

package dialect

import (
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"
)

// maxErrorBody bounds how much of an upstream error body is read for
// classification.
const maxErrorBody = 64 * 1024

// UpstreamError is the classified form of any wire-level failure: a non-2xx
// response, or a stream that terminated without its completion marker.
// StatusCode is zero when the failure happened after a 2xx was received.
type UpstreamError struct {
	Dialect    string
	StatusCode int
	Code       string
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s upstream error (HTTP %d, %s): %s", e.Dialect, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s upstream error (%s): %s", e.Dialect, e.Code, e.Message)
}

// malformedStream builds the error for a stream missing its completion marker.
func malformedStream(dialect, detail string) *UpstreamError {
	return &UpstreamError{
		Dialect: dialect,
		Code:    "malformed_stream",
		Message: detail,
	}
}

// ClassifyResponse reads a non-2xx response body and extracts the provider's
// error code and message. Wire error envelopes differ per provider; the
// probes below cover all four dialect families, falling back to the raw body
// when nothing matches.
func ClassifyResponse(dialectName string, resp *http.Response) *UpstreamError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	raw := string(body)

	uerr := &UpstreamError{
		Dialect:    dialectName,
		StatusCode: resp.StatusCode,
		Code:       "upstream_failure",
	}

	// OpenAI-family: {"error": {"message": ..., "code"/"type": ...}}
	// Anthropic: {"error": {"type": ..., "message": ...}}
	// Gemini: {"error": {"code": 400, "status": ..., "message": ...}}
	if msg := gjson.Get(raw, "error.message"); msg.Exists() {
		uerr.Message = msg.String()
		for _, probe := range []string{"error.code", "error.type", "error.status"} {
			if code := gjson.Get(raw, probe); code.Exists() && code.String() != "" {
				uerr.Code = code.String()
				break
			}
		}
		return uerr
	}

	// Gemini streaming errors arrive as a one-element array.
	if msg := gjson.Get(raw, "0.error.message"); msg.Exists() {
		uerr.Message = msg.String()
		if status := gjson.Get(raw, "0.error.status"); status.Exists() {
			uerr.Code = status.String()
		}
		return uerr
	}

	uerr.Message = http.StatusText(resp.StatusCode)
	if raw != "" {
		uerr.Message = truncate(raw, 512)
	}
	return uerr
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
