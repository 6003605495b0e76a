// Package dialect adapts the heterogeneous upstream provider wire protocols
// to one canonical request and delta shape.
//
// # Overview
//
// Every supported provider streams incremental text over HTTP, but the
// framing differs materially:
//
//   - openai-chat: unnamed SSE frames of chunk objects, "[DONE]" sentinel
//   - openai-responses: named SSE events, delta as a top-level field
//   - anthropic: named SSE events, typed content-block deltas, message_stop
//   - gemini: unnamed SSE frames, model id in the URL, finishReason marker
//
// A Dialect hides all of that behind two operations:
//
//	d, _ := dialect.ForName(route.Dialect)
//	httpReq, _ := d.BuildRequest(ctx, req, cred)
//	err := d.ParseStream(resp.Body, func(delta dialect.Delta) { ... })
//
// # Error Classification
//
// Wire failures never escape raw. A non-2xx response goes through
// ClassifyResponse, which probes the provider's error envelope and returns
// an *UpstreamError carrying the HTTP status and the provider's own code. A
// stream that ends without its dialect's explicit completion marker returns
// an *UpstreamError with code "malformed_stream".
//
// # Adding a Dialect
//
// The set is closed: add a variant type in its own file, give it a Name
// constant, and extend ForName. Callers dispatch through the interface and
// never branch on protocol names themselves.
package dialect
