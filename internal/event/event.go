// ABOUTME: Canonical event union shared by the broker, orchestrator, and SSE transport
// ABOUTME: Defines the six event kinds, lifecycle statuses, and stable error codes

package event

// ContractVersion identifies the wire contract for terminal events. Version 2
// means the completed event carries summary fields only; clients reconstruct
// the reply text from deltas.
const ContractVersion = 2

// Kind identifies an event variant.
type Kind string

const (
	KindStatus       Kind = "status"
	KindContentDelta Kind = "content_delta"
	KindUpstreamRaw  Kind = "upstream_raw"
	KindCompleted    Kind = "completed"
	KindError        Kind = "error"
	KindHeartbeat    Kind = "heartbeat"
)

// Status values for the message lifecycle.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusWorking   Status = "working"
	StatusRouted    Status = "routed"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Stable caller-facing error codes. Resolution codes mirror the resolver's
// NotRoutable reasons one-to-one.
const (
	CodeUnknownKey        = "unknown_key"
	CodeInactive          = "inactive"
	CodeMissingCredential = "missing_credential"
	CodeDeniedModel       = "denied_model"
	CodeEndpointOffline   = "endpoint_offline"
	CodeUpstreamFailure   = "upstream_failure"
	CodeMalformedStream   = "malformed_stream"
	CodeStreamOverflow    = "stream_overflow"
	CodeSuperseded        = "superseded"
	CodeInternal          = "internal"
)

// Event is the tagged union delivered over a message channel. Every variant
// carries the message id and request correlation id; content_delta and
// upstream_raw additionally carry a per-channel sequence number starting at 1.
type Event struct {
	Kind          Kind     `json:"kind"`
	MessageID     string   `json:"message_id"`
	CorrelationID string   `json:"correlation_id"`
	Seq           int64    `json:"seq,omitempty"`
	Status        Status   `json:"status,omitempty"`
	Text          string   `json:"text,omitempty"`
	Completed     *Summary `json:"completed,omitempty"`
	Error         *Failure `json:"error,omitempty"`
}

// Summary is the payload of a completed event. It never repeats the reply
// text; consumers reconstruct it by concatenating deltas in sequence order.
type Summary struct {
	ContractVersion int    `json:"contract_version"`
	Provider        string `json:"provider"`
	VendorModelID   string `json:"vendor_model"`
	UpstreamID      string `json:"upstream_id,omitempty"`
	TotalChars      int    `json:"total_chars"`
}

// Failure is the payload of an error event.
type Failure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Terminal reports whether the event closes its channel.
func (e *Event) Terminal() bool {
	return e.Kind == KindCompleted || e.Kind == KindError
}

// NewStatus builds a lifecycle status event.
func NewStatus(messageID, correlationID string, status Status) *Event {
	return &Event{
		Kind:          KindStatus,
		MessageID:     messageID,
		CorrelationID: correlationID,
		Status:        status,
	}
}

// NewDelta builds a content_delta or upstream_raw event with the given
// sequence number.
func NewDelta(kind Kind, messageID, correlationID string, seq int64, text string) *Event {
	return &Event{
		Kind:          kind,
		MessageID:     messageID,
		CorrelationID: correlationID,
		Seq:           seq,
		Text:          text,
	}
}

// NewCompleted builds the terminal completed event.
func NewCompleted(messageID, correlationID string, summary Summary) *Event {
	summary.ContractVersion = ContractVersion
	return &Event{
		Kind:          KindCompleted,
		MessageID:     messageID,
		CorrelationID: correlationID,
		Status:        StatusCompleted,
		Completed:     &summary,
	}
}

// NewError builds the terminal error event.
func NewError(messageID, correlationID, code, message string) *Event {
	return &Event{
		Kind:          KindError,
		MessageID:     messageID,
		CorrelationID: correlationID,
		Status:        StatusError,
		Error:         &Failure{Code: code, Message: message},
	}
}

// NewHeartbeat builds a keepalive event for an idle stream.
func NewHeartbeat(messageID, correlationID string) *Event {
	return &Event{
		Kind:          KindHeartbeat,
		MessageID:     messageID,
		CorrelationID: correlationID,
	}
}
