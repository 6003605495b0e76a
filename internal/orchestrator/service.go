// ABOUTME: Conversation orchestrator running each message as a detached background task
// ABOUTME: Resolves the model, invokes the dialect, validates output, and publishes lifecycle events

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/strandworks/strand-gateway/internal/auth"
	"github.com/strandworks/strand-gateway/internal/broker"
	"github.com/strandworks/strand-gateway/internal/contract"
	"github.com/strandworks/strand-gateway/internal/dialect"
	"github.com/strandworks/strand-gateway/internal/event"
	"github.com/strandworks/strand-gateway/internal/modelmap"
)

// OutputMode selects how upstream text reaches the client.
type OutputMode string

const (
	// ModeCorrected buffers the full reply, enforces the output contract,
	// and emits the corrected text (or the sentinel) as content_delta events.
	ModeCorrected OutputMode = "corrected"
	// ModeRaw relays upstream fragments live as upstream_raw events with no
	// validation.
	ModeRaw OutputMode = "raw"
	// ModeAuto validates only when the reply carries contract tags,
	// otherwise passes it through as content_delta events.
	ModeAuto OutputMode = "auto"
)

// defaultSystemPrompt is injected when neither configuration nor the caller
// provides one. Callers override it per message via system_prompt.
const defaultSystemPrompt = "You are a helpful assistant. Answer directly and concisely."

func (m OutputMode) valid() bool {
	switch m {
	case ModeCorrected, ModeRaw, ModeAuto:
		return true
	}
	return false
}

// Request is one conversation turn. Exactly one of Text or Messages must be
// set. ToolsSet distinguishes "no tools field" (inject defaults) from an
// explicit empty list (caller opted out).
type Request struct {
	Text            string
	Messages        []dialect.Message
	ConversationID  string
	LogicalModelKey string
	OutputMode      OutputMode
	SystemPrompt    string
	Tools           []dialect.ToolSchema
	ToolsSet        bool
	Metadata        map[string]string
}

// Receipt is the synchronous result of accepting a message. The upstream
// round trip has not started when it is returned.
type Receipt struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
}

// Config wires a Service.
type Config struct {
	Registry            *modelmap.Registry
	Broker              *broker.Broker
	HTTPClient          *http.Client
	SplitThreshold      int
	DefaultSystemPrompt string
	DefaultTools        []dialect.ToolSchema
	Logger              *slog.Logger
}

// Service accepts conversation turns and runs each as a background task.
// CreateMessage returns before any upstream I/O; everything after flows
// through broker events.
type Service struct {
	registry      *modelmap.Registry
	broker        *broker.Broker
	client        *http.Client
	threshold     int
	defaultSystem string
	defaultTools  []dialect.ToolSchema
	logger        *slog.Logger

	// lifetime scopes the detached tasks; cancelled only on shutdown, never
	// by a client disconnect.
	lifetime context.Context
	cancel   context.CancelFunc
	tasks    sync.WaitGroup
}

// New creates the orchestrator service. Pass nil logger for default.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	system := cfg.DefaultSystemPrompt
	if system == "" {
		system = defaultSystemPrompt
	}

	lifetime, cancel := context.WithCancel(context.Background())
	return &Service{
		registry:      cfg.Registry,
		broker:        cfg.Broker,
		client:        client,
		threshold:     cfg.SplitThreshold,
		defaultSystem: system,
		defaultTools:  cfg.DefaultTools,
		logger:        logger.With("component", "orchestrator"),
		lifetime:      lifetime,
		cancel:        cancel,
	}
}

// CreateMessage registers a message, creates its event channel, and launches
// the detached pipeline. It returns the ids synchronously; resolution and the
// upstream call happen in the background and surface through events.
func (s *Service) CreateMessage(ctx context.Context, req *Request) (*Receipt, error) {
	id := auth.FromContext(ctx)
	if id == nil {
		return nil, errors.New("no identity on request context")
	}
	if req.LogicalModelKey == "" {
		return nil, errors.New("logical model key is required")
	}
	if req.Text == "" && len(req.Messages) == 0 {
		return nil, errors.New("text or messages is required")
	}
	if req.OutputMode == "" {
		req.OutputMode = ModeAuto
	}
	if !req.OutputMode.valid() {
		return nil, fmt.Errorf("unknown output mode %q", req.OutputMode)
	}

	messageID := uuid.New().String()
	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.New().String()
	}

	if err := s.broker.CreateChannel(messageID, id.PrincipalID, conversationID); err != nil {
		return nil, fmt.Errorf("creating channel: %w", err)
	}

	s.tasks.Add(1)
	go s.run(messageID, id.CorrelationID, req)

	s.logger.Info("message accepted",
		"message_id", messageID,
		"conversation_id", conversationID,
		"model_key", req.LogicalModelKey,
		"mode", string(req.OutputMode))

	return &Receipt{MessageID: messageID, ConversationID: conversationID}, nil
}

// Shutdown cancels in-flight upstream calls and waits for all tasks to
// publish their terminal events, up to the context deadline.
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.tasks.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// publisher tracks the per-channel delta sequence and emitted length.
type publisher struct {
	broker        *broker.Broker
	messageID     string
	correlationID string
	seq           int64
	totalChars    int
}

func (p *publisher) status(st event.Status) error {
	return p.broker.Publish(event.NewStatus(p.messageID, p.correlationID, st))
}

// delta splits oversized text and publishes each piece with the next
// sequence number.
func (p *publisher) delta(kind event.Kind, text string, threshold int) error {
	for _, piece := range splitFragment(text, threshold) {
		if piece == "" {
			continue
		}
		p.seq++
		p.totalChars += utf8.RuneCountInString(piece)
		if err := p.broker.Publish(event.NewDelta(kind, p.messageID, p.correlationID, p.seq, piece)); err != nil {
			return err
		}
	}
	return nil
}

// run is the detached pipeline. It never returns a value to the caller; all
// outcomes, including failures after deltas were emitted, surface as exactly
// one terminal event.
func (s *Service) run(messageID, correlationID string, req *Request) {
	defer s.tasks.Done()

	pub := &publisher{broker: s.broker, messageID: messageID, correlationID: correlationID}
	logger := s.logger.With("message_id", messageID)

	fail := func(err error) {
		code, msg := failureCode(err)
		logger.Warn("message failed", "code", code, "error", err)
		if perr := s.broker.Publish(event.NewError(messageID, correlationID, code, msg)); perr != nil {
			logger.Error("publishing terminal error failed", "error", perr)
		}
	}

	if err := pub.status(event.StatusQueued); err != nil {
		fail(err)
		return
	}
	if err := pub.status(event.StatusWorking); err != nil {
		fail(err)
		return
	}

	route, err := s.registry.Resolve(req.LogicalModelKey)
	if err != nil {
		fail(err)
		return
	}
	d, err := dialect.ForName(route.Dialect)
	if err != nil {
		fail(err)
		return
	}

	creq := s.buildRequest(route, req)
	if err := pub.status(event.StatusRouted); err != nil {
		fail(err)
		return
	}

	httpReq, err := d.BuildRequest(s.lifetime, creq, dialect.Credential{
		APIKey:  route.APIKey,
		BaseURL: route.BaseURL,
	})
	if err != nil {
		fail(err)
		return
	}

	started := time.Now()
	resp, err := s.client.Do(httpReq)
	if err != nil {
		fail(&dialect.UpstreamError{Dialect: d.Name(), Code: "upstream_failure", Message: err.Error()})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		fail(dialect.ClassifyResponse(d.Name(), resp))
		return
	}

	upstreamID, err := s.relayStream(d, resp, req.OutputMode, pub)
	if err != nil {
		fail(err)
		return
	}

	summary := event.Summary{
		Provider:      route.Dialect,
		VendorModelID: route.VendorModelID,
		UpstreamID:    upstreamID,
		TotalChars:    pub.totalChars,
	}
	if err := s.broker.Publish(event.NewCompleted(messageID, correlationID, summary)); err != nil {
		logger.Error("publishing completed event failed", "error", err)
		return
	}

	logger.Info("message completed",
		"dialect", route.Dialect,
		"vendor_model", route.VendorModelID,
		"chars", pub.totalChars,
		"elapsed", time.Since(started).String())
}

// buildRequest assembles the canonical upstream request, injecting the
// default system prompt and tool schema unless the caller overrode or opted
// out of them.
func (s *Service) buildRequest(route *modelmap.Route, req *Request) *dialect.Request {
	system := req.SystemPrompt
	if system == "" {
		system = s.defaultSystem
	}

	tools := s.defaultTools
	if req.ToolsSet {
		tools = req.Tools
	}

	messages := req.Messages
	if len(messages) == 0 {
		messages = []dialect.Message{{Role: "user", Content: req.Text}}
	}

	return &dialect.Request{
		VendorModelID: route.VendorModelID,
		System:        system,
		Messages:      messages,
		Tools:         tools,
	}
}

// relayStream consumes the upstream stream according to the output mode.
// Raw mode relays fragments live as upstream_raw. Corrected and auto modes
// buffer the full reply and validate at stream end; the grammar is a
// whole-document property, so progressive validation is impossible.
func (s *Service) relayStream(d dialect.Dialect, resp *http.Response, mode OutputMode, pub *publisher) (string, error) {
	var upstreamID string
	var buf strings.Builder
	var pubErr error

	err := d.ParseStream(resp.Body, func(delta dialect.Delta) {
		if delta.UpstreamID != "" {
			upstreamID = delta.UpstreamID
		}
		if delta.Text == "" || pubErr != nil {
			return
		}
		if mode == ModeRaw {
			pubErr = pub.delta(event.KindUpstreamRaw, delta.Text, s.threshold)
			return
		}
		buf.WriteString(delta.Text)
	})
	if err != nil {
		return upstreamID, err
	}
	if pubErr != nil {
		return upstreamID, pubErr
	}
	if mode == ModeRaw {
		return upstreamID, nil
	}

	text := buf.String()
	if mode == ModeAuto && !contract.HasContractTags(text) {
		return upstreamID, pub.delta(event.KindContentDelta, text, s.threshold)
	}

	corrected, verr := contract.Validate(text)
	if verr != nil {
		// Uncorrectable structure: the sentinel replaces the entire output
		// and ships as a single delta, never progressively.
		s.logger.Debug("output contract violation", "message_id", pub.messageID, "error", verr)
		pub.seq++
		pub.totalChars += utf8.RuneCountInString(contract.Sentinel)
		return upstreamID, s.broker.Publish(
			event.NewDelta(event.KindContentDelta, pub.messageID, pub.correlationID, pub.seq, contract.Sentinel))
	}
	return upstreamID, pub.delta(event.KindContentDelta, corrected, s.threshold)
}

// failureCode maps pipeline errors onto the stable caller-facing taxonomy.
func failureCode(err error) (string, string) {
	var nr *modelmap.NotRoutableError
	if errors.As(err, &nr) {
		return string(nr.Reason), nr.Error()
	}

	var ue *dialect.UpstreamError
	if errors.As(err, &ue) {
		if ue.Code == event.CodeMalformedStream {
			return event.CodeMalformedStream, ue.Message
		}
		return event.CodeUpstreamFailure, ue.Error()
	}

	if errors.Is(err, broker.ErrQueueFull) {
		return event.CodeStreamOverflow, "event queue overflow: consumer too slow"
	}

	return event.CodeInternal, err.Error()
}
