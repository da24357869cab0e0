// Package chat holds the chat panel: the message list, the input field and
// the state machine driving one exchange with the agent service at a time.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"StreamChat/internal/stream"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

var (
	ErrEmptyInput = errors.New("input is empty")
	ErrBusy       = errors.New("a request is already in flight")
)

const defaultErrorText = "Sorry, there was an error processing your request. Please try again."

// maxLoggedPayload caps raw payloads quoted in logs
const maxLoggedPayload = 256

// Streamer sends a message and reports every decoded record of the reply
type Streamer interface {
	Stream(ctx context.Context, message, sessionID string, handle func(stream.Result)) error
}

// SessionHolder exposes the session identifier and its update operation
type SessionHolder interface {
	ID() string
	SetSessionID(ctx context.Context, id string) error
}

// Panel is the chat panel state machine. It is safe for concurrent use;
// only one exchange runs at a time.
type Panel struct {
	streamer  Streamer
	sessions  SessionHolder
	logger    *slog.Logger
	tracer    trace.Tracer
	errorText string
	greeting  string
	notify    func()
	now       func() time.Time
	newID     func() string

	mu       sync.Mutex
	messages []Message
	input    string
	loading  bool
	failures []stream.Result
}

// Option configures a Panel
type Option func(*Panel)

// WithGreeting seeds the list with an assistant message
func WithGreeting(text string) Option {
	return func(p *Panel) { p.greeting = text }
}

// WithErrorText sets the message shown when an exchange fails
func WithErrorText(text string) Option {
	return func(p *Panel) {
		if text != "" {
			p.errorText = text
		}
	}
}

// WithNotify registers a callback run after every state change. It is
// called without the panel lock held.
func WithNotify(fn func()) Option {
	return func(p *Panel) { p.notify = fn }
}

// WithLogger sets the logger; nil keeps the default
func WithLogger(logger *slog.Logger) Option {
	return func(p *Panel) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithTracer sets the tracer used for submission spans
func WithTracer(tracer trace.Tracer) Option {
	return func(p *Panel) { p.tracer = tracer }
}

// WithClock overrides time and id generation, for tests
func WithClock(now func() time.Time, newID func() string) Option {
	return func(p *Panel) {
		p.now = now
		p.newID = newID
	}
}

// NewPanel creates an idle panel
func NewPanel(streamer Streamer, sessions SessionHolder, opts ...Option) *Panel {
	p := &Panel{
		streamer:  streamer,
		sessions:  sessions,
		logger:    slog.Default(),
		tracer:    tracenoop.NewTracerProvider().Tracer("streamchat"),
		errorText: defaultErrorText,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.greeting != "" {
		p.messages = append(p.messages, p.newMessage(RoleAssistant, p.greeting, ""))
	}
	return p
}

// SetInput replaces the contents of the input field
func (p *Panel) SetInput(text string) {
	p.mu.Lock()
	p.input = text
	p.mu.Unlock()
}

// Input returns the contents of the input field
func (p *Panel) Input() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.input
}

// Loading reports whether an exchange is in flight
func (p *Panel) Loading() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loading
}

// Messages returns a copy of the message list in display order
func (p *Panel) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}

// ParseFailures returns the records that could not be decoded so far
func (p *Panel) ParseFailures() []stream.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]stream.Result, len(p.failures))
	copy(out, p.failures)
	return out
}

// SessionID returns the identifier the next request will carry
func (p *Panel) SessionID() string {
	return p.sessions.ID()
}

// Send places text in the input field and submits it
func (p *Panel) Send(ctx context.Context, text string) error {
	p.SetInput(text)
	return p.Submit(ctx)
}

// Submit sends the input field to the agent service and blocks until the
// reply stream ends. Blank input and submissions while another exchange is in
// flight are no-ops reported as ErrEmptyInput and ErrBusy. A failed exchange
// leaves one error message in the list and is returned wrapped.
func (p *Panel) Submit(ctx context.Context) error {
	p.mu.Lock()
	text := p.input
	if strings.TrimSpace(text) == "" {
		p.mu.Unlock()
		return ErrEmptyInput
	}
	if p.loading {
		p.mu.Unlock()
		return ErrBusy
	}
	p.messages = append(p.messages, p.newMessage(RoleUser, text, ""))
	p.input = ""
	p.loading = true
	p.mu.Unlock()
	p.changed()

	ctx, span := p.tracer.Start(ctx, "chat_submit")
	defer span.End()

	defer func() {
		p.mu.Lock()
		p.loading = false
		p.mu.Unlock()
		p.changed()
	}()

	err := p.streamer.Stream(ctx, text, p.sessions.ID(), func(res stream.Result) {
		p.dispatch(ctx, res)
	})
	if err != nil {
		p.logger.Error("chat exchange failed", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.appendMessage(RoleAssistant, p.errorText, "")
		return fmt.Errorf("chat exchange failed: %w", err)
	}
	return nil
}

func (p *Panel) dispatch(ctx context.Context, res stream.Result) {
	if !res.OK() {
		p.mu.Lock()
		p.failures = append(p.failures, res)
		p.mu.Unlock()
		p.logger.Warn("dropped undecodable event", "error", res.Err, "raw", res.Snippet(maxLoggedPayload))
		return
	}

	ev := res.Event
	switch ev.Type {
	case stream.TypeAgentMessage:
		p.appendMessage(RoleAssistant, ev.Message, ev.Agent)
	case stream.TypeAgentThinking:
		p.appendMessage(RoleSystem, ev.Message, ev.Agent)
	case stream.TypeSessionUpdate:
		if err := p.sessions.SetSessionID(ctx, ev.SessionID); err != nil {
			p.logger.Error("failed to update session", "session_id", ev.SessionID, "error", err)
		}
		p.changed()
	default:
		// user_message echoes and done markers carry nothing to display
		p.logger.Debug("ignored event", "type", ev.Type)
	}
}

func (p *Panel) appendMessage(role Role, content, agent string) {
	p.mu.Lock()
	p.messages = append(p.messages, p.newMessage(role, content, agent))
	p.mu.Unlock()
	p.changed()
}

func (p *Panel) newMessage(role Role, content, agent string) Message {
	return Message{
		ID:        p.newID(),
		Content:   content,
		Role:      role,
		Agent:     agent,
		Timestamp: p.now(),
	}
}

func (p *Panel) changed() {
	if p.notify != nil {
		p.notify()
	}
}
