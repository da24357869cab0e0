package chatbot

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"StreamChat/internal/backend"
	"StreamChat/internal/cache"
	"StreamChat/internal/chat"
	"StreamChat/internal/client"
	"StreamChat/internal/config"
	"StreamChat/internal/session"
	"StreamChat/internal/store"
	"StreamChat/internal/telemetry"

	"github.com/jellydator/ttlcache/v3"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ChatBot wires configuration, storage, the session holder, the service
// client and the chat panel together
type ChatBot struct {
	config config.Config
	store  store.Store
	logger *slog.Logger
	tracer trace.Tracer
	meter  metric.Meter
	client *client.Client
	holder *session.Holder
	panel  *chat.Panel

	// sessionInfo holds recent /api/session lookups
	sessionInfo *ttlcache.Cache[string, backend.SessionInfo]

	in      io.Reader
	out     io.Writer
	closers []func() error

	mu       sync.Mutex
	listener func()
	printed  int
}

// sessionInfoTTL bounds how long a session lookup is reused
const sessionInfoTTL = 30 * time.Second

// Option configures a ChatBot
type Option func(*ChatBot)

// WithStore uses st instead of opening the configured SQLite file
func WithStore(st store.Store) Option {
	return func(cb *ChatBot) { cb.store = st }
}

// WithLogger uses logger instead of the rotating log file
func WithLogger(logger *slog.Logger) Option {
	return func(cb *ChatBot) { cb.logger = logger }
}

// WithIO replaces stdin and stdout for the line interface
func WithIO(in io.Reader, out io.Writer) Option {
	return func(cb *ChatBot) {
		cb.in = in
		cb.out = out
	}
}

// NewChatBot creates a new ChatBot instance
func NewChatBot(cfg config.Config, opts ...Option) (*ChatBot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cb := &ChatBot{
		config:      cfg,
		sessionInfo: cache.New[backend.SessionInfo](sessionInfoTTL),
		in:          os.Stdin,
		out:         os.Stdout,
	}
	for _, opt := range opts {
		opt(cb)
	}

	level := cfg.LogLevel
	if cfg.Debug {
		level = "debug"
	}
	if cb.logger == nil {
		logger, closer, err := telemetry.InitLogger(cfg.LogDir, level)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
		cb.logger = logger
		cb.closers = append(cb.closers, closer.Close)
	}

	if cfg.Debug {
		cb.logger.Info("Debug mode enabled")
	}

	if cfg.Telemetry {
		tracer, meter, cleanup, err := telemetry.InitTelemetry(context.Background(), cfg.LogDir)
		if err != nil {
			cb.Close()
			return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		cb.tracer, cb.meter = tracer, meter
		cb.closers = append(cb.closers, cleanup)
	} else {
		cb.tracer, cb.meter = telemetry.Noop()
	}

	if cb.store == nil {
		st, err := store.OpenSQLite(cfg.StorePath)
		if err != nil {
			cb.Close()
			return nil, fmt.Errorf("failed to initialize store: %w", err)
		}
		cb.store = st
	}
	cb.closers = append(cb.closers, cb.store.Close)

	ctx := context.Background()
	holder, err := session.NewHolder(ctx, cb.store, cfg.StorageKey, cb.logger)
	if err != nil {
		cb.logger.Warn("failed to load session, starting without one", "error", err)
	}
	cb.holder = holder

	cl, err := client.New(cfg.Endpoint, cb.logger,
		client.WithTelemetry(cb.tracer, cb.meter),
		client.WithRequestTimeout(cfg.RequestTimeout),
	)
	if err != nil {
		cb.Close()
		return nil, fmt.Errorf("failed to initialize client: %w", err)
	}
	cb.client = cl

	cb.panel = chat.NewPanel(cl, holder,
		chat.WithGreeting(cfg.Greeting),
		chat.WithErrorText(cfg.ErrorText),
		chat.WithLogger(cb.logger),
		chat.WithTracer(cb.tracer),
		chat.WithNotify(cb.notify),
	)

	cb.logger.Info("chatbot initialized",
		"endpoint", cl.Endpoint(),
		"session_id", holder.ID(),
		"storage_key", cfg.StorageKey,
	)
	return cb, nil
}

// Panel returns the chat panel
func (cb *ChatBot) Panel() *chat.Panel {
	return cb.panel
}

// Config returns the active configuration
func (cb *ChatBot) Config() config.Config {
	return cb.config
}

// SetListener registers fn to be called whenever the panel changes
func (cb *ChatBot) SetListener(fn func()) {
	cb.mu.Lock()
	cb.listener = fn
	cb.mu.Unlock()
}

func (cb *ChatBot) notify() {
	cb.mu.Lock()
	fn := cb.listener
	cb.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Close releases storage and flushes logs and telemetry
func (cb *ChatBot) Close() error {
	var errs []error
	for i := len(cb.closers) - 1; i >= 0; i-- {
		if err := cb.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	cb.closers = nil
	return errors.Join(errs...)
}

// printNew writes messages that appeared since the last call
func (cb *ChatBot) printNew() {
	msgs := cb.panel.Messages()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	for _, msg := range msgs[cb.printed:] {
		switch msg.Role {
		case chat.RoleUser:
			// already on screen as typed
		case chat.RoleSystem:
			fmt.Fprintf(cb.out, "... %s\n", msg.Content)
		default:
			if msg.Agent != "" {
				fmt.Fprintf(cb.out, "Bot [%s]: %s\n\n", msg.Agent, msg.Content)
			} else {
				fmt.Fprintf(cb.out, "Bot: %s\n\n", msg.Content)
			}
		}
	}
	cb.printed = len(msgs)
}

// Send submits a single message, printing the reply as it streams in
func (cb *ChatBot) Send(ctx context.Context, message string) error {
	cb.mu.Lock()
	cb.printed = len(cb.panel.Messages())
	cb.mu.Unlock()

	cb.SetListener(cb.printNew)
	defer cb.SetListener(nil)

	return cb.panel.Send(ctx, message)
}

// Run starts the line-oriented chat loop
func (cb *ChatBot) Run() error {
	defer cb.Close()

	fmt.Fprintln(cb.out, "=== StreamChat ===")
	fmt.Fprintf(cb.out, "Endpoint: %s\n", cb.client.Endpoint())
	fmt.Fprintf(cb.out, "Session: %s\n", displaySessionID(cb.holder.ID()))
	fmt.Fprintln(cb.out, "Type /help for commands, /quit to exit")
	fmt.Fprintln(cb.out)

	cb.SetListener(cb.printNew)
	defer cb.SetListener(nil)
	cb.printNew()

	scanner := bufio.NewScanner(cb.in)
	ctx := context.Background()

	for {
		fmt.Fprint(cb.out, "You: ")
		if !scanner.Scan() {
			break
		}

		input := scanner.Text()
		if strings.TrimSpace(input) == "" {
			continue
		}

		if strings.HasPrefix(strings.TrimSpace(input), "/") {
			output, shouldQuit, err := cb.HandleCommand(ctx, input)
			if err != nil {
				fmt.Fprintf(cb.out, "Error: %v\n", err)
				cb.logger.Error("command error", "error", err)
			}
			if output != "" {
				fmt.Fprintln(cb.out, output)
			}
			if shouldQuit {
				break
			}
			continue
		}

		// The panel already shows the failure as a message
		if err := cb.panel.Send(ctx, input); err != nil {
			cb.logger.Error("failed to send message", "error", err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	fmt.Fprintln(cb.out, "Goodbye!")
	return nil
}

func displaySessionID(id string) string {
	if id == "" {
		return "(none yet)"
	}
	return id
}
