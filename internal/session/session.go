package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"StreamChat/internal/store"
)

var ErrEmptySessionID = errors.New("session id cannot be empty")

// Holder owns the session identifier naming the server-side conversation.
// It is read once from the store when created and written back on every update.
type Holder struct {
	store  store.Store
	key    string
	logger *slog.Logger

	mu sync.RWMutex
	id string
}

// NewHolder creates a holder and loads the stored identifier, if any.
// When the read fails the error is returned along with a usable holder that
// starts without an identifier.
func NewHolder(ctx context.Context, st store.Store, key string, logger *slog.Logger) (*Holder, error) {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Holder{
		store:  st,
		key:    key,
		logger: logger,
	}

	id, ok, err := st.Get(ctx, key)
	if err != nil {
		return h, fmt.Errorf("failed to load session id: %w", err)
	}
	if ok && id != "" {
		h.id = id
		logger.Info("loaded existing session", "session_id", id)
	}

	return h, nil
}

// ID returns the current identifier, or "" when none has been issued yet
func (h *Holder) ID() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.id
}

// Key returns the storage key the identifier is persisted under
func (h *Holder) Key() string {
	return h.key
}

// SetSessionID replaces the identifier and persists it. The in-memory value
// is updated even when persisting fails; the failure is returned.
func (h *Holder) SetSessionID(ctx context.Context, id string) error {
	if id == "" {
		return ErrEmptySessionID
	}

	h.mu.Lock()
	previous := h.id
	h.id = id
	h.mu.Unlock()

	if err := h.store.Set(ctx, h.key, id); err != nil {
		return fmt.Errorf("failed to persist session id: %w", err)
	}

	if previous != id {
		h.logger.Info("session updated", "session_id", id, "previous", previous)
	}
	return nil
}
