package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"StreamChat/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errQuota = errors.New("quota exceeded")

type failingStore struct {
	*store.MemoryStore
	getErr error
	setErr error
}

func (s *failingStore) Get(ctx context.Context, key string) (string, bool, error) {
	if s.getErr != nil {
		return "", false, s.getErr
	}
	return s.MemoryStore.Get(ctx, key)
}

func (s *failingStore) Set(ctx context.Context, key, value string) error {
	if s.setErr != nil {
		return s.setErr
	}
	return s.MemoryStore.Set(ctx, key, value)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewHolderEmptyStore(t *testing.T) {
	h, err := NewHolder(context.Background(), store.NewMemoryStore(), "session_id", testLogger())
	require.NoError(t, err)
	assert.Empty(t, h.ID())
	assert.Equal(t, "session_id", h.Key())
}

func TestNewHolderLoadsStoredID(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	require.NoError(t, st.Set(ctx, "session_id", "stored-1"))

	h, err := NewHolder(ctx, st, "session_id", testLogger())
	require.NoError(t, err)
	assert.Equal(t, "stored-1", h.ID())
}

func TestSetSessionIDPersists(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	h, err := NewHolder(ctx, st, "session_id", testLogger())
	require.NoError(t, err)

	require.NoError(t, h.SetSessionID(ctx, "abc123"))
	assert.Equal(t, "abc123", h.ID())

	v, ok, err := st.Get(ctx, "session_id")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc123", v)
}

func TestSetSessionIDRejectsEmpty(t *testing.T) {
	ctx := context.Background()
	h, err := NewHolder(ctx, store.NewMemoryStore(), "session_id", testLogger())
	require.NoError(t, err)
	require.NoError(t, h.SetSessionID(ctx, "keep"))

	assert.ErrorIs(t, h.SetSessionID(ctx, ""), ErrEmptySessionID)
	assert.Equal(t, "keep", h.ID())
}

func TestSetSessionIDSurfacesPersistFailure(t *testing.T) {
	ctx := context.Background()
	st := &failingStore{MemoryStore: store.NewMemoryStore(), setErr: errQuota}
	h, err := NewHolder(ctx, st, "session_id", testLogger())
	require.NoError(t, err)

	err = h.SetSessionID(ctx, "abc123")
	assert.ErrorIs(t, err, errQuota)
	// Memory still follows the server
	assert.Equal(t, "abc123", h.ID())
}

func TestNewHolderLoadFailure(t *testing.T) {
	st := &failingStore{MemoryStore: store.NewMemoryStore(), getErr: errQuota}

	h, err := NewHolder(context.Background(), st, "session_id", testLogger())
	assert.ErrorIs(t, err, errQuota)
	require.NotNil(t, h)
	assert.Empty(t, h.ID())
}

func TestHolderAcrossReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reload.db")

	st, err := store.OpenSQLite(path)
	require.NoError(t, err)
	h, err := NewHolder(ctx, st, "session_id", testLogger())
	require.NoError(t, err)
	require.NoError(t, h.SetSessionID(ctx, "conversation-42"))
	require.NoError(t, st.Close())

	st, err = store.OpenSQLite(path)
	require.NoError(t, err)
	defer st.Close()

	reloaded, err := NewHolder(ctx, st, "session_id", testLogger())
	require.NoError(t, err)
	assert.Equal(t, "conversation-42", reloaded.ID())
}
