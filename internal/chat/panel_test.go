package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"testing/iotest"
	"time"

	"StreamChat/internal/session"
	"StreamChat/internal/store"
	"StreamChat/internal/stream"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeStreamer replays a canned response body through the real decoder
type fakeStreamer struct {
	mu         sync.Mutex
	body       string
	readErr    error
	sendErr    error
	calls      int
	gotMessage string
	gotSession string

	started chan struct{}
	release chan struct{}
}

func (f *fakeStreamer) Stream(ctx context.Context, message, sessionID string, handle func(stream.Result)) error {
	f.mu.Lock()
	f.calls++
	f.gotMessage = message
	f.gotSession = sessionID
	f.mu.Unlock()

	if f.started != nil {
		close(f.started)
		<-f.release
	}
	if f.sendErr != nil {
		return f.sendErr
	}

	var r io.Reader = strings.NewReader(f.body)
	if f.readErr != nil {
		r = io.MultiReader(r, iotest.ErrReader(f.readErr))
	}
	return stream.Decode(ctx, r, handle)
}

func (f *fakeStreamer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHolder(t *testing.T) (*session.Holder, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	h, err := session.NewHolder(context.Background(), st, "session_id", testLogger())
	require.NoError(t, err)
	return h, st
}

func fixedClock() Option {
	var n int
	base := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	return WithClock(
		func() time.Time { return base },
		func() string { n++; return fmt.Sprintf("msg-%d", n) },
	)
}

func newTestPanel(t *testing.T, f *fakeStreamer, opts ...Option) (*Panel, *session.Holder, *store.MemoryStore) {
	t.Helper()
	h, st := newHolder(t)
	opts = append([]Option{WithLogger(testLogger()), fixedClock()}, opts...)
	return NewPanel(f, h, opts...), h, st
}

func TestSubmitAppendsUserMessageAndClearsInput(t *testing.T) {
	f := &fakeStreamer{}
	p, _, _ := newTestPanel(t, f)

	p.SetInput("  hello there ")
	require.NoError(t, p.Submit(context.Background()))

	msgs := p.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, "  hello there ", msgs[0].Content)
	assert.Empty(t, p.Input())
	assert.False(t, p.Loading())
	assert.Equal(t, "  hello there ", f.gotMessage)
	assert.Empty(t, f.gotSession)
}

func TestSubmitBlankInputIsNoop(t *testing.T) {
	for _, input := range []string{"", "   ", "\n\t"} {
		f := &fakeStreamer{}
		p, _, _ := newTestPanel(t, f)

		p.SetInput(input)
		assert.ErrorIs(t, p.Submit(context.Background()), ErrEmptyInput)
		assert.Empty(t, p.Messages())
		assert.Equal(t, input, p.Input())
		assert.Zero(t, f.callCount())
	}
}

func TestSubmitWhileLoadingIsNoop(t *testing.T) {
	f := &fakeStreamer{
		body:    `data: {"type":"agent_message","message":"first answer"}` + "\n\n",
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	p, _, _ := newTestPanel(t, f)

	done := make(chan error, 1)
	go func() { done <- p.Send(context.Background(), "first") }()
	<-f.started

	assert.True(t, p.Loading())
	assert.ErrorIs(t, p.Send(context.Background(), "second"), ErrBusy)
	assert.Len(t, p.Messages(), 1)

	close(f.release)
	require.NoError(t, <-done)

	assert.Equal(t, 1, f.callCount())
	msgs := p.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "first answer", msgs[1].Content)
}

func TestAgentMessageAppendsAssistant(t *testing.T) {
	f := &fakeStreamer{body: `data: {"type":"agent_message","message":"hi"}` + "\n\n"}
	p, _, _ := newTestPanel(t, f)

	require.NoError(t, p.Send(context.Background(), "hello"))

	msgs := p.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleAssistant, msgs[1].Role)
	assert.Equal(t, "hi", msgs[1].Content)
}

func TestSessionUpdatePersistsWithoutMessage(t *testing.T) {
	f := &fakeStreamer{body: `data: {"type":"session_update","session_id":"abc123"}` + "\n\n"}
	p, h, st := newTestPanel(t, f)

	require.NoError(t, p.Send(context.Background(), "log me in"))

	assert.Len(t, p.Messages(), 1)
	assert.Equal(t, "abc123", h.ID())
	v, ok, err := st.Get(context.Background(), "session_id")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc123", v)

	// The next request carries the new identifier
	f.body = ""
	require.NoError(t, p.Send(context.Background(), "again"))
	assert.Equal(t, "abc123", f.gotSession)
}

func TestThinkingNoticeIsSystemMessage(t *testing.T) {
	f := &fakeStreamer{body: `data: {"type":"agent_thinking","message":"Processing your request..."}` + "\n\n" +
		`data: {"type":"agent_message","message":"done thinking","agent":"health_agent"}` + "\n\n"}
	p, _, _ := newTestPanel(t, f)

	require.NoError(t, p.Send(context.Background(), "q"))

	msgs := p.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, RoleSystem, msgs[1].Role)
	assert.Equal(t, "Processing your request...", msgs[1].Content)
	assert.Equal(t, "health_agent", msgs[2].Agent)
}

func TestEchoAndDoneAreNotDisplayed(t *testing.T) {
	f := &fakeStreamer{body: `data: {"type":"user_message","message":"q"}` + "\n\n" + `data: {"type":"done"}` + "\n\n"}
	p, _, _ := newTestPanel(t, f)

	require.NoError(t, p.Send(context.Background(), "q"))
	assert.Len(t, p.Messages(), 1)
	assert.Empty(t, p.ParseFailures())
}

func TestReadFailureAppendsOneErrorMessage(t *testing.T) {
	boom := errors.New("stream reset")
	f := &fakeStreamer{
		body:    `data: {"type":"agent_message","message":"partial"}` + "\n\n",
		readErr: boom,
	}
	p, _, _ := newTestPanel(t, f)

	err := p.Send(context.Background(), "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	msgs := p.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "partial", msgs[1].Content)
	assert.Equal(t, RoleAssistant, msgs[2].Role)
	assert.Equal(t, defaultErrorText, msgs[2].Content)
	assert.False(t, p.Loading())
}

func TestTransportFailureUsesConfiguredErrorText(t *testing.T) {
	f := &fakeStreamer{sendErr: errors.New("connection refused")}
	p, _, _ := newTestPanel(t, f, WithErrorText("Service unavailable."))

	require.Error(t, p.Send(context.Background(), "hello"))

	msgs := p.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Service unavailable.", msgs[1].Content)
	assert.False(t, p.Loading())
}

func TestSubmitAcceptedAfterAnyExchange(t *testing.T) {
	f := &fakeStreamer{sendErr: errors.New("down")}
	p, _, _ := newTestPanel(t, f)

	require.Error(t, p.Send(context.Background(), "one"))

	f.sendErr = nil
	f.body = `data: {"type":"agent_message","message":"back"}` + "\n\n"
	require.NoError(t, p.Send(context.Background(), "two"))

	require.NoError(t, p.Send(context.Background(), "three"))
	assert.Equal(t, 3, f.callCount())
}

func TestMalformedEventsAreRecorded(t *testing.T) {
	f := &fakeStreamer{body: "data: {broken\n\n" +
		`data: {"type":"mystery"}` + "\n\n" +
		`data: {"type":"agent_message","message":"fine"}` + "\n\n"}
	p, _, _ := newTestPanel(t, f)

	require.NoError(t, p.Send(context.Background(), "q"))

	assert.Len(t, p.Messages(), 2)
	failures := p.ParseFailures()
	require.Len(t, failures, 2)
	assert.ErrorIs(t, failures[0].Err, stream.ErrMalformedPayload)
	assert.ErrorIs(t, failures[1].Err, stream.ErrUnknownType)
}

func TestSessionPersistFailureDoesNotFailExchange(t *testing.T) {
	f := &fakeStreamer{body: `data: {"type":"session_update","session_id":"abc123"}` + "\n\n" +
		`data: {"type":"agent_message","message":"welcome"}` + "\n\n"}
	holder := &stubHolder{setErr: errors.New("disk full")}
	p := NewPanel(f, holder, WithLogger(testLogger()))

	require.NoError(t, p.Send(context.Background(), "hi"))
	assert.Equal(t, "abc123", holder.ID())
	assert.Len(t, p.Messages(), 2)
}

func TestGreetingAndIDs(t *testing.T) {
	f := &fakeStreamer{body: `data: {"type":"agent_message","message":"a"}` + "\n\n" +
		`data: {"type":"agent_message","message":"b"}` + "\n\n"}
	p, _, _ := newTestPanel(t, f, WithGreeting("Welcome!"))

	msgs := p.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, RoleAssistant, msgs[0].Role)
	assert.Equal(t, "Welcome!", msgs[0].Content)

	require.NoError(t, p.Send(context.Background(), "q"))

	seen := map[string]bool{}
	for _, m := range p.Messages() {
		assert.False(t, seen[m.ID], "duplicate id %s", m.ID)
		seen[m.ID] = true
	}
	assert.Len(t, seen, 4)
}

func TestDefaultIDsAreUnique(t *testing.T) {
	f := &fakeStreamer{body: strings.Repeat(`data: {"type":"agent_thinking","message":"..."}`+"\n\n", 20)}
	h, _ := newHolder(t)
	p := NewPanel(f, h, WithLogger(testLogger()))

	require.NoError(t, p.Send(context.Background(), "q"))

	seen := map[string]bool{}
	for _, m := range p.Messages() {
		require.NotEmpty(t, m.ID)
		seen[m.ID] = true
	}
	assert.Len(t, seen, 21)
}

func TestNotifyFiresOnChanges(t *testing.T) {
	var mu sync.Mutex
	var count int
	f := &fakeStreamer{body: `data: {"type":"agent_message","message":"hi"}` + "\n\n"}
	p, _, _ := newTestPanel(t, f, WithNotify(func() {
		mu.Lock()
		count++
		mu.Unlock()
	}))

	require.NoError(t, p.Send(context.Background(), "q"))

	mu.Lock()
	defer mu.Unlock()
	// submit, agent message, back to idle
	assert.Equal(t, 3, count)
}

type stubHolder struct {
	mu     sync.Mutex
	id     string
	setErr error
}

func (s *stubHolder) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *stubHolder) SetSessionID(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = id
	return s.setErr
}
