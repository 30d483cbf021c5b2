package live

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/livetts/internal/resilience"
)

type fakeSession struct {
	mu      sync.Mutex
	results []error
	info    RoomInfo
	calls   int
	events  chan Event

	// onConnect runs inside a successful Connect with the 1-based call number.
	onConnect func(call int)
}

func newFakeSession(results ...error) *fakeSession {
	return &fakeSession{results: results, events: make(chan Event, 16)}
}

func (f *fakeSession) Connect(ctx context.Context) (RoomInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	i := f.calls
	f.calls++
	if i < len(f.results) && f.results[i] != nil {
		return RoomInfo{}, f.results[i]
	}
	if f.onConnect != nil {
		f.onConnect(f.calls)
	}
	return f.info, nil
}

func (f *fakeSession) Events() <-chan Event { return f.events }

func (f *fakeSession) Close() error { return nil }

func (f *fakeSession) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingHandler struct {
	mu     sync.Mutex
	events []Event
}

func (h *recordingHandler) Handle(ctx context.Context, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

func (h *recordingHandler) Events() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Event(nil), h.events...)
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func newTestManager(session Session, handler Handler) (*Manager, *sleepRecorder) {
	sleeps := &sleepRecorder{}
	m := NewManager(session, handler, DefaultManagerConfig("streamer"))
	m.sleep = sleeps.Sleep
	return m, sleeps
}

func failures(n int) []error {
	errs := make([]error, n)
	for i := range errs {
		errs[i] = &StatusError{StatusCode: 503, Err: errors.New("room offline")}
	}
	return errs
}

func TestManager_ConnectSuccess(t *testing.T) {
	session := newFakeSession()
	session.info = RoomInfo{DisplayName: "Streamer Name", RoomID: "42"}
	handler := &recordingHandler{}
	m, _ := newTestManager(session, handler)

	require.NoError(t, m.Connect(context.Background(), 8))

	assert.Equal(t, StateConnected, m.State())
	assert.Equal(t, []Event{Connected{DisplayName: "Streamer Name"}}, handler.Events())
}

func TestManager_ConnectDisplayNameFallback(t *testing.T) {
	handler := &recordingHandler{}
	m, _ := newTestManager(newFakeSession(), handler)

	require.NoError(t, m.Connect(context.Background(), 1))
	assert.Equal(t, []Event{Connected{DisplayName: "@streamer"}}, handler.Events())
}

func TestManager_ConnectBackoffSchedule(t *testing.T) {
	session := newFakeSession(failures(5)...)
	handler := &recordingHandler{}
	m, sleeps := newTestManager(session, handler)

	err := m.Connect(context.Background(), 5)

	var exhausted *resilience.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 5, exhausted.Attempts)
	assert.Equal(t, 5, session.Calls(), "exactly maxAttempts connect attempts")
	assert.Equal(t, StateDisconnected, m.State())
	assert.Empty(t, handler.Events())

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 503, statusErr.StatusCode)

	delays := sleeps.Delays()
	require.Len(t, delays, 4)
	for i := 1; i < len(delays); i++ {
		assert.GreaterOrEqual(t, delays[i], delays[i-1], "delays must not decrease")
		assert.LessOrEqual(t, delays[i], 15*time.Second)
	}
	assert.Equal(t, []time.Duration{
		1200 * time.Millisecond,
		2160 * time.Millisecond,
		3888 * time.Millisecond,
		6998 * time.Millisecond,
	}, delays)
}

func TestManager_ConnectSucceedsAfterRetries(t *testing.T) {
	session := newFakeSession(failures(2)...)
	m, sleeps := newTestManager(session, &recordingHandler{})

	require.NoError(t, m.Connect(context.Background(), 8))
	assert.Equal(t, 3, session.Calls())
	assert.Len(t, sleeps.Delays(), 2)
	assert.Equal(t, StateConnected, m.State())
}

func TestManager_RunInitialExhaustionIsFatal(t *testing.T) {
	session := newFakeSession(failures(8)...)
	m, _ := newTestManager(session, &recordingHandler{})

	err := m.Run(context.Background())

	var exhausted *resilience.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 8, session.Calls())
}

func TestManager_RunForwardsEvents(t *testing.T) {
	session := newFakeSession()
	handler := &recordingHandler{}
	m, _ := newTestManager(session, handler)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	session.events <- Chat{User: "alice", Text: "hi"}
	session.events <- Gift{User: "bob", GiftName: "Rose", Count: 3}

	require.Eventually(t, func() bool { return len(handler.Events()) == 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	events := handler.Events()
	assert.Equal(t, Connected{DisplayName: "@streamer"}, events[0])
	assert.Equal(t, Chat{User: "alice", Text: "hi"}, events[1])
	assert.Equal(t, Gift{User: "bob", GiftName: "Rose", Count: 3}, events[2])
}

func TestManager_ReconnectAfterDisconnect(t *testing.T) {
	session := newFakeSession()
	handler := &recordingHandler{}
	m, sleeps := newTestManager(session, handler)

	var mu sync.Mutex
	var states []State
	m.OnStateChange = func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return m.State() == StateConnected }, 2*time.Second, 5*time.Millisecond)
	session.events <- Disconnected{Reason: "stream ended"}

	require.Eventually(t, func() bool { return session.Calls() == 2 && m.State() == StateConnected }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []time.Duration{3 * time.Second}, sleeps.Delays(), "fixed delay before reconnecting")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{
		StateConnecting, StateConnected,
		StateDisconnected,
		StateConnecting, StateConnected,
	}, states)

	connected := 0
	for _, ev := range handler.Events() {
		if _, ok := ev.(Connected); ok {
			connected++
		}
	}
	assert.Equal(t, 2, connected)
}

func TestManager_ReconnectExhaustionIsNotFatal(t *testing.T) {
	// First connect succeeds, the six reconnect attempts all fail.
	results := append([]error{nil}, failures(6)...)
	session := newFakeSession(results...)
	handler := &recordingHandler{}
	m, _ := newTestManager(session, handler)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return m.State() == StateConnected }, 2*time.Second, 5*time.Millisecond)
	session.events <- Disconnected{Reason: "network"}

	require.Eventually(t, func() bool { return session.Calls() == 7 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return m.State() == StateDisconnected }, 2*time.Second, 5*time.Millisecond)

	// Run keeps forwarding events after a failed reconnect.
	session.events <- Chat{User: "carol", Text: "still here"}
	require.Eventually(t, func() bool {
		events := handler.Events()
		return len(events) > 0 && events[len(events)-1] == Event(Chat{User: "carol", Text: "still here"})
	}, 2*time.Second, 5*time.Millisecond)

	select {
	case err := <-done:
		t.Fatalf("Run returned early: %v", err)
	default:
	}

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 7, session.Calls())
}

func TestManager_DuplicateDisconnectReconnectsOnce(t *testing.T) {
	session := newFakeSession()
	handler := &recordingHandler{}
	m, _ := newTestManager(session, handler)

	block := make(chan struct{})
	m.sleep = func(ctx context.Context, d time.Duration) error {
		select {
		case <-block:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return m.State() == StateConnected }, 2*time.Second, 5*time.Millisecond)
	session.events <- Disconnected{}
	session.events <- Disconnected{}
	marker := Chat{User: "marker"}
	session.events <- marker
	require.Eventually(t, func() bool {
		events := handler.Events()
		return len(events) > 0 && events[len(events)-1] == Event(marker)
	}, 2*time.Second, 5*time.Millisecond)

	close(block)
	require.Eventually(t, func() bool { return m.State() == StateConnected }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 2, session.Calls())
}

func TestManager_DisconnectDuringReconnectIsNotLost(t *testing.T) {
	session := newFakeSession()
	// The second connection ends before Connect has even returned.
	session.onConnect = func(call int) {
		if call == 2 {
			session.events <- Disconnected{Reason: "streamEnd"}
		}
	}
	handler := &recordingHandler{}
	m, sleeps := newTestManager(session, handler)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return m.State() == StateConnected }, 2*time.Second, 5*time.Millisecond)
	session.events <- Disconnected{Reason: "network"}

	require.Eventually(t, func() bool {
		return session.Calls() == 3 && m.State() == StateConnected
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 3, session.Calls())
	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second}, sleeps.Delays())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "disconnected", StateDisconnected.String())
}
