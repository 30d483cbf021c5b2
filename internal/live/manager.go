package live

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/livetts/internal/observability"
	"github.com/lexiqai/livetts/internal/resilience"
)

// State is the manager's view of the live connection.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// ManagerConfig holds the connect and reconnect schedule.
type ManagerConfig struct {
	Username             string
	ConnectMaxAttempts   int
	ReconnectMaxAttempts int
	Backoff              time.Duration
	Multiplier           float64
	MaxBackoff           time.Duration
	ReconnectDelay       time.Duration
	AttemptTimeout       time.Duration
}

// DefaultManagerConfig returns the production schedule for username.
func DefaultManagerConfig(username string) ManagerConfig {
	return ManagerConfig{
		Username:             username,
		ConnectMaxAttempts:   8,
		ReconnectMaxAttempts: 6,
		Backoff:              1200 * time.Millisecond,
		Multiplier:           1.8,
		MaxBackoff:           15 * time.Second,
		ReconnectDelay:       3 * time.Second,
		AttemptTimeout:       10 * time.Second,
	}
}

// Manager owns a Session: it connects with backoff, forwards events to a
// Handler and reconnects after an unexpected disconnect. The manager, not
// the handler, is responsible for reconnecting.
type Manager struct {
	session Session
	handler Handler
	cfg     ManagerConfig
	logger  zerolog.Logger

	// OnStateChange, when set, observes every transition. It is called
	// with the manager lock held and must not call back into the manager.
	OnStateChange func(State)

	mu                sync.Mutex
	state             State
	reconnecting      bool
	disconnectPending bool
	wg                sync.WaitGroup

	sleep func(ctx context.Context, d time.Duration) error
}

// NewManager creates a manager in the Idle state.
func NewManager(session Session, handler Handler, cfg ManagerConfig) *Manager {
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 1.8
	}

	return &Manager{
		session: session,
		handler: handler,
		cfg:     cfg,
		logger:  observability.Component("live_manager").With().Str("username", cfg.Username).Logger(),
		state:   StateIdle,
		sleep:   resilience.Sleep,
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setStateLocked(state)
}

func (m *Manager) setStateLocked(state State) {
	if m.state == state {
		return
	}
	m.logger.Debug().Str("from", m.state.String()).Str("to", state.String()).Msg("Connection state changed")
	m.state = state
	observability.SetLiveConnectionState(int(state))
	if m.OnStateChange != nil {
		m.OnStateChange(state)
	}
}

// Connect makes up to maxAttempts connect attempts with exponential
// backoff. On success it emits Connected to the handler. When every
// attempt fails it returns *resilience.ExhaustedError.
func (m *Manager) Connect(ctx context.Context, maxAttempts int) error {
	m.setState(StateConnecting)

	var room RoomInfo
	attempt := func(ctx context.Context) error {
		attemptCtx := ctx
		if m.cfg.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, m.cfg.AttemptTimeout)
			defer cancel()
		}

		info, err := m.session.Connect(attemptCtx)
		observability.RecordConnectAttempt(err == nil)
		if err != nil {
			return err
		}
		room = info
		return nil
	}

	err := resilience.Reconnect(ctx, attempt, &resilience.ReconnectConfig{
		MaxAttempts: maxAttempts,
		Backoff:     m.cfg.Backoff,
		Multiplier:  m.cfg.Multiplier,
		MaxBackoff:  m.cfg.MaxBackoff,
		Sleep:       m.sleep,
		OnFailure:   m.logAttemptFailure,
	})
	if err != nil {
		m.setState(StateDisconnected)
		return err
	}

	m.setState(StateConnected)

	name := room.DisplayName
	if name == "" {
		name = "@" + m.cfg.Username
	}
	m.logger.Info().Str("display_name", name).Str("room_id", room.RoomID).Msg("Connected to live chat")

	observability.RecordLiveEvent(EventConnected)
	m.handler.Handle(ctx, Connected{DisplayName: name})
	return nil
}

func (m *Manager) logAttemptFailure(attempt int, delay time.Duration, err error) {
	evt := m.logger.Warn().Int("attempt", attempt).Str("reason", err.Error())

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		evt = evt.Int("status", statusErr.StatusCode)
	}
	if delay > 0 {
		evt = evt.Dur("retry_in", delay)
	}
	evt.Msg("Connect attempt failed")
}

// Run connects with ConnectMaxAttempts and then forwards events until ctx
// is cancelled. Failing the initial connect is returned to the caller;
// failing a later reconnect is only logged.
func (m *Manager) Run(ctx context.Context) error {
	defer m.wg.Wait()

	if err := m.Connect(ctx, m.cfg.ConnectMaxAttempts); err != nil {
		return err
	}

	events := m.session.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			m.handleEvent(ctx, ev)
		}
	}
}

func (m *Manager) handleEvent(ctx context.Context, ev Event) {
	if ev == nil {
		return
	}
	observability.RecordLiveEvent(ev.Type())

	if d, ok := ev.(Disconnected); ok {
		m.logger.Warn().Str("reason", d.Reason).Dur("retry_in", m.cfg.ReconnectDelay).Msg("Disconnected, reconnecting")
		m.scheduleReconnect(ctx)
	}

	m.handler.Handle(ctx, ev)
}

// scheduleReconnect starts at most one reconnect goroutine, and only when
// the disconnect interrupts an established connection. A disconnect that
// arrives while a reconnect is in flight belongs to the new connection and
// makes the goroutine go round again once Connect returns.
func (m *Manager) scheduleReconnect(ctx context.Context) {
	m.mu.Lock()
	if m.reconnecting {
		m.disconnectPending = true
		m.mu.Unlock()
		return
	}
	if m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	m.setStateLocked(StateDisconnected)
	m.reconnecting = true
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		for {
			if err := m.sleep(ctx, m.cfg.ReconnectDelay); err != nil {
				m.endReconnect()
				return
			}

			// Disconnects seen before this point came from the old connection.
			m.mu.Lock()
			m.disconnectPending = false
			m.mu.Unlock()

			if err := m.Connect(ctx, m.cfg.ReconnectMaxAttempts); err != nil {
				m.endReconnect()
				if ctx.Err() != nil {
					return
				}
				observability.RecordError("reconnect_exhausted", "live_manager")
				m.logger.Error().Err(err).Msg("Reconnect failed, waiting for the next disconnect")
				return
			}

			m.mu.Lock()
			if !m.disconnectPending {
				m.reconnecting = false
				m.mu.Unlock()
				return
			}
			m.disconnectPending = false
			m.setStateLocked(StateDisconnected)
			m.mu.Unlock()

			m.logger.Warn().Dur("retry_in", m.cfg.ReconnectDelay).Msg("Feed ended right after reconnecting, reconnecting again")
		}
	}()
}

func (m *Manager) endReconnect() {
	m.mu.Lock()
	m.reconnecting = false
	m.disconnectPending = false
	m.mu.Unlock()
}
