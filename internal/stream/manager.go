package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ConnectionState is the lifecycle state of one logical realtime channel.
type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
	StateReconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// ErrNotOpen is returned by Send when the connection is not open.
var ErrNotOpen = errors.New("connection is not open")

// ErrDisconnectInProgress is returned by Connect while an explicit
// disconnect is still completing.
var ErrDisconnectInProgress = errors.New("disconnect in progress")

// ReconnectExhaustedError is the terminal error emitted exactly once when
// the reconnect ceiling is reached. The manager will not retry further
// without an explicit new Connect call.
type ReconnectExhaustedError struct {
	Attempts int
	Cause    error
}

func (e *ReconnectExhaustedError) Error() string {
	return fmt.Sprintf("gave up reconnecting after %d attempts: %v", e.Attempts, e.Cause)
}

func (e *ReconnectExhaustedError) Unwrap() error { return e.Cause }

const dialTimeout = 15 * time.Second

// Manager owns the lifecycle of one realtime channel: open, close,
// reconnect with linear backoff up to a ceiling, and frame dispatch. At most
// one live transport exists per manager; all state mutation happens under
// the mutex and callbacks are invoked without holding it, so re-entrant
// calls from inside a callback are safe.
type Manager struct {
	mu       sync.Mutex
	state    ConnectionState
	attempt  int
	gen      int // session generation; stale goroutine callbacks are ignored
	conn     Conn
	timer    *time.Timer
	onEvent  func(Event)
	onErr    func(error)

	endpoint   string
	dialer     Dialer
	policy     ReconnectPolicy
	dispatcher *Dispatcher
	logger     zerolog.Logger
}

// NewManager creates an idle connection manager for the given endpoint.
func NewManager(endpoint string, dialer Dialer, policy ReconnectPolicy, dispatcher *Dispatcher, logger zerolog.Logger) *Manager {
	return &Manager{
		state:      StateIdle,
		endpoint:   endpoint,
		dialer:     dialer,
		policy:     policy,
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "ConnectionManager").Logger(),
	}
}

// Connect starts the connection. Idempotent: calling it while already
// connecting, open, or reconnecting is a no-op. Every inbound frame is
// routed through the dispatcher before onEvent fires; dispatcher errors are
// forwarded to onErr without closing the connection.
func (m *Manager) Connect(onEvent func(Event), onErr func(error)) error {
	m.mu.Lock()
	switch m.state {
	case StateConnecting, StateOpen, StateReconnecting:
		m.mu.Unlock()
		return nil
	case StateClosing:
		m.mu.Unlock()
		return ErrDisconnectInProgress
	}

	m.gen++
	gen := m.gen
	m.attempt = 0
	m.onEvent = onEvent
	m.onErr = onErr
	m.setState(StateConnecting)
	m.mu.Unlock()

	go m.dial(gen)
	return nil
}

// Disconnect closes the connection, cancels any pending reconnect timer and
// suppresses further auto-reconnect. Safe to call from inside an event
// callback and safe to call repeatedly.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	switch m.state {
	case StateIdle, StateClosed, StateClosing:
		m.mu.Unlock()
		return

	case StateReconnecting:
		if m.timer != nil {
			m.timer.Stop()
			m.timer = nil
		}
		m.gen++
		m.setState(StateClosed)
		m.mu.Unlock()
		m.logger.Info().Msg("disconnected while waiting to reconnect")
		return

	case StateConnecting:
		// Invalidate the in-flight dial; it will discard its result.
		m.gen++
		m.setState(StateClosed)
		m.mu.Unlock()
		m.logger.Info().Msg("disconnected while connecting")
		return

	case StateOpen:
		m.setState(StateClosing)
		conn := m.conn
		m.mu.Unlock()
		// The read loop observes the close and completes Closing -> Closed.
		conn.Close()
		return
	}
	m.mu.Unlock()
}

// Send writes a payload to the channel. Returns ErrNotOpen when the
// connection is not open; it never panics into the caller.
func (m *Manager) Send(payload []byte) error {
	m.mu.Lock()
	if m.state != StateOpen || m.conn == nil {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w (state=%s)", ErrNotOpen, state)
	}
	conn := m.conn
	m.mu.Unlock()

	if err := conn.WriteMessage(payload); err != nil {
		return fmt.Errorf("send failed: %w", err)
	}
	return nil
}

// State returns the current connection state.
func (m *Manager) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ReconnectAttempts returns the current consecutive reconnect attempt count.
func (m *Manager) ReconnectAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt
}

// setState must be called with the mutex held.
func (m *Manager) setState(s ConnectionState) {
	m.state = s
	connectionState.Set(float64(s))
}

func (m *Manager) dial(gen int) {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	conn, err := m.dialer.Dial(ctx, m.endpoint)
	if err != nil {
		m.logger.Warn().Err(err).Int("attempt", m.ReconnectAttempts()).Msg("dial failed")
		m.transportDown(gen, err)
		return
	}

	m.mu.Lock()
	if gen != m.gen || m.state != StateConnecting {
		m.mu.Unlock()
		conn.Close()
		return
	}
	m.conn = conn
	m.attempt = 0
	m.setState(StateOpen)
	onEvent := m.onEvent
	onErr := m.onErr
	m.mu.Unlock()

	m.logger.Info().Str("endpoint", m.endpoint).Msg("channel open")
	go m.readLoop(gen, conn, onEvent, onErr)
}

func (m *Manager) readLoop(gen int, conn Conn, onEvent func(Event), onErr func(error)) {
	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			m.transportDown(gen, err)
			return
		}

		event, derr := m.dispatcher.Handle(raw)
		if derr != nil {
			// Malformed frame: recovered locally, connection stays open.
			if onErr != nil {
				onErr(derr)
			}
			continue
		}
		if onEvent != nil {
			onEvent(event)
		}
	}
}

// transportDown handles a closed or failed transport: completes an explicit
// disconnect, schedules a reconnect, or goes terminal at the ceiling.
func (m *Manager) transportDown(gen int, cause error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}

	switch m.state {
	case StateClosing:
		m.setState(StateClosed)
		m.mu.Unlock()
		m.logger.Info().Msg("channel closed")
		return
	case StateClosed, StateIdle:
		m.mu.Unlock()
		return
	}

	// Was Connecting or Open with auto-reconnect in force.
	if m.attempt >= MaxReconnectAttempts {
		attempts := m.attempt
		onErr := m.onErr
		m.setState(StateClosed)
		m.mu.Unlock()

		terminal := &ReconnectExhaustedError{Attempts: attempts, Cause: cause}
		m.logger.Error().Err(cause).Int("attempts", attempts).Msg("reconnect ceiling reached, channel closed")
		if onErr != nil {
			onErr(terminal)
		}
		return
	}

	delay := m.policy.DelayFor(m.attempt)
	m.setState(StateReconnecting)
	m.timer = time.AfterFunc(delay, func() { m.retry(gen) })
	m.mu.Unlock()

	m.logger.Warn().Err(cause).Dur("delay", delay).Int("attempt", m.ReconnectAttempts()).Msg("channel down, reconnect scheduled")
}

func (m *Manager) retry(gen int) {
	m.mu.Lock()
	if gen != m.gen || m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.attempt++
	reconnectsTotal.Inc()
	m.setState(StateConnecting)
	m.mu.Unlock()

	m.dial(gen)
}
