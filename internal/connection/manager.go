package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/ksucu-mc/chatkit/internal/auth"
	"github.com/ksucu-mc/chatkit/internal/backoff"
	"github.com/ksucu-mc/chatkit/internal/chaterr"
	"github.com/ksucu-mc/chatkit/internal/observability"
	"github.com/ksucu-mc/chatkit/internal/transport"
	"github.com/ksucu-mc/chatkit/pkg/models"
)

// EventFunc receives inbound envelopes.
type EventFunc func(models.Envelope)

// StateFunc receives lifecycle transitions.
type StateFunc func(State)

// ErrorFunc receives connection-level errors, e.g. reconnect
// exhaustion.
type ErrorFunc func(error)

// Config wires a Manager.
type Config struct {
	Channel     transport.EventChannel
	Credentials auth.CredentialProvider
	Policy      backoff.Policy
	Logger      *slog.Logger
	Metrics     *observability.Metrics
}

// Manager owns the event channel's lifecycle. One Manager serves one
// session; it is created on chat open and closed on teardown.
type Manager struct {
	channel transport.EventChannel
	creds   auth.CredentialProvider
	policy  backoff.Policy
	logger  *slog.Logger
	metrics *observability.Metrics

	mu              sync.Mutex
	state           State
	cancelReconnect context.CancelFunc
	loopStarted     bool
	done            chan struct{}

	subMu     sync.Mutex
	nextSubID int
	eventSubs map[int]EventFunc
	stateSubs map[int]StateFunc
	errorSubs map[int]ErrorFunc
}

// NewManager creates a manager in the Idle state.
func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	policy := cfg.Policy
	if policy.Interval <= 0 {
		policy = backoff.DefaultPolicy()
	}
	return &Manager{
		channel:   cfg.Channel,
		creds:     cfg.Credentials,
		policy:    policy,
		logger:    logger,
		metrics:   cfg.Metrics,
		state:     StateIdle,
		done:      make(chan struct{}),
		eventSubs: make(map[int]EventFunc),
		stateSubs: make(map[int]StateFunc),
		errorSubs: make(map[int]ErrorFunc),
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect resolves a credential and performs the handshake. It fails
// with an authentication error when no valid credential is available
// (the provider performs one best-effort refresh first) and a network
// error on transport failure. Connecting from Failed is the manual
// recovery path; connecting while already connected is a no-op.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateConnected, StateAuthenticating, StateReconnecting:
		m.mu.Unlock()
		return nil
	}
	m.setStateLocked(StateAuthenticating)
	m.mu.Unlock()
	m.notifyState(StateAuthenticating)

	if err := m.dial(ctx); err != nil {
		m.mu.Lock()
		m.setStateLocked(StateIdle)
		m.mu.Unlock()
		m.notifyState(StateIdle)
		return err
	}

	m.mu.Lock()
	m.setStateLocked(StateConnected)
	if !m.loopStarted {
		m.loopStarted = true
		go m.dispatchLoop()
	}
	m.mu.Unlock()
	m.notifyState(StateConnected)
	return nil
}

// dial resolves the credential and opens the channel once.
func (m *Manager) dial(ctx context.Context) error {
	credential, err := m.creds.Credential(ctx)
	if err != nil {
		return chaterr.Authentication("no valid credential", err)
	}

	if err := m.channel.Connect(ctx, credential); err != nil {
		if errors.Is(err, transport.ErrUnauthorized) {
			return chaterr.Authentication("handshake rejected credential", err)
		}
		return chaterr.Network("connect failed", err)
	}
	if m.metrics != nil {
		m.metrics.Connected.Set(1)
	}
	return nil
}

// Disconnect tears the connection down and lands in Idle. Idempotent
// and safe from any state, including before a successful Connect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.cancelReconnect != nil {
		m.cancelReconnect()
		m.cancelReconnect = nil
	}
	changed := m.setStateLocked(StateIdle)
	m.mu.Unlock()
	if changed {
		m.notifyState(StateIdle)
	}

	_ = m.channel.Close()
	if m.metrics != nil {
		m.metrics.Connected.Set(0)
	}
}

// Close disconnects and stops the dispatch loop. The manager cannot be
// reused afterwards.
func (m *Manager) Close() {
	m.Disconnect()
	m.mu.Lock()
	select {
	case <-m.done:
	default:
		close(m.done)
	}
	m.mu.Unlock()
}

// Emit sends one outbound command. Commands are silently dropped in
// any state but Connected; the client does not queue across reconnects.
func (m *Manager) Emit(event models.EventName, payload any) error {
	m.mu.Lock()
	connected := m.state == StateConnected
	m.mu.Unlock()
	if !connected {
		m.logger.Debug("dropping command while not connected", "event", event)
		return nil
	}

	if err := m.channel.Send(event, payload); err != nil {
		if errors.Is(err, transport.ErrNotConnected) {
			// Lost the race with a drop; same policy as above.
			m.logger.Debug("dropping command, channel closed mid-send", "event", event)
			return nil
		}
		return chaterr.Network("send failed", err)
	}
	return nil
}

// OnEvent subscribes to inbound envelopes; the returned func
// unsubscribes.
func (m *Manager) OnEvent(fn EventFunc) func() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := m.nextSubID
	m.nextSubID++
	m.eventSubs[id] = fn
	return func() {
		m.subMu.Lock()
		delete(m.eventSubs, id)
		m.subMu.Unlock()
	}
}

// OnStateChange subscribes to lifecycle transitions.
func (m *Manager) OnStateChange(fn StateFunc) func() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := m.nextSubID
	m.nextSubID++
	m.stateSubs[id] = fn
	return func() {
		m.subMu.Lock()
		delete(m.stateSubs, id)
		m.subMu.Unlock()
	}
}

// OnError subscribes to connection-level errors.
func (m *Manager) OnError(fn ErrorFunc) func() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := m.nextSubID
	m.nextSubID++
	m.errorSubs[id] = fn
	return func() {
		m.subMu.Lock()
		delete(m.errorSubs, id)
		m.subMu.Unlock()
	}
}

// dispatchLoop fans inbound envelopes out to subscribers and reacts to
// connection closes. It runs for the manager's lifetime.
func (m *Manager) dispatchLoop() {
	for {
		select {
		case <-m.done:
			return
		case envelope, ok := <-m.channel.Events():
			if !ok {
				return
			}
			m.fanoutEvent(envelope)
		case info := <-m.channel.Closed():
			m.handleClose(info)
		}
	}
}

// handleClose reacts to the end of an open connection. Local closes go
// to Idle; server-initiated closes and transport drops both trigger
// reconnection.
func (m *Manager) handleClose(info transport.CloseInfo) {
	if m.metrics != nil {
		m.metrics.Connected.Set(0)
	}

	m.mu.Lock()
	if info.Reason == transport.CloseLocal || m.state == StateIdle {
		// Disconnect already moved the state.
		m.mu.Unlock()
		return
	}
	if m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	m.setStateLocked(StateDisconnected)
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelReconnect = cancel
	m.mu.Unlock()
	m.notifyState(StateDisconnected)

	m.mu.Lock()
	if m.state != StateDisconnected {
		// Disconnect raced us and landed in Idle.
		m.mu.Unlock()
		cancel()
		return
	}
	m.setStateLocked(StateReconnecting)
	m.mu.Unlock()
	m.notifyState(StateReconnecting)

	m.logger.Warn("connection lost", "server_initiated", info.Reason == transport.CloseServer, "error", info.Err)
	go m.reconnectLoop(ctx)
}

// reconnectLoop retries with linear backoff up to the policy cap, then
// gives up into Failed.
func (m *Manager) reconnectLoop(ctx context.Context) {
	var lastErr error
	for attempt := 1; !m.policy.Exhausted(attempt); attempt++ {
		if err := m.policy.Sleep(ctx, attempt); err != nil {
			return
		}
		if m.metrics != nil {
			m.metrics.ReconnectAttempts.Inc()
		}

		lastErr = m.dial(ctx)
		if lastErr == nil {
			m.mu.Lock()
			if ctx.Err() != nil || m.state != StateReconnecting {
				// Disconnect landed while the dial was in flight; it
				// wins, and the connection the dial just opened must
				// not leak.
				m.mu.Unlock()
				_ = m.channel.Close()
				if m.metrics != nil {
					m.metrics.Connected.Set(0)
				}
				return
			}
			m.cancelReconnect = nil
			m.setStateLocked(StateConnected)
			m.mu.Unlock()
			m.notifyState(StateConnected)
			m.logger.Info("reconnected", "attempt", attempt)
			return
		}
		if ctx.Err() != nil {
			return
		}
		m.logger.Warn("reconnect attempt failed", "attempt", attempt, "error", lastErr)
	}

	m.mu.Lock()
	m.cancelReconnect = nil
	m.setStateLocked(StateFailed)
	m.mu.Unlock()
	m.notifyState(StateFailed)

	err := chaterr.ReconnectExhausted("reconnect attempts exhausted", lastErr)
	m.logger.Error("giving up on reconnection", "max_attempts", m.policy.MaxAttempts)
	m.fanoutError(err)
}

// setStateLocked records the transition while the caller holds m.mu.
// Returns true if the state actually changed; the caller notifies via
// notifyState after releasing the lock so subscribers may call back
// into the manager.
func (m *Manager) setStateLocked(state State) bool {
	if m.state == state {
		return false
	}
	m.state = state
	return true
}

func (m *Manager) notifyState(state State) {
	m.subMu.Lock()
	subs := make([]StateFunc, 0, len(m.stateSubs))
	for _, fn := range m.stateSubs {
		subs = append(subs, fn)
	}
	m.subMu.Unlock()
	for _, fn := range subs {
		fn(state)
	}
}

func (m *Manager) fanoutEvent(envelope models.Envelope) {
	m.subMu.Lock()
	subs := make([]EventFunc, 0, len(m.eventSubs))
	for _, fn := range m.eventSubs {
		subs = append(subs, fn)
	}
	m.subMu.Unlock()
	for _, fn := range subs {
		fn(envelope)
	}
}

func (m *Manager) fanoutError(err error) {
	m.subMu.Lock()
	subs := make([]ErrorFunc, 0, len(m.errorSubs))
	for _, fn := range m.errorSubs {
		subs = append(subs, fn)
	}
	m.subMu.Unlock()
	for _, fn := range subs {
		fn(err)
	}
}
