package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/xaenox/persona-relay/internal/metrics"
	"go.uber.org/zap"
)

// State of the transport session lifecycle.
type State string

const (
	StateDisabled     State = "disabled"
	StateInitializing State = "initializing"
	StateAwaitingScan State = "awaiting_scan"
	StateAuthed       State = "authenticated"
	StateReady        State = "ready"
	StateDisconnected State = "disconnected"
)

// ErrReconnectExhausted signals that the reconnect ceiling was reached.
// It is surfaced as degraded status, never as a process failure.
var ErrReconnectExhausted = errors.New("session reconnect attempts exhausted")

// fatalErrorMarker identifies the class of transport errors that require a
// full client rebuild rather than waiting for a disconnect event.
const fatalErrorMarker = "execution context destroyed"

// Config tunes the state machine.
type Config struct {
	Enabled           bool
	ReconnectCeiling  int
	DisconnectBackoff time.Duration
	ErrorBackoff      time.Duration
	QRValidity        time.Duration
}

// DefaultConfig mirrors the documented operational defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		ReconnectCeiling:  3,
		DisconnectBackoff: 5 * time.Second,
		ErrorBackoff:      3 * time.Second,
		QRValidity:        5 * time.Minute,
	}
}

// Status is a pure projection of the session state plus independent
// pipeline readiness. Reading it has no side effects.
type Status struct {
	State         State  `json:"state"`
	QRPending     bool   `json:"qr_pending"`
	Reconnects    int    `json:"reconnects"`
	Degraded      bool   `json:"degraded"`
	PipelineReady bool   `json:"pipeline_ready"`
	LastReason    string `json:"last_reason,omitempty"`
}

// Manager owns the session lifecycle: it builds clients via the factory,
// consumes their event streams, gates message handling on readiness and
// reconnects with a fixed backoff up to the ceiling.
type Manager struct {
	cfg           Config
	factory       ClientFactory
	handler       Handler
	pipelineReady func() bool
	metrics       *metrics.Metrics
	logger        *zap.Logger

	mu         sync.Mutex
	state      State
	client     Client
	qr         string
	qrTimer    *time.Timer
	reconnects int
	lastReason string
	degraded   bool
}

func NewManager(cfg Config, factory ClientFactory, handler Handler, pipelineReady func() bool, m *metrics.Metrics, logger *zap.Logger) *Manager {
	if cfg.ReconnectCeiling <= 0 {
		cfg.ReconnectCeiling = 3
	}
	if cfg.DisconnectBackoff <= 0 {
		cfg.DisconnectBackoff = 5 * time.Second
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 3 * time.Second
	}
	if cfg.QRValidity <= 0 {
		cfg.QRValidity = 5 * time.Minute
	}
	state := StateDisabled
	if cfg.Enabled {
		state = StateInitializing
	}
	return &Manager{
		cfg:           cfg,
		factory:       factory,
		handler:       handler,
		pipelineReady: pipelineReady,
		metrics:       m,
		logger:        logger,
		state:         state,
	}
}

// Status returns the current projection.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	ready := false
	if m.pipelineReady != nil {
		ready = m.pipelineReady()
	}
	return Status{
		State:         m.state,
		QRPending:     m.qr != "",
		Reconnects:    m.reconnects,
		Degraded:      m.degraded,
		PipelineReady: ready,
		LastReason:    m.lastReason,
	}
}

// Send delivers text through the current client. Fails when no session is
// up.
func (m *Manager) Send(address, text string) error {
	m.mu.Lock()
	client := m.client
	m.mu.Unlock()
	if client == nil {
		return errors.New("no transport session")
	}
	return client.Send(address, text)
}

// Run drives the session until the context is cancelled, logout, or the
// reconnect ceiling is reached. It returns nil on every orderly stop;
// exhaustion leaves the manager in degraded Disconnected state rather than
// failing the process.
func (m *Manager) Run(ctx context.Context) error {
	if !m.cfg.Enabled {
		m.logger.Info("transport session disabled")
		return nil
	}

	for {
		m.setState(StateInitializing)

		client, err := m.factory()
		if err != nil {
			m.logger.Error("failed to build transport client", zap.Error(err))
			if !m.backoffOrGiveUp(ctx, m.cfg.ErrorBackoff) {
				return nil
			}
			continue
		}
		m.mu.Lock()
		m.client = client
		m.mu.Unlock()

		events, err := client.Start(ctx)
		if err != nil {
			m.logger.Error("failed to start transport client", zap.Error(err))
			m.teardown(false)
			if !m.backoffOrGiveUp(ctx, m.cfg.ErrorBackoff) {
				return nil
			}
			continue
		}

		again, backoff := m.consume(ctx, events)
		m.teardown(false)
		if !again {
			return nil
		}
		if !m.backoffOrGiveUp(ctx, backoff) {
			return nil
		}
	}
}

// consume processes one client's event stream. It returns whether a
// reconnect should be attempted and with which backoff.
func (m *Manager) consume(ctx context.Context, events <-chan Event) (reconnect bool, backoff time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return false, 0
		case ev, ok := <-events:
			if !ok {
				// Stream ended without a disconnect event; treat as one.
				m.noteDisconnect("STREAM_CLOSED")
				return true, m.cfg.DisconnectBackoff
			}
			switch ev.Type {
			case EventQR:
				m.onQR(ev.QRCode)
			case EventAuthenticated:
				m.onAuthenticated()
			case EventReady:
				m.onReady()
			case EventDisconnected:
				m.noteDisconnect(ev.Reason)
				if ev.Reason == ReasonLogout {
					// User intent: destroy session and credentials, stop.
					m.teardown(true)
					m.logger.Info("logged out; session destroyed")
					return false, 0
				}
				return true, m.cfg.DisconnectBackoff
			case EventError:
				if ev.Err != nil && strings.Contains(ev.Err.Error(), fatalErrorMarker) {
					m.logger.Error("unrecoverable transport error", zap.Error(ev.Err))
					m.noteDisconnect("FATAL_ERROR")
					return true, m.cfg.ErrorBackoff
				}
				m.logger.Warn("transport error", zap.Error(ev.Err))
			case EventMessage:
				m.dispatch(ctx, ev.Message)
			}
		}
	}
}

func (m *Manager) dispatch(ctx context.Context, msg *InboundMessage) {
	if msg == nil || msg.FromSelf || strings.TrimSpace(msg.Body) == "" {
		return
	}
	m.mu.Lock()
	ready := m.state == StateReady
	m.mu.Unlock()
	if !ready {
		m.logger.Debug("dropping message before session ready",
			zap.String("address", msg.Address))
		return
	}
	m.handler(ctx, *msg)
}

func (m *Manager) onQR(code string) {
	m.mu.Lock()
	m.state = StateAwaitingScan
	m.qr = code
	m.reconnects = 0
	m.degraded = false
	if m.qrTimer != nil {
		m.qrTimer.Stop()
	}
	// The credential expires unscanned; revert so a fresh one is issued.
	m.qrTimer = time.AfterFunc(m.cfg.QRValidity, m.expireQR)
	m.mu.Unlock()
	m.logger.Info("QR credential issued, awaiting scan")
}

func (m *Manager) expireQR() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateAwaitingScan {
		return
	}
	m.qr = ""
	m.state = StateInitializing
	m.logger.Warn("QR credential expired before scan")
}

func (m *Manager) onAuthenticated() {
	m.mu.Lock()
	m.state = StateAuthed
	m.qr = ""
	m.reconnects = 0
	m.degraded = false
	if m.qrTimer != nil {
		m.qrTimer.Stop()
		m.qrTimer = nil
	}
	m.mu.Unlock()
	m.logger.Info("session authenticated")
}

func (m *Manager) onReady() {
	m.mu.Lock()
	m.state = StateReady
	m.reconnects = 0
	m.degraded = false
	m.mu.Unlock()
	m.logger.Info("session ready")
}

func (m *Manager) noteDisconnect(reason string) {
	m.mu.Lock()
	m.state = StateDisconnected
	m.lastReason = reason
	m.qr = ""
	if m.qrTimer != nil {
		m.qrTimer.Stop()
		m.qrTimer = nil
	}
	m.mu.Unlock()
	m.logger.Warn("session disconnected", zap.String("reason", reason))
}

// backoffOrGiveUp counts one failure episode and waits the configured
// delay before the next rebuild. It returns false when the ceiling is
// reached or the context is cancelled; reaching the ceiling flips the
// manager into degraded mode permanently for this process lifetime.
func (m *Manager) backoffOrGiveUp(ctx context.Context, delay time.Duration) bool {
	m.mu.Lock()
	m.reconnects++
	if m.reconnects >= m.cfg.ReconnectCeiling {
		m.degraded = true
		m.state = StateDisconnected
		m.mu.Unlock()
		m.logger.Error("giving up on session", zap.Error(ErrReconnectExhausted),
			zap.Int("attempts", m.cfg.ReconnectCeiling))
		return false
	}
	attempt := m.reconnects
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SessionReconnects.Inc()
	}
	m.logger.Info("reconnecting transport session",
		zap.Int("attempt", attempt),
		zap.Duration("backoff", delay))

	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

func (m *Manager) teardown(wipeCredentials bool) {
	m.mu.Lock()
	client := m.client
	m.client = nil
	if m.qrTimer != nil {
		m.qrTimer.Stop()
		m.qrTimer = nil
	}
	m.qr = ""
	m.mu.Unlock()

	if client != nil {
		if err := client.Destroy(wipeCredentials); err != nil {
			m.logger.Error("failed to destroy transport client", zap.Error(err))
		}
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}
