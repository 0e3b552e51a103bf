package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeClient feeds scripted events to the manager and records teardown.
type fakeClient struct {
	mu        sync.Mutex
	events    chan Event
	destroyed bool
	wiped     bool
	sent      []string
}

func newFakeClient() *fakeClient {
	return &fakeClient{events: make(chan Event, 16)}
}

func (c *fakeClient) Start(ctx context.Context) (<-chan Event, error) {
	return c.events, nil
}

func (c *fakeClient) Send(address, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, address+": "+text)
	return nil
}

func (c *fakeClient) Destroy(wipeCredentials bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.destroyed = true
	c.wiped = c.wiped || wipeCredentials
	return nil
}

func (c *fakeClient) wasWiped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wiped
}

type fakeFactory struct {
	mu      sync.Mutex
	clients []*fakeClient
}

func (f *fakeFactory) build() (Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := newFakeClient()
	f.clients = append(f.clients, c)
	return c, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *fakeFactory) client(i int) *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients[i]
}

func testConfig() Config {
	return Config{
		Enabled:           true,
		ReconnectCeiling:  3,
		DisconnectBackoff: 10 * time.Millisecond,
		ErrorBackoff:      5 * time.Millisecond,
		QRValidity:        30 * time.Millisecond,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func startManager(t *testing.T, cfg Config, factory ClientFactory, handler Handler) (*Manager, context.CancelFunc, chan error) {
	t.Helper()
	if handler == nil {
		handler = func(context.Context, InboundMessage) {}
	}
	m := NewManager(cfg, factory, handler, func() bool { return true }, nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	return m, cancel, done
}

func TestDisabledSession(t *testing.T) {
	f := &fakeFactory{}
	cfg := testConfig()
	cfg.Enabled = false
	m := NewManager(cfg, f.build, func(context.Context, InboundMessage) {}, nil, nil, zap.NewNop())

	require.NoError(t, m.Run(context.Background()))
	assert.Equal(t, StateDisabled, m.Status().State)
	assert.Zero(t, f.count())
}

func TestLifecycleToReady(t *testing.T) {
	f := &fakeFactory{}
	m, cancel, done := startManager(t, testConfig(), f.build, nil)
	defer cancel()

	waitFor(t, func() bool { return f.count() == 1 })
	c := f.client(0)

	c.events <- Event{Type: EventQR, QRCode: "qr-1"}
	waitFor(t, func() bool { return m.Status().State == StateAwaitingScan })
	assert.True(t, m.Status().QRPending)

	c.events <- Event{Type: EventAuthenticated}
	waitFor(t, func() bool { return m.Status().State == StateAuthed })
	assert.False(t, m.Status().QRPending)

	c.events <- Event{Type: EventReady}
	waitFor(t, func() bool { return m.Status().State == StateReady })
	assert.True(t, m.Status().PipelineReady)

	cancel()
	require.NoError(t, <-done)
}

func TestQRExpiryRevertsToInitializing(t *testing.T) {
	f := &fakeFactory{}
	m, cancel, _ := startManager(t, testConfig(), f.build, nil)
	defer cancel()

	waitFor(t, func() bool { return f.count() == 1 })
	f.client(0).events <- Event{Type: EventQR, QRCode: "qr-1"}
	waitFor(t, func() bool { return m.Status().State == StateAwaitingScan })

	// Unscanned past validity: credential cleared, state reverts.
	waitFor(t, func() bool { return m.Status().State == StateInitializing })
	assert.False(t, m.Status().QRPending)
}

func TestAuthCancelsQRExpiry(t *testing.T) {
	f := &fakeFactory{}
	m, cancel, _ := startManager(t, testConfig(), f.build, nil)
	defer cancel()

	waitFor(t, func() bool { return f.count() == 1 })
	c := f.client(0)
	c.events <- Event{Type: EventQR, QRCode: "qr-1"}
	waitFor(t, func() bool { return m.Status().State == StateAwaitingScan })
	c.events <- Event{Type: EventAuthenticated}
	waitFor(t, func() bool { return m.Status().State == StateAuthed })

	// Past the validity window the state must not bounce back.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateAuthed, m.Status().State)
}

func TestLogoutIsTerminalAndWipesCredentials(t *testing.T) {
	f := &fakeFactory{}
	m, cancel, done := startManager(t, testConfig(), f.build, nil)
	defer cancel()

	waitFor(t, func() bool { return f.count() == 1 })
	c := f.client(0)
	c.events <- Event{Type: EventReady}
	waitFor(t, func() bool { return m.Status().State == StateReady })

	c.events <- Event{Type: EventDisconnected, Reason: ReasonLogout}
	require.NoError(t, <-done)

	assert.Equal(t, StateDisconnected, m.Status().State)
	assert.True(t, c.wasWiped())
	assert.Equal(t, 1, f.count(), "no reconnect after logout")
}

func TestReconnectCeilingDegrades(t *testing.T) {
	f := &fakeFactory{}
	m, cancel, done := startManager(t, testConfig(), f.build, nil)
	defer cancel()

	// Three NETWORK disconnects in a row exhaust the ceiling of 3.
	for i := 0; ; i++ {
		waitFor(t, func() bool { return f.count() > i })
		f.client(i).events <- Event{Type: EventDisconnected, Reason: "NETWORK"}
		status := m.Status()
		if status.Degraded {
			break
		}
		select {
		case err := <-done:
			done <- err // buffered; keep the result available for the receive below
			goto finished
		case <-time.After(5 * time.Millisecond):
		}
	}
finished:
	require.NoError(t, <-done)

	status := m.Status()
	assert.Equal(t, StateDisconnected, status.State)
	assert.True(t, status.Degraded)
	assert.Equal(t, 3, status.Reconnects)
	assert.Equal(t, 3, f.count(), "two rebuilds then permanent stop")
}

func TestFatalTransportErrorTriggersRebuild(t *testing.T) {
	f := &fakeFactory{}
	m, cancel, _ := startManager(t, testConfig(), f.build, nil)
	defer cancel()

	waitFor(t, func() bool { return f.count() == 1 })
	f.client(0).events <- Event{Type: EventError, Err: errors.New("Protocol error: execution context destroyed")}

	waitFor(t, func() bool { return f.count() == 2 })
	assert.Equal(t, "FATAL_ERROR", m.Status().LastReason)
}

func TestReadyStateResetsReconnectCounter(t *testing.T) {
	f := &fakeFactory{}
	m, cancel, _ := startManager(t, testConfig(), f.build, nil)
	defer cancel()

	waitFor(t, func() bool { return f.count() == 1 })
	f.client(0).events <- Event{Type: EventDisconnected, Reason: "NETWORK"}
	waitFor(t, func() bool { return f.count() == 2 })
	assert.Equal(t, 1, m.Status().Reconnects)

	f.client(1).events <- Event{Type: EventReady}
	waitFor(t, func() bool { return m.Status().State == StateReady })
	assert.Zero(t, m.Status().Reconnects)
}

func TestDispatchGatesOnReadiness(t *testing.T) {
	f := &fakeFactory{}
	var mu sync.Mutex
	var handled []string
	handler := func(_ context.Context, msg InboundMessage) {
		mu.Lock()
		handled = append(handled, msg.Body)
		mu.Unlock()
	}
	m, cancel, _ := startManager(t, testConfig(), f.build, handler)
	defer cancel()

	waitFor(t, func() bool { return f.count() == 1 })
	c := f.client(0)

	// Before Ready: dropped.
	c.events <- Event{Type: EventMessage, Message: &InboundMessage{Address: "+1", Body: "too early"}}
	c.events <- Event{Type: EventReady}
	waitFor(t, func() bool { return m.Status().State == StateReady })

	// Self and empty messages never reach the handler.
	c.events <- Event{Type: EventMessage, Message: &InboundMessage{Address: "+1", Body: "from me", FromSelf: true}}
	c.events <- Event{Type: EventMessage, Message: &InboundMessage{Address: "+1", Body: "   "}}
	c.events <- Event{Type: EventMessage, Message: &InboundMessage{Address: "+1", Body: "hello"}}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(handled) == 1
	})
	mu.Lock()
	assert.Equal(t, []string{"hello"}, handled)
	mu.Unlock()
}
