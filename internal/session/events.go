// Package session tracks the transport session's authentication lifecycle
// and recovers from transient failures with bounded reconnects.
package session

import "context"

// EventType enumerates transport lifecycle and inbound signals.
type EventType string

const (
	EventQR            EventType = "qr"
	EventAuthenticated EventType = "authenticated"
	EventReady         EventType = "ready"
	EventDisconnected  EventType = "disconnected"
	EventError         EventType = "error"
	EventMessage       EventType = "message"
)

// ReasonLogout marks a deliberate logout; the session is destroyed
// permanently instead of reconnecting.
const ReasonLogout = "LOGOUT"

// InboundMessage is one message delivered by the transport.
type InboundMessage struct {
	Address     string
	DisplayName string
	Body        string
	FromSelf    bool
}

// Event is one transport occurrence consumed by the dispatcher loop.
type Event struct {
	Type    EventType
	QRCode  string
	Reason  string
	Err     error
	Message *InboundMessage
}

// Client is the transport session collaborator. Start hands back the event
// stream; the channel closes when the underlying session ends. Destroy
// tears the client down; with wipeCredentials it also removes persisted
// credentials so the next client starts unauthenticated.
type Client interface {
	Start(ctx context.Context) (<-chan Event, error)
	Send(address, text string) error
	Destroy(wipeCredentials bool) error
}

// ClientFactory builds a fresh client, used on first start and on every
// reconnect.
type ClientFactory func() (Client, error)

// Handler consumes one qualifying inbound message. The dispatcher invokes
// it synchronously per event, preserving per-event ordering.
type Handler func(ctx context.Context, msg InboundMessage)
