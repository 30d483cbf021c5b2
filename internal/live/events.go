// Package live connects to a live room's event feed and keeps the
// connection alive.
package live

import (
	"context"
	"fmt"
)

// Event type names, also used as metric labels.
const (
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
	EventChat         = "chat"
	EventGift         = "gift"
)

// Event is one of Connected, Disconnected, Chat or Gift.
type Event interface {
	Type() string
}

// Connected is emitted once per successful connect.
type Connected struct {
	DisplayName string
}

// Disconnected is emitted when an established feed ends.
type Disconnected struct {
	Reason string
}

// Chat is a viewer comment.
type Chat struct {
	User string
	Text string
}

// Gift is a gift sent by a viewer.
type Gift struct {
	User     string
	GiftName string
	Count    int
}

func (Connected) Type() string    { return EventConnected }
func (Disconnected) Type() string { return EventDisconnected }
func (Chat) Type() string         { return EventChat }
func (Gift) Type() string         { return EventGift }

// RoomInfo describes the room a session joined.
type RoomInfo struct {
	RoomID      string
	DisplayName string
}

// Session is a connection to a live room feed. Events returns the same
// channel for the session's whole life, across reconnects.
type Session interface {
	Connect(ctx context.Context) (RoomInfo, error)
	Events() <-chan Event
	Close() error
}

// Handler consumes events. It may be called from more than one goroutine.
type Handler interface {
	Handle(ctx context.Context, ev Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev Event)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, ev Event) {
	f(ctx, ev)
}

// StatusError is a connect failure that carries the feed's HTTP status.
type StatusError struct {
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v (status %d)", e.Err, e.StatusCode)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}
