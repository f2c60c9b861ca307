// Package coordination defines the facade between the election core and the
// coordination service. The core only ever sees this interface; the concrete
// session handling lives in the backend implementations.
package coordination

import (
	"context"
)

// ChildEventType classifies a change to the set of registered contenders.
type ChildEventType int

const (
	ChildAdded ChildEventType = iota
	ChildUpdated
	ChildRemoved
)

func (t ChildEventType) String() string {
	switch t {
	case ChildAdded:
		return "added"
	case ChildUpdated:
		return "updated"
	case ChildRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// ChildEvent is a single change to the election roster. ContenderID carries the
// decoded payload of the affected registration.
type ChildEvent struct {
	Type        ChildEventType
	ContenderID string
}

// Participant is one entry in the live roster, in registration order.
type Participant struct {
	ID     string
	Leader bool
}

// Client is a single session to the coordination service, bound to one
// election path. A Client is single-use: once closed it cannot be reconnected,
// a fresh one must be created through the Factory.
type Client interface {
	// Connect establishes the session, blocking until connected or the retry
	// policy is exhausted.
	Connect(ctx context.Context) error

	// Close tears the session down, releasing any ephemeral registrations
	// owned by it.
	Close() error

	// Campaign registers this contender under the election path and blocks
	// until it holds the exclusive leadership slot, the context is cancelled,
	// or the session is lost.
	Campaign(ctx context.Context, contenderID string) error

	// Resign surrenders the leadership slot and removes the registration
	// created by the last Campaign call.
	Resign(ctx context.Context) error

	// Participants returns the currently registered contenders in
	// registration order. The current campaign winner, if any, is marked.
	Participants(ctx context.Context) ([]Participant, error)

	// WatchChildren emits one event per roster change, starting with an
	// added event for every registration present when the watch begins.
	// The channel is closed when the context is cancelled or the session
	// is lost.
	WatchChildren(ctx context.Context) (<-chan ChildEvent, error)

	// States emits connection-state transitions for this session.
	States() <-chan ConnectionState
}

// Factory creates fresh clients. The election coordinator calls New once per
// start cycle so every recovery gets a new session and a new registration.
type Factory interface {
	New() (Client, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func() (Client, error)

func (f FactoryFunc) New() (Client, error) {
	return f()
}
