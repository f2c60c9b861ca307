package election

import (
	"context"
)

// LeadershipCallback is a function invoked when leadership status changes.
// The callback is invoked synchronously - implementations should return
// quickly to avoid delaying the campaign loop. Long-running operations should
// be spawned in a separate goroutine.
type LeadershipCallback func(ctx context.Context, isLeader bool)

// Elector defines the interface for leader election implementations.
type Elector interface {
	// Start opens the coordination session, registers this contender and
	// enters the campaign queue. It blocks until the session is connected or
	// the retry policy is exhausted.
	Start(ctx context.Context) error

	// Stop releases the roster watch, the campaign and the session,
	// best-effort.
	Stop(ctx context.Context) error

	// IsLeader returns true if this contender currently holds the exclusive
	// campaign. It never blocks.
	IsLeader() bool

	// RelinquishLeadership voluntarily surrenders leadership and re-enters
	// the campaign queue. Calling it when not leader is a no-op.
	RelinquishLeadership()

	// Contenders returns a snapshot of the live roster with the current
	// winner marked.
	Contenders(ctx context.Context) ([]Contender, error)

	// ContenderID returns the identity this process registered under.
	ContenderID() string

	// OnLeadershipChange registers a callback invoked synchronously on every
	// leadership transition, in registration order.
	OnLeadershipChange(callback LeadershipCallback)
}
