// Package election implements single-leader election among a dynamic set of
// contenders, coordinated through an external ensemble reached via the
// coordination facade. The coordinator reconciles three independently
// delivered signals - session liveness, campaign grants and roster child
// events - into one atomically readable "am I leader" flag, and recovers by
// tearing the whole election state down and rebuilding it from scratch.
package election

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/clusterkit/elector/pkg/common"
	"github.com/clusterkit/elector/pkg/coordination"
)

const resignTimeout = 5 * time.Second

// Coordinator is the single point of truth for "is this process leader".
type Coordinator struct {
	log     logrus.FieldLogger
	config  *Config
	factory coordination.Factory

	leader atomic.Bool

	// lifecycleMu serializes Start, Stop and recovery restarts, which can
	// race between the caller, the roster watcher and connection-state
	// handling.
	lifecycleMu    sync.Mutex
	running        bool
	stopped        bool
	cancel         context.CancelFunc
	campaignCancel context.CancelFunc
	wg             sync.WaitGroup
	lastRestart    time.Time
	recovering     atomic.Bool

	clientMu sync.RWMutex
	client   coordination.Client

	holdMu sync.Mutex
	holdCh chan struct{}

	// expectedRemovals counts roster removals of our own registration that
	// we caused ourselves by resigning. Only removals beyond this count are
	// treated as the registration vanishing unexpectedly.
	expectedRemovals atomic.Int64

	callbacksMu sync.RWMutex
	callbacks   []LeadershipCallback
}

// NewCoordinator validates the configuration and creates a coordinator. The
// factory is asked for a fresh client on every start cycle so each recovery
// gets a new session and a new ephemeral registration.
func NewCoordinator(log logrus.FieldLogger, config *Config, factory coordination.Factory) (*Coordinator, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid election config: %w", err)
	}

	return &Coordinator{
		log: log.WithField("component", "election").
			WithField("contender_id", config.ContenderID),
		config:  config,
		factory: factory,
	}, nil
}

// Start opens the coordination session, enters the campaign queue and begins
// watching the roster. It blocks until the session is connected or the retry
// policy is exhausted, and is safe to call again after Stop.
func (c *Coordinator) Start(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	c.stopped = false

	return c.startLocked(ctx)
}

func (c *Coordinator) startLocked(ctx context.Context) error {
	if c.running {
		return nil
	}

	c.log.WithField("root_path", c.config.RootPath).Info("Starting election coordinator")

	client, err := c.connect(ctx)
	if err != nil {
		common.ElectionErrors.WithLabelValues(c.config.ContenderID, "connect").Inc()

		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	campaignCtx, campaignCancel := context.WithCancel(runCtx)

	events, err := client.WatchChildren(runCtx)
	if err != nil {
		cancel()
		campaignCancel()

		if cerr := client.Close(); cerr != nil {
			c.log.WithError(cerr).Warn("Failed to close client after watch failure")
		}

		return fmt.Errorf("failed to watch election roster: %w", err)
	}

	c.clientMu.Lock()
	c.client = client
	c.clientMu.Unlock()

	c.cancel = cancel
	c.campaignCancel = campaignCancel
	c.expectedRemovals.Store(0)

	common.ElectionStatus.WithLabelValues(c.config.ContenderID).Set(0)

	c.wg.Add(3)

	go c.runCampaign(campaignCtx, client)
	go c.runRoster(runCtx, events)
	go c.runStates(runCtx, client)

	c.running = true

	c.log.Info("Election coordinator started")

	return nil
}

// connect establishes a fresh session. A transient interruption of the
// connect wait discards the half-open client and retries the whole sequence
// once before surfacing failure, so a half-initialized session is never left
// live. Ordinary connect failures, including exhaustion of the retry policy,
// surface immediately.
func (c *Coordinator) connect(ctx context.Context) (coordination.Client, error) {
	for attempt := 0; ; attempt++ {
		client, err := c.factory.New()
		if err != nil {
			return nil, fmt.Errorf("failed to create coordination client: %w", err)
		}

		err = client.Connect(ctx)
		if err == nil {
			return client, nil
		}

		if cerr := client.Close(); cerr != nil {
			c.log.WithError(cerr).Warn("Failed to discard half-open session")
		}

		// Only an interrupted wait earns the retry: a cancellation that did
		// not come from our own context. Timeouts and unreachable ensembles
		// are real failures.
		if attempt == 0 && ctx.Err() == nil && errors.Is(err, context.Canceled) {
			c.log.WithError(err).Warn("Connect interrupted, retrying session open from scratch")

			continue
		}

		return nil, fmt.Errorf("failed to connect to coordination ensemble: %w", err)
	}
}

// Stop releases the roster watch, the campaign and the session. Each release
// is best-effort, one failure never skips the others.
func (c *Coordinator) Stop(_ context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	c.stopped = true

	return c.stopLocked()
}

func (c *Coordinator) stopLocked() error {
	if !c.running {
		return nil
	}

	c.log.Info("Stopping election coordinator")

	// Cancel before unblocking the leadership hold, otherwise the campaign
	// engine can re-enter the queue in the window between the two.
	c.cancel()
	c.RelinquishLeadership()
	c.wg.Wait()

	c.clientMu.Lock()
	client := c.client
	c.client = nil
	c.clientMu.Unlock()

	if client != nil {
		if err := client.Close(); err != nil {
			c.log.WithError(err).Warn("Failed to close coordination client")
		}
	}

	c.running = false

	common.ElectionStatus.WithLabelValues(c.config.ContenderID).Set(0)

	c.log.Info("Election coordinator stopped")

	return nil
}

// IsLeader returns true if this contender currently holds the exclusive
// campaign. It never blocks.
func (c *Coordinator) IsLeader() bool {
	return c.leader.Load()
}

// ContenderID returns the identity this process registers under.
func (c *Coordinator) ContenderID() string {
	return c.config.ContenderID
}

// SetContenderID overrides the registered identity. Only allowed before Start.
func (c *Coordinator) SetContenderID(id string) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if c.running {
		return ErrAlreadyStarted
	}

	c.config.ContenderID = id
	c.log = c.log.WithField("contender_id", id)

	return nil
}

// RelinquishLeadership clears the leadership flag and unblocks the campaign
// engine's leadership hold, causing it to surrender the slot and re-enter the
// campaign queue. Calling it when not leader is a no-op.
func (c *Coordinator) RelinquishLeadership() {
	c.holdMu.Lock()
	defer c.holdMu.Unlock()

	c.leader.Store(false)

	if c.holdCh != nil {
		close(c.holdCh)
		c.holdCh = nil
	}
}

// Contenders returns a snapshot of the live roster with the current campaign
// winner marked.
func (c *Coordinator) Contenders(ctx context.Context) ([]Contender, error) {
	c.clientMu.RLock()
	client := c.client
	c.clientMu.RUnlock()

	if client == nil {
		return nil, fmt.Errorf("%w: coordinator is not started", ErrRosterQuery)
	}

	participants, err := client.Participants(ctx)
	if err != nil {
		common.ElectionErrors.WithLabelValues(c.config.ContenderID, "roster").Inc()

		return nil, fmt.Errorf("%w: %w", ErrRosterQuery, err)
	}

	contenders := make([]Contender, 0, len(participants))
	for _, p := range participants {
		contenders = append(contenders, Contender{ID: p.ID, Leader: p.Leader})
	}

	return contenders, nil
}

// OnLeadershipChange registers a callback invoked synchronously on every
// leadership transition, in registration order.
func (c *Coordinator) OnLeadershipChange(callback LeadershipCallback) {
	c.callbacksMu.Lock()
	defer c.callbacksMu.Unlock()

	c.callbacks = append(c.callbacks, callback)
}

func (c *Coordinator) notifyLeadershipChange(ctx context.Context, isLeader bool) {
	c.callbacksMu.RLock()
	callbacks := make([]LeadershipCallback, len(c.callbacks))
	copy(callbacks, c.callbacks)
	c.callbacksMu.RUnlock()

	for _, callback := range callbacks {
		callback(ctx, isLeader)
	}
}

// handleConnectionState reacts to a session-state transition. Suspended and
// Lost invalidate any claim to leadership under the current session: demote,
// cancel the running campaign attempt and rebuild the election state with a
// fresh session so the contender re-enters contention. A reconnect after a
// gap rebuilds too, unless leadership was never lost.
func (c *Coordinator) handleConnectionState(state coordination.ConnectionState) {
	common.ConnectionStateChanges.WithLabelValues(c.config.ContenderID, state.String()).Inc()

	c.log.WithField("state", state).Info("Connection state changed")

	if state.Terminal() {
		c.RelinquishLeadership()
		c.campaignCancel()

		go c.recover(state.String())

		return
	}

	if state == coordination.StateReconnected && !c.IsLeader() {
		go c.recover(state.String())
	}
}

// handleChildRemoved reacts to removal of a roster registration. Removal of
// another contender is informational. Removal of our own registration is a
// soft relinquishment when we caused it (resign) or currently lead, and a
// hard fault requiring a full restart otherwise.
func (c *Coordinator) handleChildRemoved(removedID string) {
	if removedID != c.config.ContenderID {
		c.log.WithField("removed_id", removedID).Debug("Contender left the roster")

		return
	}

	if c.IsLeader() {
		c.log.Warn("Own registration removed while leader, relinquishing")
		c.RelinquishLeadership()

		return
	}

	if c.consumeExpectedRemoval() {
		c.log.Debug("Own registration removed after resign")

		return
	}

	c.log.Warn("Own registration vanished unexpectedly, restarting election")

	go c.recover("self-removal")
}

// recover tears the election state down and rebuilds it with a fresh session
// and a fresh registration. Restarts are single-flight and rate-limited by
// the configured cooldown.
func (c *Coordinator) recover(reason string) {
	if !c.recovering.CompareAndSwap(false, true) {
		return
	}
	defer c.recovering.Store(false)

	c.lifecycleMu.Lock()
	if c.stopped {
		c.lifecycleMu.Unlock()

		return
	}

	wait := c.config.RestartCooldown - time.Since(c.lastRestart)
	c.lifecycleMu.Unlock()

	if wait > 0 {
		time.Sleep(wait)
	}

	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if c.stopped {
		return
	}

	c.log.WithField("reason", reason).Info("Restarting election state")

	common.ElectionRestarts.WithLabelValues(c.config.ContenderID, reason).Inc()

	if err := c.stopLocked(); err != nil {
		c.log.WithError(err).Warn("Failed to stop election state during recovery")
	}

	c.lastRestart = time.Now()

	if err := c.startLocked(context.Background()); err != nil {
		common.ElectionErrors.WithLabelValues(c.config.ContenderID, "restart").Inc()
		c.log.WithError(err).Error("Failed to restart election state")
	}
}

func (c *Coordinator) expectOwnRemoval() {
	c.expectedRemovals.Add(1)
}

func (c *Coordinator) consumeExpectedRemoval() bool {
	for {
		n := c.expectedRemovals.Load()
		if n <= 0 {
			return false
		}

		if c.expectedRemovals.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

var _ Elector = (*Coordinator)(nil)
