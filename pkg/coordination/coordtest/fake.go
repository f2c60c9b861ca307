// Package coordtest provides an in-memory coordination ensemble for tests.
// It implements the coordination facade with a FIFO campaign queue, a live
// roster with watch fan-out, and handles to force the failures the election
// core must recover from: connection-state transitions, session loss, and
// out-of-band removal of a registration.
package coordtest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/clusterkit/elector/pkg/coordination"
)

// ErrSessionLost is returned from Campaign when the session is killed while
// waiting for or holding the leadership slot.
var ErrSessionLost = errors.New("coordtest: session lost")

// Ensemble is a simulated coordination service shared by any number of
// clients created through its Factory.
type Ensemble struct {
	mu        sync.Mutex
	regs      []*registration
	watchers  map[int]*watcher
	watcherID int
	autoGrant bool
	credits   int
	regCounts map[string]int
}

type registration struct {
	id        string
	client    *Client
	granted   bool
	grantedCh chan struct{}
}

type watcher struct {
	ch     chan coordination.ChildEvent
	closed bool
}

// Option configures an Ensemble.
type Option func(*Ensemble)

// WithManualGrant disables automatic leadership grants. Each call to
// GrantNext releases exactly one grant to the head of the campaign queue.
func WithManualGrant() Option {
	return func(e *Ensemble) {
		e.autoGrant = false
	}
}

// NewEnsemble creates an empty simulated ensemble.
func NewEnsemble(opts ...Option) *Ensemble {
	e := &Ensemble{
		watchers:  make(map[int]*watcher),
		autoGrant: true,
		regCounts: make(map[string]int),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Factory returns a factory producing clients bound to this ensemble.
func (e *Ensemble) Factory() coordination.Factory {
	return coordination.FactoryFunc(func() (coordination.Client, error) {
		return &Client{
			ens:      e,
			states:   make(chan coordination.ConnectionState, 8),
			killed:   make(chan struct{}),
			closedCh: make(chan struct{}),
		}, nil
	})
}

// GrantNext releases one leadership grant when manual grants are enabled.
func (e *Ensemble) GrantNext() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.credits++
	e.grantNextLocked()
}

// KillSession simulates expiry of the session owning the given contender's
// registration: the registration disappears and the owning client observes a
// Lost transition.
func (e *Ensemble) KillSession(contenderID string) {
	e.mu.Lock()

	reg := e.findLocked(contenderID)
	if reg == nil {
		e.mu.Unlock()

		return
	}

	client := reg.client
	e.removeLocked(reg)
	e.grantNextLocked()
	e.mu.Unlock()

	client.kill()
}

// SuspendSession delivers a Suspended transition to the client owning the
// given contender's registration without touching the registration itself.
func (e *Ensemble) SuspendSession(contenderID string) {
	e.mu.Lock()
	reg := e.findLocked(contenderID)
	e.mu.Unlock()

	if reg != nil {
		reg.client.emitState(coordination.StateSuspended)
	}
}

// ResumeSession delivers a Reconnected transition to the client owning the
// given contender's registration.
func (e *Ensemble) ResumeSession(contenderID string) {
	e.mu.Lock()
	reg := e.findLocked(contenderID)
	e.mu.Unlock()

	if reg != nil {
		reg.client.emitState(coordination.StateReconnected)
	}
}

// BreakWatches terminates every active roster watch without cancelling the
// watching contexts, simulating a server-side watch failure mid-session.
func (e *Ensemble) BreakWatches() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id, w := range e.watchers {
		if !w.closed {
			w.closed = true
			close(w.ch)
		}

		delete(e.watchers, id)
	}
}

// RemoveRegistration deletes a registration out-of-band, leaving the owning
// session alive. This is the "registration vanished unexpectedly" case.
func (e *Ensemble) RemoveRegistration(contenderID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	reg := e.findLocked(contenderID)
	if reg == nil {
		return
	}

	e.removeLocked(reg)
	e.grantNextLocked()
}

// RegistrationCount returns how many times the given contender id has
// registered over the lifetime of the ensemble. A re-registration after
// recovery increments this.
func (e *Ensemble) RegistrationCount(contenderID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.regCounts[contenderID]
}

// ActiveIDs returns the currently registered contender ids in queue order.
func (e *Ensemble) ActiveIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, 0, len(e.regs))
	for _, reg := range e.regs {
		ids = append(ids, reg.id)
	}

	return ids
}

// LeaderID returns the contender currently holding the slot, if any.
func (e *Ensemble) LeaderID() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.regs) > 0 && e.regs[0].granted {
		return e.regs[0].id, true
	}

	return "", false
}

func (e *Ensemble) findLocked(contenderID string) *registration {
	for _, reg := range e.regs {
		if reg.id == contenderID {
			return reg
		}
	}

	return nil
}

func (e *Ensemble) removeLocked(target *registration) {
	for i, reg := range e.regs {
		if reg == target {
			e.regs = append(e.regs[:i], e.regs[i+1:]...)
			e.dispatchLocked(coordination.ChildEvent{Type: coordination.ChildRemoved, ContenderID: reg.id})

			reg.client.mu.Lock()
			if reg.client.reg == reg {
				reg.client.reg = nil
			}
			reg.client.mu.Unlock()

			return
		}
	}
}

func (e *Ensemble) grantNextLocked() {
	if len(e.regs) == 0 {
		return
	}

	head := e.regs[0]
	if head.granted {
		return
	}

	if !e.autoGrant {
		if e.credits == 0 {
			return
		}

		e.credits--
	}

	head.granted = true
	close(head.grantedCh)
}

func (e *Ensemble) dispatchLocked(event coordination.ChildEvent) {
	for _, w := range e.watchers {
		if w.closed {
			continue
		}

		select {
		case w.ch <- event:
		default:
			// Test watchers are amply buffered; dropping here means the test
			// itself produced an unrealistic event flood.
		}
	}
}

// Client is one simulated session to the ensemble.
type Client struct {
	ens *Ensemble

	mu        sync.Mutex
	connected bool
	closed    bool
	reg       *registration

	states   chan coordination.ConnectionState
	killed   chan struct{}
	killOnce sync.Once
	closedCh chan struct{}
}

func (c *Client) Connect(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("coordtest: client closed")
	}

	c.connected = true
	c.emitStateLocked(coordination.StateConnected)

	return nil
}

func (c *Client) Campaign(ctx context.Context, contenderID string) error {
	c.mu.Lock()
	if !c.connected || c.closed {
		c.mu.Unlock()

		return fmt.Errorf("coordtest: client is not connected")
	}
	c.mu.Unlock()

	e := c.ens

	e.mu.Lock()
	reg := &registration{
		id:        contenderID,
		client:    c,
		grantedCh: make(chan struct{}),
	}
	e.regs = append(e.regs, reg)
	e.regCounts[contenderID]++

	c.mu.Lock()
	c.reg = reg
	c.mu.Unlock()

	e.dispatchLocked(coordination.ChildEvent{Type: coordination.ChildAdded, ContenderID: contenderID})
	e.grantNextLocked()
	e.mu.Unlock()

	select {
	case <-reg.grantedCh:
		return nil
	case <-ctx.Done():
		e.mu.Lock()
		e.removeLocked(reg)
		e.grantNextLocked()
		e.mu.Unlock()

		return ctx.Err()
	case <-c.killed:
		return ErrSessionLost
	case <-c.closedCh:
		return fmt.Errorf("coordtest: client closed")
	}
}

func (c *Client) Resign(_ context.Context) error {
	c.mu.Lock()
	reg := c.reg
	c.reg = nil
	c.mu.Unlock()

	if reg == nil {
		return nil
	}

	e := c.ens

	e.mu.Lock()
	e.removeLocked(reg)
	e.grantNextLocked()
	e.mu.Unlock()

	return nil
}

func (c *Client) Participants(_ context.Context) ([]coordination.Participant, error) {
	c.mu.Lock()
	if !c.connected || c.closed {
		c.mu.Unlock()

		return nil, fmt.Errorf("coordtest: client is not connected")
	}
	c.mu.Unlock()

	e := c.ens

	e.mu.Lock()
	defer e.mu.Unlock()

	participants := make([]coordination.Participant, 0, len(e.regs))
	for _, reg := range e.regs {
		participants = append(participants, coordination.Participant{
			ID:     reg.id,
			Leader: reg.granted,
		})
	}

	return participants, nil
}

func (c *Client) WatchChildren(ctx context.Context) (<-chan coordination.ChildEvent, error) {
	c.mu.Lock()
	if !c.connected || c.closed {
		c.mu.Unlock()

		return nil, fmt.Errorf("coordtest: client is not connected")
	}
	c.mu.Unlock()

	e := c.ens

	e.mu.Lock()
	w := &watcher{ch: make(chan coordination.ChildEvent, 256)}
	id := e.watcherID
	e.watcherID++
	e.watchers[id] = w

	for _, reg := range e.regs {
		w.ch <- coordination.ChildEvent{Type: coordination.ChildAdded, ContenderID: reg.id}
	}
	e.mu.Unlock()

	go func() {
		<-ctx.Done()

		e.mu.Lock()
		defer e.mu.Unlock()

		if !w.closed {
			w.closed = true
			close(w.ch)
		}

		delete(e.watchers, id)
	}()

	return w.ch, nil
}

func (c *Client) States() <-chan coordination.ConnectionState {
	return c.states
}

func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()

		return nil
	}

	c.closed = true
	c.connected = false
	reg := c.reg
	c.reg = nil
	close(c.closedCh)
	c.mu.Unlock()

	if reg != nil {
		e := c.ens

		e.mu.Lock()
		e.removeLocked(reg)
		e.grantNextLocked()
		e.mu.Unlock()
	}

	return nil
}

func (c *Client) kill() {
	c.killOnce.Do(func() {
		close(c.killed)
	})

	c.emitState(coordination.StateLost)
}

func (c *Client) emitState(state coordination.ConnectionState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.emitStateLocked(state)
}

func (c *Client) emitStateLocked(state coordination.ConnectionState) {
	if c.closed {
		return
	}

	select {
	case c.states <- state:
	default:
	}
}

var _ coordination.Client = (*Client)(nil)
