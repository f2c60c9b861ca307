// Package etcd implements the coordination facade on top of an etcd ensemble.
// Sessions are lease-backed, so registrations behave like ephemeral nodes: they
// vanish when the session that created them stops heartbeating. The campaign
// primitive is etcd's concurrency election, which guarantees at most one winner
// per election path across the ensemble.
package etcd

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"

	"github.com/clusterkit/elector/pkg/coordination"
)

// DecodeFunc decodes a registration payload into a contender id.
type DecodeFunc func([]byte) (string, error)

// Client is a single etcd session bound to one election path.
type Client struct {
	log    logrus.FieldLogger
	config *coordination.Config
	decode DecodeFunc

	mu       sync.Mutex
	cli      *clientv3.Client
	session  *concurrency.Session
	election *concurrency.Election
	states   chan coordination.ConnectionState
	closed   bool
}

// New creates an unconnected client. Call Connect before any other operation.
func New(log logrus.FieldLogger, config *coordination.Config, decode DecodeFunc) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid coordination config: %w", err)
	}

	if decode == nil {
		decode = func(b []byte) (string, error) { return string(b), nil }
	}

	return &Client{
		log:    log.WithField("component", "coordination"),
		config: config,
		decode: decode,
		states: make(chan coordination.ConnectionState, 8),
	}, nil
}

// NewFactory returns a factory producing fresh clients for the given config.
func NewFactory(log logrus.FieldLogger, config *coordination.Config, decode DecodeFunc) coordination.Factory {
	return coordination.FactoryFunc(func() (coordination.Client, error) {
		return New(log, config, decode)
	})
}

// Connect dials the ensemble and establishes the session lease. It blocks
// until connected or until the exponential backoff policy is exhausted.
func (c *Client) Connect(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.config.BaseRetrySleep
	bo.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.config.MaxRetries)), ctx)

	return backoff.Retry(func() error {
		if err := c.connectOnce(ctx); err != nil {
			c.log.WithError(err).Warn("Failed to connect to coordination ensemble, retrying")

			return err
		}

		return nil
	}, policy)
}

// connectOnce performs a single connect attempt. A failed attempt never leaves
// a half-open session behind.
func (c *Client) connectOnce(ctx context.Context) error {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   c.config.Endpoints,
		DialTimeout: c.config.DialTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create etcd client: %w", err)
	}

	// Probe the ensemble so Connect only returns once a server answered.
	probeCtx, cancel := context.WithTimeout(ctx, c.config.DialTimeout)
	defer cancel()

	if _, err := cli.Status(probeCtx, c.config.Endpoints[0]); err != nil {
		_ = cli.Close()

		return fmt.Errorf("failed to reach ensemble: %w", err)
	}

	session, err := concurrency.NewSession(cli, concurrency.WithTTL(c.config.SessionTTL), concurrency.WithContext(ctx))
	if err != nil {
		_ = cli.Close()

		return fmt.Errorf("failed to create session: %w", err)
	}

	c.mu.Lock()
	c.cli = cli
	c.session = session
	c.election = concurrency.NewElection(session, c.config.ElectionPath)
	c.mu.Unlock()

	c.emitState(coordination.StateConnected)

	go c.watchSession(session)

	return nil
}

// watchSession surfaces loss of the session lease as a Lost transition.
func (c *Client) watchSession(session *concurrency.Session) {
	<-session.Done()

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()

	if !closed {
		c.log.Warn("Coordination session lost")
		c.emitState(coordination.StateLost)
	}
}

func (c *Client) emitState(state coordination.ConnectionState) {
	select {
	case c.states <- state:
	default:
		c.log.WithField("state", state).Warn("Connection state channel full, dropping transition")
	}
}

// Campaign blocks until this contender holds the exclusive leadership slot.
func (c *Client) Campaign(ctx context.Context, contenderID string) error {
	election := c.currentElection()
	if election == nil {
		return fmt.Errorf("client is not connected")
	}

	if err := election.Campaign(ctx, contenderID); err != nil {
		return fmt.Errorf("campaign failed: %w", err)
	}

	return nil
}

// Resign surrenders the slot and deletes the registration created by the last
// Campaign call.
func (c *Client) Resign(ctx context.Context) error {
	election := c.currentElection()
	if election == nil {
		return nil
	}

	if err := election.Resign(ctx); err != nil {
		return fmt.Errorf("resign failed: %w", err)
	}

	return nil
}

// Participants lists registrations in creation order. The oldest registration
// holds (or is about to hold) the leadership slot.
func (c *Client) Participants(ctx context.Context) ([]coordination.Participant, error) {
	cli := c.currentClient()
	if cli == nil {
		return nil, fmt.Errorf("client is not connected")
	}

	resp, err := cli.Get(ctx, c.config.ElectionPath,
		clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByCreateRevision, clientv3.SortAscend))
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}

	participants := make([]coordination.Participant, 0, len(resp.Kvs))

	for i, kv := range resp.Kvs {
		id, err := c.decode(kv.Value)
		if err != nil {
			return nil, fmt.Errorf("failed to decode participant payload: %w", err)
		}

		participants = append(participants, coordination.Participant{
			ID:     id,
			Leader: i == 0,
		})
	}

	return participants, nil
}

// WatchChildren emits the current roster as added events, then one event per
// change until the context is cancelled.
func (c *Client) WatchChildren(ctx context.Context) (<-chan coordination.ChildEvent, error) {
	cli := c.currentClient()
	if cli == nil {
		return nil, fmt.Errorf("client is not connected")
	}

	resp, err := cli.Get(ctx, c.config.ElectionPath, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to read initial roster: %w", err)
	}

	out := make(chan coordination.ChildEvent, 64)

	initial := make([]coordination.ChildEvent, 0, len(resp.Kvs))

	for _, kv := range resp.Kvs {
		id, err := c.decode(kv.Value)
		if err != nil {
			return nil, fmt.Errorf("failed to decode roster payload: %w", err)
		}

		initial = append(initial, coordination.ChildEvent{Type: coordination.ChildAdded, ContenderID: id})
	}

	wch := cli.Watch(ctx, c.config.ElectionPath,
		clientv3.WithPrefix(),
		clientv3.WithRev(resp.Header.Revision+1),
		clientv3.WithPrevKV())

	go func() {
		defer close(out)

		for _, ev := range initial {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}

		for wresp := range wch {
			if err := wresp.Err(); err != nil {
				c.log.WithError(err).Warn("Roster watch error")

				return
			}

			for _, ev := range wresp.Events {
				event, ok := c.translateEvent(ev)
				if !ok {
					continue
				}

				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (c *Client) translateEvent(ev *clientv3.Event) (coordination.ChildEvent, bool) {
	switch ev.Type {
	case mvccpb.PUT:
		id, err := c.decode(ev.Kv.Value)
		if err != nil {
			c.log.WithError(err).Warn("Failed to decode roster payload, dropping event")

			return coordination.ChildEvent{}, false
		}

		eventType := coordination.ChildUpdated
		if ev.Kv.CreateRevision == ev.Kv.ModRevision {
			eventType = coordination.ChildAdded
		}

		return coordination.ChildEvent{Type: eventType, ContenderID: id}, true

	case mvccpb.DELETE:
		if ev.PrevKv == nil {
			c.log.Warn("Delete event without previous value, dropping event")

			return coordination.ChildEvent{}, false
		}

		id, err := c.decode(ev.PrevKv.Value)
		if err != nil {
			c.log.WithError(err).Warn("Failed to decode removed payload, dropping event")

			return coordination.ChildEvent{}, false
		}

		return coordination.ChildEvent{Type: coordination.ChildRemoved, ContenderID: id}, true

	default:
		return coordination.ChildEvent{}, false
	}
}

// States emits connection-state transitions for this session.
func (c *Client) States() <-chan coordination.ConnectionState {
	return c.states
}

// Close releases the session and the underlying connection. Each release is
// independent so one failure never prevents the others.
func (c *Client) Close() error {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()

		return nil
	}

	c.closed = true
	session := c.session
	cli := c.cli
	c.session = nil
	c.election = nil
	c.cli = nil
	c.mu.Unlock()

	var errs []error

	if session != nil {
		if err := session.Close(); err != nil {
			c.log.WithError(err).Warn("Failed to close coordination session")
			errs = append(errs, err)
		}
	}

	if cli != nil {
		if err := cli.Close(); err != nil {
			c.log.WithError(err).Warn("Failed to close etcd client")
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (c *Client) currentElection() *concurrency.Election {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.election
}

func (c *Client) currentClient() *clientv3.Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cli
}

var _ coordination.Client = (*Client)(nil)
