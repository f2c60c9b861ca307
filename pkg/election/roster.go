package election

import (
	"context"

	"github.com/clusterkit/elector/pkg/common"
	"github.com/clusterkit/elector/pkg/coordination"
)

// runRoster pumps roster child events. Only removals drive state changes,
// added and updated registrations are observed for visibility. The watch
// dying while the session is still up would blind self-removal detection, so
// it is treated as a fault and triggers a full restart.
func (c *Coordinator) runRoster(ctx context.Context, events <-chan coordination.ChildEvent) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				if ctx.Err() == nil {
					c.log.Warn("Roster watch terminated unexpectedly, restarting election")

					go c.recover("roster-watch-lost")
				}

				return
			}

			common.RosterEvents.WithLabelValues(c.config.ContenderID, event.Type.String()).Inc()

			switch event.Type {
			case coordination.ChildRemoved:
				c.handleChildRemoved(event.ContenderID)
			default:
				c.log.WithField("event", event.Type).
					WithField("roster_id", event.ContenderID).
					Debug("Roster changed")
			}
		}
	}
}

// runStates pumps connection-state transitions from the coordination client.
func (c *Coordinator) runStates(ctx context.Context, client coordination.Client) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case state, ok := <-client.States():
			if !ok {
				return
			}

			c.handleConnectionState(state)
		}
	}
}
