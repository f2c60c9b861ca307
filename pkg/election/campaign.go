package election

import (
	"context"
	"time"

	"github.com/clusterkit/elector/pkg/common"
	"github.com/clusterkit/elector/pkg/coordination"
)

// runCampaign is the campaign engine loop. It re-enters the campaign queue
// after every surrendered or lost tenure (auto-requeue), so losing leadership
// never drops this contender out of contention. The loop is terminal for the
// current session: cancellation of ctx, from Stop or from a terminal
// connection state, ends it until the next start cycle.
func (c *Coordinator) runCampaign(ctx context.Context, client coordination.Client) {
	defer c.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		if err := client.Campaign(ctx, c.config.ContenderID); err != nil {
			if ctx.Err() != nil {
				return
			}

			common.ElectionErrors.WithLabelValues(c.config.ContenderID, "campaign").Inc()
			c.log.WithError(err).Warn("Campaign attempt failed")

			select {
			case <-time.After(time.Duration(c.config.BaseRetrySleepMs) * time.Millisecond):
			case <-ctx.Done():
				return
			}

			continue
		}

		c.holdLeadership(ctx)

		// Surrendering the slot deletes our registration, the roster watcher
		// must not mistake that for the registration vanishing.
		c.expectOwnRemoval()

		resignCtx, cancel := context.WithTimeout(context.Background(), resignTimeout)

		if err := client.Resign(resignCtx); err != nil {
			common.ElectionErrors.WithLabelValues(c.config.ContenderID, "resign").Inc()
			c.log.WithError(err).Warn("Failed to resign leadership slot")
		}

		cancel()
	}
}

// holdLeadership marks this contender leader and blocks, spin-free, until the
// flag is cleared by RelinquishLeadership or the campaign is cancelled.
// Returning surrenders the exclusive slot back to the ensemble.
func (c *Coordinator) holdLeadership(ctx context.Context) {
	c.holdMu.Lock()
	hold := make(chan struct{})
	c.holdCh = hold
	c.leader.Store(true)
	c.holdMu.Unlock()

	common.ElectionStatus.WithLabelValues(c.config.ContenderID).Set(1)
	common.ElectionTransitions.WithLabelValues(c.config.ContenderID, "gained").Inc()

	c.log.Info("Acquired leadership")

	c.notifyLeadershipChange(ctx, true)

	start := time.Now()

	select {
	case <-hold:
	case <-ctx.Done():
	}

	c.leader.Store(false)

	c.holdMu.Lock()
	if c.holdCh == hold {
		c.holdCh = nil
	}
	c.holdMu.Unlock()

	common.ElectionStatus.WithLabelValues(c.config.ContenderID).Set(0)
	common.ElectionTransitions.WithLabelValues(c.config.ContenderID, "lost").Inc()
	common.LeadershipDuration.WithLabelValues(c.config.ContenderID).Observe(time.Since(start).Seconds())

	c.log.Info("Released leadership")

	c.notifyLeadershipChange(ctx, false)
}
