package coordtest_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clusterkit/elector/pkg/coordination"
	"github.com/clusterkit/elector/pkg/coordination/coordtest"
)

func newConnectedClient(t *testing.T, ens *coordtest.Ensemble) coordination.Client {
	t.Helper()

	client, err := ens.Factory().New()
	require.NoError(t, err)
	require.NoError(t, client.Connect(context.Background()))

	t.Cleanup(func() {
		_ = client.Close()
	})

	return client
}

func TestEnsemble_GrantsInQueueOrder(t *testing.T) {
	ens := coordtest.NewEnsemble()

	first := newConnectedClient(t, ens)
	second := newConnectedClient(t, ens)

	require.NoError(t, first.Campaign(context.Background(), "worker-1"))

	leader, ok := ens.LeaderID()
	require.True(t, ok)
	assert.Equal(t, "worker-1", leader)

	secondWon := make(chan error, 1)

	go func() {
		secondWon <- second.Campaign(context.Background(), "worker-2")
	}()

	require.Eventually(t, func() bool {
		return len(ens.ActiveIDs()) == 2
	}, 3*time.Second, 5*time.Millisecond)

	select {
	case err := <-secondWon:
		t.Fatalf("second contender won while the slot was held: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, first.Resign(context.Background()))
	require.NoError(t, <-secondWon)

	leader, ok = ens.LeaderID()
	require.True(t, ok)
	assert.Equal(t, "worker-2", leader)
}

func TestEnsemble_WatchersSeeRosterChanges(t *testing.T) {
	ens := coordtest.NewEnsemble()

	observer := newConnectedClient(t, ens)
	contender := newConnectedClient(t, ens)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := observer.WatchChildren(ctx)
	require.NoError(t, err)

	require.NoError(t, contender.Campaign(context.Background(), "worker-1"))

	event := <-events
	assert.Equal(t, coordination.ChildAdded, event.Type)
	assert.Equal(t, "worker-1", event.ContenderID)

	require.NoError(t, contender.Resign(context.Background()))

	event = <-events
	assert.Equal(t, coordination.ChildRemoved, event.Type)
	assert.Equal(t, "worker-1", event.ContenderID)
}

func TestEnsemble_KillSessionFailsCampaign(t *testing.T) {
	ens := coordtest.NewEnsemble(coordtest.WithManualGrant())

	client := newConnectedClient(t, ens)

	result := make(chan error, 1)

	go func() {
		result <- client.Campaign(context.Background(), "worker-1")
	}()

	require.Eventually(t, func() bool {
		return len(ens.ActiveIDs()) == 1
	}, 3*time.Second, 5*time.Millisecond)

	ens.KillSession("worker-1")

	require.ErrorIs(t, <-result, coordtest.ErrSessionLost)
	assert.Empty(t, ens.ActiveIDs())
}

func TestEnsemble_BreakWatchesClosesChannels(t *testing.T) {
	ens := coordtest.NewEnsemble()

	observer := newConnectedClient(t, ens)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := observer.WatchChildren(ctx)
	require.NoError(t, err)

	ens.BreakWatches()

	_, ok := <-events
	assert.False(t, ok, "broken watch channel should be closed")

	// Cancelling after the break must not close the channel twice.
	cancel()
	time.Sleep(20 * time.Millisecond)
}

func TestEnsemble_ParticipantsMarkLeader(t *testing.T) {
	ens := coordtest.NewEnsemble()

	first := newConnectedClient(t, ens)
	second := newConnectedClient(t, ens)

	require.NoError(t, first.Campaign(context.Background(), "worker-1"))

	go func() {
		_ = second.Campaign(context.Background(), "worker-2")
	}()

	require.Eventually(t, func() bool {
		participants, err := first.Participants(context.Background())

		return err == nil && len(participants) == 2
	}, 3*time.Second, 5*time.Millisecond)

	participants, err := first.Participants(context.Background())
	require.NoError(t, err)
	require.Len(t, participants, 2)

	assert.Equal(t, "worker-1", participants[0].ID)
	assert.True(t, participants[0].Leader)
	assert.Equal(t, "worker-2", participants[1].ID)
	assert.False(t, participants[1].Leader)
}
