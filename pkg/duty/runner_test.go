package duty_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clusterkit/elector/pkg/duty"
)

type fakeLeader struct {
	leader atomic.Bool
}

func (f *fakeLeader) IsLeader() bool {
	return f.leader.Load()
}

func newTestRunner(t *testing.T, leader duty.LeaderChecker) *duty.Runner {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	runner := duty.NewRunner(log, leader)

	t.Cleanup(func() {
		_ = runner.Stop(context.Background())
	})

	return runner
}

func TestRunner_SkipsTasksWhileNotLeader(t *testing.T) {
	leader := &fakeLeader{}
	runner := newTestRunner(t, leader)

	var runs atomic.Int64

	runner.Register(duty.Task{
		Name:     "heartbeat",
		Interval: 10 * time.Millisecond,
		Run: func(_ context.Context) error {
			runs.Add(1)

			return nil
		},
	})

	require.NoError(t, runner.Start(context.Background()))

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, runs.Load(), "tasks must not run without leadership")

	leader.leader.Store(true)

	require.Eventually(t, func() bool {
		return runs.Load() > 0
	}, 3*time.Second, 5*time.Millisecond, "tasks should run once leadership is held")
}

func TestRunner_StopsExecuting(t *testing.T) {
	leader := &fakeLeader{}
	leader.leader.Store(true)

	runner := newTestRunner(t, leader)

	var runs atomic.Int64

	runner.Register(duty.Task{
		Name:     "heartbeat",
		Interval: 10 * time.Millisecond,
		Run: func(_ context.Context) error {
			runs.Add(1)

			return nil
		},
	})

	require.NoError(t, runner.Start(context.Background()))

	require.Eventually(t, func() bool {
		return runs.Load() > 0
	}, 3*time.Second, 5*time.Millisecond)

	require.NoError(t, runner.Stop(context.Background()))

	// Let any in-flight invocation drain before sampling.
	time.Sleep(20 * time.Millisecond)
	stopped := runs.Load()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, stopped, runs.Load(), "no further runs after stop")
}

func TestRunner_TaskErrorsKeepSchedule(t *testing.T) {
	leader := &fakeLeader{}
	leader.leader.Store(true)

	runner := newTestRunner(t, leader)

	var runs atomic.Int64

	runner.Register(duty.Task{
		Name:     "flaky",
		Interval: 10 * time.Millisecond,
		Run: func(_ context.Context) error {
			runs.Add(1)

			return context.DeadlineExceeded
		},
	})

	require.NoError(t, runner.Start(context.Background()))

	require.Eventually(t, func() bool {
		return runs.Load() >= 3
	}, 3*time.Second, 5*time.Millisecond, "failing task should stay scheduled")
}
