// Package duty runs the periodic work an elected process is responsible for.
// Tasks execute on every contender's schedule but are gated on leadership, so
// across the fleet each task effectively runs on the current leader only.
package duty

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/sirupsen/logrus"

	"github.com/clusterkit/elector/pkg/common"
)

// LeaderChecker reports whether this process currently holds leadership.
type LeaderChecker interface {
	IsLeader() bool
}

// Task is one periodic duty.
type Task struct {
	// Name identifies the task in logs and metrics.
	Name string
	// Interval is the execution period.
	Interval time.Duration
	// Run performs the work. Errors are logged and counted, the schedule
	// keeps running.
	Run func(ctx context.Context) error
}

// Runner schedules registered tasks and executes them only while leader.
type Runner struct {
	log       logrus.FieldLogger
	leader    LeaderChecker
	scheduler *gocron.Scheduler
	tasks     []Task
}

// NewRunner creates a runner gated on the given leadership source.
func NewRunner(log logrus.FieldLogger, leader LeaderChecker) *Runner {
	return &Runner{
		log:    log.WithField("component", "duty"),
		leader: leader,
	}
}

// Register adds a task. Only allowed before Start.
func (r *Runner) Register(task Task) {
	r.tasks = append(r.tasks, task)
}

// Start schedules all registered tasks and returns immediately.
func (r *Runner) Start(ctx context.Context) error {
	s := gocron.NewScheduler(time.UTC)

	for _, task := range r.tasks {
		task := task

		if _, err := s.Every(task.Interval).Do(func() {
			r.runTask(ctx, task)
		}); err != nil {
			return err
		}
	}

	s.StartAsync()

	r.scheduler = s

	r.log.WithField("tasks", len(r.tasks)).Info("Duty runner started")

	return nil
}

// Stop halts the schedule. Running task invocations finish on their own.
func (r *Runner) Stop(_ context.Context) error {
	if r.scheduler != nil {
		r.scheduler.Stop()
	}

	r.log.Info("Duty runner stopped")

	return nil
}

func (r *Runner) runTask(ctx context.Context, task Task) {
	if !r.leader.IsLeader() {
		common.DutySkipped.WithLabelValues(task.Name).Inc()

		return
	}

	taskCtx, cancel := context.WithTimeout(ctx, task.Interval)
	defer cancel()

	if err := task.Run(taskCtx); err != nil {
		common.DutyRuns.WithLabelValues(task.Name, "error").Inc()
		r.log.WithError(err).WithField("task", task.Name).Warn("Duty task failed")

		return
	}

	common.DutyRuns.WithLabelValues(task.Name, "success").Inc()
}
