// Package monitor follows a job until the service reports a terminal status.
//
// The monitor only observes; status transitions are driven by the service:
//
//	pending → running → (completed|failed)
//
// with running ↔ paused as a side transition. Each iteration fetches the job,
// reports it, stops on a terminal status, fetches increment layers when the
// job has them, then waits for the poll interval. Any fetch error ends the
// run immediately; there is no retry.
package monitor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/krakenhashes/khctl/internal/metrics"
	"github.com/krakenhashes/khctl/internal/userapi"
)

// DefaultInterval is the wait between polls.
const DefaultInterval = 10 * time.Second

// JobSource fetches job state. *userapi.JobsService implements it.
type JobSource interface {
	Get(ctx context.Context, id string) (userapi.Job, error)
	Layers(ctx context.Context, jobID string) ([]userapi.Layer, error)
	LayerTasks(ctx context.Context, jobID, layerID string, page userapi.Pagination) (userapi.Page[userapi.Task], error)
}

// Result summarises a finished or interrupted run.
type Result struct {
	// Job is the last observed state.
	Job        userapi.Job
	Polls      int
	LayerPolls int
	TaskPolls  int
}

// Monitor polls one job at a time. It holds no per-run state and can be
// reused sequentially.
type Monitor struct {
	source       JobSource
	interval     time.Duration
	reporter     Reporter
	taskPageSize int
	logger       *zap.SugaredLogger
	metrics      *metrics.Metrics
	sleep        func(context.Context, time.Duration) error
}

type Option func(*Monitor)

func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

func WithReporter(r Reporter) Option {
	return func(m *Monitor) {
		if r != nil {
			m.reporter = r
		}
	}
}

// WithTaskDetail fetches the first page of tasks for every running layer.
func WithTaskDetail(pageSize int) Option {
	return func(m *Monitor) {
		if pageSize <= 0 {
			pageSize = userapi.DefaultPageSize
		}
		m.taskPageSize = pageSize
	}
}

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Monitor) { m.metrics = mx }
}

// WithSleep replaces the inter-poll wait. The function must return ctx.Err()
// when ctx is cancelled.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(m *Monitor) {
		if fn != nil {
			m.sleep = fn
		}
	}
}

func New(source JobSource, opts ...Option) *Monitor {
	m := &Monitor{
		source:   source,
		interval: DefaultInterval,
		reporter: nopReporter{},
		logger:   zap.NewNop().Sugar(),
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run polls jobID until it reaches a terminal status, a fetch fails or ctx is
// cancelled. Cancellation is only observed between polls: a fetch already in
// flight is allowed to finish, and no further fetch is started.
func (m *Monitor) Run(ctx context.Context, jobID string) (Result, error) {
	var res Result
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		job, err := m.source.Get(context.WithoutCancel(ctx), jobID)
		if err != nil {
			return res, fmt.Errorf("poll job %s: %w", jobID, err)
		}
		res.Job = job
		res.Polls++
		m.metrics.IncPoll("job")
		m.metrics.SetJobProgress(job.ID, job.Percent())
		m.logger.Debugw("job polled", "job", jobID, "status", job.Status, "progress", job.Percent(), "poll", res.Polls)
		m.reporter.JobPolled(job, res.Polls)

		if job.Status.IsTerminal() {
			m.metrics.IncFinished(string(job.Status))
			m.logger.Infow("job finished", "job", jobID, "status", job.Status,
				"cracked", job.CrackedCount, "total", job.TotalHashes, "polls", res.Polls)
			m.reporter.Finished(job)
			return res, nil
		}

		if job.HasLayers() {
			if err := m.pollLayers(ctx, job, &res); err != nil {
				return res, err
			}
		}

		if err := m.sleep(ctx, m.interval); err != nil {
			return res, err
		}
	}
}

func (m *Monitor) pollLayers(ctx context.Context, job userapi.Job, res *Result) error {
	layers, err := m.source.Layers(context.WithoutCancel(ctx), job.ID)
	if err != nil {
		return fmt.Errorf("poll layers of job %s: %w", job.ID, err)
	}
	res.LayerPolls++
	m.metrics.IncPoll("layers")
	m.reporter.LayersPolled(job, layers)
	if m.taskPageSize <= 0 {
		return nil
	}
	for _, layer := range layers {
		if userapi.JobStatus(layer.Status) != userapi.JobRunning {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		tasks, err := m.source.LayerTasks(context.WithoutCancel(ctx), job.ID, layer.ID, userapi.Pagination{Page: 1, PageSize: m.taskPageSize})
		if err != nil {
			return fmt.Errorf("poll tasks of layer %s: %w", layer.ID, err)
		}
		res.TaskPolls++
		m.metrics.IncPoll("tasks")
		m.reporter.TasksPolled(layer, tasks)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
