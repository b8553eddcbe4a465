package core

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/oceanbase/colonymem/pkg/maintenance"
)

// Background job names.
const (
	JobAutosave   = "autosave"
	JobQueueDrain = "queue_drain"
)

// Tick runs one maintenance step at simulation tick now: a bounded batch of
// agents gets decay, pruning, capacity enforcement and, when due,
// summarization and archival, and thresholds are recalibrated when due.
// With the summary queue enabled (LLM summaries or LLM.Queue) due agents
// are only queued; DrainQueue or the queue drain job processes them.
//
// Tick never calls the LLM and is cheap enough to call every simulation
// tick. It also advances the client clock used by BuildInjectionContext.
func (c *Client) Tick(ctx context.Context, now int64) maintenance.Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return maintenance.Report{}
	}
	c.advance(now)
	rep := c.runner.Tick(ctx, now)
	c.guidelines.Cleanup(now)
	if q := c.runner.Queue(); q != nil {
		c.metrics.SetQueueDepth(q.Len())
	}
	return rep
}

// DrainQueue processes the head of the summary queue at the client's
// current tick if the item delay has elapsed, and reports whether an item
// was processed. The summarizer runs without the client lock, so
// BuildInjectionContext and other calls proceed during a slow LLM request.
func (c *Client) DrainQueue(ctx context.Context) (bool, error) {
	q := c.runner.Queue()
	if q == nil {
		return false, nil
	}
	c.mu.Lock()
	closed, now := c.closed, c.now
	c.mu.Unlock()
	if closed {
		return false, nil
	}
	_, ran, err := q.Step(ctx, now)
	c.metrics.SetQueueDepth(q.Len())
	return ran, err
}

// QueueLen returns the number of agents waiting for queued summarization.
func (c *Client) QueueLen() int {
	if q := c.runner.Queue(); q != nil {
		return q.Len()
	}
	return 0
}

// StartBackground starts the wall-clock jobs configured in
// Config.Maintenance: autosave (Save) and queue drain (DrainQueue). Empty
// specs disable a job. Calling it twice is a no-op.
func (c *Client) StartBackground() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scheduler != nil || c.closed {
		return nil
	}
	s := maintenance.NewScheduler(c.logger.Named("scheduler"))
	if err := s.Add(JobAutosave, c.cfg.Maintenance.AutosaveSpec, func(ctx context.Context) error {
		_, err := c.Save(ctx)
		return err
	}); err != nil {
		return NewMemoryError("StartBackground", err)
	}
	if c.runner.Queue() != nil {
		if err := s.Add(JobQueueDrain, c.cfg.Maintenance.QueueDrainSpec, func(ctx context.Context) error {
			_, err := c.DrainQueue(ctx)
			return err
		}); err != nil {
			return NewMemoryError("StartBackground", err)
		}
	}
	s.Start()
	c.scheduler = s
	c.logger.Info("background jobs started", zap.Strings("jobs", s.Jobs()))
	return nil
}

// StopBackground stops the background jobs, waiting for a running job to
// finish or for ctx. A context without deadline waits at most 30 seconds.
func (c *Client) StopBackground(ctx context.Context) {
	c.mu.Lock()
	s := c.scheduler
	c.scheduler = nil
	c.mu.Unlock()
	if s == nil {
		return
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}
	s.Stop(ctx)
}
