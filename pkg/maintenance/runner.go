// Package maintenance runs the background retention passes over a memory
// bank in small, resumable steps.
//
// The Runner visits a bounded number of agents per tick in round-robin
// order, so no single tick walks the whole population. Every pass is
// idempotent per tick: re-running a tick after a reload does not decay or
// archive twice. Summaries backed by an LLM go through a Queue that
// processes one agent per delay window.
package maintenance

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/oceanbase/colonymem/pkg/memory"
	"github.com/oceanbase/colonymem/pkg/metrics"
	"github.com/oceanbase/colonymem/pkg/threshold"
)

// Config configures maintenance scheduling. All intervals are in ticks.
type Config struct {
	// AgentsPerTick caps the agents visited by one Tick. Default: 8.
	AgentsPerTick int `json:"agents_per_tick" yaml:"agents_per_tick"`

	// DecayIntervalTicks is the spacing of decay passes per agent.
	// Default: 2500 (one simulated hour).
	DecayIntervalTicks int64 `json:"decay_interval_ticks" yaml:"decay_interval_ticks"`

	// SummaryIntervalTicks is the spacing of summary passes per agent.
	// Default: 60000 (one simulated day).
	SummaryIntervalTicks int64 `json:"summary_interval_ticks" yaml:"summary_interval_ticks"`

	// ArchiveIntervalTicks is the spacing of archive passes per agent.
	// Default: 900000 (fifteen simulated days).
	ArchiveIntervalTicks int64 `json:"archive_interval_ticks" yaml:"archive_interval_ticks"`

	// RecalibrateIntervalTicks is the spacing of threshold recalibration.
	// Default: 2500.
	RecalibrateIntervalTicks int64 `json:"recalibrate_interval_ticks" yaml:"recalibrate_interval_ticks"`

	// ItemDelayTicks is the delay between two queued summary jobs.
	// Default: 250.
	ItemDelayTicks int64 `json:"item_delay_ticks" yaml:"item_delay_ticks"`

	// AutosaveSpec and QueueDrainSpec are cron expressions for the
	// wall-clock Scheduler. Empty disables the job.
	AutosaveSpec   string `json:"autosave_spec" yaml:"autosave_spec"`
	QueueDrainSpec string `json:"queue_drain_spec" yaml:"queue_drain_spec"`
}

// DefaultConfig returns the default maintenance configuration.
func DefaultConfig() Config {
	return Config{
		AgentsPerTick:            8,
		DecayIntervalTicks:       2500,
		SummaryIntervalTicks:     60000,
		ArchiveIntervalTicks:     900000,
		RecalibrateIntervalTicks: 2500,
		ItemDelayTicks:           250,
		AutosaveSpec:             "@every 5m",
		QueueDrainSpec:           "@every 10s",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.AgentsPerTick <= 0 {
		c.AgentsPerTick = d.AgentsPerTick
	}
	if c.DecayIntervalTicks <= 0 {
		c.DecayIntervalTicks = d.DecayIntervalTicks
	}
	if c.SummaryIntervalTicks <= 0 {
		c.SummaryIntervalTicks = d.SummaryIntervalTicks
	}
	if c.ArchiveIntervalTicks <= 0 {
		c.ArchiveIntervalTicks = d.ArchiveIntervalTicks
	}
	if c.RecalibrateIntervalTicks <= 0 {
		c.RecalibrateIntervalTicks = d.RecalibrateIntervalTicks
	}
	if c.ItemDelayTicks < 0 {
		c.ItemDelayTicks = d.ItemDelayTicks
	}
	return c
}

// Report summarizes one Tick.
type Report struct {
	Agents       []string
	Decayed      int
	Pruned       int
	Evicted      int
	Summaries    int
	Archived     int
	Queued       int
	Recalibrated map[string]float64
}

// State is the persisted form of a Runner.
type State struct {
	Cursor              int        `json:"cursor"`
	LastRecalibrateTick int64      `json:"last_recalibrate_tick"`
	Queue               QueueState `json:"queue"`
}

// Runner drives maintenance over a memory bank.
type Runner struct {
	cfg        Config
	bank       *memory.Bank
	registry   *threshold.Registry
	summarizer memory.Summarizer
	queue      *Queue
	useQueue   bool
	metrics    *metrics.Collector
	logger     *zap.Logger
	onChange   func(agentID string)
	locker     sync.Locker

	cursor              int
	lastRecalibrateTick int64
}

// Option configures a Runner.
type Option func(*Runner)

// WithRegistry recalibrates reg on the configured interval.
func WithRegistry(reg *threshold.Registry) Option {
	return func(r *Runner) { r.registry = reg }
}

// WithSummarizer sets the summarizer used by the summary and archive
// passes. An LLM-backed summarizer should be combined with WithQueue and
// WithLocker.
func WithSummarizer(s memory.Summarizer) Option {
	return func(r *Runner) { r.summarizer = s }
}

// WithQueue defers summary and archive passes to a work queue instead of
// running them inline.
func WithQueue() Option {
	return func(r *Runner) { r.useQueue = true }
}

// WithLocker makes the queue handler take l while it reads or changes the
// bank and release it while the summarizer runs. l must be the lock that
// guards the bank for every other caller. Tick then leaves the queue alone:
// the owner drains it with Queue.Step without holding l.
func WithLocker(l sync.Locker) Option {
	return func(r *Runner) { r.locker = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// OnChange registers a callback run for every agent whose store changed.
func OnChange(fn func(agentID string)) Option {
	return func(r *Runner) { r.onChange = fn }
}

// NewRunner creates a runner over bank.
func NewRunner(bank *memory.Bank, cfg Config, opts ...Option) *Runner {
	r := &Runner{
		cfg:                 cfg.withDefaults(),
		bank:                bank,
		summarizer:          memory.SimpleSummarizer{},
		logger:              zap.NewNop(),
		lastRecalibrateTick: memory.NeverRun,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.useQueue {
		r.queue = NewQueue(r.cfg.ItemDelayTicks, r.condense, r.logger, r.metrics)
	}
	return r
}

// Config returns the effective configuration.
func (r *Runner) Config() Config {
	return r.cfg
}

// Queue returns the summary queue, or nil when passes run inline.
func (r *Runner) Queue() *Queue {
	return r.queue
}

// due reports whether an interval has elapsed since last. A pass that never
// ran is measured from tick 0.
func due(last, now, interval int64) bool {
	if last == memory.NeverRun {
		return now >= interval
	}
	return now-last >= interval
}

// Tick visits up to AgentsPerTick agents, continuing where the previous
// call stopped, then steps the queue and recalibrates thresholds when due.
// With WithLocker the queue is not stepped.
func (r *Runner) Tick(ctx context.Context, now int64) Report {
	rep := Report{}
	agents := r.bank.Agents()
	if len(agents) > 0 {
		if r.cursor >= len(agents) || r.cursor < 0 {
			r.cursor = 0
		}
		n := r.cfg.AgentsPerTick
		if n > len(agents) {
			n = len(agents)
		}
		for i := 0; i < n; i++ {
			if ctx.Err() != nil {
				break
			}
			id := agents[r.cursor]
			r.cursor = (r.cursor + 1) % len(agents)
			rep.Agents = append(rep.Agents, id)
			r.visit(ctx, id, now, &rep)
		}
	}

	if r.queue != nil && r.locker == nil {
		if _, _, err := r.queue.Step(ctx, now); err != nil {
			r.logger.Debug("summary queue interrupted", zap.Error(err))
		}
	}

	if r.registry != nil && due(r.lastRecalibrateTick, now, r.cfg.RecalibrateIntervalTicks) {
		r.lastRecalibrateTick = now
		rep.Recalibrated = r.registry.Recalibrate()
		for cat, v := range rep.Recalibrated {
			r.metrics.SetThreshold(cat, v)
		}
		r.metrics.RecordPass("recalibrate")
	}

	r.logger.Debug("maintenance tick",
		zap.Int64("tick", now),
		zap.Int("agents", len(rep.Agents)),
		zap.Int("pruned", rep.Pruned),
		zap.Int("evicted", rep.Evicted),
		zap.Int("summaries", rep.Summaries),
		zap.Int("archived", rep.Archived))
	return rep
}

func (r *Runner) visit(ctx context.Context, agentID string, now int64, rep *Report) {
	s := r.bank.Get(agentID)
	if s == nil {
		return
	}
	changed := false

	if due(s.LastDecayTick, now, r.cfg.DecayIntervalTicks) {
		rep.Decayed += s.Decay(now)
		r.metrics.RecordPass("decay")
		changed = true
	}
	if n := s.Prune(); n > 0 {
		rep.Pruned += n
		r.metrics.RecordRemoved("prune", n)
		changed = true
	}
	if n := s.EnforceCapacity(); n > 0 {
		rep.Evicted += n
		r.metrics.RecordRemoved("capacity", n)
		changed = true
	}

	summaryDue := due(s.LastSummaryTick, now, r.cfg.SummaryIntervalTicks)
	archiveDue := due(s.LastArchiveTick, now, r.cfg.ArchiveIntervalTicks)
	switch {
	case !summaryDue && !archiveDue:
	case r.queue != nil:
		if r.queue.Enqueue(agentID) {
			rep.Queued++
		}
	default:
		sums, archived := r.condenseStore(ctx, s, now, r.summarizer)
		rep.Summaries += sums
		rep.Archived += archived
		changed = changed || sums > 0 || archived > 0
	}

	if changed && r.onChange != nil {
		r.onChange(agentID)
	}
}

// condense is the queue handler.
func (r *Runner) condense(ctx context.Context, agentID string, now int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.locker != nil {
		return r.condenseUnlocked(ctx, agentID, now)
	}
	s := r.bank.Get(agentID)
	if s == nil {
		return nil
	}
	sums, archived := r.condenseStore(ctx, s, now, r.summarizer)
	if (sums > 0 || archived > 0) && r.onChange != nil {
		r.onChange(agentID)
	}
	return ctx.Err()
}

// condenseUnlocked plans the passes under the locker, runs the summarizer
// without it and applies the result under it again. A store that changed
// in between gets simple summaries for the groups that no longer match.
func (r *Runner) condenseUnlocked(ctx context.Context, agentID string, now int64) error {
	r.locker.Lock()
	s := r.bank.Get(agentID)
	var plan *memory.SummaryPlan
	if s != nil {
		plan = memory.PlanCondense(ctx, s, now,
			due(s.LastSummaryTick, now, r.cfg.SummaryIntervalTicks),
			due(s.LastArchiveTick, now, r.cfg.ArchiveIntervalTicks))
	}
	r.locker.Unlock()
	if plan == nil {
		return nil
	}

	plan.Run(ctx, r.summarizer)
	if err := ctx.Err(); err != nil {
		return err
	}

	r.locker.Lock()
	defer r.locker.Unlock()
	s = r.bank.Get(agentID)
	if s == nil {
		return nil
	}
	sums, archived := r.condenseStore(ctx, s, now, plan)
	if (sums > 0 || archived > 0) && r.onChange != nil {
		r.onChange(agentID)
	}
	return nil
}

func (r *Runner) condenseStore(ctx context.Context, s *memory.Store, now int64, sum memory.Summarizer) (int, int) {
	sums, archived := 0, 0
	if due(s.LastSummaryTick, now, r.cfg.SummaryIntervalTicks) {
		sums = s.Summarize(ctx, now, sum)
		r.metrics.RecordPass("summarize")
	}
	if due(s.LastArchiveTick, now, r.cfg.ArchiveIntervalTicks) {
		archived = s.Archive(ctx, now, sum)
		r.metrics.RecordPass("archive")
	}
	return sums, archived
}

// State returns the runner state for persistence.
func (r *Runner) State() State {
	st := State{Cursor: r.cursor, LastRecalibrateTick: r.lastRecalibrateTick}
	if r.queue != nil {
		st.Queue = r.queue.State()
	}
	return st
}

// Restore replaces the runner state.
func (r *Runner) Restore(st State) {
	r.cursor = st.Cursor
	r.lastRecalibrateTick = st.LastRecalibrateTick
	if r.queue != nil {
		r.queue.Restore(st.Queue)
	}
}
