package maintenance

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/oceanbase/colonymem/pkg/metrics"
)

// Handler processes one queued agent.
type Handler func(ctx context.Context, agentID string, now int64) error

// QueueState is the persisted form of a Queue.
type QueueState struct {
	Pending     []string `json:"pending"`
	NextAllowed int64    `json:"next_allowed"`
}

// Queue is a FIFO of agent ids processed one at a time with a fixed delay
// between items. Its state survives save and load, so a bulk operation over
// the whole population resumes where it stopped. Queue is safe for
// concurrent use.
type Queue struct {
	mu          sync.Mutex
	pending     []string
	queued      map[string]bool
	nextAllowed int64
	running     bool
	delay       int64
	handler     Handler
	logger      *zap.Logger
	metrics     *metrics.Collector
}

// NewQueue creates an empty queue.
//
// Parameters:
//   - delayTicks: minimum ticks between two processed items
//   - handler: processes one agent
//   - logger: logger (nil means no logging)
//   - m: metrics collector (may be nil)
func NewQueue(delayTicks int64, handler Handler, logger *zap.Logger, m *metrics.Collector) *Queue {
	if delayTicks < 0 {
		delayTicks = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		queued:  make(map[string]bool),
		delay:   delayTicks,
		handler: handler,
		logger:  logger,
		metrics: m,
	}
}

// Enqueue appends agentID unless it is already pending.
func (q *Queue) Enqueue(agentID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if agentID == "" || q.queued[agentID] {
		return false
	}
	q.pending = append(q.pending, agentID)
	q.queued[agentID] = true
	q.metrics.SetQueueDepth(len(q.pending))
	return true
}

// Len returns the number of pending agents.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Step processes the head item if the delay since the previous item has
// elapsed. It reports the processed agent id and whether an item ran. A
// handler error is logged and the item dropped, unless ctx was cancelled,
// in which case the item stays at the head and ctx's error is returned.
// A Step that overlaps a running one does nothing.
func (q *Queue) Step(ctx context.Context, now int64) (string, bool, error) {
	q.mu.Lock()
	if q.running || len(q.pending) == 0 || now < q.nextAllowed {
		q.mu.Unlock()
		return "", false, nil
	}
	agentID := q.pending[0]
	q.running = true
	q.mu.Unlock()

	err := q.handler(ctx, agentID, now)

	q.mu.Lock()
	defer q.mu.Unlock()
	q.running = false
	if err != nil && ctx.Err() != nil {
		return agentID, false, ctx.Err()
	}
	if len(q.pending) > 0 && q.pending[0] == agentID {
		q.pending = q.pending[1:]
	}
	delete(q.queued, agentID)
	q.nextAllowed = now + q.delay
	q.metrics.SetQueueDepth(len(q.pending))
	if err != nil {
		q.logger.Warn("queued maintenance failed",
			zap.String("agent_id", agentID),
			zap.Error(err))
	}
	return agentID, true, nil
}

// State returns the queue state for persistence.
func (q *Queue) State() QueueState {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueState{
		Pending:     append([]string{}, q.pending...),
		NextAllowed: q.nextAllowed,
	}
}

// Restore replaces the queue state. Duplicate and empty ids are dropped.
func (q *Queue) Restore(s QueueState) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = q.pending[:0]
	q.queued = make(map[string]bool, len(s.Pending))
	for _, id := range s.Pending {
		if id == "" || q.queued[id] {
			continue
		}
		q.pending = append(q.pending, id)
		q.queued[id] = true
	}
	q.nextAllowed = s.NextAllowed
	q.metrics.SetQueueDepth(len(q.pending))
}
