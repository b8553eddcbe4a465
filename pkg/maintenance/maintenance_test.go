package maintenance_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/oceanbase/colonymem/pkg/maintenance"
	"github.com/oceanbase/colonymem/pkg/memory"
	"github.com/oceanbase/colonymem/pkg/threshold"
)

func seededBank(t *testing.T, agents int) *memory.Bank {
	t.Helper()
	cfg := memory.DefaultConfig()
	b := memory.NewBank(cfg, nil, nil)
	for i := 0; i < agents; i++ {
		id := fmt.Sprintf("agent-%02d", i)
		for j := 0; j < 6; j++ {
			_, ok := b.Insert(id, memory.NewEntry{
				Content:    fmt.Sprintf("event %d of %s", j, id),
				Type:       memory.TypeEvent,
				Importance: 0.5,
				Timestamp:  int64(j * 10),
			})
			require.True(t, ok)
		}
	}
	return b
}

func TestRunnerRoundRobin(t *testing.T) {
	b := seededBank(t, 5)
	r := maintenance.NewRunner(b, maintenance.Config{AgentsPerTick: 2})

	ctx := context.Background()
	assert.Equal(t, []string{"agent-00", "agent-01"}, r.Tick(ctx, 1).Agents)
	assert.Equal(t, []string{"agent-02", "agent-03"}, r.Tick(ctx, 2).Agents)
	assert.Equal(t, []string{"agent-04", "agent-00"}, r.Tick(ctx, 3).Agents)

	restored := maintenance.NewRunner(b, maintenance.Config{AgentsPerTick: 2})
	restored.Restore(r.State())
	assert.Equal(t, []string{"agent-01", "agent-02"}, restored.Tick(ctx, 4).Agents)
}

func TestRunnerDecayIsIdempotentPerTick(t *testing.T) {
	b := seededBank(t, 1)
	r := maintenance.NewRunner(b, maintenance.Config{DecayIntervalTicks: 100})
	ctx := context.Background()

	assert.Zero(t, r.Tick(ctx, 50).Decayed, "first decay waits for one interval")
	first := r.Tick(ctx, 100)
	assert.Positive(t, first.Decayed)

	s := b.Get("agent-00")
	before := s.Entries(memory.TierSituational)[0].Activity

	assert.Zero(t, r.Tick(ctx, 100).Decayed)
	assert.Zero(t, r.Tick(ctx, 150).Decayed)
	assert.Equal(t, before, s.Entries(memory.TierSituational)[0].Activity)
	assert.Positive(t, r.Tick(ctx, 200).Decayed)
}

func TestRunnerSummarizesInline(t *testing.T) {
	b := seededBank(t, 1)
	var changed []string
	r := maintenance.NewRunner(b, maintenance.Config{SummaryIntervalTicks: 1000},
		maintenance.OnChange(func(id string) { changed = append(changed, id) }))

	rep := r.Tick(context.Background(), 1000)
	assert.Equal(t, 1, rep.Summaries)
	s := b.Get("agent-00")
	assert.Zero(t, s.Count(memory.TierSituational))
	assert.Equal(t, 1, s.Count(memory.TierEventLog))
	assert.Contains(t, changed, "agent-00")
}

func TestRunnerQueuesCondensing(t *testing.T) {
	b := seededBank(t, 3)
	r := maintenance.NewRunner(b, maintenance.Config{
		AgentsPerTick:        3,
		SummaryIntervalTicks: 1000,
		ItemDelayTicks:       10,
	}, maintenance.WithQueue())
	ctx := context.Background()

	rep := r.Tick(ctx, 1000)
	assert.Equal(t, 3, rep.Queued)
	assert.Zero(t, rep.Summaries)
	assert.Equal(t, 2, r.Queue().Len(), "the first queued agent runs in the same tick")
	assert.Zero(t, b.Get("agent-00").Count(memory.TierSituational))
	assert.Equal(t, 3, b.Get("agent-01").Count(memory.TierSituational))

	// Queued agents are not queued twice, and the delay holds the next item.
	rep = r.Tick(ctx, 1005)
	assert.Zero(t, rep.Queued)
	assert.Equal(t, 2, r.Queue().Len())

	// Save and resume.
	state := r.State()
	resumed := maintenance.NewRunner(b, r.Config(), maintenance.WithQueue())
	resumed.Restore(state)
	resumed.Tick(ctx, 1010)
	assert.Equal(t, 1, resumed.Queue().Len())
	assert.Zero(t, b.Get("agent-01").Count(memory.TierSituational))
}

// lockCheckingSummarizer records whether mu was free while it ran.
type lockCheckingSummarizer struct {
	mu       *sync.Mutex
	calls    int
	heldOnce bool
}

func (l *lockCheckingSummarizer) Summarize(_ context.Context, _ memory.EntryType, entries []*memory.Entry) string {
	l.calls++
	if l.mu.TryLock() {
		l.mu.Unlock()
	} else {
		l.heldOnce = true
	}
	return fmt.Sprintf("%d things happened", len(entries))
}

func TestRunnerWithLockerSummarizesOffTick(t *testing.T) {
	b := seededBank(t, 2)
	var mu sync.Mutex
	sum := &lockCheckingSummarizer{mu: &mu}
	r := maintenance.NewRunner(b, maintenance.Config{
		AgentsPerTick:        2,
		SummaryIntervalTicks: 1000,
	}, maintenance.WithQueue(), maintenance.WithLocker(&mu), maintenance.WithSummarizer(sum))
	ctx := context.Background()

	mu.Lock()
	rep := r.Tick(ctx, 1000)
	mu.Unlock()
	assert.Equal(t, 2, rep.Queued)
	assert.Equal(t, 2, r.Queue().Len(), "Tick leaves the queue to its owner")
	assert.Zero(t, sum.calls)

	id, ran, err := r.Queue().Step(ctx, 1000)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, "agent-00", id)
	assert.Equal(t, 1, sum.calls)
	assert.False(t, sum.heldOnce, "the summarizer runs without the lock")

	s := b.Get("agent-00")
	assert.Zero(t, s.Count(memory.TierSituational))
	log := s.Entries(memory.TierEventLog)
	require.Len(t, log, 1)
	assert.Equal(t, "3 things happened", log[0].Content)
	assert.Equal(t, 3, b.Get("agent-01").Count(memory.TierSituational))
}

func TestQueueStepSkipsWhileRunning(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	q := maintenance.NewQueue(0, func(_ context.Context, _ string, _ int64) error {
		close(entered)
		<-release
		return nil
	}, nil, nil)
	q.Enqueue("a")
	q.Enqueue("b")

	first := make(chan string, 1)
	go func() {
		id, _, _ := q.Step(context.Background(), 0)
		first <- id
	}()
	<-entered

	_, ran, err := q.Step(context.Background(), 0)
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, 2, q.Len())

	close(release)
	assert.Equal(t, "a", <-first)
	assert.Equal(t, []string{"b"}, q.State().Pending)
}

func TestRunnerRecalibrates(t *testing.T) {
	reg := threshold.NewRegistry(threshold.Config{MinSamples: 2, Default: 0.3})
	tr := reg.Tracker(threshold.CategoryKnowledge)
	for i := 0; i < 10; i++ {
		tr.RecordScore(0.9)
	}
	r := maintenance.NewRunner(memory.NewBank(memory.DefaultConfig(), nil, nil),
		maintenance.Config{RecalibrateIntervalTicks: 100}, maintenance.WithRegistry(reg))

	assert.Nil(t, r.Tick(context.Background(), 10).Recalibrated)
	rep := r.Tick(context.Background(), 100)
	require.Contains(t, rep.Recalibrated, threshold.CategoryKnowledge)
	assert.InDelta(t, 0.35, rep.Recalibrated[threshold.CategoryKnowledge], 1e-9)
	assert.Nil(t, r.Tick(context.Background(), 150).Recalibrated)
}

func TestQueueStep(t *testing.T) {
	var done []string
	core, logs := observer.New(zap.WarnLevel)
	q := maintenance.NewQueue(5, func(_ context.Context, id string, _ int64) error {
		if id == "bad" {
			return errors.New("llm down")
		}
		done = append(done, id)
		return nil
	}, zap.New(core), nil)

	assert.True(t, q.Enqueue("a"))
	assert.False(t, q.Enqueue("a"))
	assert.False(t, q.Enqueue(""))
	q.Enqueue("bad")
	q.Enqueue("b")

	id, ran, err := q.Step(context.Background(), 0)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, "a", id)

	_, ran, _ = q.Step(context.Background(), 4)
	assert.False(t, ran)

	id, ran, err = q.Step(context.Background(), 5)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, "bad", id)
	assert.Equal(t, 1, logs.FilterMessage("queued maintenance failed").Len())

	q.Step(context.Background(), 10)
	assert.Equal(t, []string{"a", "b"}, done)
	assert.Zero(t, q.Len())
}

func TestQueueCancelledStepKeepsItem(t *testing.T) {
	q := maintenance.NewQueue(0, func(ctx context.Context, _ string, _ int64) error {
		return ctx.Err()
	}, nil, nil)
	q.Enqueue("a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ran, err := q.Step(ctx, 0)
	assert.False(t, ran)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"a"}, q.State().Pending)

	q.Restore(maintenance.QueueState{Pending: []string{"x", "x", "", "y"}, NextAllowed: 7})
	assert.Equal(t, maintenance.QueueState{Pending: []string{"x", "y"}, NextAllowed: 7}, q.State())
}

func TestScheduler(t *testing.T) {
	s := maintenance.NewScheduler(nil)
	calls := 0
	job := func(context.Context) error { calls++; return nil }

	require.NoError(t, s.Add("autosave", "@every 1h", job))
	require.NoError(t, s.Add("drain", "", job))
	assert.Error(t, s.Add("broken", "not a spec", job))
	assert.Equal(t, []string{"autosave"}, s.Jobs())

	s.Start()
	next, ok := s.Next("autosave")
	assert.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Hour), next, time.Minute)

	s.RunNow("autosave", job)
	assert.Equal(t, 1, calls)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}
