package core_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/oceanbase/colonymem/pkg/core"
	"github.com/oceanbase/colonymem/pkg/llm"
	"github.com/oceanbase/colonymem/pkg/maintenance"
	"github.com/oceanbase/colonymem/pkg/memory"
)

func TestTickRunsMaintenance(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, nil)
	for i := 0; i < 30; i++ {
		_, err := c.AddMemory(ctx, "pawn_1", fmt.Sprintf("chopped tree number %d", i), int64(i))
		require.NoError(t, err)
	}

	rep := c.Tick(ctx, 2500)
	assert.Equal(t, []string{"pawn_1"}, rep.Agents)
	assert.Equal(t, int64(2500), c.Now())
	assert.LessOrEqual(t, c.Stats("pawn_1").Tiers[memory.TierSituational], 20)

	again := c.Tick(ctx, 2500)
	assert.Zero(t, again.Decayed, "a pass runs at most once per interval")
}

func TestSummaryQueue(t *testing.T) {
	ctx := context.Background()
	cfg := core.DefaultConfig()
	cfg.LLM.Queue = true
	c := newTestClient(t, cfg)
	for _, id := range []string{"pawn_1", "pawn_2"} {
		_, err := c.AddMemory(ctx, id, "hauled steel", 1)
		require.NoError(t, err)
	}

	rep := c.Tick(ctx, 60000)
	assert.Equal(t, 2, rep.Queued)
	assert.Equal(t, 2, c.QueueLen(), "queued agents wait for DrainQueue")

	ran, err := c.DrainQueue(ctx)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 1, c.QueueLen())

	ran, err = c.DrainQueue(ctx)
	require.NoError(t, err)
	assert.False(t, ran, "the item delay has not elapsed")

	c.SetNow(60000 + cfg.Maintenance.ItemDelayTicks)
	ran, err = c.DrainQueue(ctx)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Zero(t, c.QueueLen())
}

// blockingLLM holds every request until release is closed.
type blockingLLM struct {
	reply   string
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingLLM(reply string) *blockingLLM {
	return &blockingLLM{
		reply:   reply,
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (b *blockingLLM) Generate(ctx context.Context, _ string, opts ...llm.GenerateOption) (string, error) {
	return b.GenerateWithMessages(ctx, nil, opts...)
}

func (b *blockingLLM) GenerateWithMessages(ctx context.Context, _ []llm.Message, _ ...llm.GenerateOption) (string, error) {
	b.calls.Add(1)
	b.once.Do(func() { close(b.started) })
	select {
	case <-b.release:
		return b.reply, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (b *blockingLLM) Close() error { return nil }

func within(t *testing.T, d time.Duration, what string, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatalf("%s did not return within %s", what, d)
	}
}

func TestLLMSummariesRunOffTheTick(t *testing.T) {
	ctx := context.Background()
	cfg := core.DefaultConfig()
	cfg.LLM.Timeout = 5 * time.Second
	slow := newBlockingLLM("Worked the fields all day.")
	c := newTestClient(t, cfg, core.WithLLM(slow))

	agents := []string{"pawn_1", "pawn_2", "pawn_3", "pawn_4"}
	for _, id := range agents {
		for i := 0; i < 6; i++ {
			typ := memory.TypeAction
			if i%2 == 1 {
				typ = memory.TypeObservation
			}
			_, err := c.AddMemory(ctx, id, fmt.Sprintf("%s chopped tree %d", id, i), int64(59000+i), core.WithType(typ))
			require.NoError(t, err)
		}
	}
	require.Equal(t, 3, c.Stats("pawn_1").Tiers[memory.TierSituational])

	var rep maintenance.Report
	within(t, time.Second, "Tick", func() { rep = c.Tick(ctx, 60000) })
	assert.Equal(t, 4, rep.Queued)
	assert.Zero(t, rep.Summaries)
	assert.Zero(t, slow.calls.Load(), "Tick must not call the LLM")
	assert.Equal(t, 4, c.QueueLen())

	drained := make(chan bool, 1)
	go func() {
		ran, err := c.DrainQueue(ctx)
		assert.NoError(t, err)
		drained <- ran
	}()
	select {
	case <-slow.started:
	case <-time.After(2 * time.Second):
		t.Fatal("summarizer was never called")
	}

	// The client stays usable while the summary request is in flight.
	within(t, time.Second, "Stats", func() {
		assert.Equal(t, 3, c.Stats("pawn_2").Tiers[memory.TierSituational])
	})
	within(t, time.Second, "AddMemory", func() {
		_, err := c.AddMemory(ctx, "pawn_9", "watched the sunrise", 60000)
		assert.NoError(t, err)
	})
	within(t, time.Second, "BuildInjectionContext", func() {
		c.BuildInjectionContext(ctx, "pawn_2", "pawn_1", "the trees by the river")
	})

	close(slow.release)
	select {
	case ran := <-drained:
		assert.True(t, ran)
	case <-time.After(2 * time.Second):
		t.Fatal("DrainQueue did not finish")
	}

	assert.Zero(t, c.Stats("pawn_1").Tiers[memory.TierSituational])
	log := c.Memories("pawn_1", memory.TierEventLog)
	require.Len(t, log, 2, "one summary per entry type")
	for _, e := range log {
		assert.Equal(t, "Worked the fields all day.", e.Content)
	}
	assert.Equal(t, int32(2), slow.calls.Load())
	assert.Equal(t, 3, c.QueueLen())
}

func TestDrainQueueWithoutQueue(t *testing.T) {
	c := newTestClient(t, nil)
	ran, err := c.DrainQueue(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Zero(t, c.QueueLen())
}

func TestBackgroundJobs(t *testing.T) {
	core2, logs := observer.New(zap.InfoLevel)
	c := newTestClient(t, nil, core.WithLogger(zap.New(core2)))

	require.NoError(t, c.StartBackground())
	require.NoError(t, c.StartBackground())

	started := logs.FilterMessage("background jobs started").All()
	require.Len(t, started, 1)
	assert.Equal(t, []any{core.JobAutosave}, started[0].ContextMap()["jobs"])

	c.StopBackground(context.Background())
	c.StopBackground(context.Background())
	require.NoError(t, c.Close())
}
