package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/colonymem/pkg/memory"
)

type fixedSummarizer struct {
	text  string
	calls int
}

func (f *fixedSummarizer) Summarize(context.Context, memory.EntryType, []*memory.Entry) string {
	f.calls++
	return f.text
}

func TestSummaryPlan(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, func(c *memory.Config) { c.Capacities.Active = 1 })
	insert(t, s, "c1", memory.TypeConversation, 1)
	insert(t, s, "e1", memory.TypeEvent, 2)
	insert(t, s, "c2", memory.TypeConversation, 3)
	insert(t, s, "now", memory.TypeEvent, 4)

	plan := memory.PlanCondense(ctx, s, 10, true, false)
	assert.Equal(t, 2, plan.Len())
	assert.Equal(t, 3, s.Count(memory.TierSituational), "planning leaves the store alone")
	assert.Equal(t, memory.NeverRun, s.LastSummaryTick)

	sum := &fixedSummarizer{text: "Talked a lot."}
	plan.Run(ctx, sum)
	assert.Equal(t, 2, sum.calls)

	// The event group changes before the plan is applied.
	insert(t, s, "c3", memory.TypeConversation, 5)

	assert.Equal(t, 2, s.Summarize(ctx, 10, plan))
	log := s.Entries(memory.TierEventLog)
	require.Len(t, log, 2)
	assert.Equal(t, memory.TypeEvent, log[0].Type)
	assert.Equal(t, "2x: e1; now", log[0].Content)
	assert.Equal(t, memory.TypeConversation, log[1].Type)
	assert.Equal(t, "Talked a lot.", log[1].Content)
}

func TestSummaryPlanWithArchive(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, func(c *memory.Config) {
		c.Capacities.Active = 1
		c.ArchiveFraction = 1
	})
	insert(t, s, "e1", memory.TypeEvent, 1)
	insert(t, s, "e2", memory.TypeEvent, 2)
	s.Summarize(ctx, 5, nil)
	require.Equal(t, 1, s.Count(memory.TierEventLog))

	plan := memory.PlanCondense(ctx, s, 10, false, true)
	assert.Equal(t, 1, plan.Len())
	plan.Run(ctx, &fixedSummarizer{text: "Long ago."})

	assert.Equal(t, 1, s.Archive(ctx, 10, plan))
	archive := s.Entries(memory.TierArchive)
	require.Len(t, archive, 1)
	assert.Equal(t, "Long ago.", archive[0].Content)
}
