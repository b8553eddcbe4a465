package core_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/colonymem/pkg/core"
	"github.com/oceanbase/colonymem/pkg/memory"
	"github.com/oceanbase/colonymem/pkg/storage"
)

func newTestClient(t *testing.T, cfg *core.Config, opts ...core.Option) *core.Client {
	t.Helper()
	if cfg == nil {
		cfg = core.DefaultConfig()
	}
	opts = append([]core.Option{core.WithStore(storage.NewMemoryStore())}, opts...)
	c, err := core.NewClient(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewClientRejectsInvalidConfig(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.Store.Provider = "redis"
	_, err := core.NewClient(cfg)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestAddMemory(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, nil)

	id, err := c.AddMemory(ctx, "pawn_1", "Saw a raid approach the village", 100,
		core.WithType(memory.TypeObservation),
		core.WithImportance(0.7),
		core.WithTags("raid"))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	e, err := c.GetMemory("pawn_1", id)
	require.NoError(t, err)
	assert.Equal(t, "Saw a raid approach the village", e.Content)
	assert.Equal(t, memory.TierActive, e.Tier)
	assert.InDelta(t, 0.7, e.Importance, 1e-9)
	assert.Equal(t, int64(100), e.Timestamp)
	assert.Equal(t, int64(100), c.Now())

	assert.Equal(t, []string{"pawn_1"}, c.Agents())
	st := c.Stats("pawn_1")
	assert.Equal(t, 1, st.Total)
	assert.Equal(t, 1, st.Tiers[memory.TierActive])
}

func TestAddMemoryRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, nil)

	_, err := c.AddMemory(ctx, "", "text", 1)
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	_, err = c.AddMemory(ctx, "pawn_1", "   ", 1)
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = c.AddMemory(cancelled, "pawn_1", "text", 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAddMemoryDuplicates(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, nil)

	_, err := c.AddMemory(ctx, "pawn_1", "Ate a fine meal", 10)
	require.NoError(t, err)
	_, err = c.AddMemory(ctx, "pawn_1", "Ate a fine meal", 11)
	assert.ErrorIs(t, err, core.ErrDuplicateMemory)

	_, err = c.AddMemory(ctx, "pawn_1", "Heard thunder", 12, core.WithDedupKey("weather"))
	require.NoError(t, err)
	_, err = c.AddMemory(ctx, "pawn_1", "Heard thunder again", 13, core.WithDedupKey("weather"))
	assert.ErrorIs(t, err, core.ErrDuplicateMemory)

	_, err = c.AddMemory(ctx, "pawn_2", "Heard thunder", 13, core.WithDedupKey("weather"))
	assert.NoError(t, err, "dedup keys are per agent")
}

func TestUserEdits(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, nil)
	id, err := c.AddMemory(ctx, "pawn_1", "Found a silver vein", 5)
	require.NoError(t, err)

	require.NoError(t, c.PinMemory("pawn_1", id, true))
	require.NoError(t, c.EditMemory("pawn_1", id, "Found a gold vein"))
	require.NoError(t, c.SetMemoryNotes("pawn_1", id, "north cliff"))

	e, err := c.GetMemory("pawn_1", id)
	require.NoError(t, err)
	assert.True(t, e.IsPinned)
	assert.True(t, e.IsUserEdited)
	assert.Equal(t, "Found a gold vein", e.Content)
	assert.Equal(t, "north cliff", e.Notes)
	assert.Equal(t, 1, c.Stats("pawn_1").Pinned)

	assert.ErrorIs(t, c.EditMemory("pawn_1", id, ""), core.ErrInvalidInput)
	assert.ErrorIs(t, c.PinMemory("pawn_9", id, true), core.ErrNotFound)

	require.NoError(t, c.RemoveMemory("pawn_1", id))
	_, err = c.GetMemory("pawn_1", id)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.ErrorIs(t, c.RemoveMemory("pawn_1", id), core.ErrNotFound)
}

func TestMemoriesReturnsCopies(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, nil)
	id, err := c.AddMemory(ctx, "pawn_1", "Planted rice", 5)
	require.NoError(t, err)

	list := c.Memories("pawn_1", memory.TierActive)
	require.Len(t, list, 1)
	list[0].Content = "changed"

	e, err := c.GetMemory("pawn_1", id)
	require.NoError(t, err)
	assert.Equal(t, "Planted rice", e.Content)
	assert.Empty(t, c.Memories("nobody", memory.TierActive))
}

func TestSetNowNeverMovesBackwards(t *testing.T) {
	c := newTestClient(t, nil)
	c.SetNow(500)
	c.SetNow(200)
	assert.Equal(t, int64(500), c.Now())
}

func TestRemoveAgent(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	c, err := core.NewClient(core.DefaultConfig(), core.WithStore(store))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.AddMemory(ctx, "pawn_1", "Tamed a husky", 5)
	require.NoError(t, err)
	_, err = c.Save(ctx)
	require.NoError(t, err)

	require.NoError(t, c.RemoveAgent(ctx, "pawn_1"))
	assert.Empty(t, c.Agents())
	_, err = store.LoadAgent(ctx, "pawn_1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.NoError(t, c.RemoveAgent(ctx, "pawn_1"), "removing twice is a no-op")
	assert.NoError(t, c.RemoveAgent(ctx, "never_seen"))
}

func TestRemoveAgentDeletesUnloadedSnapshot(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.SaveAgent(ctx, "pawn_7", []byte(`{"agent_id":"pawn_7"}`)))

	c, err := core.NewClient(core.DefaultConfig(), core.WithStore(store))
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.RemoveAgent(ctx, "pawn_7"))
	_, err = store.LoadAgent(ctx, "pawn_7")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestClosedClient(t *testing.T) {
	ctx := context.Background()
	c, err := core.NewClient(core.DefaultConfig(), core.WithStore(storage.NewMemoryStore()))
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err = c.AddMemory(ctx, "pawn_1", "late", 1)
	assert.ErrorIs(t, err, core.ErrClosed)
	_, err = c.Save(ctx)
	assert.ErrorIs(t, err, core.ErrClosed)
	assert.ErrorIs(t, c.RemoveAgent(ctx, "pawn_1"), core.ErrClosed)
}

func TestBatchAddMemories(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, nil)

	res, err := c.BatchAddMemories(ctx, []core.BatchAddItem{
		{AgentID: "pawn_1", Content: "Built a wall"},
		{AgentID: "pawn_1", Content: "Built a wall"},
		{AgentID: "", Content: "nobody"},
		{AgentID: "pawn_2", Content: "Cooked stew", Options: []core.AddOption{core.WithImportance(0.9)}},
	}, 40)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Added)
	assert.Equal(t, 1, res.Skipped)
	assert.NotEmpty(t, res.IDs[0])
	assert.Empty(t, res.IDs[1])
	assert.ErrorIs(t, res.Errors[1], core.ErrDuplicateMemory)
	assert.ErrorIs(t, res.Errors[2], core.ErrInvalidInput)
	assert.NoError(t, res.Errors[3])

	_, err = c.BatchAddMemories(ctx, nil, 40)
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestMemoriesStream(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, nil)
	for i, text := range []string{"one apple", "two pears", "three plums"} {
		_, err := c.AddMemory(ctx, "pawn_1", text, int64(i+1))
		require.NoError(t, err)
	}
	_, err := c.AddMemory(ctx, "pawn_2", "a lone memory", 9)
	require.NoError(t, err)

	var batches []*core.MemoryBatch
	total := 0
	for b := range c.MemoriesStream(ctx, 2) {
		require.NoError(t, b.Error)
		batches = append(batches, b)
		total += len(b.Memories)
	}
	require.Len(t, batches, 3)
	assert.Equal(t, 4, total)
	assert.Equal(t, "pawn_1", batches[0].AgentID)
	assert.Equal(t, "pawn_2", batches[2].AgentID)
	assert.True(t, batches[2].IsLastBatch)
	assert.False(t, batches[0].IsLastBatch)
}
