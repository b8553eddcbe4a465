package core_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/colonymem/pkg/core"
	"github.com/oceanbase/colonymem/pkg/knowledge"
	"github.com/oceanbase/colonymem/pkg/memory"
	"github.com/oceanbase/colonymem/pkg/storage"
)

// seedStore fills a client backed by store and saves it.
func seedStore(t *testing.T, store storage.SnapshotStore) {
	t.Helper()
	ctx := context.Background()
	c, err := core.NewClient(core.DefaultConfig(), core.WithStore(store))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.AddMemory(ctx, "pawn_1", "Found a silver vein", 100, core.WithPinned())
	require.NoError(t, err)
	_, err = c.RecordConversation(ctx, memory.ConversationRound{
		ID:           "round-1",
		Participants: []string{"pawn_1", "pawn_2"},
		Lines:        []string{"Alice: the winter is coming", "Bob: we need more food"},
		Tick:         200,
	})
	require.NoError(t, err)
	_, err = c.AddKnowledge(ctx, knowledge.NewEntry("k1", "winter", "winters are long here", 0.6))
	require.NoError(t, err)

	n, err := c.Save(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = c.Save(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "nothing changed since the last save")
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	seedStore(t, store)

	c := newTestClient(t, nil, core.WithStore(store))
	rep, err := c.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"pawn_1", "pawn_2"}, rep.Agents)
	assert.Empty(t, rep.Skipped)
	assert.Equal(t, 2, rep.Memory.Resolved)
	assert.Zero(t, rep.Memory.Dangling)
	assert.Equal(t, int64(200), c.Now())

	st := c.Stats("pawn_1")
	assert.Equal(t, 2, st.Total)
	assert.Equal(t, 1, st.Pinned)
	assert.Equal(t, 1, st.Knowledge)

	round, err := c.Round("round-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"pawn_1", "pawn_2"}, round.Participants)
	require.Len(t, c.Knowledge(), 1)
	assert.Equal(t, "winters are long here", c.Knowledge()[0].Content)

	text := c.BuildInjectionContext(ctx, "pawn_2", "pawn_1", "How long is the winter?")
	assert.Contains(t, text, "winters are long here")
	assert.Contains(t, text, "we need more food")
}

func TestLoadDowngradesDanglingRounds(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	seedStore(t, store)
	require.NoError(t, store.SaveBlob(ctx, storage.BlobRounds, []byte("[]")))

	c := newTestClient(t, nil, core.WithStore(store))
	rep, err := c.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Memory.Dangling)
	assert.Zero(t, rep.Memory.Resolved)

	for _, e := range c.Memories("pawn_2", memory.TierActive) {
		assert.Empty(t, e.RoundID)
	}
	_, err = c.Round("round-1")
	assert.ErrorIs(t, err, core.ErrNotFound)

	n, err := c.Save(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "repaired agents are written back")
}

func TestLoadSkipsUnreadableAgents(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	seedStore(t, store)
	require.NoError(t, store.SaveAgent(ctx, "pawn_9", []byte("not json")))

	c := newTestClient(t, nil, core.WithStore(store))
	rep, err := c.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"pawn_9"}, rep.Skipped)
	assert.Equal(t, []string{"pawn_1", "pawn_2"}, c.Agents())
}

func TestLoadReplacesState(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	seedStore(t, store)

	c := newTestClient(t, nil, core.WithStore(store))
	_, err := c.AddMemory(ctx, "pawn_7", "unsaved memory", 5)
	require.NoError(t, err)

	_, err = c.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"pawn_1", "pawn_2"}, c.Agents())
}

func TestSaveAllWritesEveryAgent(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	seedStore(t, store)

	c := newTestClient(t, nil, core.WithStore(store))
	_, err := c.Load(ctx)
	require.NoError(t, err)

	n, err := c.SaveAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
