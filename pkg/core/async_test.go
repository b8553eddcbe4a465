package core_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/colonymem/pkg/core"
	"github.com/oceanbase/colonymem/pkg/storage"
)

func TestAsyncClient(t *testing.T) {
	ctx := context.Background()
	ac, err := core.NewAsyncClient(nil, core.WithStore(storage.NewMemoryStore()))
	require.NoError(t, err)

	added := <-ac.AddMemoryAsync(ctx, "pawn_1", "Cleaned the kitchen", 10)
	require.NoError(t, added.Error)
	assert.NotEmpty(t, added.ID)

	res := <-ac.BuildInjectionContextAsync(ctx, "pawn_1", "", "Is the kitchen clean?")
	assert.Equal(t, "pawn_1", res.AgentID)
	assert.Contains(t, res.Text, "Cleaned the kitchen")

	require.NoError(t, <-ac.SaveAsync(ctx))

	pending := make([]<-chan core.AddResult, 0, 10)
	for i := 0; i < 10; i++ {
		pending = append(pending, ac.AddMemoryAsync(ctx, "pawn_2", "Same event", 20))
	}
	ac.Wait()
	ok := 0
	for _, ch := range pending {
		if r := <-ch; r.Error == nil {
			ok++
		} else {
			assert.ErrorIs(t, r.Error, core.ErrDuplicateMemory)
		}
	}
	assert.Equal(t, 1, ok)
	require.NoError(t, ac.Close())
}
