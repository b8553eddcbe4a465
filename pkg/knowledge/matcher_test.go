package knowledge_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/colonymem/pkg/knowledge"
)

func ids(ms []knowledge.Match) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.Entry.ID)
	}
	return out
}

func chainLibrary(t *testing.T) *knowledge.Library {
	t.Helper()
	lib := knowledge.NewLibrary()
	require.NoError(t, lib.Add(knowledge.NewEntry("A", "fire", "village burned", 0.5)))
	require.NoError(t, lib.Add(knowledge.NewEntry("B", "village", "the village lies by the river", 0.5)))
	require.True(t, lib.SetFlags("A", knowledge.Flags{CanBeExtracted: true}))
	require.True(t, lib.SetFlags("B", knowledge.Flags{CanBeMatched: true}))
	return lib
}

func TestMatchChaining(t *testing.T) {
	lib := chainLibrary(t)
	m := knowledge.NewMatcher(lib, 0)

	got := m.Match("There was a fire.", "agent-1", nil, true)
	require.Equal(t, []string{"A", "B"}, ids(got))
	assert.Equal(t, 1, got[0].Round)
	assert.Equal(t, 2, got[1].Round)

	assert.Equal(t, []string{"A"}, ids(m.Match("There was a fire.", "agent-1", nil, false)))
}

func TestMatchChainingRespectsFlags(t *testing.T) {
	lib := chainLibrary(t)
	require.True(t, lib.SetFlags("B", knowledge.Flags{}))
	m := knowledge.NewMatcher(lib, 0)
	assert.Equal(t, []string{"A"}, ids(m.Match("there was a fire.", "x", nil, true)))

	lib = chainLibrary(t)
	require.True(t, lib.SetFlags("A", knowledge.Flags{}))
	m = knowledge.NewMatcher(lib, 0)
	assert.Equal(t, []string{"A"}, ids(m.Match("there was a fire.", "x", nil, true)))
}

func TestMatchRoundCap(t *testing.T) {
	lib := chainLibrary(t)
	require.NoError(t, lib.Add(knowledge.NewEntry("C", "river", "the river floods in spring", 0.5)))
	require.True(t, lib.SetFlags("B", knowledge.Flags{CanBeExtracted: true, CanBeMatched: true}))
	require.True(t, lib.SetFlags("C", knowledge.Flags{CanBeMatched: true}))

	assert.Equal(t, []string{"A", "B"}, ids(knowledge.NewMatcher(lib, 2).Match("fire", "x", nil, true)))
	assert.Equal(t, []string{"A", "B", "C"}, ids(knowledge.NewMatcher(lib, 3).Match("fire", "x", nil, true)))
}

func TestMatchAlreadyIncluded(t *testing.T) {
	lib := chainLibrary(t)
	m := knowledge.NewMatcher(lib, 0)
	got := m.Match("fire and village", "x", map[string]bool{"A": true}, true)
	assert.Equal(t, []string{"B"}, ids(got))
}

func TestMatchModes(t *testing.T) {
	lib := knowledge.NewLibrary()
	anyMode := knowledge.NewEntry("any", "wolf, bear", "predators roam", 0.5)
	all := knowledge.NewEntry("all", "wolf, bear", "they never hunt together", 0.5)
	all.MatchMode = knowledge.MatchAll
	require.NoError(t, lib.Add(anyMode))
	require.NoError(t, lib.Add(all))
	m := knowledge.NewMatcher(lib, 0)

	assert.Equal(t, []string{"any"}, ids(m.Match("a WOLF howls", "x", nil, false)))
	assert.Equal(t, []string{"any", "all"}, ids(m.Match("a wolf and a bear", "x", nil, false)))
}

func TestExclusionWins(t *testing.T) {
	for _, mode := range []knowledge.MatchMode{knowledge.MatchAny, knowledge.MatchAll} {
		lib := knowledge.NewLibrary()
		e := knowledge.NewEntry("e", "fire", "fire spreads fast", 0.5)
		e.MatchMode = mode
		e.ExcludeKeywords = []string{" Campfire "}
		require.NoError(t, lib.Add(e))
		m := knowledge.NewMatcher(lib, 0)

		assert.Empty(t, m.Match("we sat by the campfire", "x", nil, false), mode.String())
		assert.Len(t, m.Match("the fire", "x", nil, false), 1, mode.String())

		lib.SetGlobalExclude([]string{"FIRE"})
		assert.Empty(t, m.Match("the fire", "x", nil, false), mode.String())
	}
}

func TestMatchSkipsDisabledAndScoped(t *testing.T) {
	lib := knowledge.NewLibrary()
	off := knowledge.NewEntry("off", "fire", "x", 0.5)
	off.IsEnabled = false
	scoped := knowledge.NewEntry("scoped", "fire", "y", 0.5)
	scoped.TargetAgentID = "agent-2"
	legacy := knowledge.NewEntry("legacy", "fire", "z", 0.5)
	legacy.TargetAgentID = knowledge.LegacyGlobalTarget
	require.NoError(t, lib.Add(off))
	require.NoError(t, lib.Add(scoped))
	require.NoError(t, lib.Add(legacy))
	m := knowledge.NewMatcher(lib, 0)

	assert.Equal(t, []string{"legacy"}, ids(m.Match("fire", "agent-1", nil, false)))
	assert.Equal(t, []string{"scoped", "legacy"}, ids(m.Match("fire", "agent-2", nil, false)))
	assert.Equal(t, 2, lib.EnabledCount("agent-2"))
}

func TestMatchEmptyTagsNeverFire(t *testing.T) {
	lib := knowledge.NewLibrary()
	require.NoError(t, lib.Add(knowledge.NewEntry("blank", " , ,", "nothing", 0.5)))
	assert.Empty(t, knowledge.NewMatcher(lib, 0).Match("anything at all", "x", nil, true))

	var nilMatcher *knowledge.Matcher
	assert.Empty(t, nilMatcher.Match("fire", "x", nil, true))
}
