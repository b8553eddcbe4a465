package knowledge

import (
	"strings"
)

// DefaultMaxRounds is the default number of chaining rounds, the first
// included.
const DefaultMaxRounds = 2

// Matcher finds the facts whose tags appear in a context.
type Matcher struct {
	lib       *Library
	maxRounds int
}

// NewMatcher creates a matcher over lib. maxRounds <= 0 means
// DefaultMaxRounds.
func NewMatcher(lib *Library, maxRounds int) *Matcher {
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	return &Matcher{lib: lib, maxRounds: maxRounds}
}

// Match is one matched fact and the round it matched in.
type Match struct {
	Entry *Entry
	Round int
}

// Match returns the facts matching contextText for agentID, in library
// order per round.
//
// Disabled facts, facts scoped to another agent and facts in already never
// match. A fact whose exclusion keywords (or the library's global ones)
// appear in the context is skipped whatever its mode. With allowChaining,
// the content of newly matched facts flagged CanBeExtracted becomes the
// context of the next round, in which only facts flagged CanBeMatched are
// considered. Chaining stops when a round matches nothing new or the round
// cap is reached.
func (m *Matcher) Match(contextText, agentID string, already map[string]bool, allowChaining bool) []Match {
	if m == nil || m.lib == nil {
		return []Match{}
	}
	entries := m.lib.Entries()
	global := lowerAll(m.lib.GlobalExclude())

	seen := make(map[string]bool, len(already))
	for id, ok := range already {
		if ok {
			seen[id] = true
		}
	}

	out := []Match{}
	text := strings.ToLower(contextText)
	for round := 1; ; round++ {
		var fresh []*Entry
		for _, e := range entries {
			if seen[e.ID] || !e.IsEnabled || !e.AppliesTo(agentID) {
				continue
			}
			if round > 1 && !m.lib.Flags(e.ID).CanBeMatched {
				continue
			}
			if Excluded(text, global, e.ExcludeKeywords) || !TagsMatch(text, e) {
				continue
			}
			seen[e.ID] = true
			fresh = append(fresh, e)
			out = append(out, Match{Entry: e, Round: round})
		}

		if !allowChaining || len(fresh) == 0 || round >= m.maxRounds {
			break
		}
		var next strings.Builder
		for _, e := range fresh {
			if m.lib.Flags(e.ID).CanBeExtracted {
				next.WriteString(strings.ToLower(e.Content))
				next.WriteByte('\n')
			}
		}
		if next.Len() == 0 {
			break
		}
		text = next.String()
	}
	return out
}

// TagsMatch reports whether e's tags appear in the lower-cased text
// according to its match mode. A fact without tags never matches.
func TagsMatch(lowerText string, e *Entry) bool {
	tags := e.Tags()
	if len(tags) == 0 {
		return false
	}
	if e.MatchMode == MatchAll {
		for _, t := range tags {
			if !strings.Contains(lowerText, t) {
				return false
			}
		}
		return true
	}
	for _, t := range tags {
		if strings.Contains(lowerText, t) {
			return true
		}
	}
	return false
}

// Excluded reports whether any non-empty exclusion keyword, global or per
// fact, appears in the lower-cased text.
func Excluded(lowerText string, global, own []string) bool {
	for _, k := range global {
		if k != "" && strings.Contains(lowerText, k) {
			return true
		}
	}
	for _, k := range own {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" && strings.Contains(lowerText, k) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
