package memory

import (
	"math"
	"sort"
)

// ScoreFunc ranks an entry for a query. Higher is more relevant.
type ScoreFunc func(*Entry) float64

// QueryOptions controls Query.
type QueryOptions struct {
	// Score ranks Situational and EventLog entries. Nil means
	// importance x activity.
	Score ScoreFunc

	// MaxSituational, MaxEventLog and MaxArchive bound each tier's share.
	// Zero or negative means the default (5, 3 and 2).
	MaxSituational int
	MaxEventLog    int
	MaxArchive     int

	IncludeEventLog bool
	IncludeArchive  bool
}

// Default query limits.
const (
	DefaultMaxSituational = 5
	DefaultMaxEventLog    = 3
	DefaultMaxArchive     = 2
)

// Scored pairs an entry with the score it was ranked by.
type Scored struct {
	Entry *Entry
	Score float64
}

// Query returns the entries most worth recalling: every Active entry, then
// the top Situational entries, then optionally the top EventLog entries and
// the most important Archive entries. Ties break on id. An entry whose score
// cannot be computed is skipped.
func (s *Store) Query(opts QueryOptions) []Scored {
	if s == nil {
		return []Scored{}
	}
	score := opts.Score
	if score == nil {
		score = func(e *Entry) float64 { return e.Importance * e.Activity }
	}
	maxS := orDefault(opts.MaxSituational, DefaultMaxSituational)
	maxE := orDefault(opts.MaxEventLog, DefaultMaxEventLog)
	maxA := orDefault(opts.MaxArchive, DefaultMaxArchive)

	out := make([]Scored, 0, len(s.tiers[TierActive])+maxS+maxE+maxA)
	for _, e := range s.tiers[TierActive] {
		v, ok := safeScore(score, e)
		if !ok {
			continue
		}
		out = append(out, Scored{Entry: e, Score: v})
	}
	out = append(out, topN(s.tiers[TierSituational], score, maxS)...)
	if opts.IncludeEventLog {
		out = append(out, topN(s.tiers[TierEventLog], score, maxE)...)
	}
	if opts.IncludeArchive {
		out = append(out, topN(s.tiers[TierArchive], func(e *Entry) float64 { return e.Importance }, maxA)...)
	}
	return out
}

func topN(entries []*Entry, score ScoreFunc, n int) []Scored {
	ranked := make([]Scored, 0, len(entries))
	for _, e := range entries {
		v, ok := safeScore(score, e)
		if !ok {
			continue
		}
		ranked = append(ranked, Scored{Entry: e, Score: v})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Entry.ID < ranked[j].Entry.ID
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// safeScore runs score, reporting ok=false on panic or a non-finite result.
func safeScore(score ScoreFunc, e *Entry) (v float64, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			v, ok = 0, false
		}
	}()
	v = score(e)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func orDefault(v, d int) int {
	if v <= 0 {
		return d
	}
	return v
}
