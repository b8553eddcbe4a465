package memory

import (
	"context"
	"sort"

	"github.com/oceanbase/colonymem/pkg/textutil"
)

// Decay multiplies the activity of every unprotected entry by one minus its
// tier's decay rate. A call with now at or before the last decay tick does
// nothing. It returns the number of entries decayed.
func (s *Store) Decay(now int64) int {
	if s == nil || now <= s.LastDecayTick {
		return 0
	}
	s.LastDecayTick = now

	n := 0
	for t := range s.tiers {
		rate := s.cfg.decayRate(Tier(t))
		if rate == 0 {
			continue
		}
		for _, e := range s.tiers[t] {
			if e.Protected() {
				continue
			}
			e.Activity = clamp01(e.Activity * (1 - rate))
			n++
		}
	}
	return n
}

// Prune removes unprotected Situational and EventLog entries whose activity
// fell below the prune threshold. It returns the number removed.
func (s *Store) Prune() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, t := range []Tier{TierSituational, TierEventLog} {
		kept := s.tiers[t][:0]
		for _, e := range s.tiers[t] {
			if !e.Protected() && e.Activity < s.cfg.PruneThreshold {
				n++
				continue
			}
			kept = append(kept, e)
		}
		s.tiers[t] = kept
	}
	return n
}

// EnforceCapacity clamps Situational and EventLog to their capacities,
// removing the lowest-activity entries first (older first on ties).
// Protected entries are never removed, so a tier made of protected entries
// may stay above capacity. It returns the number removed.
func (s *Store) EnforceCapacity() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, t := range []Tier{TierSituational, TierEventLog} {
		excess := len(s.tiers[t]) - s.cfg.capacity(t)
		if excess <= 0 {
			continue
		}
		candidates := make([]*Entry, 0, len(s.tiers[t]))
		for _, e := range s.tiers[t] {
			if !e.Protected() {
				candidates = append(candidates, e)
			}
		}
		sort.SliceStable(candidates, func(i, j int) bool {
			a, b := candidates[i], candidates[j]
			if a.Activity != b.Activity {
				return a.Activity < b.Activity
			}
			if a.Timestamp != b.Timestamp {
				return a.Timestamp < b.Timestamp
			}
			return a.ID < b.ID
		})
		if excess > len(candidates) {
			excess = len(candidates)
		}
		evict := make(map[*Entry]bool, excess)
		for _, e := range candidates[:excess] {
			evict[e] = true
		}
		kept := s.tiers[t][:0]
		for _, e := range s.tiers[t] {
			if !evict[e] {
				kept = append(kept, e)
			}
		}
		s.tiers[t] = kept
		n += excess
	}
	return n
}

// Summarize folds every Situational entry not kept by the keep policy into
// one summary per entry type at the head of the EventLog. It returns the
// number of summaries created. A call with now at or before the last
// summary tick does nothing.
func (s *Store) Summarize(ctx context.Context, now int64, sum Summarizer) int {
	if s == nil || now <= s.LastSummaryTick {
		return 0
	}
	s.LastSummaryTick = now

	var eligible []*Entry
	kept := make([]*Entry, 0, len(s.tiers[TierSituational]))
	for _, e := range s.tiers[TierSituational] {
		if s.cfg.keep(e) {
			kept = append(kept, e)
		} else {
			eligible = append(eligible, e)
		}
	}
	if len(eligible) == 0 {
		return 0
	}
	s.tiers[TierSituational] = kept

	summaries := s.summarizeGroups(ctx, eligible, TierEventLog, sum)
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].Timestamp > summaries[j].Timestamp
	})
	s.tiers[TierEventLog] = append(summaries, s.tiers[TierEventLog]...)
	return len(summaries)
}

// Archive moves the oldest share (at least one) of the EventLog entries not
// kept by the keep policy into Archive, one summary per entry type. Each
// summary carries the latest timestamp of its group. It returns the number
// of summaries created. A call with now at or before the last archive tick
// does nothing.
func (s *Store) Archive(ctx context.Context, now int64, sum Summarizer) int {
	if s == nil || now <= s.LastArchiveTick {
		return 0
	}
	s.LastArchiveTick = now

	var eligible []*Entry
	for _, e := range s.tiers[TierEventLog] {
		if !s.cfg.keep(e) {
			eligible = append(eligible, e)
		}
	}
	if len(eligible) == 0 {
		return 0
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].Timestamp != eligible[j].Timestamp {
			return eligible[i].Timestamp < eligible[j].Timestamp
		}
		return eligible[i].ID < eligible[j].ID
	})
	n := int(float64(len(eligible)) * s.cfg.ArchiveFraction)
	if n < 1 {
		n = 1
	}
	oldest := eligible[:n]

	chosen := make(map[*Entry]bool, n)
	for _, e := range oldest {
		chosen[e] = true
	}
	remaining := s.tiers[TierEventLog][:0]
	for _, e := range s.tiers[TierEventLog] {
		if !chosen[e] {
			remaining = append(remaining, e)
		}
	}
	s.tiers[TierEventLog] = remaining

	summaries := s.summarizeGroups(ctx, oldest, TierArchive, sum)
	for _, e := range summaries {
		s.insertArchive(e)
	}
	return len(summaries)
}

// summarizeGroups builds one summary entry per entry type present in
// entries, in type declaration order.
func (s *Store) summarizeGroups(ctx context.Context, entries []*Entry, tier Tier, sum Summarizer) []*Entry {
	if sum == nil {
		sum = SimpleSummarizer{MaxEntryRunes: s.cfg.SummaryEntryRunes}
	}

	groups := make(map[EntryType][]*Entry)
	for _, e := range entries {
		groups[e.Type] = append(groups[e.Type], e)
	}

	out := make([]*Entry, 0, len(groups))
	for _, t := range AllTypes {
		group := groups[t]
		if len(group) == 0 {
			continue
		}
		// Oldest first reads chronologically.
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Timestamp < group[j].Timestamp
		})

		summary := &Entry{
			ID:       s.ids.NextID(),
			Content:  sum.Summarize(ctx, t, group),
			Type:     t,
			Tier:     tier,
			Activity: 1,
			Tags:     []string{},
			Keywords: []string{},
		}
		relatedID, relatedName := group[0].RelatedEntityID, group[0].RelatedEntityName
		for _, e := range group {
			if e.Timestamp > summary.Timestamp {
				summary.Timestamp = e.Timestamp
			}
			if e.Importance > summary.Importance {
				summary.Importance = e.Importance
			}
			summary.Tags = textutil.Union(summary.Tags, e.Tags)
			summary.Keywords = textutil.Union(summary.Keywords, e.Keywords)
			if e.RelatedEntityID != relatedID || e.RelatedEntityName != relatedName {
				relatedID, relatedName = "", ""
			}
		}
		if len(summary.Keywords) > s.cfg.MaxKeywords {
			summary.Keywords = summary.Keywords[:s.cfg.MaxKeywords]
		}
		summary.RelatedEntityID = relatedID
		summary.RelatedEntityName = relatedName
		out = append(out, summary)
	}
	return out
}
