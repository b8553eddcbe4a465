package memory

import (
	"context"
	"strings"
)

// SummaryPlan holds the summaries a Summarize or Archive pass is going to
// need, computed ahead of the pass. Planning and applying touch the store;
// Run does not, so a slow summarizer can run while other callers use the
// store.
//
// A SummaryPlan is itself a Summarizer: groups that were planned get their
// precomputed text, any other group gets a SimpleSummarizer summary.
type SummaryPlan struct {
	groups   []plannedGroup
	texts    map[string]string
	fallback SimpleSummarizer
}

type plannedGroup struct {
	key     string
	typ     EntryType
	entries []*Entry
}

// PlanCondense records the groups that Summarize (when summarize is set)
// followed by Archive (when archive is set) would hand to a summarizer at
// tick now. s is not modified.
func PlanCondense(ctx context.Context, s *Store, now int64, summarize, archive bool) *SummaryPlan {
	p := &SummaryPlan{texts: make(map[string]string)}
	if s == nil {
		return p
	}
	p.fallback = SimpleSummarizer{MaxEntryRunes: s.cfg.SummaryEntryRunes}

	dry := s.clone()
	rec := recorder{plan: p}
	if summarize {
		dry.Summarize(ctx, now, rec)
	}
	if archive {
		dry.Archive(ctx, now, rec)
	}
	return p
}

// Len returns the number of planned groups.
func (p *SummaryPlan) Len() int {
	if p == nil {
		return 0
	}
	return len(p.groups)
}

// Run summarizes every planned group with sum.
func (p *SummaryPlan) Run(ctx context.Context, sum Summarizer) {
	if p == nil {
		return
	}
	for _, g := range p.groups {
		if ctx.Err() != nil {
			return
		}
		p.texts[g.key] = sum.Summarize(ctx, g.typ, g.entries)
	}
}

// Summarize implements Summarizer.
func (p *SummaryPlan) Summarize(ctx context.Context, t EntryType, entries []*Entry) string {
	if p != nil {
		if text, ok := p.texts[groupKey(t, entries)]; ok {
			return text
		}
		return p.fallback.Summarize(ctx, t, entries)
	}
	return SimpleSummarizer{}.Summarize(ctx, t, entries)
}

type recorder struct {
	plan *SummaryPlan
}

func (r recorder) Summarize(_ context.Context, t EntryType, entries []*Entry) string {
	// Summaries created by the dry Summarize pass carry throwaway ids and
	// never match at apply time.
	group := make([]*Entry, len(entries))
	for i, e := range entries {
		group[i] = e.Clone()
	}
	r.plan.groups = append(r.plan.groups, plannedGroup{
		key:     groupKey(t, entries),
		typ:     t,
		entries: group,
	})
	return ""
}

func groupKey(t EntryType, entries []*Entry) string {
	var b strings.Builder
	b.WriteString(t.String())
	for _, e := range entries {
		b.WriteByte(0)
		b.WriteString(e.ID)
	}
	return b.String()
}

// clone copies the store and its entries. The copy issues its own ids.
func (s *Store) clone() *Store {
	c := &Store{
		AgentID:         s.AgentID,
		LastDecayTick:   s.LastDecayTick,
		LastSummaryTick: s.LastSummaryTick,
		LastArchiveTick: s.LastArchiveTick,
		cfg:             s.cfg,
		ids:             &seqIDs{prefix: s.AgentID + "-plan-"},
		evaluator:       s.evaluator,
	}
	for t := range s.tiers {
		c.tiers[t] = make([]*Entry, len(s.tiers[t]))
		for i, e := range s.tiers[t] {
			c.tiers[t][i] = e.Clone()
		}
	}
	return c
}
