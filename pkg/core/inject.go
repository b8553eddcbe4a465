package core

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/oceanbase/colonymem/pkg/cache"
	"github.com/oceanbase/colonymem/pkg/host"
	"github.com/oceanbase/colonymem/pkg/knowledge"
	"github.com/oceanbase/colonymem/pkg/memory"
	"github.com/oceanbase/colonymem/pkg/metrics"
	"github.com/oceanbase/colonymem/pkg/scoring"
	"github.com/oceanbase/colonymem/pkg/threshold"
)

// Section headers of an injection block, in output order.
const (
	SectionGuidelines = "[Guidelines]"
	SectionKnowledge  = "[Background Knowledge]"
	SectionMemories   = "[Memories]"
)

// KnowledgeQualifier is the time qualifier of every knowledge line.
const KnowledgeQualifier = "common knowledge"

var moodWords = [...]string{"miserable", "unhappy", "calm", "cheerful", "elated"}

var opinionPhrases = map[int]string{
	-2: "despises",
	-1: "dislikes",
	0:  "has no strong feelings about",
	1:  "likes",
	2:  "deeply trusts",
}

// BuildInjectionContext assembles the prompt context of agentID speaking to
// listenerID about contextText at the client's current tick.
//
// The block has up to three sections in this order: [Guidelines],
// [Background Knowledge] and [Memories]. Each fact and memory is one line
// "N. [Type] content (qualifier)"; knowledge lines use their first tag as
// the type and "common knowledge" as the qualifier.
//
// An empty string means nothing passed the selection thresholds. That is a
// valid outcome and the caller should simply inject nothing. Guidelines
// alone are never injected.
//
// Example:
//
//	client.SetNow(tick)
//	text := client.BuildInjectionContext(ctx, "pawn_1", "pawn_2", line)
//	if text != "" {
//	    prompt = text + "\n\n" + prompt
//	}
func (c *Client) BuildInjectionContext(ctx context.Context, agentID, listenerID, contextText string) string {
	start := time.Now()
	if agentID == "" {
		c.metrics.RecordInjection(metrics.OutcomeEmpty, time.Since(start))
		return ""
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now

	store := c.bank.Get(agentID)
	counts := cache.Counts{
		Memories:  store.Total(),
		Knowledge: c.library.EnabledCount(agentID),
	}
	key := c.promptKey(agentID, listenerID, contextText)
	if text, ok := c.prompts.Get(key, counts, now); ok {
		c.metrics.RecordInjection(metrics.OutcomeCached, time.Since(start))
		return text
	}

	speaker := scoring.Participant{ID: agentID, Name: host.DisplayName(c.host, agentID, agentID)}
	listener := scoring.Participant{ID: listenerID, Name: host.DisplayName(c.host, listenerID, listenerID)}
	features := c.scorer.ExtractContextFeatures(contextText, speaker, listener, now)

	facts := c.selectKnowledge(ctx, contextText, agentID)
	memories := c.selectMemories(store, features)

	text := ""
	if len(facts) > 0 || len(memories) > 0 {
		var sections []string
		if g := c.guidelineLines(speaker, listener, now); len(g) > 0 {
			sections = append(sections, SectionGuidelines+"\n"+strings.Join(g, "\n"))
		}
		if len(facts) > 0 {
			sections = append(sections, SectionKnowledge+"\n"+formatFacts(facts))
		}
		if len(memories) > 0 {
			sections = append(sections, SectionMemories+"\n"+c.formatMemories(memories, now))
		}
		text = strings.Join(sections, "\n\n")
	}
	c.prompts.Put(key, text, counts, now)

	outcome := metrics.OutcomeInjected
	if text == "" {
		outcome = metrics.OutcomeEmpty
	}
	c.metrics.RecordInjection(outcome, time.Since(start))
	c.logger.Debug("injection built",
		zap.String("agent_id", agentID),
		zap.String("listener_id", listenerID),
		zap.String("scene", features.Scene.Primary.String()),
		zap.Int("knowledge", len(facts)),
		zap.Int("memories", len(memories)))
	return text
}

// promptKey mixes the listener into the context fingerprint, so one agent
// talking about the same thing to two people caches two prompts.
func (c *Client) promptKey(agentID, listenerID, contextText string) cache.PromptKey {
	fp := cache.ContextFingerprint(contextText, c.cfg.Injection.ContextKeywords)
	if listenerID != "" {
		fp ^= xxhash.Sum64String(listenerID) * 0x9e3779b97f4a7c15
	}
	return cache.PromptKey{AgentID: agentID, Context: fp}
}

func (c *Client) selectKnowledge(ctx context.Context, contextText, agentID string) []knowledge.Candidate {
	sel := c.engine.Select(ctx, contextText, agentID)
	low, over := 0, 0
	for _, r := range sel.Rejected {
		switch r.Reason {
		case knowledge.ReasonLowScore:
			low++
		case knowledge.ReasonExceedMaxEntries:
			over++
		}
	}
	wanted := c.cfg.Knowledge.EnableVector && c.embedder.Available()
	c.metrics.RecordKnowledge(len(sel.Selected), low, over, sel.VectorUsed, wanted)
	return sel.Selected
}

// selectMemories ranks the agent's recall candidates with the full scorer
// and keeps those at or above the memory threshold, best first.
func (c *Client) selectMemories(store *memory.Store, f scoring.Features) []memory.Scored {
	if store == nil {
		return nil
	}
	inj := c.cfg.Injection
	candidates := store.Query(memory.QueryOptions{
		Score:           c.scorer.ScoreFunc(f),
		IncludeEventLog: inj.IncludeEventLog,
		IncludeArchive:  inj.IncludeArchive,
	})

	tracker := c.registry.Tracker(threshold.CategoryMemory)
	cut := inj.MinMemoryScore
	if inj.AdaptiveMemoryThreshold {
		cut = tracker.Current()
	}

	kept := make([]memory.Scored, 0, len(candidates))
	for _, sc := range candidates {
		if sc.Entry.Tier == memory.TierArchive {
			// Query ranks the archive by importance alone.
			sc.Score = c.scorer.Score(sc.Entry, f, f.Weights)
		}
		if math.IsNaN(sc.Score) || math.IsInf(sc.Score, 0) {
			continue
		}
		tracker.RecordScore(sc.Score)
		if sc.Score >= cut {
			kept = append(kept, sc)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Score != kept[j].Score {
			return kept[i].Score > kept[j].Score
		}
		return kept[i].Entry.ID < kept[j].Entry.ID
	})
	if inj.MaxMemories > 0 && len(kept) > inj.MaxMemories {
		kept = kept[:inj.MaxMemories]
	}
	return kept
}

// guidelineLines returns the configured guidelines followed by the ones
// derived from host state. The derived lines only depend on the speaker and
// listener fingerprint, so they are cached per fingerprint.
func (c *Client) guidelineLines(speaker, listener scoring.Participant, now int64) []string {
	fp := cache.FingerprintFor(c.host, speaker.ID, listener.ID)
	derived, ok := c.guidelines.Get(fp, now)
	if !ok {
		derived = c.deriveGuidelines(fp, speaker, listener)
		c.guidelines.Put(fp, derived, now)
	}
	lines := make([]string, 0, len(c.cfg.Injection.Guidelines)+len(derived))
	for _, g := range c.cfg.Injection.Guidelines {
		if g = strings.TrimSpace(g); g != "" {
			lines = append(lines, "- "+g)
		}
	}
	for _, g := range derived {
		lines = append(lines, "- "+g)
	}
	return lines
}

func (c *Client) deriveGuidelines(fp cache.Fingerprint, speaker, listener scoring.Participant) []string {
	lines := []string{}
	if listener.ID == "" {
		lines = append(lines, fmt.Sprintf("Speak as %s.", speaker.Name))
	} else {
		lines = append(lines, fmt.Sprintf("Speak as %s, addressing %s.", speaker.Name, listener.Name))
	}
	if _, ok := host.MoodOf(c.host, speaker.ID); ok {
		lines = append(lines, fmt.Sprintf("%s is feeling %s.", speaker.Name, moodWords[fp.MoodBucket]))
	}
	if rel, ok := host.RelationshipOf(c.host, speaker.ID, listener.ID); ok {
		if rel.Label != "" {
			lines = append(lines, fmt.Sprintf("%s is %s's %s.", listener.Name, speaker.Name, rel.Label))
		}
		lines = append(lines, fmt.Sprintf("%s %s %s.", speaker.Name, opinionPhrases[fp.RelationBucket], listener.Name))
	}
	lines = append(lines, "Only mention memories and knowledge listed below when they fit the conversation.")
	return lines
}

func formatFacts(facts []knowledge.Candidate) string {
	var b strings.Builder
	for i, f := range facts {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d. [%s] %s (%s)", i+1, f.Entry.FirstTag(), oneLine(f.Entry.Content), KnowledgeQualifier)
	}
	return b.String()
}

func (c *Client) formatMemories(entries []memory.Scored, now int64) string {
	var b strings.Builder
	for i, sc := range entries {
		e := sc.Entry
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d. [%s] %s (%s)", i+1, e.Type.Label(), oneLine(e.Content), c.clock.Qualifier(now, e.Timestamp))
	}
	return b.String()
}

// oneLine folds line breaks so that every entry stays on its numbered line.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
