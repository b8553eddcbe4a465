package memory

import (
	"math"
	"strings"

	"github.com/oceanbase/colonymem/pkg/textutil"
)

// NeverRun marks a maintenance pass that has not run yet.
const NeverRun int64 = -1

// Store is one agent's tiered memory. Every tier is ordered newest first.
//
// A Store is not safe for concurrent use; the Bank and the client serialize
// access. All methods are no-ops on a nil *Store.
type Store struct {
	AgentID string

	tiers [tierCount][]*Entry

	// LastDecayTick, LastSummaryTick and LastArchiveTick make the
	// maintenance passes idempotent per tick.
	LastDecayTick   int64
	LastSummaryTick int64
	LastArchiveTick int64

	cfg       *Config
	ids       IDSource
	evaluator *ImportanceEvaluator
}

// NewStore creates an empty store. A nil ids falls back to a per-store
// sequence.
func NewStore(agentID string, cfg Config, ids IDSource) *Store {
	c := cfg.withDefaults()
	s := &Store{
		AgentID:         agentID,
		LastDecayTick:   NeverRun,
		LastSummaryTick: NeverRun,
		LastArchiveTick: NeverRun,
	}
	s.attach(&c, ids)
	for i := range s.tiers {
		s.tiers[i] = []*Entry{}
	}
	return s
}

func (s *Store) attach(cfg *Config, ids IDSource) {
	s.cfg = cfg
	if ids == nil {
		ids = &seqIDs{prefix: s.AgentID + "-"}
	}
	s.ids = ids
	s.evaluator = NewImportanceEvaluator()
}

// Insert adds a memory to the head of Active and returns its id.
//
// Exact duplicates of an entry in Active or in the first DedupWindow
// Situational entries (same type, content and related entity) are dropped
// and inserted is false. When Active exceeds its capacity the oldest Active
// entry moves to the head of Situational.
func (s *Store) Insert(in NewEntry) (id string, inserted bool) {
	if s == nil {
		return "", false
	}
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return "", false
	}
	if s.isDuplicate(in.Type, content, in.RelatedEntityID, in.RelatedEntityName) {
		return "", false
	}

	importance := in.Importance
	if importance < 0 {
		importance = s.evaluator.Evaluate(content, in.Type)
	}

	keywords := textutil.NormalizeSet(in.Keywords)
	if len(keywords) == 0 {
		keywords = textutil.Keywords(content, s.cfg.MaxKeywords)
	}

	e := &Entry{
		ID:                s.ids.NextID(),
		Content:           content,
		Type:              in.Type,
		Tier:              TierActive,
		Timestamp:         in.Timestamp,
		Importance:        clamp01(importance),
		Activity:          1,
		Tags:              textutil.NormalizeSet(in.Tags),
		Keywords:          keywords,
		RelatedEntityID:   in.RelatedEntityID,
		RelatedEntityName: in.RelatedEntityName,
		IsPinned:          in.Pinned,
		Notes:             in.Notes,
		RoundID:           in.RoundID,
	}
	s.pushFront(TierActive, e)

	for len(s.tiers[TierActive]) > s.cfg.capacity(TierActive) {
		last := len(s.tiers[TierActive]) - 1
		oldest := s.tiers[TierActive][last]
		s.tiers[TierActive] = s.tiers[TierActive][:last]
		oldest.Tier = TierSituational
		s.pushFront(TierSituational, oldest)
	}
	return e.ID, true
}

func (s *Store) isDuplicate(t EntryType, content, relatedID, relatedName string) bool {
	same := func(e *Entry) bool {
		if e.Type != t || e.Content != content {
			return false
		}
		if relatedID != "" || e.RelatedEntityID != "" {
			return e.RelatedEntityID == relatedID
		}
		return e.RelatedEntityName == relatedName
	}
	for _, e := range s.tiers[TierActive] {
		if same(e) {
			return true
		}
	}
	for i, e := range s.tiers[TierSituational] {
		if i >= s.cfg.DedupWindow {
			break
		}
		if same(e) {
			return true
		}
	}
	return false
}

// Promote moves an entry one tier down. Archive entries stay put.
func (s *Store) Promote(id string) bool {
	if s == nil {
		return false
	}
	t, i := s.locate(id)
	if i < 0 || t == TierArchive {
		return false
	}
	e := s.removeAt(t, i)
	e.Tier = t + 1
	if e.Tier == TierArchive {
		s.insertArchive(e)
	} else {
		s.pushFront(e.Tier, e)
	}
	return true
}

// Find returns the entry with the given id, or nil.
func (s *Store) Find(id string) *Entry {
	if s == nil {
		return nil
	}
	t, i := s.locate(id)
	if i < 0 {
		return nil
	}
	return s.tiers[t][i]
}

// Pin sets or clears the pinned flag.
func (s *Store) Pin(id string, pinned bool) bool {
	e := s.Find(id)
	if e == nil {
		return false
	}
	e.IsPinned = pinned
	return true
}

// Edit replaces an entry's content, marks it user-edited and re-extracts
// its keywords.
func (s *Store) Edit(id, content string) bool {
	e := s.Find(id)
	content = strings.TrimSpace(content)
	if e == nil || content == "" {
		return false
	}
	e.Content = content
	e.IsUserEdited = true
	e.Keywords = textutil.Keywords(content, s.cfg.MaxKeywords)
	return true
}

// SetNotes replaces an entry's free-form notes.
func (s *Store) SetNotes(id, notes string) bool {
	e := s.Find(id)
	if e == nil {
		return false
	}
	e.Notes = notes
	return true
}

// Remove deletes an entry.
func (s *Store) Remove(id string) bool {
	if s == nil {
		return false
	}
	t, i := s.locate(id)
	if i < 0 {
		return false
	}
	s.removeAt(t, i)
	return true
}

// Count returns the number of entries in a tier.
func (s *Store) Count(t Tier) int {
	if s == nil || t < 0 || t >= tierCount {
		return 0
	}
	return len(s.tiers[t])
}

// Total returns the number of entries across all tiers.
func (s *Store) Total() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, t := range s.tiers {
		n += len(t)
	}
	return n
}

// Entries returns a copy of a tier's entry list, newest first. The entries
// themselves are shared.
func (s *Store) Entries(t Tier) []*Entry {
	if s == nil || t < 0 || t >= tierCount {
		return []*Entry{}
	}
	return append([]*Entry{}, s.tiers[t]...)
}

// Each calls fn for every entry, tier by tier.
func (s *Store) Each(fn func(*Entry)) {
	if s == nil {
		return
	}
	for _, t := range s.tiers {
		for _, e := range t {
			fn(e)
		}
	}
}

func (s *Store) locate(id string) (Tier, int) {
	for t := range s.tiers {
		for i, e := range s.tiers[t] {
			if e.ID == id {
				return Tier(t), i
			}
		}
	}
	return TierActive, -1
}

func (s *Store) removeAt(t Tier, i int) *Entry {
	list := s.tiers[t]
	e := list[i]
	s.tiers[t] = append(list[:i], list[i+1:]...)
	return e
}

func (s *Store) pushFront(t Tier, e *Entry) {
	s.tiers[t] = append([]*Entry{e}, s.tiers[t]...)
}

// insertArchive keeps Archive ordered by timestamp, newest first.
func (s *Store) insertArchive(e *Entry) {
	list := s.tiers[TierArchive]
	i := 0
	for i < len(list) && list[i].Timestamp >= e.Timestamp {
		i++
	}
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = e
	s.tiers[TierArchive] = list
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
